// Package config provides configuration parsing and validation for shakeline.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
)

// Config is the complete configuration for either a shakeline server or
// client process. It is always loaded explicitly via Load/Parse — never
// read from a package-level mutable namespace.
type Config struct {
	// Host and Port address the listener (server) or the peer to dial (client).
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// WantSSL wraps the TCP connection in TLS 1.2 using the
	// ECDHE-ECDSA-AES256-GCM-SHA384 cipher suite. CrtFile/KeyFile are
	// required on the server side when WantSSL is set.
	WantSSL bool   `yaml:"want_ssl"`
	CrtFile string `yaml:"crt_file"`
	KeyFile string `yaml:"key_file"`

	// HMACKey is the shared secret used to bind the SRP login exchange to
	// the transport (HMAC-SHA-512 over the claimed username). Required.
	HMACKey string `yaml:"hmac_key"`

	// ChallengePassword is the shared SRP password: the server derives a
	// fresh verifier from it and the client's claimed name on every login.
	ChallengePassword string `yaml:"challenge_password"`

	// NameRegex constrains the client names accepted at login. Defaults to
	// `^\w{1,32}$`.
	NameRegex string `yaml:"name_regex"`

	// LogLevel/LogFormat configure internal/logging.NewLogger.
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// ManagementPasswordHash is a bcrypt hash gating the CLI's status
	// subcommand. Empty disables the gate.
	ManagementPasswordHash string `yaml:"management_password_hash"`

	// MaxFrameBytes caps the length prefix Framer.Recv will accept before
	// it sends ERR(DISCONNECT) and closes the connection.
	MaxFrameBytes uint32 `yaml:"max_frame_bytes"`

	// AcceptRatePerSecond token-bucket limits the Acceptor's accept loop.
	// Zero disables rate limiting.
	AcceptRatePerSecond float64 `yaml:"accept_rate_per_second"`
}

// DefaultNameRegex matches the source project's `NAME_REGEX`.
const DefaultNameRegex = `^\w{1,32}$`

// DefaultMaxFrameBytes is a conservative cap on a single framed datagram.
const DefaultMaxFrameBytes = 1 << 20 // 1 MiB

// Default returns a Config usable for local development without a file.
// It has no HMACKey set — callers must still provide one before use.
func Default() *Config {
	return &Config{
		Host:                "127.0.0.1",
		Port:                9009,
		NameRegex:           DefaultNameRegex,
		LogLevel:            "info",
		LogFormat:           "text",
		MaxFrameBytes:       DefaultMaxFrameBytes,
		AcceptRatePerSecond: 50,
	}
}

// Load reads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes, applying defaults first so
// a partial document still yields a usable Config.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host must not be empty")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.HMACKey == "" {
		return fmt.Errorf("hmac_key must be set")
	}
	if c.NameRegex == "" {
		return fmt.Errorf("name_regex must not be empty")
	}
	if _, err := regexp.Compile(c.NameRegex); err != nil {
		return fmt.Errorf("invalid name_regex: %w", err)
	}
	if !isValidLogLevel(c.LogLevel) {
		return fmt.Errorf("invalid log_level %q", c.LogLevel)
	}
	if !isValidLogFormat(c.LogFormat) {
		return fmt.Errorf("invalid log_format %q", c.LogFormat)
	}
	if c.WantSSL {
		if c.CrtFile == "" || c.KeyFile == "" {
			return fmt.Errorf("want_ssl requires both crt_file and key_file")
		}
	}
	if c.MaxFrameBytes == 0 {
		return fmt.Errorf("max_frame_bytes must be positive")
	}
	if c.AcceptRatePerSecond < 0 {
		return fmt.Errorf("accept_rate_per_second must not be negative")
	}
	return nil
}

func isValidLogLevel(level string) bool {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "warning", "error":
		return true
	default:
		return false
	}
}

func isValidLogFormat(format string) bool {
	switch strings.ToLower(format) {
	case "text", "json":
		return true
	default:
		return false
	}
}

// CheckManagementPassword reports whether password matches
// ManagementPasswordHash. It always returns false when no hash is
// configured.
func (c *Config) CheckManagementPassword(password string) bool {
	if c.ManagementPasswordHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(c.ManagementPasswordHash), []byte(password)) == nil
}

// HashManagementPassword produces a bcrypt hash suitable for
// ManagementPasswordHash.
func HashManagementPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash management password: %w", err)
	}
	return string(hash), nil
}
