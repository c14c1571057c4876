package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Host != "127.0.0.1" {
		t.Errorf("Host = %s, want 127.0.0.1", cfg.Host)
	}
	if cfg.Port != 9009 {
		t.Errorf("Port = %d, want 9009", cfg.Port)
	}
	if cfg.NameRegex != DefaultNameRegex {
		t.Errorf("NameRegex = %s, want %s", cfg.NameRegex, DefaultNameRegex)
	}
	if cfg.MaxFrameBytes != DefaultMaxFrameBytes {
		t.Errorf("MaxFrameBytes = %d, want %d", cfg.MaxFrameBytes, DefaultMaxFrameBytes)
	}

	// Default() alone is not a valid config: it has no HMACKey.
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() on Default() with no hmac_key = nil, want error")
	}
}

func TestParse_ValidConfig(t *testing.T) {
	yamlConfig := `
host: "0.0.0.0"
port: 4433
want_ssl: true
crt_file: "./certs/server.crt"
key_file: "./certs/server.key"
hmac_key: "correct-horse-battery-staple"
challenge_password: "s3cret"
log_level: "debug"
log_format: "json"
`
	cfg, err := Parse([]byte(yamlConfig))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Host != "0.0.0.0" {
		t.Errorf("Host = %s, want 0.0.0.0", cfg.Host)
	}
	if cfg.Port != 4433 {
		t.Errorf("Port = %d, want 4433", cfg.Port)
	}
	if !cfg.WantSSL {
		t.Error("WantSSL = false, want true")
	}
	if cfg.HMACKey != "correct-horse-battery-staple" {
		t.Errorf("HMACKey = %s", cfg.HMACKey)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %s, want debug", cfg.LogLevel)
	}
	// Defaults still apply for fields the document didn't set.
	if cfg.NameRegex != DefaultNameRegex {
		t.Errorf("NameRegex = %s, want default", cfg.NameRegex)
	}
}

func TestParse_MissingHMACKey(t *testing.T) {
	_, err := Parse([]byte(`host: "127.0.0.1"
port: 9009
`))
	if err == nil {
		t.Fatal("Parse() expected error for missing hmac_key, got nil")
	}
	if !strings.Contains(err.Error(), "hmac_key") {
		t.Errorf("error = %v, want mention of hmac_key", err)
	}
}

func TestParse_InvalidPort(t *testing.T) {
	_, err := Parse([]byte(`host: "127.0.0.1"
port: 70000
hmac_key: "k"
`))
	if err == nil {
		t.Fatal("Parse() expected error for out-of-range port, got nil")
	}
}

func TestParse_WantSSLRequiresCerts(t *testing.T) {
	_, err := Parse([]byte(`host: "127.0.0.1"
port: 9009
hmac_key: "k"
want_ssl: true
`))
	if err == nil {
		t.Fatal("Parse() expected error when want_ssl set without crt_file/key_file")
	}
}

func TestParse_InvalidNameRegex(t *testing.T) {
	_, err := Parse([]byte(`host: "127.0.0.1"
port: 9009
hmac_key: "k"
name_regex: "("
`))
	if err == nil {
		t.Fatal("Parse() expected error for invalid name_regex")
	}
}

func TestParse_InvalidLogLevel(t *testing.T) {
	_, err := Parse([]byte(`host: "127.0.0.1"
port: 9009
hmac_key: "k"
log_level: "verbose"
`))
	if err == nil {
		t.Fatal("Parse() expected error for invalid log_level")
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "host: \"127.0.0.1\"\nport: 9009\nhmac_key: \"k\"\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.HMACKey != "k" {
		t.Errorf("HMACKey = %s, want k", cfg.HMACKey)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestHashAndCheckManagementPassword(t *testing.T) {
	hash, err := HashManagementPassword("hunter2")
	if err != nil {
		t.Fatalf("HashManagementPassword() error = %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("hunter2")); err != nil {
		t.Errorf("bcrypt hash does not verify: %v", err)
	}

	cfg := &Config{ManagementPasswordHash: hash}
	if !cfg.CheckManagementPassword("hunter2") {
		t.Error("CheckManagementPassword(correct) = false, want true")
	}
	if cfg.CheckManagementPassword("wrong") {
		t.Error("CheckManagementPassword(wrong) = true, want false")
	}
}

func TestCheckManagementPassword_NoHashConfigured(t *testing.T) {
	cfg := &Config{}
	if cfg.CheckManagementPassword("anything") {
		t.Error("CheckManagementPassword() with no hash configured = true, want false (fail closed)")
	}
}
