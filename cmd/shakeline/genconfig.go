package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/nyx-proto/shakeline/internal/config"
)

var bannerStyle = lipgloss.NewStyle().
	Bold(true).
	Foreground(lipgloss.Color("86")).
	MarginBottom(1)

func genconfigCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "genconfig",
		Short: "Interactively build a config.yaml",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(bannerStyle.Render("shakeline setup"))

			cfg := config.Default()

			var portStr = strconv.Itoa(cfg.Port)
			var wantSSL = cfg.WantSSL
			var managementPassword string

			form := huh.NewForm(
				huh.NewGroup(
					huh.NewInput().
						Title("Host to bind/dial").
						Value(&cfg.Host),
					huh.NewInput().
						Title("Port").
						Value(&portStr).
						Validate(func(s string) error {
							if _, err := strconv.Atoi(s); err != nil {
								return fmt.Errorf("port must be numeric")
							}
							return nil
						}),
					huh.NewInput().
						Title("HMAC key (shared secret binding login to the transport)").
						Value(&cfg.HMACKey).
						EchoMode(huh.EchoModePassword),
					huh.NewInput().
						Title("Challenge password (SRP password)").
						Value(&cfg.ChallengePassword).
						EchoMode(huh.EchoModePassword),
					huh.NewConfirm().
						Title("Wrap connections in TLS 1.2?").
						Value(&wantSSL),
				),
				huh.NewGroup(
					huh.NewInput().
						Title("TLS certificate file").
						Value(&cfg.CrtFile),
					huh.NewInput().
						Title("TLS key file").
						Value(&cfg.KeyFile),
				).WithHideFunc(func() bool { return !wantSSL }),
				huh.NewGroup(
					huh.NewInput().
						Title("Management password (gates status; leave blank to disable)").
						Value(&managementPassword).
						EchoMode(huh.EchoModePassword),
				),
			)

			if err := form.Run(); err != nil {
				return fmt.Errorf("genconfig: %w", err)
			}

			port, err := strconv.Atoi(portStr)
			if err != nil {
				return fmt.Errorf("genconfig: parse port: %w", err)
			}
			cfg.Port = port
			cfg.WantSSL = wantSSL

			if managementPassword != "" {
				hash, err := config.HashManagementPassword(managementPassword)
				if err != nil {
					return fmt.Errorf("genconfig: hash management password: %w", err)
				}
				cfg.ManagementPasswordHash = hash
			}

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("genconfig: generated config is invalid: %w", err)
			}

			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("genconfig: marshal config: %w", err)
			}
			if err := os.WriteFile(outPath, out, 0600); err != nil {
				return fmt.Errorf("genconfig: write %s: %w", outPath, err)
			}

			fmt.Printf("wrote %s\n", outPath)
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "./config.yaml", "path to write the generated config")

	return cmd
}
