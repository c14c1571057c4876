package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nyx-proto/shakeline/internal/config"
)

// statusCmd gates a reachability check behind the management password
// configured via genconfig (bcrypt-verified locally; there is no
// protocol-level status query — the core exposes only the connection
// state machine, per spec.md §1).
func statusCmd() *cobra.Command {
	var configPath string
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check reachability of a shakeline server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			if cfg.ManagementPasswordHash != "" {
				var password string
				prompt := huh.NewInput().
					Title("Management password").
					EchoMode(huh.EchoModePassword).
					Value(&password)
				if err := huh.NewForm(huh.NewGroup(prompt)).Run(); err != nil {
					return fmt.Errorf("status: %w", err)
				}
				if !cfg.CheckManagementPassword(password) {
					return fmt.Errorf("status: management password does not match")
				}
			}

			start := time.Now()
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			var d net.Dialer
			conn, err := d.DialContext(ctx, "tcp", addr)
			if err != nil {
				return fmt.Errorf("status: %s unreachable: %w", addr, err)
			}
			defer conn.Close()

			latency := time.Since(start)
			fmt.Printf("Status: reachable\n")
			fmt.Printf("Address: %s\n", addr)
			fmt.Printf("Connect latency: %v\n", latency)
			fmt.Printf("Max frame size: %s\n", humanize.Bytes(uint64(cfg.MaxFrameBytes)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "path to configuration file")
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9009", "server address to check")

	return cmd
}
