// Package main provides the CLI entry point for shakeline.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nyx-proto/shakeline/internal/acceptor"
	"github.com/nyx-proto/shakeline/internal/clientconn"
	"github.com/nyx-proto/shakeline/internal/config"
	"github.com/nyx-proto/shakeline/internal/logging"
	"github.com/nyx-proto/shakeline/internal/metrics"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	rootCmd := &cobra.Command{
		Use:     "shakeline",
		Short:   "shakeline - authenticated, encrypted, framed message exchange",
		Version: Version,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(connectCmd())
	rootCmd.AddCommand(genconfigCmd())
	rootCmd.AddCommand(statusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var configPath string
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Accept connections and run the responder state machine",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
			m := metrics.NewMetrics()

			if metricsAddr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", promhttp.Handler())
				go func() {
					if err := http.ListenAndServe(metricsAddr, mux); err != nil {
						logger.Error("metrics server stopped", logging.KeyError, err)
					}
				}()
			}

			a := acceptor.New(cfg, logger, m)
			if err := a.Listen(); err != nil {
				return fmt.Errorf("listen: %w", err)
			}
			fmt.Printf("shakeline listening on %s\n", a.Addr().String())

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			runErrCh := make(chan error, 1)
			go func() { runErrCh <- a.Run(ctx) }()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			select {
			case sig := <-sigCh:
				fmt.Printf("received signal %v, shutting down...\n", sig)
			case err := <-runErrCh:
				if err != nil {
					logger.Error("accept loop exited", logging.KeyError, err)
				}
			}

			cancel()
			a.Shutdown()
			fmt.Println("shakeline stopped.")
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "path to configuration file")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address to serve Prometheus /metrics on (empty disables)")

	return cmd
}

func connectCmd() *cobra.Command {
	var configPath string
	var addr string
	var name string

	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Dial a server and run the SRP-bound login handshake",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)

			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()

			client, err := clientconn.Dial(ctx, addr, cfg, logger)
			if err != nil {
				return fmt.Errorf("dial: %w", err)
			}
			defer client.Close()

			if err := client.Login(ctx, name, []byte(cfg.HMACKey), []byte(cfg.ChallengePassword), nil); err != nil {
				return fmt.Errorf("login: %w", err)
			}

			fmt.Printf("logged in as %s, assigned identity %s\n", client.Node().Name(), client.Node().ID().String())

			runCtx, runCancel := context.WithCancel(context.Background())
			defer runCancel()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			go func() {
				<-sigCh
				runCancel()
			}()

			return client.Node().Run(runCtx)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./config.yaml", "path to configuration file")
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9009", "server address to dial")
	cmd.Flags().StringVar(&name, "name", "", "login name to authenticate as")
	cmd.MarkFlagRequired("name")

	return cmd
}
