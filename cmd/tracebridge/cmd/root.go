// Package cmd provides the CLI commands for tracebridge.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/tracebridge/internal/infrastructure/config"
	"github.com/GriffinCanCode/tracebridge/internal/infrastructure/logging"
	"github.com/GriffinCanCode/tracebridge/internal/infrastructure/server"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tracebridge",
	Short: "tracebridge - trace processor RPC server",
	Long: `tracebridge serves a trace analysis engine to the Perfetto UI and the
Python API over HTTP and WebSocket.

Quick start:
  1. Start the analysis engine (gRPC, default 127.0.0.1:9011)
  2. Run: tracebridge
  3. Open https://ui.perfetto.dev and accept native acceleration

Configuration:
  Defaults < config file (--config, .yaml/.yml/.toml) < environment < flags.
  Example: PORT=9100 ENGINE_ADDR=10.0.0.2:9011 tracebridge`,
	SilenceUsage: true,
	RunE:         runServe,
}

func init() {
	flags := rootCmd.Flags()
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (.yaml, .yml or .toml)")
	flags.String("port", "", "RPC server port (default 9001)")
	flags.String("host", "", "RPC server bind address (default 127.0.0.1)")
	flags.String("engine", "", "analysis engine gRPC address")
	flags.String("metrics-addr", "", "Prometheus listener address (disabled when empty)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	flags.Bool("dev", false, "development mode (console logs, gin debug output)")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// applyFlags copies explicitly set flags over cfg.
func applyFlags(cfg *config.Config, flags *pflag.FlagSet) {
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetString("port")
	}
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("engine") {
		cfg.Engine.Address, _ = flags.GetString("engine")
	}
	if flags.Changed("metrics-addr") {
		cfg.Metrics.Address, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("dev") {
		cfg.Logging.Development, _ = flags.GetBool("dev")
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyFlags(cfg, cmd.Flags())

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("Failed to create server", zap.Error(err))
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Run(ctx); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
		return err
	}
	logger.Info("Server stopped")
	return nil
}
