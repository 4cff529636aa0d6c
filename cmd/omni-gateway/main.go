package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"omni/internal/config"
	"omni/internal/logger"
	"omni/pkg/logging"
)

const serviceName = "omni-gateway"

var (
	configFile string
	// version is set at build time with -ldflags "-X main.version=...".
	version = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:     serviceName,
		Short:   "Omni-channel message gateway",
		Long:    "Omni gateway normalizes channel webhooks into envelopes and publishes them to the message bus",
		Version: version,
		RunE:    serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(validateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func resolveConfigFile(earlyLog *logging.EarlyLog) (string, error) {
	if configFile != "" {
		return configFile, nil
	}
	if env := os.Getenv("CONFIG_FILE"); env != "" {
		return env, nil
	}
	earlyLog.Error("Config file is required. Use --config flag or CONFIG_FILE environment variable")
	return "", fmt.Errorf("config file is required")
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			earlyLog := logging.NewEarlyLog()

			path, err := resolveConfigFile(earlyLog)
			if err != nil {
				return err
			}

			cfg, err := config.Load(path)
			if err != nil {
				earlyLog.Error("Failed to load config: %v", err)
				return err
			}

			log, err := logger.New(cfg.Logging.Level)
			if err != nil {
				earlyLog.Error("Failed to init logger: %v", err)
				return err
			}
			defer log.Sync()
			if sl, ok := log.(*logger.SugaredLogger); ok {
				sl.SetServiceName(serviceName)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.InfowCtx(ctx, "Starting Omni Gateway")

			app := NewApp(cfg, log)
			if err := app.Initialize(ctx); err != nil {
				log.ErrorwCtx(ctx, "Failed to initialize application", "error", err)
				return err
			}

			if err := app.Run(ctx); err != nil {
				log.ErrorwCtx(ctx, "Application error", "error", err)
				return err
			}
			return nil
		},
	}
}

// validateCmd loads and validates a config file without starting anything.
func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			earlyLog := logging.NewEarlyLog()

			path, err := resolveConfigFile(earlyLog)
			if err != nil {
				return err
			}

			if _, err := config.Load(path); err != nil {
				earlyLog.Error("Invalid config: %v", err)
				return err
			}
			earlyLog.Info("Config %s is valid", path)
			return nil
		},
	}
}
