package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/racewatch/racewatch/internal/app"
	"github.com/racewatch/racewatch/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the racewatch worker",
	Long: `Start the worker that syncs races from the configured sources and keeps
announcement messages up to date.

The worker requires a configuration file (--config) that specifies:
- The upstream race services to sync from
- Database and Redis connections
- Schedule cadences, windows, and announcement thresholds

See examples/ directory for sample configurations.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := viper.BindPFlag("config", serveCmd.Flags().Lookup("config")); err != nil {
		slog.Error("Failed to bind config flag", "error", err)
	}

	if err := serveCmd.MarkFlagRequired("config"); err != nil {
		slog.Error("Failed to mark config flag as required", "error", err)
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	ctx := context.Background()

	configPath := viper.GetString("config")
	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration",
		"path", configPath,
		"instance", cfg.GetInstanceName(),
		"sources", len(cfg.Sources))

	worker, err := app.NewWorkerApp(ctx, app.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to build worker: %w", err)
	}
	defer worker.Close()

	return worker.Run(ctx)
}
