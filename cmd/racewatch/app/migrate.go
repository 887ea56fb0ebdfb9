package app

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/golang-migrate/migrate/v4"
	"github.com/spf13/cobra"

	"github.com/racewatch/racewatch/database"
	"github.com/racewatch/racewatch/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration tool",
	Long:  `Database migration tool for managing schema versions. Use with 'up' or 'down' subcommands.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Usage()
	},
}

func init() {
	migrateCmd.PersistentFlags().BoolP("yes", "y", false, "Answer yes to all questions")
	migrateCmd.PersistentFlags().UintP("num-steps", "n", 0, "Number of steps to migrate (0 = all)")
	migrateCmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format, required)")

	if err := migrateCmd.MarkPersistentFlagRequired("config"); err != nil {
		panic(err)
	}

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)

	rootCmd.AddCommand(migrateCmd)
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending database migrations",
	Long: `Apply all pending database migrations to bring the schema up to date.
Connection parameters are read from the configuration file.`,
	RunE: runMigrateUp,
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert database migrations",
	Long: `Revert database migrations.
WARNING: This operation can result in data loss. Use with caution.`,
	RunE: runMigrateDown,
}

func newMigrator(cmd *cobra.Command) (database.Migrator, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database == nil {
		return nil, fmt.Errorf("database configuration is required")
	}

	connString, err := cfg.Database.GetMigrationURL()
	if err != nil {
		return nil, fmt.Errorf("failed to build migration URL: %w", err)
	}

	return database.NewFromConnectionString(connString)
}

func confirmOrAbort(cmd *cobra.Command, prompt string) error {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return fmt.Errorf("failed to get yes flag: %w", err)
	}
	if yes {
		return nil
	}

	fmt.Printf("%s (yes/no): ", prompt)
	var response string
	if _, err := fmt.Scanln(&response); err != nil {
		return fmt.Errorf("failed to read user input: %w", err)
	}
	if response != "yes" && response != "y" {
		return fmt.Errorf("migration cancelled by user")
	}
	return nil
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	if err := confirmOrAbort(cmd, "About to apply database migrations. Continue?"); err != nil {
		return err
	}

	m, err := newMigrator(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	slog.Info("Applying database migrations")
	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("Database schema is already up to date")
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	logMigrationVersion(m)
	return nil
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	numSteps, err := cmd.Flags().GetUint("num-steps")
	if err != nil {
		return fmt.Errorf("failed to get num-steps flag: %w", err)
	}

	var prompt string
	if numSteps == 0 {
		prompt = "WARNING: This will migrate down ALL steps and may result in complete data loss. Continue?"
	} else {
		prompt = fmt.Sprintf("WARNING: This will migrate down %d step(s) and may result in data loss. Continue?", numSteps)
	}
	if err := confirmOrAbort(cmd, prompt); err != nil {
		return err
	}

	m, err := newMigrator(cmd)
	if err != nil {
		return err
	}
	defer m.Close()

	if numSteps == 0 {
		slog.Warn("Migrating down all steps, this will remove all schema")
		err = m.Down()
	} else {
		if numSteps > math.MaxInt {
			return fmt.Errorf("number of steps exceeds maximum allowed value")
		}
		slog.Info("Migrating down", "steps", numSteps)
		err = m.Steps(-1 * int(numSteps)) // #nosec G115 -- overflow checked above
	}
	if err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			slog.Info("No migrations to revert")
			return nil
		}
		return fmt.Errorf("migration failed: %w", err)
	}

	logMigrationVersion(m)
	return nil
}

func logMigrationVersion(m database.Migrator) {
	version, dirty, err := m.Version()
	if err != nil {
		slog.Warn("Unable to get migration version", "error", err)
		return
	}
	if dirty {
		slog.Warn("Database is in a dirty state", "version", version)
		return
	}
	slog.Info("Migrations applied successfully", "version", version)
}
