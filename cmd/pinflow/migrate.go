package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
		Long: `Initialize or update the funnel store schema to the latest version.

Works for both the SQLite file and a PostgreSQL database, depending on
storage.driver.`,
		RunE: runMigrate,
	}
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	slog.Info("🗄️  Running database migrations...", "driver", cfg.Storage.Driver)

	store, err := initStorage(cmd.Context(), cfg)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	defer func() { _ = store.Close() }()

	slog.Info("✅ Database migrations completed successfully!")
	return nil
}
