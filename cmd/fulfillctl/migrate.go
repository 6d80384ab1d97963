package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"fulfillment-backend-trusted/internal/app"
	"fulfillment-backend-trusted/internal/repository/postgres"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database schema",
		Long: `Apply the embedded PostgreSQL schema.

Every statement is idempotent, so running it against an up-to-date
database is a no-op.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Database.Driver != "postgres" {
				return fmt.Errorf("migrate needs database.driver postgres, got %s", cfg.Database.Driver)
			}

			db, err := app.OpenDatabase(cmd.Context(), cfg.Database, cfg.GetDatabaseConnectionString())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := postgres.Migrate(cmd.Context(), db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schema applied")
			return nil
		},
	}
}
