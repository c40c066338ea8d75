package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/darkden-lab/argus-tracker/internal/config"
	"github.com/darkden-lab/argus-tracker/internal/db"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if err := db.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied.")
			return nil
		},
	}
}
