package cmd

import (
	"github.com/spf13/cobra"

	"solidgrowth/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:     "migrate",
	Short:   "Create or update the database schema",
	PreRunE: setup,
	RunE: func(*cobra.Command, []string) error {
		defer func() { _ = log.Sync() }()

		db, err := database.ConnectPostgres(cfg, log)
		if err != nil {
			return err
		}
		if err := database.Migrate(db); err != nil {
			return err
		}
		log.Info("database schema is up to date")
		return nil
	},
}
