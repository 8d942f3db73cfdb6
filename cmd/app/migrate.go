package main

import (
	"adslot/internal/db"
	"adslot/internal/logger"

	"github.com/spf13/cobra"
)

func newMigrateCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()

			database, err := db.Connect(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			defer database.Close()

			if err := db.RunMigrations(database, path); err != nil {
				return err
			}
			logger.Info("migrations applied", "path", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "migrations", "directory holding migration files")
	return cmd
}
