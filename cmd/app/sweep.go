package main

import (
	"context"

	"adslot/internal/db"
	"adslot/internal/logger"
	"adslot/internal/slot"
	"adslot/internal/sweeper"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// sweep runs a single expiry pass, for cron-driven deployments that do not
// keep the in-process sweeper.
func newSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Deactivate expired bookings once and exit",
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

			rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
			defer rdb.Close()

			slots := slot.NewRepository()
			cache, err := newAvailability(cfg, rdb, slots, database)
			if err != nil {
				return err
			}

			n, err := sweeper.New(slots, database, cache, cfg.SweepInterval).RunOnce(context.Background())
			if err != nil {
				return err
			}
			logger.Info("sweep finished", "deactivated", n)
			return nil
		},
	}
}
