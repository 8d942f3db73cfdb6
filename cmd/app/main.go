package main

import (
	"os"

	"adslot/internal/config"
	"adslot/internal/logger"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "adslot",
		Short:         "Paid advertising slot booking service",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newServeCommand(),
		newSweepCommand(),
		newMigrateCommand(),
		newTokenCommand(),
	)
	return root
}

// loadConfig is shared by every subcommand that touches infrastructure.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Debug)
	return cfg, nil
}
