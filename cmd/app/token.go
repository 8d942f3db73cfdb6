package main

import (
	"fmt"
	"time"

	"adslot/internal/auth"

	"github.com/spf13/cobra"
)

// token mints a bearer token for operators and local testing. Identity is
// issued elsewhere in production.
func newTokenCommand() *cobra.Command {
	var (
		role string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Print a signed access token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			tok, err := auth.GenerateToken(args[0], role, cfg.JWTSecret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tok)
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", auth.RoleAdvertiser, "role claim (user, advertiser or admin)")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}
