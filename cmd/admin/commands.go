package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"puzzlepass/internal/infra/catalog"
	pg "puzzlepass/internal/infra/db/postgres"
	"puzzlepass/internal/infra/sched"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			e, err := openEnv(ctx, false)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := pg.Migrate(ctx, e.pool, pg.Migrations(), e.log)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d migration(s)\n", n)
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "seed <catalog.yaml>",
		Short: "Upsert episodes, scenes and solutions from a YAML catalog",
		Example: `  puzzlepass-admin seed content/episodes.yaml
  puzzlepass-admin seed content/episodes.yaml --dry-run`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			c, err := catalog.Load(f)
			if err != nil {
				return err
			}
			if dryRun {
				fmt.Fprintf(cmd.OutOrStdout(), "catalog valid: %d episode(s)\n", len(c.Episodes))
				return nil
			}

			ctx, cancel := commandContext(cmd)
			defer cancel()
			e, err := openEnv(ctx, false)
			if err != nil {
				return err
			}
			defer e.Close()

			n, err := c.Apply(ctx, pg.NewTxManager(e.pool), pg.NewEpisodeRepo(e.pool))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d episode(s)\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate the catalog without writing")
	return cmd
}

func revokeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "revoke <uid> <episodeId>",
		Short: "Remove an unlocked episode from a user",
		Long: `Remove an unlocked episode from a user.

The purchase pointer is kept, so a refund of the old payment arriving later
still resolves against it, and a fresh purchase can unlock the episode again.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			e, err := openEnv(ctx, true)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.entitlements().Revoke(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s from %s\n", args[1], args[0])
			return nil
		},
	}
}

func subscriberCmd() *cobra.Command {
	var on, off bool
	cmd := &cobra.Command{
		Use:   "subscriber <uid> (--on | --off)",
		Short: "Set or clear a user's subscriber flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if on == off {
				return fmt.Errorf("exactly one of --on or --off is required")
			}
			ctx, cancel := commandContext(cmd)
			defer cancel()
			e, err := openEnv(ctx, true)
			if err != nil {
				return err
			}
			defer e.Close()

			if err := e.entitlements().SetSubscriber(ctx, args[0], on); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "subscriber=%t for %s\n", on, args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&on, "on", false, "mark as subscriber")
	cmd.Flags().BoolVar(&off, "off", false, "clear subscriber")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired rate limits, checkout attempts and event locks once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := commandContext(cmd)
			defer cancel()
			e, err := openEnv(ctx, false)
			if err != nil {
				return err
			}
			defer e.Close()

			s := sched.NewTTLSweeper(pg.NewRateLimitRepo(e.pool), pg.NewCheckoutAttemptRepo(e.pool), pg.NewEventLockRepo(e.pool), nil, 0, e.log)
			for kind, n := range s.Sweep(ctx) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", kind, n)
			}
			return nil
		},
	}
}
