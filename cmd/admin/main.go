package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"puzzlepass/internal/config"
	"puzzlepass/internal/infra/adapters/telegram"
	pg "puzzlepass/internal/infra/db/postgres"
	"puzzlepass/internal/infra/logging"
	red "puzzlepass/internal/infra/redis"
	"puzzlepass/internal/usecase"
)

var Version = "dev"

var (
	cfgPath string
	devMode bool
	timeout time.Duration
)

func main() {
	rootCmd := &cobra.Command{
		Use:          "puzzlepass-admin",
		Short:        "Operational commands for the PuzzlePass entitlement store",
		Version:      Version,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().BoolVar(&devMode, "dev", false, "developer mode (console logs)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", time.Minute, "overall command timeout")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(revokeCmd())
	rootCmd.AddCommand(subscriberCmd())
	rootCmd.AddCommand(sweepCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// env holds the connections a command opened. Close releases them.
type env struct {
	cfg   *config.Config
	log   *zerolog.Logger
	pool  *pgxpool.Pool
	redis *red.Client
}

func openEnv(ctx context.Context, withRedis bool) (*env, error) {
	cfg, err := config.LoadConfig(cfgPath, devMode)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	e := &env{cfg: cfg, log: logging.New(cfg.Log, cfg.Runtime.Dev)}
	e.pool, err = pg.NewPgxPool(ctx, cfg.Database.URL, 4)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	if withRedis {
		e.redis, err = red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			e.pool.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
	}
	return e, nil
}

func (e *env) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	e.pool.Close()
}

// entitlements builds the entitlement use case with cache invalidation, so
// manual changes are visible to the running service immediately.
func (e *env) entitlements() *usecase.EntitlementUseCase {
	ents := pg.NewEntitlementRepoCacheDecorator(pg.NewEntitlementRepo(e.pool), e.redis, e.cfg.Redis.TTL, e.log)
	return usecase.NewEntitlementUseCase(
		ents,
		pg.NewPurchaseRepo(e.pool),
		pg.NewItemPurchaseRepo(e.pool),
		pg.NewCheckoutAttemptRepo(e.pool),
		pg.NewTxManager(e.pool),
		ents,
		telegram.NewNoopNotifier(e.log),
		e.log,
	)
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}
