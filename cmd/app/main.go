package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"puzzlepass/internal/config"
	"puzzlepass/internal/domain/ports/adapter"
	payAdapters "puzzlepass/internal/infra/adapters/payment"
	tele "puzzlepass/internal/infra/adapters/telegram"
	"puzzlepass/internal/infra/api"
	pg "puzzlepass/internal/infra/db/postgres"
	"puzzlepass/internal/infra/logging"
	"puzzlepass/internal/infra/metrics"
	red "puzzlepass/internal/infra/redis"
	"puzzlepass/internal/infra/sched"
	"puzzlepass/internal/infra/worker"
	"puzzlepass/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "developer mode: console logs, in-memory payment provider when Stripe is unset")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("service stopped")
	}
}

func run(cfg *config.Config, logger *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	logger.Info().Str("version", version).Bool("dev", cfg.Runtime.Dev).Msg("starting puzzlepass")

	// ---- Postgres ----
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	if _, err := pg.Migrate(ctx, pool, pg.Migrations(), logger); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	// ---- Redis ----
	redisClient, err := red.NewClient(ctx, &cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer redisClient.Close()

	// ---- Repositories ----
	tm := pg.NewTxManager(pool)
	ents := pg.NewEntitlementRepoCacheDecorator(pg.NewEntitlementRepo(pool), redisClient, cfg.Redis.TTL, logger)
	purchases := pg.NewPurchaseRepo(pool)
	pointers := pg.NewItemPurchaseRepo(pool)
	attempts := pg.NewCheckoutAttemptRepo(pool)
	rates := pg.NewRateLimitRepo(pool)
	events := pg.NewEventLockRepo(pool)
	episodes := pg.NewEpisodeRepo(pool)
	progress := pg.NewProgressRepo(pool)

	// ---- Adapters ----
	provider, err := newProvider(cfg, logger)
	if err != nil {
		return err
	}
	notifier := newNotifier(cfg, logger)

	// ---- Use cases ----
	policy := usecase.NewCheckoutPolicy(cfg)
	entUC := usecase.NewEntitlementUseCase(ents, purchases, pointers, attempts, tm, ents, notifier, logger)
	limiter := usecase.NewCheckoutRateLimiter(rates, tm, policy, logger)
	ledger := usecase.NewAttemptLedger(attempts, tm, policy)
	checkoutUC := usecase.NewCheckoutUseCase(episodes, entUC, limiter, ledger, provider, policy, logger)
	webhookUC := usecase.NewWebhookUseCase(provider, usecase.NewEventLock(events, policy, logger), entUC, notifier, logger)
	episodeUC := usecase.NewEpisodeUseCase(episodes, progress, entUC, policy, logger)

	// ---- Background jobs ----
	var wg sync.WaitGroup
	goRun := func(name string, fn func(ctx context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				logger.Error().Err(err).Str("job", name).Msg("background job stopped")
			}
		}()
	}

	workers := worker.NewPool(cfg.Scheduler.Workers, logger)
	workers.Start(ctx)
	defer workers.Stop()

	locker := red.NewLocker(redisClient)
	if provider != nil {
		reconciler := sched.NewCheckoutReconciler(checkoutUC, attempts, workers, locker,
			cfg.Scheduler.ReconcileInterval, cfg.Scheduler.ReconcileStaleAfter, cfg.Scheduler.ReconcileBatch, logger)
		goRun("checkout_reconciler", reconciler.Run)
	}
	sweeper := sched.NewTTLSweeper(rates, attempts, events, locker, cfg.Scheduler.SweepInterval, logger)
	goRun("ttl_sweeper", sweeper.Run)
	goRun("pool_stats", func(ctx context.Context) error {
		pg.ReportPoolStats(ctx, pool, 15*time.Second, logger)
		return nil
	})

	// ---- HTTP ----
	deps := api.Deps{
		Checkout:       checkoutUC,
		Episodes:       episodeUC,
		Webhook:        webhookUC,
		Identity:       api.NewIdentityVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Throttler:      red.NewRateLimiter(redisClient),
		ThrottleLimit:  cfg.Throttle.Limit,
		ThrottleWindow: cfg.Throttle.Window,
		RequestTimeout: cfg.HTTP.RequestTimeout,
		Logger:         logger,
		Health: map[string]api.HealthCheck{
			"postgres": func(ctx context.Context) error { return pool.Ping(ctx) },
			"redis":    redisClient.Ping,
		},
	}
	if cfg.Auth.EnforceAppCheck {
		deps.AppCheck = api.NewAppCheckVerifier(cfg.Auth.AppCheckSecret)
	}
	srv := api.NewServer(deps)

	err = api.ListenAndServe(ctx, fmt.Sprintf(":%d", cfg.HTTP.Port), srv.Router(), 15*time.Second, logger)
	stop()
	wg.Wait()
	logger.Info().Msg("shutdown complete")
	return err
}

// newProvider returns nil when Stripe is not configured outside dev mode; the
// checkout callables then fail with failed-precondition.
func newProvider(cfg *config.Config, logger *zerolog.Logger) (adapter.PaymentProvider, error) {
	if cfg.Stripe.SecretKey != "" {
		p, err := payAdapters.NewStripeProvider(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, cfg.Stripe.APIURL)
		if err != nil {
			return nil, fmt.Errorf("stripe: %w", err)
		}
		if cfg.Stripe.WebhookSecret == "" {
			logger.Warn().Msg("STRIPE_WEBHOOK_SECRET is not set; webhooks will be refused")
		}
		return p, nil
	}
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] using the in-memory payment provider")
		secret := cfg.Stripe.WebhookSecret
		if secret == "" {
			secret = "whsec_dev"
		}
		return payAdapters.NewNoopProvider(secret), nil
	}
	logger.Warn().Msg("STRIPE_SECRET_KEY is not set; checkout is disabled")
	return nil, nil
}

func newNotifier(cfg *config.Config, logger *zerolog.Logger) adapter.Notifier {
	if cfg.Notify.TelegramToken == "" {
		return tele.NewNoopNotifier(logger)
	}
	n, err := tele.NewNotifier(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, "", logger)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram notifier unavailable; alerts go to the log")
		return tele.NewNoopNotifier(logger)
	}
	return n
}
