package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"puzzlepass/internal/domain/model"
	"puzzlepass/internal/domain/ports/repository"
	"puzzlepass/internal/infra/metrics"
	"puzzlepass/internal/infra/redis"
	"puzzlepass/internal/infra/worker"
	"puzzlepass/internal/usecase"
)

const reconcilerJob = "checkout_reconciler"

// AttemptReconciler converges one ledger attempt with the payment provider.
type AttemptReconciler interface {
	Reconcile(ctx context.Context, rec *model.CheckoutAttempt) (usecase.ReconcileOutcome, error)
}

// CheckoutReconciler periodically scans the ledger for open attempts that
// went stale and asks the provider what became of them. This covers paid
// sessions whose webhook never arrived and whose client never verified.
type CheckoutReconciler struct {
	uc         AttemptReconciler
	attempts   repository.CheckoutAttemptRepository
	pool       *worker.Pool
	locker     redis.Locker
	interval   time.Duration
	staleAfter time.Duration
	batch      int
	now        func() time.Time
	log        *zerolog.Logger
}

func NewCheckoutReconciler(
	uc AttemptReconciler,
	attempts repository.CheckoutAttemptRepository,
	pool *worker.Pool,
	locker redis.Locker,
	interval, staleAfter time.Duration,
	batch int,
	logger *zerolog.Logger,
) *CheckoutReconciler {
	if interval <= 0 {
		interval = time.Minute
	}
	if staleAfter <= 0 {
		staleAfter = 10 * time.Minute
	}
	if batch <= 0 {
		batch = 200
	}
	l := logger.With().Str("component", "CheckoutReconciler").Logger()
	return &CheckoutReconciler{
		uc: uc, attempts: attempts, pool: pool, locker: locker,
		interval: interval, staleAfter: staleAfter, batch: batch,
		now: time.Now, log: &l,
	}
}

func (w *CheckoutReconciler) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting checkout reconciler")
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping checkout reconciler")
			return ctx.Err()
		case <-t.C:
			runAsLeader(ctx, w.locker, "lock:job:"+reconcilerJob, w.interval, w.log, func(ctx context.Context) {
				w.Tick(ctx)
			})
		}
	}
}

// Tick runs a single scan and returns the number of attempts examined.
func (w *CheckoutReconciler) Tick(ctx context.Context) int {
	cutoff := w.now().Add(-w.staleAfter)
	stale, err := w.attempts.ListOpenOlderThan(ctx, nil, cutoff, w.batch)
	if err != nil {
		w.log.Error().Err(err).Msg("list stale attempts")
		metrics.IncJob(reconcilerJob, "error")
		return 0
	}
	if len(stale) == 0 {
		return 0
	}

	// Tasks the pool drops on shutdown never report, so waiting also ends with ctx.
	done := make(chan struct{}, len(stale))
	submitted := 0
	for _, rec := range stale {
		rec := rec
		task := func(ctx context.Context) error {
			defer func() { done <- struct{}{} }()
			w.reconcile(ctx, rec)
			return nil
		}
		if w.pool == nil {
			_ = task(ctx)
			submitted++
			continue
		}
		if err := w.pool.SubmitWait(ctx, task); err != nil {
			w.log.Warn().Err(err).Msg("reconcile batch interrupted")
			break
		}
		submitted++
	}
	for finished := 0; finished < submitted; finished++ {
		select {
		case <-done:
		case <-ctx.Done():
			w.log.Warn().Int("pending", submitted-finished).Msg("reconcile tick abandoned on shutdown")
			return finished
		}
	}
	w.log.Info().Int("count", len(stale)).Msg("reconciled stale attempts")
	return len(stale)
}

func (w *CheckoutReconciler) reconcile(ctx context.Context, rec *model.CheckoutAttempt) {
	out, err := w.uc.Reconcile(ctx, rec)
	if err != nil {
		metrics.IncJob(reconcilerJob, "error")
		w.log.Warn().Err(err).
			Str("user_id", rec.UserID).
			Str("item_id", rec.ItemID).
			Str("attempt_id", rec.AttemptID).
			Msg("reconcile failed")
		return
	}
	metrics.IncJob(reconcilerJob, string(out))
	if out == usecase.ReconcileGranted {
		w.log.Info().Str("user_id", rec.UserID).Str("item_id", rec.ItemID).Msg("granted from stale attempt")
	}
}
