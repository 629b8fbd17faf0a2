//go:build !integration

package sched

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"puzzlepass/internal/domain/model"
	"puzzlepass/internal/infra/logging"
	"puzzlepass/internal/infra/worker"
	"puzzlepass/internal/usecase"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func attempt(id string) *model.CheckoutAttempt {
	sess := "cs_" + id
	return &model.CheckoutAttempt{UserID: "alice", ItemID: "ep-" + id, AttemptID: id, SessionID: &sess, Status: model.AttemptOpen}
}

func TestCheckoutReconciler_Tick(t *testing.T) {
	ctx := context.Background()

	t.Run("should reconcile every stale attempt through the pool", func(t *testing.T) {
		// Arrange
		repo := &mockAttemptRepo{Open: []*model.CheckoutAttempt{attempt("a"), attempt("b"), attempt("c")}}
		uc := &mockReconciler{
			Outcomes: map[string]usecase.ReconcileOutcome{"a": usecase.ReconcileGranted, "b": usecase.ReconcileExpired},
			Errs:     map[string]error{"c": errors.New("provider down")},
		}
		pctx, cancel := context.WithCancel(ctx)
		defer cancel()
		pool := worker.NewPool(2, logging.Nop())
		pool.Start(pctx)
		defer pool.Stop()
		r := NewCheckoutReconciler(uc, repo, pool, nil, time.Minute, 15*time.Minute, 50, logging.Nop())
		r.now = func() time.Time { return fixedNow }

		// Act
		n := r.Tick(ctx)

		// Assert
		assert.Equal(t, 3, n)
		assert.ElementsMatch(t, []string{"a", "b", "c"}, uc.calls())
		assert.Equal(t, fixedNow.Add(-15*time.Minute), repo.gotCutoff)
		assert.Equal(t, 50, repo.gotLimit)
	})

	t.Run("should run inline without a pool", func(t *testing.T) {
		repo := &mockAttemptRepo{Open: []*model.CheckoutAttempt{attempt("a")}}
		uc := &mockReconciler{}
		r := NewCheckoutReconciler(uc, repo, nil, nil, 0, 0, 0, logging.Nop())

		n := r.Tick(ctx)

		assert.Equal(t, 1, n)
		assert.Equal(t, []string{"a"}, uc.calls())
		assert.Equal(t, 200, repo.gotLimit)
	})

	t.Run("should return when ctx ends with tasks still queued", func(t *testing.T) {
		// Arrange
		repo := &mockAttemptRepo{Open: []*model.CheckoutAttempt{attempt("a"), attempt("b"), attempt("c"), attempt("d")}}
		started, release := make(chan struct{}), make(chan struct{})
		var once sync.Once
		uc := &mockReconciler{Hook: func(rec *model.CheckoutAttempt) {
			once.Do(func() {
				close(started)
				<-release
			})
		}}
		pctx, cancel := context.WithCancel(ctx)
		defer cancel()
		pool := worker.NewPool(1, logging.Nop())
		pool.Start(pctx)
		r := NewCheckoutReconciler(uc, repo, pool, nil, time.Minute, time.Minute, 10, logging.Nop())

		// Act
		result := make(chan int, 1)
		go func() { result <- r.Tick(pctx) }()
		<-started
		cancel()
		close(release)

		// Assert
		select {
		case n := <-result:
			assert.LessOrEqual(t, n, 4)
		case <-time.After(2 * time.Second):
			t.Fatal("tick still waiting on dropped tasks after cancel")
		}
		pool.Stop()
	})

	t.Run("should stop on a listing error", func(t *testing.T) {
		repo := &mockAttemptRepo{ListErr: errors.New("db down")}
		uc := &mockReconciler{}
		r := NewCheckoutReconciler(uc, repo, nil, nil, time.Minute, time.Minute, 10, logging.Nop())

		assert.Zero(t, r.Tick(ctx))
		assert.Empty(t, uc.calls())
	})
}

func TestRunAsLeader(t *testing.T) {
	ctx := context.Background()

	t.Run("should skip when another instance holds the lock", func(t *testing.T) {
		// Arrange
		locker := &mockLocker{}
		_, err := locker.TryLock(ctx, "lock:job:x", time.Minute)
		require.NoError(t, err)
		ran := false

		// Act
		runAsLeader(ctx, locker, "lock:job:x", time.Minute, logging.Nop(), func(ctx context.Context) { ran = true })

		// Assert
		assert.False(t, ran)
	})

	t.Run("should run and release the lock", func(t *testing.T) {
		locker := &mockLocker{}
		ran := false

		runAsLeader(ctx, locker, "lock:job:x", time.Minute, logging.Nop(), func(ctx context.Context) { ran = true })

		assert.True(t, ran)
		assert.Equal(t, 1, locker.unlocked)
		assert.Empty(t, locker.held)
	})
}

func TestTTLSweeper_Sweep(t *testing.T) {
	t.Run("should sweep every kind and continue past failures", func(t *testing.T) {
		// Arrange
		rates := &mockRateRepo{Expired: 4}
		attempts := &mockAttemptRepo{ExpiredErr: errors.New("db down")}
		events := &mockEventRepo{Expired: 2}
		s := NewTTLSweeper(rates, attempts, events, nil, time.Hour, logging.Nop())
		s.now = func() time.Time { return fixedNow }

		// Act
		out := s.Sweep(context.Background())

		// Assert
		assert.Equal(t, map[string]int64{"rate_limit": 4, "event_lock": 2}, out)
		assert.Equal(t, fixedNow, rates.gotNow)
	})
}
