//go:build !integration

package sched

import (
	"context"
	"sync"
	"time"

	"puzzlepass/internal/domain"
	"puzzlepass/internal/domain/model"
	"puzzlepass/internal/domain/ports/repository"
	"puzzlepass/internal/usecase"
)

type mockReconciler struct {
	mu       sync.Mutex
	seen     []string
	Outcomes map[string]usecase.ReconcileOutcome
	Errs     map[string]error
	Hook     func(rec *model.CheckoutAttempt)
}

func (m *mockReconciler) Reconcile(ctx context.Context, rec *model.CheckoutAttempt) (usecase.ReconcileOutcome, error) {
	if m.Hook != nil {
		m.Hook(rec)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seen = append(m.seen, rec.AttemptID)
	if err := m.Errs[rec.AttemptID]; err != nil {
		return "", err
	}
	return m.Outcomes[rec.AttemptID], nil
}

func (m *mockReconciler) calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.seen...)
}

// mockAttemptRepo only implements the listing and sweeping calls.
type mockAttemptRepo struct {
	repository.CheckoutAttemptRepository
	Open       []*model.CheckoutAttempt
	ListErr    error
	gotCutoff  time.Time
	gotLimit   int
	Expired    int64
	ExpiredErr error
}

func (m *mockAttemptRepo) ListOpenOlderThan(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.CheckoutAttempt, error) {
	m.gotCutoff, m.gotLimit = cutoff, limit
	return m.Open, m.ListErr
}

func (m *mockAttemptRepo) DeleteExpired(ctx context.Context, tx repository.Tx, now time.Time) (int64, error) {
	return m.Expired, m.ExpiredErr
}

type mockRateRepo struct {
	repository.RateLimitRepository
	Expired int64
	gotNow  time.Time
}

func (m *mockRateRepo) DeleteExpired(ctx context.Context, tx repository.Tx, now time.Time) (int64, error) {
	m.gotNow = now
	return m.Expired, nil
}

type mockEventRepo struct {
	repository.EventLockRepository
	Expired int64
}

func (m *mockEventRepo) DeleteExpired(ctx context.Context, tx repository.Tx, now time.Time) (int64, error) {
	return m.Expired, nil
}

type mockLocker struct {
	mu       sync.Mutex
	held     map[string]string
	unlocked int
}

func (l *mockLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held == nil {
		l.held = map[string]string{}
	}
	if _, ok := l.held[key]; ok {
		return "", domain.ErrLockNotAcquired
	}
	l.held[key] = "tok"
	return "tok", nil
}

func (l *mockLocker) Unlock(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[key] == token {
		delete(l.held, key)
		l.unlocked++
	}
	return nil
}
