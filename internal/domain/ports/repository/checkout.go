package repository

import (
	"context"
	"time"

	"puzzlepass/internal/domain/model"
)

// RateLimitRepository stores checkout rate limit counters.
type RateLimitRepository interface {
	// TransactionalUpsert reads, transforms and writes the record atomically.
	TransactionalUpsert(ctx context.Context, tx Tx, key model.PairKey, fn UpsertFunc[model.RateLimit]) (*model.RateLimit, error)
	DeleteExpired(ctx context.Context, tx Tx, now time.Time) (int64, error)
}

// CheckoutAttemptRepository is the checkout attempt ledger.
type CheckoutAttemptRepository interface {
	// TransactionalUpsert reads, transforms and writes the record atomically.
	TransactionalUpsert(ctx context.Context, tx Tx, key model.PairKey, fn UpsertFunc[model.CheckoutAttempt]) (*model.CheckoutAttempt, error)
	FindByKey(ctx context.Context, tx Tx, key model.PairKey) (*model.CheckoutAttempt, error)
	// MarkOpen stores the provider session of attemptID. It is a no-op when a newer attempt replaced it.
	MarkOpen(ctx context.Context, tx Tx, key model.PairKey, attemptID, sessionID, sessionURL string) error
	// SetStatus updates the status of the stored attempt. A non-empty attemptID
	// restricts the update to that attempt.
	SetStatus(ctx context.Context, tx Tx, key model.PairKey, attemptID string, status model.AttemptStatus) error
	ListOpenOlderThan(ctx context.Context, tx Tx, cutoff time.Time, limit int) ([]*model.CheckoutAttempt, error)
	DeleteExpired(ctx context.Context, tx Tx, now time.Time) (int64, error)
}

// EventLockRepository stores provider event locks.
type EventLockRepository interface {
	// CreateIfAbsent inserts a processing lock and reports whether it was created.
	CreateIfAbsent(ctx context.Context, tx Tx, lock *model.EventLock) (bool, error)
	MarkProcessed(ctx context.Context, tx Tx, eventID string, at time.Time) error
	Delete(ctx context.Context, tx Tx, eventID string) error
	DeleteExpired(ctx context.Context, tx Tx, now time.Time) (int64, error)
}
