package usecase

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"puzzlepass/internal/domain/model"
	"puzzlepass/internal/domain/ports/repository"
	"puzzlepass/internal/infra/logging"
	"puzzlepass/internal/infra/metrics"
)

// EventLock makes provider event handling at-most-once per successful run.
type EventLock struct {
	repo   repository.EventLockRepository
	policy *CheckoutPolicy
	log    *zerolog.Logger
}

func NewEventLock(repo repository.EventLockRepository, policy *CheckoutPolicy, logger *zerolog.Logger) *EventLock {
	return &EventLock{repo: repo, policy: policy, log: logger}
}

// WithLock runs fn unless eventID was already taken. The lock is marked
// processed when fn succeeds and removed when it fails, so a redelivery retries.
// ran reports whether fn was invoked.
func (l *EventLock) WithLock(ctx context.Context, eventID string, fn func(ctx context.Context) error) (ran bool, err error) {
	now := l.policy.now()
	created, err := l.repo.CreateIfAbsent(ctx, nil, &model.EventLock{
		EventID:   eventID,
		Status:    model.EventProcessing,
		CreatedAt: now,
		ExpiresAt: now.Add(l.policy.EventTTL),
	})
	if err != nil {
		return false, fmt.Errorf("create event lock: %w", err)
	}
	if !created {
		metrics.IncEventLockDuplicate()
		logging.With(ctx, l.log).Debug().Msg("event already taken, skipping")
		return false, nil
	}

	if err := fn(ctx); err != nil {
		if derr := l.repo.Delete(context.WithoutCancel(ctx), nil, eventID); derr != nil {
			logging.With(ctx, l.log).Error().Err(derr).Msg("failed to release event lock")
		}
		return true, err
	}
	if err := l.repo.MarkProcessed(ctx, nil, eventID, l.policy.now()); err != nil {
		// The lock still exists, so the event will not run twice.
		logging.With(ctx, l.log).Warn().Err(err).Msg("failed to mark event processed")
	}
	return true, nil
}
