package usecase

import (
	"context"

	"github.com/google/uuid"

	"puzzlepass/internal/domain/model"
	"puzzlepass/internal/domain/ports/repository"
)

// Attempt is the ledger decision for one createCheckoutSession call.
type Attempt struct {
	Mode   model.AttemptMode
	Record model.CheckoutAttempt
}

// AttemptLedger keeps the latest checkout attempt per (user, item) so retries
// reuse the provider session or idempotency key instead of creating new ones.
type AttemptLedger struct {
	repo   repository.CheckoutAttemptRepository
	tm     repository.TransactionManager
	policy *CheckoutPolicy
	newID  func() string
}

func NewAttemptLedger(repo repository.CheckoutAttemptRepository, tm repository.TransactionManager, policy *CheckoutPolicy) *AttemptLedger {
	return &AttemptLedger{repo: repo, tm: tm, policy: policy, newID: uuid.NewString}
}

// GetOrCreate classifies the stored attempt and, when it cannot be reused or
// continued, replaces it with a fresh creating attempt. All in one transaction.
func (l *AttemptLedger) GetOrCreate(ctx context.Context, key model.PairKey) (*Attempt, error) {
	var out Attempt
	err := l.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		_, err := l.repo.TransactionalUpsert(ctx, tx, key, func(cur *model.CheckoutAttempt) (*model.CheckoutAttempt, error) {
			now := l.policy.now()
			out.Mode = model.ClassifyAttempt(cur, now, l.policy.windows())
			if out.Mode != model.AttemptModeNew {
				out.Record = *cur
				return nil, nil
			}
			fresh := model.NewCheckoutAttempt(key, l.newID(), now, l.policy.AttemptTTL)
			out.Record = *fresh
			return fresh, nil
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (l *AttemptLedger) MarkOpen(ctx context.Context, key model.PairKey, attemptID, sessionID, url string) error {
	return l.repo.MarkOpen(ctx, nil, key, attemptID, sessionID, url)
}

func (l *AttemptLedger) SetStatus(ctx context.Context, key model.PairKey, attemptID string, status model.AttemptStatus) error {
	return l.repo.SetStatus(ctx, nil, key, attemptID, status)
}
