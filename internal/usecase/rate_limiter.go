package usecase

import (
	"context"

	"github.com/rs/zerolog"

	"puzzlepass/internal/domain"
	"puzzlepass/internal/domain/model"
	"puzzlepass/internal/domain/ports/repository"
	"puzzlepass/internal/infra/logging"
	"puzzlepass/internal/infra/metrics"
)

// CheckoutRateLimiter is a fixed-window counter per (user, item), kept in the store.
type CheckoutRateLimiter struct {
	repo   repository.RateLimitRepository
	tm     repository.TransactionManager
	policy *CheckoutPolicy
	log    *zerolog.Logger
}

func NewCheckoutRateLimiter(repo repository.RateLimitRepository, tm repository.TransactionManager, policy *CheckoutPolicy, logger *zerolog.Logger) *CheckoutRateLimiter {
	return &CheckoutRateLimiter{repo: repo, tm: tm, policy: policy, log: logger}
}

// Enforce counts one checkout creation for key. The incremented count is
// committed even when the call is rejected.
func (l *CheckoutRateLimiter) Enforce(ctx context.Context, key model.PairKey) error {
	var rec *model.RateLimit
	err := l.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		rec, err = l.repo.TransactionalUpsert(ctx, tx, key, func(cur *model.RateLimit) (*model.RateLimit, error) {
			return cur.Hit(key, l.policy.now(), l.policy.Window, l.policy.RateLimitTTL), nil
		})
		return err
	})
	if err != nil {
		return domain.Internal("Rate limit unavailable.", err)
	}
	if rec.Count > l.policy.Limit {
		metrics.IncRateLimitRejection("checkout")
		logging.With(ctx, l.log).Warn().
			Str("item_id", key.ItemID).
			Int("count", rec.Count).
			Msg("checkout rate limit exceeded")
		return domain.NewError(domain.CodeResourceExhausted, "Too many checkout attempts. Try again in a few minutes.")
	}
	return nil
}
