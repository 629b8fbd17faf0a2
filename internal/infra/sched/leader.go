package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"puzzlepass/internal/domain"
	"puzzlepass/internal/infra/redis"
)

// runAsLeader runs fn only if this instance wins the named lock for ttl.
// A nil locker always runs. Losing the election is not an error.
func runAsLeader(ctx context.Context, locker redis.Locker, key string, ttl time.Duration, log *zerolog.Logger, fn func(ctx context.Context)) {
	if locker == nil {
		fn(ctx)
		return
	}
	token, err := locker.TryLock(ctx, key, ttl)
	if errors.Is(err, domain.ErrLockNotAcquired) {
		log.Debug().Str("lock", key).Msg("another instance holds the job lock")
		return
	}
	if err != nil {
		log.Warn().Err(err).Str("lock", key).Msg("job lock unavailable")
		return
	}
	defer func() {
		// Unlock with a fresh context so a cancelled tick still releases.
		uctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := locker.Unlock(uctx, key, token); err != nil {
			log.Warn().Err(err).Str("lock", key).Msg("job unlock failed")
		}
	}()
	fn(ctx)
}
