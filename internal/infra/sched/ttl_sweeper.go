package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"puzzlepass/internal/domain/ports/repository"
	"puzzlepass/internal/infra/metrics"
	"puzzlepass/internal/infra/redis"
)

// Expirer deletes records whose expiry passed.
type Expirer interface {
	DeleteExpired(ctx context.Context, tx repository.Tx, now time.Time) (int64, error)
}

// TTLSweeper deletes expired rate limit counters, ledger attempts and event locks.
type TTLSweeper struct {
	kinds    []string
	targets  []Expirer
	locker   redis.Locker
	interval time.Duration
	now      func() time.Time
	log      *zerolog.Logger
}

func NewTTLSweeper(
	rates repository.RateLimitRepository,
	attempts repository.CheckoutAttemptRepository,
	events repository.EventLockRepository,
	locker redis.Locker,
	interval time.Duration,
	logger *zerolog.Logger,
) *TTLSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	l := logger.With().Str("component", "TTLSweeper").Logger()
	return &TTLSweeper{
		kinds:    []string{"rate_limit", "checkout_attempt", "event_lock"},
		targets:  []Expirer{rates, attempts, events},
		locker:   locker,
		interval: interval,
		now:      time.Now,
		log:      &l,
	}
}

func (s *TTLSweeper) Run(ctx context.Context) error {
	s.log.Info().Dur("interval", s.interval).Msg("Starting TTL sweeper")
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Stopping TTL sweeper")
			return ctx.Err()
		case <-t.C:
			runAsLeader(ctx, s.locker, "lock:job:ttl_sweeper", s.interval, s.log, func(ctx context.Context) {
				s.Sweep(ctx)
			})
		}
	}
}

// Sweep deletes everything expired as of now and returns counts per kind.
// A failing kind does not stop the others.
func (s *TTLSweeper) Sweep(ctx context.Context) map[string]int64 {
	now := s.now()
	out := make(map[string]int64, len(s.kinds))
	for i, target := range s.targets {
		kind := s.kinds[i]
		n, err := target.DeleteExpired(ctx, nil, now)
		if err != nil {
			s.log.Error().Err(err).Str("kind", kind).Msg("sweep failed")
			metrics.IncJob("ttl_sweeper", "error")
			continue
		}
		out[kind] = n
		if n > 0 {
			metrics.AddSwept(kind, n)
			s.log.Info().Str("kind", kind).Int64("count", n).Msg("swept expired records")
		}
	}
	return out
}
