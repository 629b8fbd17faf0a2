package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"puzzlepass/internal/domain"
	"puzzlepass/internal/domain/model"
	"puzzlepass/internal/domain/ports/repository"
)

var _ repository.CheckoutAttemptRepository = (*checkoutAttemptRepo)(nil)

// checkoutAttemptRepo is the attempt ledger, one row per (user, item).
type checkoutAttemptRepo struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewCheckoutAttemptRepo(pool *pgxpool.Pool) *checkoutAttemptRepo {
	return &checkoutAttemptRepo{pool: pool, now: time.Now}
}

const attemptColumns = `user_id, item_id, attempt_id, session_id, session_url, status, created_at, updated_at, expires_at`

func scanAttempt(row pgx.Row) (*model.CheckoutAttempt, error) {
	var (
		a      model.CheckoutAttempt
		status string
	)
	if err := row.Scan(&a.UserID, &a.ItemID, &a.AttemptID, &a.SessionID, &a.SessionURL, &status, &a.CreatedAt, &a.UpdatedAt, &a.ExpiresAt); err != nil {
		return nil, err
	}
	a.Status = model.AttemptStatus(status)
	return &a, nil
}

// TransactionalUpsert serializes callers of the same pair with an advisory
// lock, which also covers the case where no row exists yet.
func (r *checkoutAttemptRepo) TransactionalUpsert(ctx context.Context, tx repository.Tx, key model.PairKey, fn repository.UpsertFunc[model.CheckoutAttempt]) (*model.CheckoutAttempt, error) {
	var out *model.CheckoutAttempt
	err := inTx(ctx, r.pool, tx, func(t pgx.Tx) error {
		if err := advisoryLock(ctx, t, "attempt:"+key.ID()); err != nil {
			return err
		}
		cur, err := scanAttempt(t.QueryRow(ctx,
			`SELECT `+attemptColumns+` FROM checkout_sessions WHERE user_id = $1 AND item_id = $2 FOR UPDATE`,
			key.UserID, key.ItemID))
		if errors.Is(err, pgx.ErrNoRows) {
			cur = nil
		} else if err != nil {
			return err
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}
		if next == nil {
			out = cur
			return nil
		}
		const q = `
INSERT INTO checkout_sessions (` + attemptColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (user_id, item_id) DO UPDATE SET
  attempt_id = EXCLUDED.attempt_id, session_id = EXCLUDED.session_id, session_url = EXCLUDED.session_url,
  status = EXCLUDED.status, created_at = EXCLUDED.created_at, updated_at = EXCLUDED.updated_at,
  expires_at = EXCLUDED.expires_at;`
		if _, err := t.Exec(ctx, q, key.UserID, key.ItemID, next.AttemptID, next.SessionID, next.SessionURL,
			string(next.Status), next.CreatedAt, next.UpdatedAt, next.ExpiresAt); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upsert checkout attempt: %w", err)
	}
	return out, nil
}

func (r *checkoutAttemptRepo) FindByKey(ctx context.Context, tx repository.Tx, key model.PairKey) (*model.CheckoutAttempt, error) {
	a, err := scanAttempt(pickRow(ctx, r.pool, tx,
		`SELECT `+attemptColumns+` FROM checkout_sessions WHERE user_id = $1 AND item_id = $2`, key.UserID, key.ItemID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find checkout attempt: %w", err)
	}
	return a, nil
}

func (r *checkoutAttemptRepo) MarkOpen(ctx context.Context, tx repository.Tx, key model.PairKey, attemptID, sessionID, sessionURL string) error {
	const q = `
UPDATE checkout_sessions
   SET session_id = $4, session_url = $5, status = 'open', updated_at = $6
 WHERE user_id = $1 AND item_id = $2 AND attempt_id = $3;`
	if _, err := execSQL(ctx, r.pool, tx, q, key.UserID, key.ItemID, attemptID, sessionID, sessionURL, r.now().UTC()); err != nil {
		return fmt.Errorf("mark attempt open: %w", err)
	}
	return nil
}

func (r *checkoutAttemptRepo) SetStatus(ctx context.Context, tx repository.Tx, key model.PairKey, attemptID string, status model.AttemptStatus) error {
	const q = `
UPDATE checkout_sessions SET status = $4, updated_at = $5
 WHERE user_id = $1 AND item_id = $2 AND ($3 = '' OR attempt_id = $3);`
	if _, err := execSQL(ctx, r.pool, tx, q, key.UserID, key.ItemID, attemptID, string(status), r.now().UTC()); err != nil {
		return fmt.Errorf("set attempt status: %w", err)
	}
	return nil
}

func (r *checkoutAttemptRepo) ListOpenOlderThan(ctx context.Context, tx repository.Tx, cutoff time.Time, limit int) ([]*model.CheckoutAttempt, error) {
	rows, err := queryRows(ctx, r.pool, tx,
		`SELECT `+attemptColumns+` FROM checkout_sessions
		  WHERE status = 'open' AND created_at < $1 ORDER BY created_at LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list open attempts: %w", err)
	}
	defer rows.Close()
	var out []*model.CheckoutAttempt
	for rows.Next() {
		a, err := scanAttempt(rows)
		if err != nil {
			return nil, domain.ErrReadDatabaseRow
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.ErrReadDatabaseRow
	}
	return out, nil
}

func (r *checkoutAttemptRepo) DeleteExpired(ctx context.Context, tx repository.Tx, now time.Time) (int64, error) {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM checkout_sessions WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired attempts: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ repository.RateLimitRepository = (*rateLimitRepo)(nil)

type rateLimitRepo struct {
	pool *pgxpool.Pool
}

func NewRateLimitRepo(pool *pgxpool.Pool) *rateLimitRepo {
	return &rateLimitRepo{pool: pool}
}

func (r *rateLimitRepo) TransactionalUpsert(ctx context.Context, tx repository.Tx, key model.PairKey, fn repository.UpsertFunc[model.RateLimit]) (*model.RateLimit, error) {
	var out *model.RateLimit
	err := inTx(ctx, r.pool, tx, func(t pgx.Tx) error {
		if err := advisoryLock(ctx, t, "ratelimit:"+key.RateID()); err != nil {
			return err
		}
		var cur *model.RateLimit
		var rl model.RateLimit
		err := t.QueryRow(ctx, `
SELECT user_id, item_id, count, window_start, expires_at, updated_at
  FROM rate_limits WHERE user_id = $1 AND item_id = $2 FOR UPDATE`, key.UserID, key.ItemID).
			Scan(&rl.UserID, &rl.ItemID, &rl.Count, &rl.WindowStart, &rl.ExpiresAt, &rl.UpdatedAt)
		switch {
		case err == nil:
			cur = &rl
		case !errors.Is(err, pgx.ErrNoRows):
			return err
		}

		next, err := fn(cur)
		if err != nil {
			return err
		}
		if next == nil {
			out = cur
			return nil
		}
		_, err = t.Exec(ctx, `
INSERT INTO rate_limits (user_id, item_id, count, window_start, expires_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id, item_id) DO UPDATE SET
  count = EXCLUDED.count, window_start = EXCLUDED.window_start,
  expires_at = EXCLUDED.expires_at, updated_at = EXCLUDED.updated_at`,
			key.UserID, key.ItemID, next.Count, next.WindowStart, next.ExpiresAt, next.UpdatedAt)
		if err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("upsert rate limit: %w", err)
	}
	return out, nil
}

func (r *rateLimitRepo) DeleteExpired(ctx context.Context, tx repository.Tx, now time.Time) (int64, error) {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM rate_limits WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired rate limits: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ repository.EventLockRepository = (*eventLockRepo)(nil)

type eventLockRepo struct {
	pool *pgxpool.Pool
}

func NewEventLockRepo(pool *pgxpool.Pool) *eventLockRepo {
	return &eventLockRepo{pool: pool}
}

func (r *eventLockRepo) CreateIfAbsent(ctx context.Context, tx repository.Tx, l *model.EventLock) (bool, error) {
	const q = `
INSERT INTO stripe_events (event_id, status, created_at, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (event_id) DO NOTHING;`
	tag, err := execSQL(ctx, r.pool, tx, q, l.EventID, string(l.Status), l.CreatedAt, l.ExpiresAt)
	if err != nil {
		return false, fmt.Errorf("create event lock: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *eventLockRepo) MarkProcessed(ctx context.Context, tx repository.Tx, eventID string, at time.Time) error {
	const q = `UPDATE stripe_events SET status = 'processed', processed_at = $2 WHERE event_id = $1;`
	if _, err := execSQL(ctx, r.pool, tx, q, eventID, at); err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

func (r *eventLockRepo) Delete(ctx context.Context, tx repository.Tx, eventID string) error {
	if _, err := execSQL(ctx, r.pool, tx, `DELETE FROM stripe_events WHERE event_id = $1`, eventID); err != nil {
		return fmt.Errorf("delete event lock: %w", err)
	}
	return nil
}

func (r *eventLockRepo) DeleteExpired(ctx context.Context, tx repository.Tx, now time.Time) (int64, error) {
	tag, err := execSQL(ctx, r.pool, tx, `DELETE FROM stripe_events WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired event locks: %w", err)
	}
	return tag.RowsAffected(), nil
}
