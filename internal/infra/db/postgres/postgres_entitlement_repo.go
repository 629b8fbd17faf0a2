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

var _ repository.EntitlementRepository = (*entitlementRepo)(nil)

// entitlementRepo keeps one entitlements row per user and the unlocked items
// in entitlement_items, so grants are set inserts rather than array rewrites.
type entitlementRepo struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewEntitlementRepo(pool *pgxpool.Pool) *entitlementRepo {
	return &entitlementRepo{pool: pool, now: time.Now}
}

func (r *entitlementRepo) FindByUser(ctx context.Context, tx repository.Tx, userID string) (*model.Entitlement, error) {
	const q = `
SELECT e.user_id, e.subscriber, e.customer_id, e.updated_at,
       COALESCE(array_agg(i.item_id ORDER BY i.granted_at, i.item_id) FILTER (WHERE i.item_id IS NOT NULL), '{}')
  FROM entitlements e
  LEFT JOIN entitlement_items i ON i.user_id = e.user_id
 WHERE e.user_id = $1
 GROUP BY e.user_id;`
	var e model.Entitlement
	err := pickRow(ctx, r.pool, tx, q, userID).Scan(&e.UserID, &e.Subscriber, &e.CustomerID, &e.UpdatedAt, &e.UnlockedItemIDs)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find entitlement: %w", err)
	}
	return &e, nil
}

func (r *entitlementRepo) GrantItem(ctx context.Context, tx repository.Tx, userID, itemID string, customerID *string) error {
	const q = `
WITH e AS (
  INSERT INTO entitlements (user_id, customer_id, updated_at)
  VALUES ($1, $3, $4)
  ON CONFLICT (user_id) DO UPDATE
     SET customer_id = COALESCE(EXCLUDED.customer_id, entitlements.customer_id),
         updated_at  = EXCLUDED.updated_at
  RETURNING user_id
)
INSERT INTO entitlement_items (user_id, item_id, granted_at)
SELECT user_id, $2, $4 FROM e
ON CONFLICT (user_id, item_id) DO NOTHING;`
	if _, err := execSQL(ctx, r.pool, tx, q, userID, itemID, customerID, r.now().UTC()); err != nil {
		return fmt.Errorf("grant item: %w", err)
	}
	return nil
}

func (r *entitlementRepo) RevokeItem(ctx context.Context, tx repository.Tx, userID, itemID string) error {
	const q = `
WITH d AS (
  DELETE FROM entitlement_items WHERE user_id = $1 AND item_id = $2 RETURNING user_id
)
UPDATE entitlements SET updated_at = $3
 WHERE user_id = $1 AND EXISTS (SELECT 1 FROM d);`
	if _, err := execSQL(ctx, r.pool, tx, q, userID, itemID, r.now().UTC()); err != nil {
		return fmt.Errorf("revoke item: %w", err)
	}
	return nil
}

func (r *entitlementRepo) SetSubscriber(ctx context.Context, tx repository.Tx, userID string, subscriber bool) error {
	const q = `
INSERT INTO entitlements (user_id, subscriber, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (user_id) DO UPDATE SET subscriber = EXCLUDED.subscriber, updated_at = EXCLUDED.updated_at;`
	if _, err := execSQL(ctx, r.pool, tx, q, userID, subscriber, r.now().UTC()); err != nil {
		return fmt.Errorf("set subscriber: %w", err)
	}
	return nil
}
