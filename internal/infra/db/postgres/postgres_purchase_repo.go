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

var (
	_ repository.PurchaseRepository     = (*purchaseRepo)(nil)
	_ repository.ItemPurchaseRepository = (*itemPurchaseRepo)(nil)
)

type purchaseRepo struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewPurchaseRepo(pool *pgxpool.Pool) *purchaseRepo {
	return &purchaseRepo{pool: pool, now: time.Now}
}

func (r *purchaseRepo) RecordPaid(ctx context.Context, tx repository.Tx, p *model.Purchase) error {
	const q = `
INSERT INTO stripe_purchases (payment_intent_id, user_id, item_id, session_id, customer_id, status, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, 'paid', $6, $6)
ON CONFLICT (payment_intent_id) DO UPDATE
   SET session_id  = EXCLUDED.session_id,
       customer_id = COALESCE(EXCLUDED.customer_id, stripe_purchases.customer_id),
       updated_at  = EXCLUDED.updated_at
 WHERE stripe_purchases.status <> 'refunded';`
	now := r.now().UTC()
	if _, err := execSQL(ctx, r.pool, tx, q, p.PaymentIntentID, p.UserID, p.ItemID, p.SessionID, p.CustomerID, now); err != nil {
		return fmt.Errorf("record purchase: %w", err)
	}
	return nil
}

func (r *purchaseRepo) FindByPaymentIntent(ctx context.Context, tx repository.Tx, paymentIntentID string) (*model.Purchase, error) {
	const q = `
SELECT payment_intent_id, user_id, item_id, session_id, customer_id, status, created_at, updated_at, refunded_at
  FROM stripe_purchases WHERE payment_intent_id = $1;`
	var (
		p      model.Purchase
		status string
	)
	err := pickRow(ctx, r.pool, tx, q, paymentIntentID).Scan(
		&p.PaymentIntentID, &p.UserID, &p.ItemID, &p.SessionID, &p.CustomerID, &status, &p.CreatedAt, &p.UpdatedAt, &p.RefundedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find purchase: %w", err)
	}
	p.Status = model.PurchaseStatus(status)
	return &p, nil
}

func (r *purchaseRepo) MarkRefunded(ctx context.Context, tx repository.Tx, paymentIntentID string) error {
	const q = `
UPDATE stripe_purchases
   SET status = 'refunded', updated_at = $2, refunded_at = COALESCE(refunded_at, $2)
 WHERE payment_intent_id = $1;`
	tag, err := execSQL(ctx, r.pool, tx, q, paymentIntentID, r.now().UTC())
	if err != nil {
		return fmt.Errorf("mark purchase refunded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// itemPurchaseRepo stores which payment intent currently backs a grant.
type itemPurchaseRepo struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func NewItemPurchaseRepo(pool *pgxpool.Pool) *itemPurchaseRepo {
	return &itemPurchaseRepo{pool: pool, now: time.Now}
}

// Lock takes an advisory lock on the pair. It only makes sense inside a transaction.
func (r *itemPurchaseRepo) Lock(ctx context.Context, tx repository.Tx, key model.PairKey) error {
	t, ok := tx.(pgx.Tx)
	if !ok {
		return domain.ErrInvalidExecContext
	}
	return advisoryLock(ctx, t, "purchase:"+key.ID())
}

func (r *itemPurchaseRepo) FindByKey(ctx context.Context, tx repository.Tx, key model.PairKey) (*model.ItemPurchase, error) {
	const q = `
SELECT user_id, item_id, current_payment_intent_id, status, updated_at
  FROM episode_purchases WHERE user_id = $1 AND item_id = $2;`
	var (
		p      model.ItemPurchase
		status string
	)
	err := pickRow(ctx, r.pool, tx, q, key.UserID, key.ItemID).Scan(&p.UserID, &p.ItemID, &p.CurrentPaymentIntentID, &status, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find item purchase: %w", err)
	}
	p.Status = model.PurchaseStatus(status)
	return &p, nil
}

func (r *itemPurchaseRepo) SetCurrent(ctx context.Context, tx repository.Tx, key model.PairKey, paymentIntentID string) error {
	const q = `
INSERT INTO episode_purchases (user_id, item_id, current_payment_intent_id, status, updated_at)
VALUES ($1, $2, $3, 'paid', $4)
ON CONFLICT (user_id, item_id) DO UPDATE
   SET current_payment_intent_id = EXCLUDED.current_payment_intent_id,
       status = 'paid', updated_at = EXCLUDED.updated_at;`
	if _, err := execSQL(ctx, r.pool, tx, q, key.UserID, key.ItemID, paymentIntentID, r.now().UTC()); err != nil {
		return fmt.Errorf("set item purchase: %w", err)
	}
	return nil
}

func (r *itemPurchaseRepo) MarkRefunded(ctx context.Context, tx repository.Tx, key model.PairKey) error {
	const q = `UPDATE episode_purchases SET status = 'refunded', updated_at = $3 WHERE user_id = $1 AND item_id = $2;`
	tag, err := execSQL(ctx, r.pool, tx, q, key.UserID, key.ItemID, r.now().UTC())
	if err != nil {
		return fmt.Errorf("mark item purchase refunded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
