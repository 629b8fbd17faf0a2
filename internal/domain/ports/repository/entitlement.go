package repository

import (
	"context"

	"puzzlepass/internal/domain/model"
)

// EntitlementRepository stores per-user unlocked content.
type EntitlementRepository interface {
	// FindByUser returns domain.ErrNotFound when the user has no record.
	FindByUser(ctx context.Context, tx Tx, userID string) (*model.Entitlement, error)
	// GrantItem adds itemID with set semantics, creating the record on first grant.
	GrantItem(ctx context.Context, tx Tx, userID, itemID string, customerID *string) error
	RevokeItem(ctx context.Context, tx Tx, userID, itemID string) error
	SetSubscriber(ctx context.Context, tx Tx, userID string, subscriber bool) error
}

// PurchaseRepository maps payment intents to (user, item).
type PurchaseRepository interface {
	// RecordPaid creates the purchase or refreshes a paid one. A refunded purchase is left untouched.
	RecordPaid(ctx context.Context, tx Tx, p *model.Purchase) error
	FindByPaymentIntent(ctx context.Context, tx Tx, paymentIntentID string) (*model.Purchase, error)
	MarkRefunded(ctx context.Context, tx Tx, paymentIntentID string) error
}

// ItemPurchaseRepository stores the pointer to the payment intent backing a grant.
type ItemPurchaseRepository interface {
	// Lock serializes writers of the pair for the rest of tx.
	Lock(ctx context.Context, tx Tx, key model.PairKey) error
	FindByKey(ctx context.Context, tx Tx, key model.PairKey) (*model.ItemPurchase, error)
	SetCurrent(ctx context.Context, tx Tx, key model.PairKey, paymentIntentID string) error
	MarkRefunded(ctx context.Context, tx Tx, key model.PairKey) error
}

// EntitlementInvalidator drops cached entitlement reads once a write has committed.
type EntitlementInvalidator interface {
	InvalidateUser(ctx context.Context, userID string)
}
