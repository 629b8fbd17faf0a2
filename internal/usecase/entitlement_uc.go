package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"puzzlepass/internal/domain"
	"puzzlepass/internal/domain/model"
	"puzzlepass/internal/domain/ports/adapter"
	"puzzlepass/internal/domain/ports/repository"
	"puzzlepass/internal/infra/logging"
	"puzzlepass/internal/infra/metrics"
)

type GrantOutcome string

const (
	GrantApplied GrantOutcome = "granted"
	// GrantRefunded means the payment intent was refunded before this grant ran.
	GrantRefunded GrantOutcome = "refunded"
)

type RefundOutcome string

const (
	RefundRevoked    RefundOutcome = "revoked"
	RefundSuperseded RefundOutcome = "superseded"
	RefundSubscriber RefundOutcome = "subscriber"
	RefundNoPurchase RefundOutcome = "no_purchase"
)

// EntitlementUseCase owns every write to entitlements: the paid grant shared by
// verify, webhook and reconciler, and the refund reversal.
type EntitlementUseCase struct {
	entitlements repository.EntitlementRepository
	purchases    repository.PurchaseRepository
	pointers     repository.ItemPurchaseRepository
	attempts     repository.CheckoutAttemptRepository
	tm           repository.TransactionManager
	invalidator  repository.EntitlementInvalidator
	notifier     adapter.Notifier
	log          *zerolog.Logger
}

func NewEntitlementUseCase(
	entitlements repository.EntitlementRepository,
	purchases repository.PurchaseRepository,
	pointers repository.ItemPurchaseRepository,
	attempts repository.CheckoutAttemptRepository,
	tm repository.TransactionManager,
	invalidator repository.EntitlementInvalidator,
	notifier adapter.Notifier,
	logger *zerolog.Logger,
) *EntitlementUseCase {
	return &EntitlementUseCase{
		entitlements: entitlements,
		purchases:    purchases,
		pointers:     pointers,
		attempts:     attempts,
		tm:           tm,
		invalidator:  invalidator,
		notifier:     notifier,
		log:          logger,
	}
}

// Get returns the user's entitlement, or an empty one when none is stored.
func (u *EntitlementUseCase) Get(ctx context.Context, userID string) (*model.Entitlement, error) {
	ent, err := u.entitlements.FindByUser(ctx, nil, userID)
	if errors.Is(err, domain.ErrNotFound) {
		return model.EmptyEntitlement(userID), nil
	}
	if err != nil {
		return nil, domain.Internal("Could not load entitlement.", err)
	}
	return ent, nil
}

// GrantPaid reconciles a paid checkout session into the entitlement store.
// It is idempotent and commutes with itself, so verify, webhook and the
// reconciler may all call it for the same session in any order.
func (u *EntitlementUseCase) GrantPaid(ctx context.Context, source string, sess *model.CheckoutSession) (GrantOutcome, error) {
	key, ok := sess.Owner()
	if !ok || !sess.Paid() {
		return "", domain.NewError(domain.CodeFailedPrecondition, "Not a paid PuzzlePass purchase session.")
	}
	var customer *string
	if sess.CustomerID != "" {
		customer = &sess.CustomerID
	}
	pi := sess.PaymentIntentID

	outcome := GrantApplied
	err := u.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := u.pointers.Lock(ctx, tx, key); err != nil {
			return err
		}
		if pi != "" {
			prev, err := u.purchases.FindByPaymentIntent(ctx, tx, pi)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				return err
			}
			if prev != nil && prev.Status == model.PurchaseRefunded {
				outcome = GrantRefunded
				return nil
			}
		}
		if err := u.entitlements.GrantItem(ctx, tx, key.UserID, key.ItemID, customer); err != nil {
			return err
		}
		if pi != "" {
			if err := u.purchases.RecordPaid(ctx, tx, &model.Purchase{
				PaymentIntentID: pi,
				UserID:          key.UserID,
				ItemID:          key.ItemID,
				SessionID:       sess.ID,
				CustomerID:      customer,
				Status:          model.PurchasePaid,
			}); err != nil {
				return err
			}
			if err := u.repoint(ctx, tx, key, pi); err != nil {
				return err
			}
		}
		return u.attempts.SetStatus(ctx, tx, key, "", model.AttemptComplete)
	})
	if err != nil {
		return "", fmt.Errorf("grant %s/%s: %w", key.UserID, key.ItemID, err)
	}
	u.invalidate(ctx, key.UserID)

	l := logging.With(ctx, u.log)
	if outcome == GrantRefunded {
		l.Warn().Str("source", source).Str("item_id", key.ItemID).Str("payment_intent", pi).
			Msg("skipping grant for refunded payment")
		return outcome, nil
	}
	metrics.IncGrant(source)
	l.Info().Str("source", source).Str("item_id", key.ItemID).Str("session_id", sess.ID).Msg("entitlement granted")
	return outcome, nil
}

// RevokeRefunded reverses the grant backed by paymentIntentID. The item stays
// unlocked when a newer purchase superseded this one or the user subscribes.
func (u *EntitlementUseCase) RevokeRefunded(ctx context.Context, paymentIntentID string) (RefundOutcome, error) {
	purchase, err := u.purchases.FindByPaymentIntent(ctx, nil, paymentIntentID)
	if errors.Is(err, domain.ErrNotFound) {
		metrics.IncRefundOutcome(string(RefundNoPurchase))
		return RefundNoPurchase, nil
	}
	if err != nil {
		return "", fmt.Errorf("find purchase: %w", err)
	}
	key := model.NewPairKey(purchase.UserID, purchase.ItemID)

	var outcome RefundOutcome
	err = u.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := u.pointers.Lock(ctx, tx, key); err != nil {
			return err
		}
		if err := u.purchases.MarkRefunded(ctx, tx, paymentIntentID); err != nil {
			return err
		}
		ptr, err := u.pointers.FindByKey(ctx, tx, key)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if ptr == nil || ptr.CurrentPaymentIntentID != paymentIntentID {
			outcome = RefundSuperseded
			return nil
		}
		ent, err := u.entitlements.FindByUser(ctx, tx, key.UserID)
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			return err
		}
		if ent != nil && ent.Subscriber {
			outcome = RefundSubscriber
			return nil
		}
		if err := u.entitlements.RevokeItem(ctx, tx, key.UserID, key.ItemID); err != nil {
			return err
		}
		outcome = RefundRevoked
		return u.pointers.MarkRefunded(ctx, tx, key)
	})
	if err != nil {
		return "", fmt.Errorf("revoke %s: %w", paymentIntentID, err)
	}
	metrics.IncRefundOutcome(string(outcome))

	l := logging.With(ctx, u.log)
	l.Info().Str("item_id", key.ItemID).Str("payment_intent", paymentIntentID).
		Str("outcome", string(outcome)).Msg("refund processed")
	if outcome == RefundRevoked {
		u.invalidate(ctx, key.UserID)
		u.notify(ctx, fmt.Sprintf("Refund: revoked episode %s from user %s (payment %s)", key.ItemID, key.UserID, paymentIntentID))
	}
	return outcome, nil
}

// repoint makes pi the payment backing the pair unless a different paid
// purchase already does. A late grant for an older session then cannot
// hand the pointer back to a payment that may still be refunded.
func (u *EntitlementUseCase) repoint(ctx context.Context, tx repository.Tx, key model.PairKey, pi string) error {
	cur, err := u.pointers.FindByKey(ctx, tx, key)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if cur != nil && cur.Status == model.PurchasePaid && cur.CurrentPaymentIntentID != pi {
		logging.With(ctx, u.log).Info().Str("item_id", key.ItemID).
			Str("payment_intent", pi).Str("current", cur.CurrentPaymentIntentID).
			Msg("pointer kept on current paid purchase")
		return nil
	}
	return u.pointers.SetCurrent(ctx, tx, key, pi)
}

// Revoke removes an item regardless of purchases. Used by support tooling.
func (u *EntitlementUseCase) Revoke(ctx context.Context, userID, itemID string) error {
	key := model.NewPairKey(userID, itemID)
	err := u.tm.WithTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		if err := u.pointers.Lock(ctx, tx, key); err != nil {
			return err
		}
		if err := u.entitlements.RevokeItem(ctx, tx, userID, itemID); err != nil {
			return err
		}
		err := u.pointers.MarkRefunded(ctx, tx, key)
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	u.invalidate(ctx, userID)
	return nil
}

func (u *EntitlementUseCase) SetSubscriber(ctx context.Context, userID string, subscriber bool) error {
	if err := u.entitlements.SetSubscriber(ctx, nil, userID, subscriber); err != nil {
		return err
	}
	u.invalidate(ctx, userID)
	return nil
}

func (u *EntitlementUseCase) invalidate(ctx context.Context, userID string) {
	if u.invalidator != nil {
		u.invalidator.InvalidateUser(ctx, userID)
	}
}

func (u *EntitlementUseCase) notify(ctx context.Context, text string) {
	if u.notifier == nil {
		return
	}
	if err := u.notifier.Notify(ctx, text); err != nil {
		logging.With(ctx, u.log).Warn().Err(err).Msg("ops notification failed")
	}
}
