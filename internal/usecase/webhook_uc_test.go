//go:build !integration

package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"puzzlepass/internal/domain"
	"puzzlepass/internal/domain/model"
	"puzzlepass/internal/domain/ports/repository"
	"puzzlepass/internal/usecase"
)

func TestWebhookUseCase_Process(t *testing.T) {
	ctx := context.Background()

	t.Run("should grant on a paid completed session", func(t *testing.T) {
		// Arrange
		f := newFixture(t)
		sess := f.buyAndPay(t, alice, "ep-2", "pi_A")
		body, sig := f.completedEvent("evt_1", sess)

		// Act
		err := f.webhook.Process(ctx, body, sig)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []string{"ep-2"}, f.ents.items("alice"))
		st, ok := f.locks.status("evt_1")
		require.True(t, ok)
		assert.Equal(t, model.EventProcessed, st)
	})

	t.Run("should process a redelivered event only once", func(t *testing.T) {
		// Arrange
		f := newFixture(t)
		sess := f.buyAndPay(t, alice, "ep-2", "pi_A")
		body, sig := f.completedEvent("evt_1", sess)
		require.NoError(t, f.webhook.Process(ctx, body, sig))
		require.NoError(t, f.entitlements.Revoke(ctx, "alice", "ep-2"))

		// Act
		err := f.webhook.Process(ctx, body, sig)

		// Assert
		require.NoError(t, err)
		assert.Empty(t, f.ents.items("alice"), "duplicate delivery must not re-run the grant")
	})

	t.Run("should release the lock when the handler fails so a retry runs", func(t *testing.T) {
		// Arrange
		f := newFixture(t)
		sess := f.buyAndPay(t, alice, "ep-2", "pi_A")
		body, sig := f.completedEvent("evt_1", sess)
		f.ents.GrantItemFunc = func(ctx context.Context, tx repository.Tx, userID, itemID string, customerID *string) error {
			return errors.New("store unavailable")
		}

		// Act
		err := f.webhook.Process(ctx, body, sig)

		// Assert
		require.Error(t, err)
		assert.Equal(t, domain.CodeInternal, domain.CodeOf(err))
		_, held := f.locks.status("evt_1")
		assert.False(t, held)
		assert.Equal(t, 1, f.notifier.count())

		// Retry succeeds once the store recovers.
		f.ents.GrantItemFunc = nil
		require.NoError(t, f.webhook.Process(ctx, body, sig))
		assert.Equal(t, []string{"ep-2"}, f.ents.items("alice"))
	})

	t.Run("should reject missing and bad signatures as invalid-argument", func(t *testing.T) {
		f := newFixture(t)
		body, _ := f.completedEvent("evt_1", &model.CheckoutSession{ID: "cs_1"})

		err := f.webhook.Process(ctx, body, "")
		assert.Equal(t, domain.CodeInvalidArgument, domain.CodeOf(err))

		err = f.webhook.Process(ctx, body, "deadbeef")
		assert.Equal(t, domain.CodeInvalidArgument, domain.CodeOf(err))
	})

	t.Run("should ignore unpaid sessions and foreign purposes", func(t *testing.T) {
		// Arrange
		f := newFixture(t)
		unpaid := &model.CheckoutSession{ID: "cs_1", Status: "complete", PaymentStatus: "unpaid",
			Metadata: map[string]string{model.MetaUserID: "alice", model.MetaItemID: "ep-2", model.MetaPurpose: model.PurposeEpisodeUnlock}}
		foreign := &model.CheckoutSession{ID: "cs_2", Status: "complete", PaymentStatus: "paid",
			Metadata: map[string]string{model.MetaUserID: "alice", model.MetaItemID: "ep-2"}}

		// Act
		b1, s1 := f.completedEvent("evt_1", unpaid)
		b2, s2 := f.completedEvent("evt_2", foreign)
		b3, s3 := f.provider.SignedEvent(&model.ProviderEvent{ID: "evt_3", Type: "customer.created"})

		// Assert
		require.NoError(t, f.webhook.Process(ctx, b1, s1))
		require.NoError(t, f.webhook.Process(ctx, b2, s2))
		require.NoError(t, f.webhook.Process(ctx, b3, s3))
		assert.Empty(t, f.ents.items("alice"))
	})
}

func TestEntitlementUseCase_RevokeRefunded(t *testing.T) {
	ctx := context.Background()

	t.Run("should revoke the item backed by the refunded payment", func(t *testing.T) {
		// Arrange
		f := newFixture(t)
		sess := f.buyAndPay(t, alice, "ep-2", "pi_A")
		_, err := f.checkout.Verify(ctx, alice, sess.ID)
		require.NoError(t, err)

		// Act
		out, err := f.entitlements.RevokeRefunded(ctx, "pi_A")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, usecase.RefundRevoked, out)
		assert.Empty(t, f.ents.items("alice"))
		assert.Equal(t, 1, f.notifier.count())
	})

	t.Run("should keep the item when a newer purchase superseded the refunded one", func(t *testing.T) {
		// Arrange
		f := newFixture(t)
		first := f.buyAndPay(t, alice, "ep-2", "pi_A")
		_, err := f.checkout.Verify(ctx, alice, first.ID)
		require.NoError(t, err)
		require.NoError(t, f.entitlements.Revoke(ctx, "alice", "ep-2"))

		second := f.buyAndPay(t, alice, "ep-2", "pi_B")
		res, err := f.checkout.Verify(ctx, alice, second.ID)
		require.NoError(t, err)
		require.Equal(t, usecase.VerifyPaidUnlocked, res.Status)
		require.NotEqual(t, first.ID, second.ID)

		body, sig := f.refundEvent("evt_refund_A", "pi_A")

		// Act
		err = f.webhook.Process(ctx, body, sig)

		// Assert
		require.NoError(t, err)
		assert.Equal(t, []string{"ep-2"}, f.ents.items("alice"))
		ptr, err := f.pointers.FindByKey(ctx, nil, model.NewPairKey("alice", "ep-2"))
		require.NoError(t, err)
		assert.Equal(t, "pi_B", ptr.CurrentPaymentIntentID)
	})

	t.Run("should not move the pointer back on a late webhook for an older purchase", func(t *testing.T) {
		// Arrange
		f := newFixture(t)
		first := f.buyAndPay(t, alice, "ep-2", "pi_A")
		_, err := f.checkout.Verify(ctx, alice, first.ID)
		require.NoError(t, err)
		require.NoError(t, f.entitlements.Revoke(ctx, "alice", "ep-2"))
		second := f.buyAndPay(t, alice, "ep-2", "pi_B")
		_, err = f.checkout.Verify(ctx, alice, second.ID)
		require.NoError(t, err)

		// Act
		body, sig := f.completedEvent("evt_late_A", first)
		require.NoError(t, f.webhook.Process(ctx, body, sig))
		rb, rs := f.refundEvent("evt_refund_A", "pi_A")
		require.NoError(t, f.webhook.Process(ctx, rb, rs))

		// Assert
		ptr, err := f.pointers.FindByKey(ctx, nil, model.NewPairKey("alice", "ep-2"))
		require.NoError(t, err)
		assert.Equal(t, "pi_B", ptr.CurrentPaymentIntentID)
		assert.Equal(t, model.PurchasePaid, ptr.Status)
		assert.Equal(t, []string{"ep-2"}, f.ents.items("alice"))
	})

	t.Run("should keep the item for subscribers", func(t *testing.T) {
		// Arrange
		f := newFixture(t)
		sess := f.buyAndPay(t, alice, "ep-2", "pi_A")
		_, err := f.checkout.Verify(ctx, alice, sess.ID)
		require.NoError(t, err)
		require.NoError(t, f.entitlements.SetSubscriber(ctx, "alice", true))

		// Act
		out, err := f.entitlements.RevokeRefunded(ctx, "pi_A")

		// Assert
		require.NoError(t, err)
		assert.Equal(t, usecase.RefundSubscriber, out)
		assert.Equal(t, []string{"ep-2"}, f.ents.items("alice"))
	})

	t.Run("should ignore refunds for unknown payments", func(t *testing.T) {
		f := newFixture(t)

		out, err := f.entitlements.RevokeRefunded(ctx, "pi_unknown")

		require.NoError(t, err)
		assert.Equal(t, usecase.RefundNoPurchase, out)
	})
}

func TestEventLock_WithLock(t *testing.T) {
	ctx := context.Background()

	t.Run("should run once per event id", func(t *testing.T) {
		// Arrange
		f := newFixture(t)
		lock := usecase.NewEventLock(f.locks, f.policy, newTestLogger())
		calls := 0
		fn := func(ctx context.Context) error { calls++; return nil }

		// Act
		ran1, err1 := lock.WithLock(ctx, "evt_1", fn)
		ran2, err2 := lock.WithLock(ctx, "evt_1", fn)

		// Assert
		require.NoError(t, err1)
		require.NoError(t, err2)
		assert.True(t, ran1)
		assert.False(t, ran2)
		assert.Equal(t, 1, calls)
	})

	t.Run("should delete the lock and return the error on failure", func(t *testing.T) {
		f := newFixture(t)
		lock := usecase.NewEventLock(f.locks, f.policy, newTestLogger())
		boom := errors.New("boom")

		ran, err := lock.WithLock(ctx, "evt_1", func(ctx context.Context) error { return boom })

		assert.True(t, ran)
		assert.ErrorIs(t, err, boom)
		_, held := f.locks.status("evt_1")
		assert.False(t, held)
	})
}
