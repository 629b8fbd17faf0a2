package usecase

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"puzzlepass/internal/domain"
	"puzzlepass/internal/domain/model"
	"puzzlepass/internal/domain/ports/adapter"
	"puzzlepass/internal/infra/logging"
	"puzzlepass/internal/infra/metrics"
)

// WebhookUseCase applies verified provider events under the event lock.
type WebhookUseCase struct {
	provider     adapter.PaymentProvider
	lock         *EventLock
	entitlements *EntitlementUseCase
	notifier     adapter.Notifier
	log          *zerolog.Logger
}

func NewWebhookUseCase(provider adapter.PaymentProvider, lock *EventLock, entitlements *EntitlementUseCase, notifier adapter.Notifier, logger *zerolog.Logger) *WebhookUseCase {
	return &WebhookUseCase{provider: provider, lock: lock, entitlements: entitlements, notifier: notifier, log: logger}
}

// Process verifies and handles one delivery. A bad signature or body yields an
// invalid-argument error; anything else means the provider should redeliver.
func (u *WebhookUseCase) Process(ctx context.Context, payload []byte, signature string) error {
	if u.provider == nil {
		return errProviderMissing
	}
	if signature == "" {
		return domain.NewError(domain.CodeInvalidArgument, "Missing stripe-signature header.")
	}
	ev, err := u.provider.ParseWebhook(payload, signature)
	if err != nil {
		metrics.IncWebhookEvent("unknown", "bad_signature")
		return err
	}
	ctx = logging.WithEventID(ctx, ev.ID)

	_, err = u.lock.WithLock(ctx, ev.ID, func(ctx context.Context) error {
		return u.handle(ctx, ev)
	})
	if err != nil {
		metrics.IncWebhookEvent(string(ev.Type), "error")
		logging.With(ctx, u.log).Error().Err(err).Str("type", string(ev.Type)).Msg("webhook handler failed")
		if u.notifier != nil {
			if nerr := u.notifier.Notify(ctx, fmt.Sprintf("Webhook %s (%s) failed: %v", ev.ID, ev.Type, err)); nerr != nil {
				logging.With(ctx, u.log).Warn().Err(nerr).Msg("ops notification failed")
			}
		}
		return domain.Internal("Webhook handler failed.", err)
	}
	metrics.IncWebhookEvent(string(ev.Type), "ok")
	return nil
}

func (u *WebhookUseCase) handle(ctx context.Context, ev *model.ProviderEvent) error {
	l := logging.With(ctx, u.log)
	switch ev.Type {
	case model.EventCheckoutCompleted:
		sess := ev.Session
		if _, ok := sess.Owner(); !ok || !sess.Paid() {
			l.Debug().Msg("ignoring session that is not a paid episode unlock")
			return nil
		}
		_, err := u.entitlements.GrantPaid(ctx, "webhook", sess)
		return err

	case model.EventChargeRefunded:
		ch := ev.Charge
		if ch == nil || ch.PaymentIntentID == "" || !ch.Refunded {
			l.Debug().Msg("ignoring partial or unlinked refund")
			return nil
		}
		_, err := u.entitlements.RevokeRefunded(ctx, ch.PaymentIntentID)
		return err

	default:
		l.Debug().Str("type", string(ev.Type)).Msg("ignoring event type")
		return nil
	}
}
