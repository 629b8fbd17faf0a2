package adapter

import (
	"context"

	"puzzlepass/internal/domain/model"
)

// CreateSessionRequest describes a one-item hosted checkout.
type CreateSessionRequest struct {
	PriceID           string
	SuccessURL        string
	CancelURL         string
	ClientReferenceID string
	Metadata          map[string]string
	// IdempotencyKey makes retried creates return the same provider session.
	IdempotencyKey string
}

// PaymentProvider is the hex port for the payment processor.
type PaymentProvider interface {
	Name() string
	CreateCheckoutSession(ctx context.Context, req CreateSessionRequest) (*model.CheckoutSession, error)
	GetCheckoutSession(ctx context.Context, sessionID string) (*model.CheckoutSession, error)
	// ParseWebhook verifies signature over payload and decodes the event.
	// Event types other than the ones this service handles come back with only ID and Type set.
	ParseWebhook(payload []byte, signature string) (*model.ProviderEvent, error)
}
