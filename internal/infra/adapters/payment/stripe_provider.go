package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"puzzlepass/internal/domain"
	"puzzlepass/internal/domain/model"
	"puzzlepass/internal/domain/ports/adapter"
)

var _ adapter.PaymentProvider = (*StripeProvider)(nil)

// StripeProvider implements adapter.PaymentProvider with Stripe Checkout.
type StripeProvider struct {
	api           *client.API
	webhookSecret string
}

// NewStripeProvider builds a client for secretKey. apiURL overrides the Stripe
// API base and is meant for stripe-mock or tests; empty uses the default.
func NewStripeProvider(secretKey, webhookSecret, apiURL string) (*StripeProvider, error) {
	if secretKey == "" {
		return nil, errors.New("stripe secret key empty")
	}
	cfg := &stripe.BackendConfig{
		HTTPClient:        &http.Client{Timeout: 15 * time.Second},
		MaxNetworkRetries: stripe.Int64(2),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if apiURL != "" {
		cfg.URL = stripe.String(apiURL)
	}
	api := &client.API{}
	api.Init(secretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, cfg),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, cfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, cfg),
	})
	return &StripeProvider{api: api, webhookSecret: webhookSecret}, nil
}

func (s *StripeProvider) Name() string { return "stripe" }

func (s *StripeProvider) CreateCheckoutSession(ctx context.Context, req adapter.CreateSessionRequest) (*model.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{Price: stripe.String(req.PriceID), Quantity: stripe.Int64(1)},
		},
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		ClientReferenceID: stripe.String(req.ClientReferenceID),
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	sess, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, mapStripeError("create checkout session", err)
	}
	return toSession(sess), nil
}

func (s *StripeProvider) GetCheckoutSession(ctx context.Context, sessionID string) (*model.CheckoutSession, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	sess, err := s.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, mapStripeError("retrieve checkout session", err)
	}
	return toSession(sess), nil
}

// ParseWebhook verifies the Stripe-Signature header and decodes the events we act on.
// Other event types come back with only ID and Type set.
func (s *StripeProvider) ParseWebhook(payload []byte, signature string) (*model.ProviderEvent, error) {
	if s.webhookSecret == "" {
		return nil, domain.NewError(domain.CodeFailedPrecondition, "Missing STRIPE_WEBHOOK_SECRET.")
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, domain.Errorf(domain.CodeInvalidArgument, "Webhook Error: %v", err)
	}

	out := &model.ProviderEvent{ID: ev.ID, Type: model.ProviderEventType(ev.Type)}
	if ev.Data == nil {
		return out, nil
	}
	switch out.Type {
	case model.EventCheckoutCompleted:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &cs); err != nil {
			return nil, domain.Errorf(domain.CodeInvalidArgument, "Webhook Error: decode session: %v", err)
		}
		out.Session = toSession(&cs)
	case model.EventChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(ev.Data.Raw, &ch); err != nil {
			return nil, domain.Errorf(domain.CodeInvalidArgument, "Webhook Error: decode charge: %v", err)
		}
		out.Charge = &model.Charge{ID: ch.ID, Refunded: ch.Refunded}
		if ch.PaymentIntent != nil {
			out.Charge.PaymentIntentID = ch.PaymentIntent.ID
		}
	}
	return out, nil
}

func toSession(cs *stripe.CheckoutSession) *model.CheckoutSession {
	out := &model.CheckoutSession{
		ID:            cs.ID,
		URL:           cs.URL,
		Status:        string(cs.Status),
		PaymentStatus: string(cs.PaymentStatus),
		Metadata:      cs.Metadata,
	}
	if cs.PaymentIntent != nil {
		out.PaymentIntentID = cs.PaymentIntent.ID
	}
	if cs.Customer != nil {
		out.CustomerID = cs.Customer.ID
	}
	return out
}

func mapStripeError(op string, err error) error {
	var serr *stripe.Error
	if errors.As(err, &serr) && serr.HTTPStatusCode == http.StatusNotFound {
		return fmt.Errorf("stripe: %s: %w", op, domain.ErrNotFound)
	}
	return fmt.Errorf("stripe: %s: %w", op, err)
}
