package api

import (
	"context"
	"io"
	"net/http"

	"puzzlepass/internal/domain"
	"puzzlepass/internal/infra/logging"
)

const maxWebhookBody = 1 << 20

// WebhookProcessor verifies and handles one provider delivery.
type WebhookProcessor interface {
	Process(ctx context.Context, payload []byte, signature string) error
}

// handleStripeWebhook answers 400 for deliveries that will never verify and
// 500 for anything the provider should retry.
func (s *Server) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	l := logging.With(r.Context(), s.log)

	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		http.Error(w, "Webhook Error: unreadable body", http.StatusBadRequest)
		return
	}

	err = s.webhook.Process(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		switch domain.CodeOf(err) {
		case domain.CodeInvalidArgument:
			l.Warn().Err(err).Msg("webhook rejected")
			http.Error(w, "Webhook Error: "+domain.MessageOf(err), http.StatusBadRequest)
		case domain.CodeInternal:
			l.Error().Err(err).Msg("webhook processing failed")
			http.Error(w, "Webhook handler failed", http.StatusInternalServerError)
		default:
			l.Error().Err(err).Msg("webhook not configured")
			http.Error(w, domain.MessageOf(err), http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
