package payment

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	"puzzlepass/internal/domain"
	"puzzlepass/internal/domain/model"
	"puzzlepass/internal/domain/ports/adapter"
)

var _ adapter.PaymentProvider = (*NoopProvider)(nil)

// NoopProvider is an in-memory payment provider for dev mode and tests.
// It honors idempotency keys the way the real provider does.
type NoopProvider struct {
	mu       sync.Mutex
	seq      int64
	secret   string
	sessions map[string]*model.CheckoutSession
	byKey    map[string]string // idempotency key -> session id

	creates int
	getErr  error
}

func NewNoopProvider(webhookSecret string) *NoopProvider {
	return &NoopProvider{
		secret:   webhookSecret,
		sessions: make(map[string]*model.CheckoutSession),
		byKey:    make(map[string]string),
	}
}

func (p *NoopProvider) Name() string { return "noop" }

func (p *NoopProvider) CreateCheckoutSession(ctx context.Context, req adapter.CreateSessionRequest) (*model.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creates++
	if id, ok := p.byKey[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return clone(p.sessions[id]), nil
	}
	p.seq++
	id := fmt.Sprintf("cs_noop_%d", p.seq)
	s := &model.CheckoutSession{
		ID:            id,
		URL:           "https://checkout.example.test/pay/" + id,
		Status:        model.SessionStatusOpen,
		PaymentStatus: "unpaid",
		Metadata:      maps.Clone(req.Metadata),
	}
	p.sessions[id] = s
	if req.IdempotencyKey != "" {
		p.byKey[req.IdempotencyKey] = id
	}
	return clone(s), nil
}

func (p *NoopProvider) GetCheckoutSession(ctx context.Context, sessionID string) (*model.CheckoutSession, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getErr != nil {
		return nil, p.getErr
	}
	s, ok := p.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("noop: session %s: %w", sessionID, domain.ErrNotFound)
	}
	return clone(s), nil
}

// ParseWebhook expects the JSON of a model.ProviderEvent signed with Sign.
func (p *NoopProvider) ParseWebhook(payload []byte, signature string) (*model.ProviderEvent, error) {
	if p.secret == "" {
		return nil, domain.NewError(domain.CodeFailedPrecondition, "Missing STRIPE_WEBHOOK_SECRET.")
	}
	if !hmac.Equal([]byte(signature), []byte(p.Sign(payload))) {
		return nil, domain.NewError(domain.CodeInvalidArgument, "Webhook Error: signature mismatch")
	}
	var ev model.ProviderEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, domain.Errorf(domain.CodeInvalidArgument, "Webhook Error: %v", err)
	}
	return &ev, nil
}

// Sign returns the signature ParseWebhook accepts for payload.
func (p *NoopProvider) Sign(payload []byte) string {
	m := hmac.New(sha256.New, []byte(p.secret))
	m.Write(payload)
	return hex.EncodeToString(m.Sum(nil))
}

// SignedEvent encodes ev and signs it.
func (p *NoopProvider) SignedEvent(ev *model.ProviderEvent) ([]byte, string) {
	b, _ := json.Marshal(ev)
	return b, p.Sign(b)
}

// Pay completes a session as paid with the given payment intent.
func (p *NoopProvider) Pay(sessionID, paymentIntentID, customerID string) *model.CheckoutSession {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.sessions[sessionID]
	if s == nil {
		return nil
	}
	s.Status = model.SessionStatusComplete
	s.PaymentStatus = model.PaymentStatusPaid
	s.PaymentIntentID = paymentIntentID
	s.CustomerID = customerID
	return clone(s)
}

// Expire marks a session expired.
func (p *NoopProvider) Expire(sessionID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s := p.sessions[sessionID]; s != nil {
		s.Status = model.SessionStatusExpired
	}
}

// Put stores a session as is, e.g. one owned by another user.
func (p *NoopProvider) Put(s *model.CheckoutSession) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessions[s.ID] = clone(s)
}

// FailGets makes GetCheckoutSession return err until called with nil.
func (p *NoopProvider) FailGets(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.getErr = err
}

// Creates counts CreateCheckoutSession calls, replays included.
func (p *NoopProvider) Creates() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creates
}

// Sessions counts distinct sessions created.
func (p *NoopProvider) Sessions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.sessions)
}

func clone(s *model.CheckoutSession) *model.CheckoutSession {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Metadata = maps.Clone(s.Metadata)
	return &cp
}
