package usecase

import (
	"time"

	"puzzlepass/internal/config"
	"puzzlepass/internal/domain/model"
)

// CheckoutPolicy is the checkout configuration, built once at startup and
// shared read-only by every use case.
type CheckoutPolicy struct {
	Limit         int           // checkout creations allowed per window
	Window        time.Duration // rate limit window
	RateLimitTTL  time.Duration
	Reuse         time.Duration // how long an open session may be handed out again
	CreatingGrace time.Duration // how long a creating attempt keeps its idempotency key
	AttemptTTL    time.Duration
	EventTTL      time.Duration

	Redirect model.RedirectPolicy

	RequireNonAnonymous bool

	// Now is the clock; nil means time.Now.
	Now func() time.Time
}

func NewCheckoutPolicy(cfg *config.Config) *CheckoutPolicy {
	c := cfg.Checkout
	return &CheckoutPolicy{
		Limit:         c.Limit,
		Window:        c.Window,
		RateLimitTTL:  c.RateLimitTTL,
		Reuse:         c.Reuse,
		CreatingGrace: c.CreatingGrace,
		AttemptTTL:    c.AttemptTTL,
		EventTTL:      c.EventTTL,
		Redirect: model.RedirectPolicy{
			AppBaseURL:     c.AppBaseURL,
			AllowedSchemes: c.AllowedSchemes,
		},
		RequireNonAnonymous: cfg.Auth.RequireNonAnonCheckout,
	}
}

func (p *CheckoutPolicy) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *CheckoutPolicy) windows() model.AttemptWindows {
	return model.AttemptWindows{Reuse: p.Reuse, CreatingGrace: p.CreatingGrace, Retention: p.AttemptTTL}
}

// Caller is the authenticated identity behind a callable request.
type Caller struct {
	UserID    string
	Anonymous bool
}

// IdempotencyKey is the provider idempotency key of an attempt.
func IdempotencyKey(attemptID string) string { return "pps_attempt_" + attemptID }
