package model

import "time"

type AttemptStatus string

const (
	AttemptCreating AttemptStatus = "creating"
	AttemptOpen     AttemptStatus = "open"
	AttemptComplete AttemptStatus = "complete"
	AttemptExpired  AttemptStatus = "expired"
	AttemptUnknown  AttemptStatus = "unknown"
)

// CheckoutAttempt is the latest payment-session attempt of a (user, item) pair.
// AttemptID doubles as the provider idempotency key.
type CheckoutAttempt struct {
	UserID     string
	ItemID     string
	AttemptID  string
	SessionID  *string
	SessionURL *string
	Status     AttemptStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ExpiresAt  time.Time
}

func (a *CheckoutAttempt) Key() PairKey { return NewPairKey(a.UserID, a.ItemID) }

// AttemptMode tells the orchestrator how to proceed with an attempt.
type AttemptMode string

const (
	AttemptModeReuse            AttemptMode = "reuse"
	AttemptModeContinueCreating AttemptMode = "continue-creating"
	AttemptModeNew              AttemptMode = "new"
)

// AttemptWindows bounds how long an attempt stays reusable.
type AttemptWindows struct {
	Reuse         time.Duration
	CreatingGrace time.Duration
	Retention     time.Duration
}

// ClassifyAttempt decides whether the stored attempt can be reused or continued.
// A nil or unrecognized record always yields AttemptModeNew.
func ClassifyAttempt(cur *CheckoutAttempt, now time.Time, w AttemptWindows) AttemptMode {
	if cur == nil || cur.AttemptID == "" {
		return AttemptModeNew
	}
	age := now.Sub(cur.CreatedAt)
	if cur.CreatedAt.IsZero() {
		age = time.Duration(1<<63 - 1)
	}
	switch {
	case cur.Status == AttemptOpen && cur.SessionID != nil && *cur.SessionID != "" && age < w.Reuse:
		return AttemptModeReuse
	case cur.Status == AttemptCreating && age < w.CreatingGrace:
		return AttemptModeContinueCreating
	default:
		return AttemptModeNew
	}
}

// NewCheckoutAttempt builds a fresh creating record.
func NewCheckoutAttempt(key PairKey, attemptID string, now time.Time, retention time.Duration) *CheckoutAttempt {
	return &CheckoutAttempt{
		UserID:    key.UserID,
		ItemID:    key.ItemID,
		AttemptID: attemptID,
		Status:    AttemptCreating,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(retention),
	}
}

// AttemptStatusFromSession maps a provider session status onto the ledger.
func AttemptStatusFromSession(status string) AttemptStatus {
	switch status {
	case SessionStatusOpen:
		return AttemptOpen
	case SessionStatusComplete:
		return AttemptComplete
	case SessionStatusExpired:
		return AttemptExpired
	default:
		return AttemptUnknown
	}
}

// RateLimit is a fixed-window counter for checkout creation.
type RateLimit struct {
	UserID      string
	ItemID      string
	Count       int
	WindowStart time.Time
	ExpiresAt   time.Time
	UpdatedAt   time.Time
}

// Hit returns the record after counting one more call at now.
// A missing record or an elapsed window starts over at 1.
func (r *RateLimit) Hit(key PairKey, now time.Time, window, ttl time.Duration) *RateLimit {
	next := &RateLimit{
		UserID:      key.UserID,
		ItemID:      key.ItemID,
		Count:       1,
		WindowStart: now,
		ExpiresAt:   now.Add(ttl),
		UpdatedAt:   now,
	}
	if r != nil && now.Sub(r.WindowStart) < window {
		next.Count = r.Count + 1
		next.WindowStart = r.WindowStart
	}
	return next
}
