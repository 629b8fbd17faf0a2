package model

import (
	"slices"
	"time"
)

// Entitlement lists the content a user has unlocked.
// Items are added only by purchase reconciliation and removed only by refunds.
type Entitlement struct {
	UserID          string
	UnlockedItemIDs []string
	Subscriber      bool
	CustomerID      *string // payment provider customer id, when known
	UpdatedAt       time.Time
}

// EmptyEntitlement is what a user without a stored record has.
func EmptyEntitlement(userID string) *Entitlement {
	return &Entitlement{UserID: userID, UnlockedItemIDs: []string{}}
}

func (e *Entitlement) HasItem(itemID string) bool {
	if e == nil {
		return false
	}
	return slices.Contains(e.UnlockedItemIDs, itemID)
}

// CanAccess applies the access rule: free preview, subscriber, or unlocked.
func (e *Entitlement) CanAccess(ep *Episode) bool {
	if ep == nil {
		return false
	}
	if ep.FreePreview {
		return true
	}
	if e == nil {
		return false
	}
	return e.Subscriber || e.HasItem(ep.ID)
}
