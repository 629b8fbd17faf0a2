package model

import "time"

type PurchaseStatus string

const (
	PurchasePaid     PurchaseStatus = "paid"
	PurchaseRefunded PurchaseStatus = "refunded"
)

// Purchase maps a payment intent to the user and item it paid for.
// Status only ever moves paid -> refunded.
type Purchase struct {
	PaymentIntentID string
	UserID          string
	ItemID          string
	SessionID       string
	CustomerID      *string
	Status          PurchaseStatus
	CreatedAt       time.Time
	UpdatedAt       time.Time
	RefundedAt      *time.Time
}

// ItemPurchase points at the payment intent currently backing a (user, item) grant.
type ItemPurchase struct {
	UserID                 string
	ItemID                 string
	CurrentPaymentIntentID string
	Status                 PurchaseStatus
	UpdatedAt              time.Time
}

func (p *ItemPurchase) Key() PairKey { return NewPairKey(p.UserID, p.ItemID) }

type EventLockStatus string

const (
	EventProcessing EventLockStatus = "processing"
	EventProcessed  EventLockStatus = "processed"
)

// EventLock marks a provider event as taken. Its existence alone blocks reprocessing.
type EventLock struct {
	EventID     string
	Status      EventLockStatus
	CreatedAt   time.Time
	ExpiresAt   time.Time
	ProcessedAt *time.Time
}
