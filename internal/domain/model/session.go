package model

const (
	SessionStatusOpen     = "open"
	SessionStatusComplete = "complete"
	SessionStatusExpired  = "expired"

	PaymentStatusPaid = "paid"

	// PurposeEpisodeUnlock tags sessions created by this service.
	PurposeEpisodeUnlock = "episode_unlock"

	MetaUserID  = "uid"
	MetaItemID  = "episodeId"
	MetaPurpose = "type"
)

// CheckoutSession is the provider's view of a hosted payment page.
type CheckoutSession struct {
	ID              string
	URL             string
	Status          string // open | complete | expired
	PaymentStatus   string // paid | unpaid | no_payment_required
	PaymentIntentID string
	CustomerID      string
	Metadata        map[string]string
}

// Owner extracts (user, item) when the session carries our purpose tag.
func (s *CheckoutSession) Owner() (PairKey, bool) {
	if s == nil || s.Metadata[MetaPurpose] != PurposeEpisodeUnlock {
		return PairKey{}, false
	}
	uid, item := s.Metadata[MetaUserID], s.Metadata[MetaItemID]
	if uid == "" || item == "" {
		return PairKey{}, false
	}
	return NewPairKey(uid, item), true
}

func (s *CheckoutSession) Paid() bool { return s != nil && s.PaymentStatus == PaymentStatusPaid }

type ProviderEventType string

const (
	EventCheckoutCompleted ProviderEventType = "checkout.session.completed"
	EventChargeRefunded    ProviderEventType = "charge.refunded"
)

// ProviderEvent is a verified webhook event. Only the payload matching Type is set.
type ProviderEvent struct {
	ID      string
	Type    ProviderEventType
	Session *CheckoutSession
	Charge  *Charge
}

type Charge struct {
	ID              string
	PaymentIntentID string
	Refunded        bool
}
