package model

import "regexp"

var unsafeIDChars = regexp.MustCompile(`[^a-zA-Z0-9_:-]`)

// SafeID replaces every character outside [a-zA-Z0-9_:-] with '_'.
func SafeID(s string) string {
	return unsafeIDChars.ReplaceAllString(s, "_")
}

// PairKey addresses the per (user, item) records.
type PairKey struct {
	UserID string
	ItemID string
}

func NewPairKey(userID, itemID string) PairKey {
	return PairKey{UserID: userID, ItemID: itemID}
}

// ID is the storage key of the attempt and pointer records.
func (k PairKey) ID() string { return SafeID(k.UserID + "__" + k.ItemID) }

// RateID is the storage key of the checkout rate limit record.
func (k PairKey) RateID() string { return SafeID(k.UserID + "__checkout__" + k.ItemID) }
