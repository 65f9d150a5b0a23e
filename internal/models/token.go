package models

import "time"

// WebappToken bridges a chat conversation into the PIN-entry webview.
// Single use: used flips false->true exactly once, inside the settlement's
// atomic unit.
type WebappToken struct {
	ID            int64
	UserID        int64
	RecipientID   int64
	ChatID        string
	TransactionID int64
	ActionType    string
	Token         string
	Used          bool
	ExpiresAt     time.Time
	CreatedAt     time.Time
}

func (t *WebappToken) Expired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// OTPCode links a chat identity to a wallet account. Same single-use and
// expiry discipline as WebappToken.
type OTPCode struct {
	ID          int64
	PhoneNumber string
	ChatID      string
	Code        string
	Used        bool
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// AuthToken is a row in the jwt table backing the REST bearer auth.
type AuthToken struct {
	ID        int64
	UserID    int64
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}
