package models

import "time"

type Notification struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"user_id"`
	Content       string    `json:"content"`
	Type          string    `json:"type"`
	TransactionID int64     `json:"transaction_id,omitempty"`
	IsRead        bool      `json:"is_read"`
	CreatedAt     time.Time `json:"created_at"`
}

// FaceLog is the write-only audit trail for biometric activity. Failures to
// write it never fail the enclosing payment.
type FaceLog struct {
	ID        int64
	UserID    int64
	Action    string
	Status    string
	Detail    string
	CreatedAt time.Time
}
