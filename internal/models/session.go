package models

import (
	"encoding/json"
	"time"
)

type SessionState string

const (
	StateStart             SessionState = "start"
	StateAwaitingOTP       SessionState = "awaiting_otp"
	StateLinked            SessionState = "linked"
	StateAwaitingSelection SessionState = "awaiting_selection"
)

type Platform string

const (
	PlatformWhatsapp Platform = "whatsapp"
	PlatformTelegram Platform = "telegram"
)

// ChatSession is one conversational channel keyed by platform + phone number.
// Sessions are never deleted; a disconnect resets them to the start state.
type ChatSession struct {
	ID          int64
	Platform    Platform
	PhoneNumber string
	ChatID      string
	UserID      int64
	State       SessionState
	TempData    string
	UpdatedAt   time.Time
	CreatedAt   time.Time
}

const (
	ScratchOTPPending         = "otp_pending"
	ScratchRecipientSelection = "recipient_selection"
)

// RecipientCandidate is one ambiguous transfer target stored while the user
// picks an index.
type RecipientCandidate struct {
	ID          int64  `json:"id"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	PhoneNumber string `json:"phone_number"`
}

// SessionScratch is the typed per-state payload serialized into the session's
// temp_data column. Kind discriminates which fields are meaningful.
type SessionScratch struct {
	Kind       string               `json:"kind"`
	UserID     int64                `json:"user_id,omitempty"`
	Amount     int64                `json:"amount,omitempty"`
	Candidates []RecipientCandidate `json:"candidates,omitempty"`
}

func (s *ChatSession) Scratch() (*SessionScratch, error) {
	if s.TempData == "" {
		return nil, nil
	}
	var sc SessionScratch
	if err := json.Unmarshal([]byte(s.TempData), &sc); err != nil {
		return nil, err
	}
	return &sc, nil
}

func EncodeScratch(sc *SessionScratch) (string, error) {
	if sc == nil {
		return "", nil
	}
	b, err := json.Marshal(sc)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
