package models

import "time"

// User balances are stored in integer minor units (kobo) and are only
// mutated through guarded ledger updates.
type User struct {
	ID                    int64
	FirstName             string
	LastName              string
	Email                 string
	PhoneNumber           string
	PasswordHash          string
	PinHash               string
	Balance               int64
	HasSetupBiometric     bool
	HasSetupWhatsapp      bool
	HasSetupTelegram      bool
	AllowFacePayments     bool
	AllowVoicePayments    bool
	AllowWhatsappPayments bool
	AllowTelegramPayments bool
	ConfirmPayment        bool
	EncodedFace           string
	CreatedAt             time.Time
}

// FaceEnrollment is one stored embedding sent to the recognizer for 1:N
// identification.
type FaceEnrollment struct {
	UserID      int64  `json:"user_id"`
	EncodedFace string `json:"encoded_face"`
}

func (u *User) FullName() string {
	if u.LastName == "" {
		return u.FirstName
	}
	return u.FirstName + " " + u.LastName
}
