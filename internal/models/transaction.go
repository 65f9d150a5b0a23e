package models

import "time"

type Transaction struct {
	ID           int64           `json:"id"`
	UserID       int64           `json:"user_id"`
	Reference    string          `json:"reference"`
	Amount       int64           `json:"amount"`
	Feature      FeatureType     `json:"feature"`
	Type         TransactionType `json:"type"`
	Status       StatusType      `json:"status"`
	Description  string          `json:"description"`
	RecipientID  int64           `json:"recipient_id,omitempty"`
	MerchantID   int64           `json:"merchant_id,omitempty"`
	LocationData string          `json:"location_data,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

type TransactionType string

const (
	TypeDebit  TransactionType = "debit"
	TypeCredit TransactionType = "credit"
)

type StatusType string

const (
	StatusPending    StatusType = "pending"
	StatusSuccessful StatusType = "successful"
	StatusFailed     StatusType = "failed"
	StatusReversed   StatusType = "reversed"
)

// FeatureType tags the channel a transaction originated from.
type FeatureType string

const (
	FeatureFacePay     FeatureType = "face-pay"
	FeatureVoicePay    FeatureType = "voice-pay"
	FeatureTelegramPay FeatureType = "telegram-pay"
	FeatureWhatsappPay FeatureType = "whatsapp-pay"
	FeatureWallet      FeatureType = "wallet"
)

func ValidStatus(s StatusType) bool {
	switch s {
	case StatusPending, StatusSuccessful, StatusFailed, StatusReversed:
		return true
	}
	return false
}

func ValidFeature(f FeatureType) bool {
	switch f {
	case FeatureFacePay, FeatureVoicePay, FeatureTelegramPay, FeatureWhatsappPay, FeatureWallet:
		return true
	}
	return false
}

// Transfer is the denormalized merchant settlement record created alongside
// a debit transaction when a merchant is the payee.
type Transfer struct {
	ID         int64      `json:"id"`
	SenderID   int64      `json:"sender_id"`
	ReceiverID int64      `json:"receiver_id"`
	Amount     int64      `json:"amount"`
	Status     StatusType `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
}
