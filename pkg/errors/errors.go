package errors

import "errors"

var (
	ErrUserNotFound            = errors.New("user not found")
	ErrUserAlreadyExists       = errors.New("user already exists")
	ErrNilUser                 = errors.New("user is nil")
	ErrNilTransaction          = errors.New("transaction is nil")
	ErrInvalidTransactionType  = errors.New("invalid transaction type")
	ErrInvalidStatus           = errors.New("invalid transaction status")
	ErrInvalidFeature          = errors.New("invalid transaction feature")
	ErrTransactionNotFound     = errors.New("transaction not found")
	ErrInsufficientFunds       = errors.New("insufficient balance")
	ErrRequestAlreadyProcessed = errors.New("request already processed")
	ErrBalanceLocked           = errors.New("balance is locked")
	ErrInvalidInput            = errors.New("invalid input")
	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrInvalidPin              = errors.New("invalid PIN")
	ErrPinNotSet               = errors.New("transaction PIN not set")
	ErrVerificationFailed      = errors.New("face verification failed")
	ErrNoEnrolledFaces         = errors.New("no users with face recognition enabled found")
	ErrPaymentsDisabled        = errors.New("payments are disabled for this account")
	ErrTokenNotFound           = errors.New("token not found")
	ErrTokenUsed               = errors.New("token already used")
	ErrTokenExpired            = errors.New("token expired")
	ErrOTPInvalid              = errors.New("invalid or expired code")
	ErrRecipientNotFound       = errors.New("recipient not found")
	ErrSessionNotFound         = errors.New("session not found")
	ErrExternalService         = errors.New("external service error")
	ErrInternal                = errors.New("internal error")
)
