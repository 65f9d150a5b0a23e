package repository

import (
	"context"
	"time"

	"github.com/gestpay/wallet-service/internal/models"
)

type TokenRepository interface {
	Create(ctx context.Context, t *models.WebappToken) error
	// GetActive returns a token that exists and is unused. Expiry is the
	// caller's check so the error can distinguish used from expired.
	GetActive(ctx context.Context, token string) (*models.WebappToken, error)
}

type OTPRepository interface {
	// Upsert replaces any previous code for the phone number and resets the
	// used flag.
	Upsert(ctx context.Context, otp *models.OTPCode) error
	// Consume atomically marks a matching unused, unexpired code as used.
	// Returns ErrOTPInvalid when nothing matched.
	Consume(ctx context.Context, phone, code string, now time.Time) (*models.OTPCode, error)
}

type SessionRepository interface {
	GetOrCreate(ctx context.Context, platform models.Platform, phone string) (*models.ChatSession, error)
	// UpdateState writes state and temp data; userID > 0 also binds the user.
	UpdateState(ctx context.Context, platform models.Platform, phone string, state models.SessionState, tempData string, userID int64) error
	// Unlink resets every session bound to the user on the platform.
	Unlink(ctx context.Context, platform models.Platform, userID int64) error
}
