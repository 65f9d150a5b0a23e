package repository

import (
	"context"

	"github.com/gestpay/wallet-service/internal/models"
)

type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id int64) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByPhone(ctx context.Context, phone string) (*models.User, error)
	GetBalance(ctx context.Context, userID int64) (int64, error)
	SearchRecipients(ctx context.Context, term string, excludeID int64, limit int) ([]models.RecipientCandidate, error)
	SetPin(ctx context.Context, userID int64, pinHash string) error
	SetFaceEnrollment(ctx context.Context, userID int64, encodedFace string) error
	UpdateFaceSettings(ctx context.Context, userID int64, allowFacePayments, confirmPayment bool) error
	SetPlatformLink(ctx context.Context, userID int64, platform models.Platform, linked bool) error
	SetPlatformPayments(ctx context.Context, userID int64, platform models.Platform, enabled bool) error
	ListFaceEnrollments(ctx context.Context) ([]models.FaceEnrollment, error)
}
