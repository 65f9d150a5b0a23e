package repository

import (
	"context"

	"github.com/gestpay/wallet-service/internal/models"
)

type NotificationRepository interface {
	Create(ctx context.Context, n *models.Notification) (int64, error)
	ListByUser(ctx context.Context, userID int64, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID, id int64) error
}

// FaceLogRepository is the write-only biometric audit trail.
type FaceLogRepository interface {
	Log(ctx context.Context, userID int64, action, status, detail string) error
}
