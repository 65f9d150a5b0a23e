package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gestpay/wallet-service/internal/infrastructure/kafka"
	"github.com/gestpay/wallet-service/internal/models"
	"github.com/gestpay/wallet-service/internal/repository"
)

const notificationsTopic = "notifications"

// NotificationService records what happened to a balance and, separately,
// pushes it through a chat platform. The durable insert and the push are
// independent: a failed push never touches the ledger or the notification
// row.
type NotificationService interface {
	Notify(ctx context.Context, userID int64, content, typ string, transactionID int64)
	Push(ctx context.Context, platform models.Platform, chatID, content string, userID int64)
	List(ctx context.Context, userID int64, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, userID, id int64) error
}

type notificationService struct {
	notificationRepo repository.NotificationRepository
	producer         kafka.KafkaProducer
}

func NewNotificationService(notificationRepo repository.NotificationRepository, producer kafka.KafkaProducer) *notificationService {
	return &notificationService{notificationRepo: notificationRepo, producer: producer}
}

// Notify is best-effort: the caller has already committed the financial
// mutation and must not roll back because a notification insert failed.
func (s *notificationService) Notify(ctx context.Context, userID int64, content, typ string, transactionID int64) {
	_, err := s.notificationRepo.Create(ctx, &models.Notification{
		UserID:        userID,
		Content:       content,
		Type:          typ,
		TransactionID: transactionID,
	})
	if err != nil {
		slog.Error("failed to record notification", "user_id", userID, "transaction_id", transactionID, "error", err)
	}
}

func (s *notificationService) Push(ctx context.Context, platform models.Platform, chatID, content string, userID int64) {
	if chatID == "" || s.producer == nil {
		return
	}
	event := kafka.PushEvent{
		Platform: platform,
		ChatID:   chatID,
		Content:  content,
		UserID:   userID,
	}
	eventBytes, err := json.Marshal(event)
	if err != nil {
		slog.Error("failed to marshal push event", "user_id", userID, "error", err)
		return
	}
	if err := s.producer.Send(ctx, notificationsTopic, time.Now().UnixNano(), eventBytes); err != nil {
		slog.Error("failed to enqueue push event", "user_id", userID, "chat_id", chatID, "error", err)
	}
}

func (s *notificationService) List(ctx context.Context, userID int64, limit int) ([]models.Notification, error) {
	return s.notificationRepo.ListByUser(ctx, userID, limit)
}

func (s *notificationService) MarkRead(ctx context.Context, userID, id int64) error {
	return s.notificationRepo.MarkRead(ctx, userID, id)
}
