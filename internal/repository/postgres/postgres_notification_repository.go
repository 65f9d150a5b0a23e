package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/gestpay/wallet-service/internal/models"
	pkgerrors "github.com/gestpay/wallet-service/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type PostgresNotificationRepository struct {
	db *sql.DB
}

func NewPostgresNotificationRepository(db *sql.DB) *PostgresNotificationRepository {
	return &PostgresNotificationRepository{db: db}
}

func (r *PostgresNotificationRepository) Create(ctx context.Context, n *models.Notification) (int64, error) {
	var err error
	tracer := otel.Tracer("notification-repository")
	ctx, span := tracer.Start(ctx, "CreateNotification")
	defer finish(span, "CreateNotification", time.Now(), &err)

	if n == nil || n.UserID == 0 || n.Content == "" {
		err = fmt.Errorf("%w: user_id and content are required", pkgerrors.ErrInvalidInput)
		return 0, err
	}
	span.SetAttributes(attribute.Int64("user_id", n.UserID), attribute.String("type", n.Type))

	query := `
	INSERT INTO notifications (user_id, content, type, transaction_id)
	VALUES ($1, $2, $3, $4)
	RETURNING id, created_at
	`
	err = r.db.QueryRowContext(ctx, query, n.UserID, n.Content, n.Type, nullableID(n.TransactionID)).Scan(&n.ID, &n.CreatedAt)
	if err != nil {
		slog.Error("failed to create notification", "method", "Create", "user_id", n.UserID, "error", err)
		err = fmt.Errorf("failed to create notification: %w", err)
		return 0, err
	}
	return n.ID, nil
}

func (r *PostgresNotificationRepository) ListByUser(ctx context.Context, userID int64, limit int) ([]models.Notification, error) {
	var err error
	tracer := otel.Tracer("notification-repository")
	ctx, span := tracer.Start(ctx, "ListNotifications")
	span.SetAttributes(attribute.Int64("user_id", userID))
	defer finish(span, "ListNotifications", time.Now(), &err)

	if limit <= 0 {
		limit = 50
	}
	query := `
	SELECT id, user_id, content, type, COALESCE(transaction_id, 0), is_read, created_at
	FROM notifications WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		slog.Error("failed to list notifications", "method", "ListByUser", "user_id", userID, "error", err)
		err = fmt.Errorf("failed to list notifications: %w", err)
		return nil, err
	}
	defer rows.Close()

	var out []models.Notification
	for rows.Next() {
		var n models.Notification
		if err = rows.Scan(&n.ID, &n.UserID, &n.Content, &n.Type, &n.TransactionID, &n.IsRead, &n.CreatedAt); err != nil {
			err = fmt.Errorf("failed to scan notification: %w", err)
			return nil, err
		}
		out = append(out, n)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresNotificationRepository) MarkRead(ctx context.Context, userID, id int64) error {
	var err error
	tracer := otel.Tracer("notification-repository")
	ctx, span := tracer.Start(ctx, "MarkNotificationRead")
	defer finish(span, "MarkNotificationRead", time.Now(), &err)

	res, err := r.db.ExecContext(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		slog.Error("failed to mark notification read", "method", "MarkRead", "id", id, "error", err)
		err = fmt.Errorf("failed to mark notification read: %w", err)
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	if affected == 0 {
		err = fmt.Errorf("notification %d: %w", id, pkgerrors.ErrTransactionNotFound)
		return err
	}
	return nil
}

// PostgresFaceLogRepository is the write-only biometric audit trail. Callers
// treat write failures as non-fatal.
type PostgresFaceLogRepository struct {
	db *sql.DB
}

func NewPostgresFaceLogRepository(db *sql.DB) *PostgresFaceLogRepository {
	return &PostgresFaceLogRepository{db: db}
}

func (r *PostgresFaceLogRepository) Log(ctx context.Context, userID int64, action, status, detail string) error {
	var err error
	tracer := otel.Tracer("facelog-repository")
	ctx, span := tracer.Start(ctx, "CreateFaceLog")
	defer finish(span, "CreateFaceLog", time.Now(), &err)

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO face_logs (user_id, action, status, detail) VALUES ($1, $2, $3, $4)`,
		nullableID(userID), action, status, detail)
	if err != nil {
		slog.Error("failed to write face log", "method", "Log", "user_id", userID, "action", action, "error", err)
		err = fmt.Errorf("failed to write face log: %w", err)
		return err
	}
	return nil
}
