package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/gestpay/wallet-service/internal/models"
	pkgerrors "github.com/gestpay/wallet-service/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type PostgresTokenRepository struct {
	db *sql.DB
}

func NewPostgresTokenRepository(db *sql.DB) *PostgresTokenRepository {
	return &PostgresTokenRepository{db: db}
}

func (r *PostgresTokenRepository) Create(ctx context.Context, t *models.WebappToken) error {
	var err error
	tracer := otel.Tracer("token-repository")
	ctx, span := tracer.Start(ctx, "CreateWebappToken")
	defer finish(span, "CreateWebappToken", time.Now(), &err)

	if t == nil || t.Token == "" || t.UserID == 0 || t.TransactionID == 0 {
		err = fmt.Errorf("%w: token, user_id and tx_id are required", pkgerrors.ErrInvalidInput)
		return err
	}
	span.SetAttributes(attribute.Int64("user_id", t.UserID), attribute.Int64("tx_id", t.TransactionID))

	query := `
	INSERT INTO webapp_tokens (user_id, recipient_id, chat_id, tx_id, action_type, token, expires_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id, created_at
	`
	err = r.db.QueryRowContext(ctx, query,
		t.UserID, t.RecipientID, t.ChatID, t.TransactionID, t.ActionType, t.Token, t.ExpiresAt,
	).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		slog.Error("failed to create webapp token", "method", "Create", "user_id", t.UserID, "error", err)
		err = fmt.Errorf("failed to create webapp token: %w", err)
		return err
	}
	return nil
}

func (r *PostgresTokenRepository) GetActive(ctx context.Context, token string) (*models.WebappToken, error) {
	var err error
	tracer := otel.Tracer("token-repository")
	ctx, span := tracer.Start(ctx, "GetActiveWebappToken")
	defer finish(span, "GetActiveWebappToken", time.Now(), &err)

	if token == "" {
		err = fmt.Errorf("%w: token is required", pkgerrors.ErrInvalidInput)
		return nil, err
	}

	query := `
	SELECT id, user_id, recipient_id, chat_id, tx_id, action_type, token, used, expires_at, created_at
	FROM webapp_tokens WHERE token = $1
	`
	var t models.WebappToken
	err = r.db.QueryRowContext(ctx, query, token).Scan(
		&t.ID, &t.UserID, &t.RecipientID, &t.ChatID, &t.TransactionID, &t.ActionType, &t.Token, &t.Used, &t.ExpiresAt, &t.CreatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrTokenNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get webapp token", "method", "GetActive", "error", err)
		err = fmt.Errorf("failed to get webapp token: %w", err)
		return nil, err
	}
	if t.Used {
		err = pkgerrors.ErrTokenUsed
		return nil, err
	}
	return &t, nil
}

type PostgresOTPRepository struct {
	db *sql.DB
}

func NewPostgresOTPRepository(db *sql.DB) *PostgresOTPRepository {
	return &PostgresOTPRepository{db: db}
}

func (r *PostgresOTPRepository) Upsert(ctx context.Context, otp *models.OTPCode) error {
	var err error
	tracer := otel.Tracer("otp-repository")
	ctx, span := tracer.Start(ctx, "UpsertOTP")
	defer finish(span, "UpsertOTP", time.Now(), &err)

	if otp == nil || otp.PhoneNumber == "" || otp.Code == "" {
		err = fmt.Errorf("%w: phone_number and code are required", pkgerrors.ErrInvalidInput)
		return err
	}

	query := `
	INSERT INTO otp_codes (phone_number, chat_id, code, expires_at, used)
	VALUES ($1, $2, $3, $4, FALSE)
	ON CONFLICT (phone_number) DO UPDATE
	SET chat_id = EXCLUDED.chat_id, code = EXCLUDED.code, expires_at = EXCLUDED.expires_at, used = FALSE
	RETURNING id
	`
	err = r.db.QueryRowContext(ctx, query, otp.PhoneNumber, otp.ChatID, otp.Code, otp.ExpiresAt).Scan(&otp.ID)
	if err != nil {
		slog.Error("failed to upsert OTP", "method", "Upsert", "phone_number", otp.PhoneNumber, "error", err)
		err = fmt.Errorf("failed to upsert OTP: %w", err)
		return err
	}
	return nil
}

func (r *PostgresOTPRepository) Consume(ctx context.Context, phone, code string, now time.Time) (*models.OTPCode, error) {
	var err error
	tracer := otel.Tracer("otp-repository")
	ctx, span := tracer.Start(ctx, "ConsumeOTP")
	defer finish(span, "ConsumeOTP", time.Now(), &err)

	// Single-use and expiry are enforced in the UPDATE itself so concurrent
	// replays cannot both succeed.
	query := `
	UPDATE otp_codes SET used = TRUE
	WHERE phone_number = $1 AND code = $2 AND used = FALSE AND expires_at > $3
	RETURNING id, phone_number, chat_id, code, used, expires_at, created_at
	`
	var otp models.OTPCode
	err = r.db.QueryRowContext(ctx, query, phone, code, now).Scan(
		&otp.ID, &otp.PhoneNumber, &otp.ChatID, &otp.Code, &otp.Used, &otp.ExpiresAt, &otp.CreatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrOTPInvalid
		return nil, err
	}
	if err != nil {
		slog.Error("failed to consume OTP", "method", "Consume", "phone_number", phone, "error", err)
		err = fmt.Errorf("failed to consume OTP: %w", err)
		return nil, err
	}
	return &otp, nil
}
