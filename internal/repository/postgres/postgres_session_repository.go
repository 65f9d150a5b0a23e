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

type PostgresSessionRepository struct {
	db *sql.DB
}

func NewPostgresSessionRepository(db *sql.DB) *PostgresSessionRepository {
	return &PostgresSessionRepository{db: db}
}

const sessionColumns = `id, platform, phone_number, COALESCE(chat_id, ''), COALESCE(user_id, 0), state, COALESCE(temp_data, ''), updated_at, created_at`

func (r *PostgresSessionRepository) GetOrCreate(ctx context.Context, platform models.Platform, phone string) (*models.ChatSession, error) {
	var err error
	tracer := otel.Tracer("session-repository")
	ctx, span := tracer.Start(ctx, "GetOrCreateSession")
	span.SetAttributes(attribute.String("platform", string(platform)))
	defer finish(span, "GetOrCreateSession", time.Now(), &err)

	if phone == "" {
		err = fmt.Errorf("%w: phone number is required", pkgerrors.ErrInvalidInput)
		return nil, err
	}

	query := `SELECT ` + sessionColumns + ` FROM chat_sessions WHERE platform = $1 AND phone_number = $2`
	s, err := r.scan(r.db.QueryRowContext(ctx, query, platform, phone))
	if err == nil {
		return s, nil
	}
	if !stderrors.Is(err, sql.ErrNoRows) {
		slog.Error("failed to get session", "method", "GetOrCreate", "phone_number", phone, "error", err)
		err = fmt.Errorf("failed to get session: %w", err)
		return nil, err
	}

	insert := `
	INSERT INTO chat_sessions (platform, phone_number, state)
	VALUES ($1, $2, $3)
	ON CONFLICT (platform, phone_number) DO UPDATE SET phone_number = EXCLUDED.phone_number
	RETURNING ` + sessionColumns
	s, err = r.scan(r.db.QueryRowContext(ctx, insert, platform, phone, models.StateStart))
	if err != nil {
		slog.Error("failed to create session", "method", "GetOrCreate", "phone_number", phone, "error", err)
		err = fmt.Errorf("failed to create session: %w", err)
		return nil, err
	}
	return s, nil
}

func (r *PostgresSessionRepository) UpdateState(ctx context.Context, platform models.Platform, phone string, state models.SessionState, tempData string, userID int64) error {
	var err error
	tracer := otel.Tracer("session-repository")
	ctx, span := tracer.Start(ctx, "UpdateSessionState")
	span.SetAttributes(attribute.String("platform", string(platform)), attribute.String("state", string(state)))
	defer finish(span, "UpdateSessionState", time.Now(), &err)

	var res sql.Result
	if userID > 0 {
		res, err = r.db.ExecContext(ctx,
			`UPDATE chat_sessions SET state = $1, temp_data = $2, user_id = $3, updated_at = NOW() WHERE platform = $4 AND phone_number = $5`,
			state, nullableString(tempData), userID, platform, phone)
	} else {
		res, err = r.db.ExecContext(ctx,
			`UPDATE chat_sessions SET state = $1, temp_data = $2, updated_at = NOW() WHERE platform = $3 AND phone_number = $4`,
			state, nullableString(tempData), platform, phone)
	}
	if err != nil {
		slog.Error("failed to update session state", "method", "UpdateState", "phone_number", phone, "error", err)
		err = fmt.Errorf("failed to update session state: %w", err)
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update session state: %w", err)
	}
	if affected == 0 {
		err = pkgerrors.ErrSessionNotFound
		return err
	}
	return nil
}

func (r *PostgresSessionRepository) Unlink(ctx context.Context, platform models.Platform, userID int64) error {
	var err error
	tracer := otel.Tracer("session-repository")
	ctx, span := tracer.Start(ctx, "UnlinkSession")
	span.SetAttributes(attribute.String("platform", string(platform)), attribute.Int64("user_id", userID))
	defer finish(span, "UnlinkSession", time.Now(), &err)

	// Sessions survive a disconnect; they just fall back to the start state.
	_, err = r.db.ExecContext(ctx,
		`UPDATE chat_sessions SET state = $1, temp_data = NULL, user_id = NULL, updated_at = NOW() WHERE platform = $2 AND user_id = $3`,
		models.StateStart, platform, userID)
	if err != nil {
		slog.Error("failed to unlink session", "method", "Unlink", "user_id", userID, "error", err)
		err = fmt.Errorf("failed to unlink session: %w", err)
		return err
	}
	return nil
}

func (r *PostgresSessionRepository) scan(row *sql.Row) (*models.ChatSession, error) {
	var s models.ChatSession
	err := row.Scan(&s.ID, &s.Platform, &s.PhoneNumber, &s.ChatID, &s.UserID, &s.State, &s.TempData, &s.UpdatedAt, &s.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}
