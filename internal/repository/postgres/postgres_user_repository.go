package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/gestpay/wallet-service/internal/infrastructure/observability"
	"github.com/gestpay/wallet-service/internal/models"
	pkgerrors "github.com/gestpay/wallet-service/pkg/errors"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const uniqueViolation = "23505"

// finish records the span status and repository metrics for a finished call.
func finish(span trace.Span, method string, start time.Time, errp *error) {
	status := "success"
	if *errp != nil {
		status = "error"
		span.RecordError(*errp)
		span.SetStatus(codes.Error, (*errp).Error())
	}
	observability.RepositoryCalls.WithLabelValues(method, status).Inc()
	observability.RepositoryDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	span.End()
}

type PostgresUserRepository struct {
	db *sql.DB
}

func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

const userColumns = `id, first_name, last_name, email, phone_number, password_hash, pin_hash, balance,
	has_setup_biometric, has_setup_whatsapp, has_setup_telegram,
	allow_face_payments, allow_voice_payments, allow_whatsapp_payments, allow_telegram_payments,
	confirm_payment, encoded_face, created_at`

func scanUser(row *sql.Row) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.PhoneNumber, &u.PasswordHash, &u.PinHash, &u.Balance,
		&u.HasSetupBiometric, &u.HasSetupWhatsapp, &u.HasSetupTelegram,
		&u.AllowFacePayments, &u.AllowVoicePayments, &u.AllowWhatsappPayments, &u.AllowTelegramPayments,
		&u.ConfirmPayment, &u.EncodedFace, &u.CreatedAt,
	)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

func (r *PostgresUserRepository) Create(ctx context.Context, user *models.User) error {
	var err error
	tracer := otel.Tracer("user-repository")
	ctx, span := tracer.Start(ctx, "CreateUser")
	defer finish(span, "CreateUser", time.Now(), &err)

	if user == nil {
		err = pkgerrors.ErrNilUser
		return err
	}
	if user.Email == "" || user.PhoneNumber == "" || user.PasswordHash == "" {
		err = fmt.Errorf("%w: email, phone_number and password_hash are required", pkgerrors.ErrInvalidInput)
		return err
	}

	query := `
	INSERT INTO users (first_name, last_name, email, phone_number, password_hash, balance)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id, created_at
	`
	err = r.db.QueryRowContext(ctx, query,
		user.FirstName, user.LastName, user.Email, user.PhoneNumber, user.PasswordHash, user.Balance,
	).Scan(&user.ID, &user.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if stderrors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			err = pkgerrors.ErrUserAlreadyExists
			return err
		}
		slog.Error("failed to create user", "method", "Create", "email", user.Email, "error", err)
		err = fmt.Errorf("failed to create user: %w", err)
		return err
	}
	return nil
}

func (r *PostgresUserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	var err error
	tracer := otel.Tracer("user-repository")
	ctx, span := tracer.Start(ctx, "GetUserByID")
	defer finish(span, "GetUserByID", time.Now(), &err)

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var err error
	tracer := otel.Tracer("user-repository")
	ctx, span := tracer.Start(ctx, "GetUserByEmail")
	defer finish(span, "GetUserByEmail", time.Now(), &err)

	if email == "" {
		err = fmt.Errorf("%w: email cannot be empty", pkgerrors.ErrInvalidInput)
		return nil, err
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, email))
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *PostgresUserRepository) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	var err error
	tracer := otel.Tracer("user-repository")
	ctx, span := tracer.Start(ctx, "GetUserByPhone")
	defer finish(span, "GetUserByPhone", time.Now(), &err)

	if phone == "" {
		err = fmt.Errorf("%w: phone number cannot be empty", pkgerrors.ErrInvalidInput)
		return nil, err
	}
	query := `SELECT ` + userColumns + ` FROM users WHERE phone_number = $1`
	user, err := scanUser(r.db.QueryRowContext(ctx, query, phone))
	if err != nil {
		return nil, err
	}
	return user, nil
}

func (r *PostgresUserRepository) GetBalance(ctx context.Context, userID int64) (int64, error) {
	var err error
	tracer := otel.Tracer("user-repository")
	ctx, span := tracer.Start(ctx, "GetBalance")
	defer finish(span, "GetBalance", time.Now(), &err)

	var balance int64
	err = r.db.QueryRowContext(ctx, `SELECT balance FROM users WHERE id = $1`, userID).Scan(&balance)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrUserNotFound
		return 0, err
	}
	if err != nil {
		slog.Error("failed to get balance", "method", "GetBalance", "user_id", userID, "error", err)
		err = fmt.Errorf("failed to get balance: %w", err)
		return 0, err
	}
	return balance, nil
}

func (r *PostgresUserRepository) SearchRecipients(ctx context.Context, term string, excludeID int64, limit int) ([]models.RecipientCandidate, error) {
	var err error
	tracer := otel.Tracer("user-repository")
	ctx, span := tracer.Start(ctx, "SearchRecipients")
	defer finish(span, "SearchRecipients", time.Now(), &err)

	if term == "" {
		err = fmt.Errorf("%w: search term cannot be empty", pkgerrors.ErrInvalidInput)
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}

	query := `
	SELECT id, first_name, last_name, phone_number
	FROM users
	WHERE (first_name || ' ' || last_name ILIKE $1 OR first_name ILIKE $1 OR phone_number = $2)
	AND id <> $3
	ORDER BY id
	LIMIT $4
	`
	rows, err := r.db.QueryContext(ctx, query, "%"+term+"%", term, excludeID, limit)
	if err != nil {
		slog.Error("failed to search recipients", "method", "SearchRecipients", "term", term, "error", err)
		err = fmt.Errorf("failed to search recipients: %w", err)
		return nil, err
	}
	defer rows.Close()

	var out []models.RecipientCandidate
	for rows.Next() {
		var c models.RecipientCandidate
		if err = rows.Scan(&c.ID, &c.FirstName, &c.LastName, &c.PhoneNumber); err != nil {
			err = fmt.Errorf("failed to scan recipient: %w", err)
			return nil, err
		}
		out = append(out, c)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresUserRepository) SetPin(ctx context.Context, userID int64, pinHash string) error {
	var err error
	tracer := otel.Tracer("user-repository")
	ctx, span := tracer.Start(ctx, "SetPin")
	defer finish(span, "SetPin", time.Now(), &err)

	err = r.exec(ctx, "SetPin", `UPDATE users SET pin_hash = $1 WHERE id = $2`, pinHash, userID)
	return err
}

func (r *PostgresUserRepository) SetFaceEnrollment(ctx context.Context, userID int64, encodedFace string) error {
	var err error
	tracer := otel.Tracer("user-repository")
	ctx, span := tracer.Start(ctx, "SetFaceEnrollment")
	defer finish(span, "SetFaceEnrollment", time.Now(), &err)

	query := `
	UPDATE users
	SET encoded_face = $1, has_setup_biometric = TRUE, allow_face_payments = TRUE, face_registered_at = NOW()
	WHERE id = $2
	`
	err = r.exec(ctx, "SetFaceEnrollment", query, encodedFace, userID)
	return err
}

func (r *PostgresUserRepository) UpdateFaceSettings(ctx context.Context, userID int64, allowFacePayments, confirmPayment bool) error {
	var err error
	tracer := otel.Tracer("user-repository")
	ctx, span := tracer.Start(ctx, "UpdateFaceSettings")
	defer finish(span, "UpdateFaceSettings", time.Now(), &err)

	query := `UPDATE users SET allow_face_payments = $1, confirm_payment = $2 WHERE id = $3`
	err = r.exec(ctx, "UpdateFaceSettings", query, allowFacePayments, confirmPayment, userID)
	return err
}

func (r *PostgresUserRepository) SetPlatformLink(ctx context.Context, userID int64, platform models.Platform, linked bool) error {
	var err error
	tracer := otel.Tracer("user-repository")
	ctx, span := tracer.Start(ctx, "SetPlatformLink")
	defer finish(span, "SetPlatformLink", time.Now(), &err)

	var query string
	switch platform {
	case models.PlatformWhatsapp:
		query = `UPDATE users SET has_setup_whatsapp = $1 WHERE id = $2`
	case models.PlatformTelegram:
		query = `UPDATE users SET has_setup_telegram = $1 WHERE id = $2`
	default:
		err = fmt.Errorf("%w: unknown platform %q", pkgerrors.ErrInvalidInput, platform)
		return err
	}
	err = r.exec(ctx, "SetPlatformLink", query, linked, userID)
	return err
}

func (r *PostgresUserRepository) SetPlatformPayments(ctx context.Context, userID int64, platform models.Platform, enabled bool) error {
	var err error
	tracer := otel.Tracer("user-repository")
	ctx, span := tracer.Start(ctx, "SetPlatformPayments")
	defer finish(span, "SetPlatformPayments", time.Now(), &err)

	var query string
	switch platform {
	case models.PlatformWhatsapp:
		query = `UPDATE users SET allow_whatsapp_payments = $1 WHERE id = $2`
	case models.PlatformTelegram:
		query = `UPDATE users SET allow_telegram_payments = $1 WHERE id = $2`
	default:
		err = fmt.Errorf("%w: unknown platform %q", pkgerrors.ErrInvalidInput, platform)
		return err
	}
	err = r.exec(ctx, "SetPlatformPayments", query, enabled, userID)
	return err
}

func (r *PostgresUserRepository) ListFaceEnrollments(ctx context.Context) ([]models.FaceEnrollment, error) {
	var err error
	tracer := otel.Tracer("user-repository")
	ctx, span := tracer.Start(ctx, "ListFaceEnrollments")
	defer finish(span, "ListFaceEnrollments", time.Now(), &err)

	query := `
	SELECT id, encoded_face FROM users
	WHERE has_setup_biometric = TRUE AND allow_face_payments = TRUE AND encoded_face <> ''
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		slog.Error("failed to list face enrollments", "method", "ListFaceEnrollments", "error", err)
		err = fmt.Errorf("failed to list face enrollments: %w", err)
		return nil, err
	}
	defer rows.Close()

	var out []models.FaceEnrollment
	for rows.Next() {
		var e models.FaceEnrollment
		if err = rows.Scan(&e.UserID, &e.EncodedFace); err != nil {
			err = fmt.Errorf("failed to scan enrollment: %w", err)
			return nil, err
		}
		out = append(out, e)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// exec runs a single-row UPDATE and maps zero affected rows to ErrUserNotFound.
func (r *PostgresUserRepository) exec(ctx context.Context, method, query string, args ...interface{}) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		slog.Error("update failed", "method", method, "error", err)
		return fmt.Errorf("%s failed: %w", method, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s failed: %w", method, err)
	}
	if affected == 0 {
		return pkgerrors.ErrUserNotFound
	}
	return nil
}
