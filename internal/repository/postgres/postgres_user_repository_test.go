package repository_test

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gestpay/wallet-service/internal/models"
	repository "github.com/gestpay/wallet-service/internal/repository/postgres"
	pkgerrors "github.com/gestpay/wallet-service/pkg/errors"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

var userCols = []string{
	"id", "first_name", "last_name", "email", "phone_number", "password_hash", "pin_hash", "balance",
	"has_setup_biometric", "has_setup_whatsapp", "has_setup_telegram",
	"allow_face_payments", "allow_voice_payments", "allow_whatsapp_payments", "allow_telegram_payments",
	"confirm_payment", "encoded_face", "created_at",
}

func userRow(id int64, email, phone string, balance int64) *sqlmock.Rows {
	return sqlmock.NewRows(userCols).AddRow(
		id, "Ada", "Obi", email, phone, "hash", "pinhash", balance,
		true, false, false,
		true, false, false, false,
		false, "encoded", time.Now(),
	)
}

func TestPostgresUserRepository_Create(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresUserRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		user := &models.User{
			FirstName:    "Ada",
			LastName:     "Obi",
			Email:        "ada@example.com",
			PhoneNumber:  "08012345678",
			PasswordHash: "hash",
		}
		mock.ExpectQuery(`INSERT INTO users`).
			WithArgs(user.FirstName, user.LastName, user.Email, user.PhoneNumber, user.PasswordHash, user.Balance).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(int64(1), time.Now()))

		assert.NoError(t, repo.Create(ctx, user))
		assert.Equal(t, int64(1), user.ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DuplicateEmail", func(t *testing.T) {
		user := &models.User{
			Email:        "ada@example.com",
			PhoneNumber:  "08012345678",
			PasswordHash: "hash",
		}
		mock.ExpectQuery(`INSERT INTO users`).
			WillReturnError(&pq.Error{Code: "23505"})

		err := repo.Create(ctx, user)
		assert.ErrorIs(t, err, pkgerrors.ErrUserAlreadyExists)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("MissingFields", func(t *testing.T) {
		err := repo.Create(ctx, &models.User{Email: "ada@example.com"})
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})

	t.Run("NilUser", func(t *testing.T) {
		err := repo.Create(ctx, nil)
		assert.ErrorIs(t, err, pkgerrors.ErrNilUser)
	})
}

func TestPostgresUserRepository_GetByPhone(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresUserRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .+ FROM users WHERE phone_number = \$1`).
			WithArgs("08012345678").
			WillReturnRows(userRow(1, "ada@example.com", "08012345678", 10000))

		user, err := repo.GetByPhone(ctx, "08012345678")
		assert.NoError(t, err)
		assert.Equal(t, int64(1), user.ID)
		assert.Equal(t, int64(10000), user.Balance)
		assert.True(t, user.HasSetupBiometric)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NotFound", func(t *testing.T) {
		mock.ExpectQuery(`SELECT .+ FROM users WHERE phone_number = \$1`).
			WithArgs("08099999999").
			WillReturnError(sql.ErrNoRows)

		user, err := repo.GetByPhone(ctx, "08099999999")
		assert.Nil(t, user)
		assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("EmptyPhone", func(t *testing.T) {
		user, err := repo.GetByPhone(ctx, "")
		assert.Nil(t, user)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})
}

func TestPostgresUserRepository_GetBalance(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresUserRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT balance FROM users WHERE id = $1`)).
			WithArgs(int64(1)).
			WillReturnRows(sqlmock.NewRows([]string{"balance"}).AddRow(int64(250000)))

		balance, err := repo.GetBalance(ctx, 1)
		assert.NoError(t, err)
		assert.Equal(t, int64(250000), balance)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UserNotFound", func(t *testing.T) {
		mock.ExpectQuery(regexp.QuoteMeta(`SELECT balance FROM users WHERE id = $1`)).
			WithArgs(int64(2)).
			WillReturnError(sql.ErrNoRows)

		_, err := repo.GetBalance(ctx, 2)
		assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresUserRepository_SearchRecipients(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresUserRepository(db)
	ctx := context.Background()

	t.Run("MatchesExcludeSender", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "first_name", "last_name", "phone_number"}).
			AddRow(int64(2), "Ada", "Obi", "08012345678").
			AddRow(int64(3), "Ada", "Eze", "08087654321")
		mock.ExpectQuery(`SELECT id, first_name, last_name, phone_number`).
			WithArgs("%Ada%", "Ada", int64(1), 5).
			WillReturnRows(rows)

		candidates, err := repo.SearchRecipients(ctx, "Ada", 1, 5)
		assert.NoError(t, err)
		assert.Len(t, candidates, 2)
		assert.Equal(t, int64(2), candidates[0].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("EmptyTerm", func(t *testing.T) {
		candidates, err := repo.SearchRecipients(ctx, "", 1, 5)
		assert.Nil(t, candidates)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})
}

func TestPostgresUserRepository_SetPin(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresUserRepository(db)
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET pin_hash = $1 WHERE id = $2`)).
			WithArgs("pinhash", int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.SetPin(ctx, 1, "pinhash"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UserNotFound", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET pin_hash = $1 WHERE id = $2`)).
			WithArgs("pinhash", int64(9)).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := repo.SetPin(ctx, 9, "pinhash")
		assert.ErrorIs(t, err, pkgerrors.ErrUserNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresUserRepository_SetPlatformLink(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresUserRepository(db)
	ctx := context.Background()

	t.Run("Whatsapp", func(t *testing.T) {
		mock.ExpectExec(regexp.QuoteMeta(`UPDATE users SET has_setup_whatsapp = $1 WHERE id = $2`)).
			WithArgs(true, int64(1)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.SetPlatformLink(ctx, 1, models.PlatformWhatsapp, true))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UnknownPlatform", func(t *testing.T) {
		err := repo.SetPlatformLink(ctx, 1, models.Platform("slack"), true)
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})
}

func TestPostgresUserRepository_ListFaceEnrollments(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()
	repo := repository.NewPostgresUserRepository(db)
	ctx := context.Background()

	t.Run("OnlyEnrolledAndEnabled", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"id", "encoded_face"}).
			AddRow(int64(1), "facedata1").
			AddRow(int64(2), "facedata2")
		mock.ExpectQuery(`SELECT id, encoded_face FROM users`).
			WillReturnRows(rows)

		enrollments, err := repo.ListFaceEnrollments(ctx)
		assert.NoError(t, err)
		assert.Len(t, enrollments, 2)
		assert.Equal(t, "facedata1", enrollments[0].EncodedFace)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
