package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	stderrors "errors"

	"github.com/gestpay/wallet-service/internal/models"
	"github.com/gestpay/wallet-service/internal/repository"
	pkgerrors "github.com/gestpay/wallet-service/pkg/errors"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// PostgresTransactionRepository owns the ledger. Every settlement runs as one
// database transaction: the guarded debit, the credit side and the audit rows
// commit together or not at all.
type PostgresTransactionRepository struct {
	db *sql.DB
}

func NewPostgresTransactionRepository(db *sql.DB) *PostgresTransactionRepository {
	return &PostgresTransactionRepository{db: db}
}

const (
	debitQuery  = `UPDATE users SET balance = balance - $1 WHERE id = $2 AND balance >= $1 RETURNING balance`
	creditQuery = `UPDATE users SET balance = balance + $1 WHERE id = $2`

	insertTransactionQuery = `INSERT INTO transactions (user_id, reference, amount, feature, type, status, description, recipient_id, merchant_id, location_data)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id, created_at`

	transactionColumns = `id, user_id, reference, amount, feature, type, status, description,
	COALESCE(recipient_id, 0), COALESCE(merchant_id, 0), COALESCE(location_data, ''), created_at, updated_at`
)

func validateTransaction(tx *models.Transaction) error {
	if tx == nil {
		return pkgerrors.ErrNilTransaction
	}
	if tx.Type != models.TypeDebit && tx.Type != models.TypeCredit {
		return pkgerrors.ErrInvalidTransactionType
	}
	if !models.ValidStatus(tx.Status) {
		return pkgerrors.ErrInvalidStatus
	}
	if !models.ValidFeature(tx.Feature) {
		return pkgerrors.ErrInvalidFeature
	}
	if tx.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", pkgerrors.ErrInvalidInput)
	}
	if tx.Reference == "" {
		return fmt.Errorf("%w: reference is required", pkgerrors.ErrInvalidInput)
	}
	return nil
}

func nullableID(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// mapInsertErr turns a duplicate reference into the idempotency error.
func mapInsertErr(err error) error {
	var pqErr *pq.Error
	if stderrors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
		return pkgerrors.ErrRequestAlreadyProcessed
	}
	return fmt.Errorf("failed to insert transaction: %w", err)
}

func (r *PostgresTransactionRepository) CreatePending(ctx context.Context, tx *models.Transaction) (int64, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "CreatePendingTransaction")
	defer finish(span, "CreatePendingTransaction", time.Now(), &err)

	if err = validateTransaction(tx); err != nil {
		slog.Error("invalid pending transaction", "method", "CreatePending", "error", err)
		return 0, err
	}
	if tx.Status != models.StatusPending {
		err = pkgerrors.ErrInvalidStatus
		return 0, err
	}

	span.SetAttributes(
		attribute.Int64("user_id", tx.UserID),
		attribute.Int64("amount", tx.Amount),
		attribute.String("feature", string(tx.Feature)),
		attribute.String("reference", tx.Reference),
	)

	err = r.db.QueryRowContext(ctx, insertTransactionQuery,
		tx.UserID, tx.Reference, tx.Amount, tx.Feature, tx.Type, tx.Status, tx.Description,
		nullableID(tx.RecipientID), nullableID(tx.MerchantID), nullableString(tx.LocationData),
	).Scan(&tx.ID, &tx.CreatedAt)
	if err != nil {
		err = mapInsertErr(err)
		slog.Error("failed to create pending transaction", "method", "CreatePending", "user_id", tx.UserID, "reference", tx.Reference, "error", err)
		return 0, err
	}

	slog.Info("pending transaction created", "method", "CreatePending", "id", tx.ID, "user_id", tx.UserID, "reference", tx.Reference, "amount", tx.Amount)
	return tx.ID, nil
}

func (r *PostgresTransactionRepository) SettleImmediate(ctx context.Context, tx *models.Transaction) (*repository.SettlementResult, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "SettleImmediate")
	defer finish(span, "SettleImmediate", time.Now(), &err)

	if err = validateTransaction(tx); err != nil {
		slog.Error("invalid transaction", "method", "SettleImmediate", "error", err)
		return nil, err
	}
	if tx.Status != models.StatusSuccessful || tx.Type != models.TypeDebit {
		err = pkgerrors.ErrInvalidStatus
		return nil, err
	}

	span.SetAttributes(
		attribute.Int64("user_id", tx.UserID),
		attribute.Int64("amount", tx.Amount),
		attribute.String("feature", string(tx.Feature)),
		attribute.String("reference", tx.Reference),
	)

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "SettleImmediate", "error", err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	result, err := r.settle(ctx, dbTx, tx)
	if err != nil {
		if rbErr := dbTx.Rollback(); rbErr != nil {
			slog.Error("rollback failed", "method", "SettleImmediate", "error", rbErr)
			err = fmt.Errorf("rollback failed: %v; original error: %w", rbErr, err)
		}
		return nil, err
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit settlement", "method", "SettleImmediate", "error", err)
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}

	slog.Info("payment settled", "method", "SettleImmediate", "id", tx.ID, "user_id", tx.UserID, "reference", tx.Reference, "amount", tx.Amount, "new_balance", result.NewBalance)
	return result, nil
}

// settle performs the guarded debit, the credit side and the transaction
// insert inside the caller's database transaction.
func (r *PostgresTransactionRepository) settle(ctx context.Context, dbTx *sql.Tx, tx *models.Transaction) (*repository.SettlementResult, error) {
	var newBalance int64
	err := dbTx.QueryRowContext(ctx, debitQuery, tx.Amount, tx.UserID).Scan(&newBalance)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrInsufficientFunds
	}
	if err != nil {
		return nil, fmt.Errorf("failed to debit payer: %w", err)
	}

	if tx.RecipientID != 0 {
		if err := creditUser(ctx, dbTx, tx.RecipientID, tx.Amount); err != nil {
			return nil, err
		}
	}
	if tx.MerchantID != 0 {
		if err := creditMerchant(ctx, dbTx, tx.UserID, tx.MerchantID, tx.Amount); err != nil {
			return nil, err
		}
	}

	err = dbTx.QueryRowContext(ctx, insertTransactionQuery,
		tx.UserID, tx.Reference, tx.Amount, tx.Feature, tx.Type, tx.Status, tx.Description,
		nullableID(tx.RecipientID), nullableID(tx.MerchantID), nullableString(tx.LocationData),
	).Scan(&tx.ID, &tx.CreatedAt)
	if err != nil {
		return nil, mapInsertErr(err)
	}

	var creditTxID int64
	if tx.RecipientID != 0 {
		if creditTxID, err = insertCreditRow(ctx, dbTx, tx); err != nil {
			return nil, err
		}
	}

	return &repository.SettlementResult{Transaction: tx, NewBalance: newBalance, CreditTransactionID: creditTxID}, nil
}

// insertCreditRow records the recipient-side history entry for a settled
// user-to-user transfer. The reference is derived from the debit reference,
// so the unique constraint still rejects a replayed settlement.
func insertCreditRow(ctx context.Context, dbTx *sql.Tx, tx *models.Transaction) (int64, error) {
	var id int64
	var createdAt time.Time
	err := dbTx.QueryRowContext(ctx, insertTransactionQuery,
		tx.RecipientID, tx.Reference+"-C", tx.Amount, tx.Feature, models.TypeCredit, models.StatusSuccessful,
		fmt.Sprintf("Transfer received via %s", tx.Feature), nullableID(tx.UserID), nil, nil,
	).Scan(&id, &createdAt)
	if err != nil {
		return 0, mapInsertErr(err)
	}
	return id, nil
}

func creditUser(ctx context.Context, dbTx *sql.Tx, userID, amount int64) error {
	res, err := dbTx.ExecContext(ctx, creditQuery, amount, userID)
	if err != nil {
		return fmt.Errorf("failed to credit recipient: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to credit recipient: %w", err)
	}
	if affected == 0 {
		return pkgerrors.ErrRecipientNotFound
	}
	return nil
}

// creditMerchant credits the merchant balance and records the denormalized
// transfer row used by merchant settlement views.
func creditMerchant(ctx context.Context, dbTx *sql.Tx, senderID, merchantID, amount int64) error {
	res, err := dbTx.ExecContext(ctx, `UPDATE merchants SET balance = balance + $1 WHERE id = $2`, amount, merchantID)
	if err != nil {
		return fmt.Errorf("failed to credit merchant: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to credit merchant: %w", err)
	}
	if affected == 0 {
		return pkgerrors.ErrRecipientNotFound
	}
	_, err = dbTx.ExecContext(ctx,
		`INSERT INTO transfers (sender_id, receiver_id, amount, status) VALUES ($1, $2, $3, $4)`,
		senderID, merchantID, amount, models.StatusSuccessful)
	if err != nil {
		return fmt.Errorf("failed to record transfer: %w", err)
	}
	return nil
}

func (r *PostgresTransactionRepository) SettlePending(ctx context.Context, userID int64, reference string) (*repository.SettlementResult, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "SettlePending")
	span.SetAttributes(attribute.Int64("user_id", userID), attribute.String("reference", reference))
	defer finish(span, "SettlePending", time.Now(), &err)

	if reference == "" {
		err = fmt.Errorf("%w: reference is required", pkgerrors.ErrInvalidInput)
		return nil, err
	}

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "SettlePending", "error", err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	tx, err := lockPending(ctx, dbTx, `SELECT `+transactionColumns+` FROM transactions WHERE reference = $1 AND user_id = $2 AND status = $3 FOR UPDATE`,
		reference, userID, models.StatusPending)
	if err != nil {
		rollback(dbTx, "SettlePending")
		return nil, err
	}

	result, err := r.settlePendingLocked(ctx, dbTx, tx)
	if err != nil {
		rollback(dbTx, "SettlePending")
		if stderrors.Is(err, pkgerrors.ErrInsufficientFunds) {
			// The failure outcome must survive the rollback.
			if failErr := r.MarkFailed(ctx, tx.ID); failErr != nil {
				slog.Error("failed to mark transaction failed", "method", "SettlePending", "id", tx.ID, "error", failErr)
			}
		}
		return nil, err
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit settlement", "method", "SettlePending", "error", err)
		return nil, fmt.Errorf("failed to commit settlement: %w", err)
	}

	slog.Info("pending transaction settled", "method", "SettlePending", "id", tx.ID, "user_id", userID, "reference", reference, "new_balance", result.NewBalance)
	return result, nil
}

// settlePendingLocked re-validates funds and flips the locked pending row to
// successful inside the caller's transaction.
func (r *PostgresTransactionRepository) settlePendingLocked(ctx context.Context, dbTx *sql.Tx, tx *models.Transaction) (*repository.SettlementResult, error) {
	var newBalance int64
	err := dbTx.QueryRowContext(ctx, debitQuery, tx.Amount, tx.UserID).Scan(&newBalance)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrInsufficientFunds
	}
	if err != nil {
		return nil, fmt.Errorf("failed to debit payer: %w", err)
	}

	if tx.RecipientID != 0 {
		if err := creditUser(ctx, dbTx, tx.RecipientID, tx.Amount); err != nil {
			return nil, err
		}
	}
	if tx.MerchantID != 0 {
		if err := creditMerchant(ctx, dbTx, tx.UserID, tx.MerchantID, tx.Amount); err != nil {
			return nil, err
		}
	}

	if err := markSuccessful(ctx, dbTx, tx.ID); err != nil {
		return nil, err
	}
	tx.Status = models.StatusSuccessful

	var creditTxID int64
	if tx.RecipientID != 0 {
		if creditTxID, err = insertCreditRow(ctx, dbTx, tx); err != nil {
			return nil, err
		}
	}
	return &repository.SettlementResult{Transaction: tx, NewBalance: newBalance, CreditTransactionID: creditTxID}, nil
}

// markSuccessful is the at-most-once transition: zero affected rows means the
// row was already settled by a concurrent request.
func markSuccessful(ctx context.Context, dbTx *sql.Tx, id int64) error {
	res, err := dbTx.ExecContext(ctx,
		`UPDATE transactions SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		models.StatusSuccessful, id, models.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update transaction status: %w", err)
	}
	if affected == 0 {
		return pkgerrors.ErrTransactionNotFound
	}
	return nil
}

func (r *PostgresTransactionRepository) RedeemTransfer(ctx context.Context, token *models.WebappToken, creditReference string) (*repository.SettlementResult, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "RedeemTransfer")
	defer finish(span, "RedeemTransfer", time.Now(), &err)

	if token == nil || token.RecipientID == 0 {
		err = fmt.Errorf("%w: token with recipient is required", pkgerrors.ErrInvalidInput)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int64("user_id", token.UserID),
		attribute.Int64("recipient_id", token.RecipientID),
		attribute.Int64("tx_id", token.TransactionID),
	)

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		slog.Error("failed to begin transaction", "method", "RedeemTransfer", "error", err)
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	result, err := r.redeemLocked(ctx, dbTx, token, creditReference)
	if err != nil {
		rollback(dbTx, "RedeemTransfer")
		if stderrors.Is(err, pkgerrors.ErrInsufficientFunds) {
			if failErr := r.MarkFailed(ctx, token.TransactionID); failErr != nil {
				slog.Error("failed to mark transaction failed", "method", "RedeemTransfer", "id", token.TransactionID, "error", failErr)
			}
		}
		return nil, err
	}

	if err = dbTx.Commit(); err != nil {
		slog.Error("failed to commit redemption", "method", "RedeemTransfer", "error", err)
		return nil, fmt.Errorf("failed to commit redemption: %w", err)
	}

	slog.Info("transfer redeemed", "method", "RedeemTransfer", "user_id", token.UserID, "recipient_id", token.RecipientID, "tx_id", token.TransactionID, "new_balance", result.NewBalance)
	return result, nil
}

func (r *PostgresTransactionRepository) redeemLocked(ctx context.Context, dbTx *sql.Tx, token *models.WebappToken, creditReference string) (*repository.SettlementResult, error) {
	// Consuming the token first makes replay a no-op before any money moves.
	// Expiry is enforced in the same statement, so a token cannot be spent in
	// the gap between the caller's expiry check and the consume.
	res, err := dbTx.ExecContext(ctx, `UPDATE webapp_tokens SET used = TRUE WHERE id = $1 AND used = FALSE AND expires_at > NOW()`, token.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to consume token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to consume token: %w", err)
	}
	if affected == 0 {
		if token.Expired(time.Now()) {
			return nil, pkgerrors.ErrTokenExpired
		}
		return nil, pkgerrors.ErrTokenUsed
	}

	tx, err := lockPending(ctx, dbTx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 AND user_id = $2 AND status = $3 FOR UPDATE`,
		token.TransactionID, token.UserID, models.StatusPending)
	if err != nil {
		return nil, err
	}

	var newBalance int64
	err = dbTx.QueryRowContext(ctx, debitQuery, tx.Amount, token.UserID).Scan(&newBalance)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrInsufficientFunds
	}
	if err != nil {
		return nil, fmt.Errorf("failed to debit sender: %w", err)
	}

	if err := creditUser(ctx, dbTx, token.RecipientID, tx.Amount); err != nil {
		return nil, err
	}

	if err := markSuccessful(ctx, dbTx, tx.ID); err != nil {
		return nil, err
	}
	tx.Status = models.StatusSuccessful

	var creditTxID int64
	var creditCreatedAt time.Time
	err = dbTx.QueryRowContext(ctx, insertTransactionQuery,
		token.RecipientID, creditReference, tx.Amount, tx.Feature, models.TypeCredit, models.StatusSuccessful,
		fmt.Sprintf("Transfer received via %s", tx.Feature), nullableID(token.UserID), nil, nil,
	).Scan(&creditTxID, &creditCreatedAt)
	if err != nil {
		return nil, mapInsertErr(err)
	}

	return &repository.SettlementResult{Transaction: tx, NewBalance: newBalance, CreditTransactionID: creditTxID}, nil
}

func (r *PostgresTransactionRepository) GetByID(ctx context.Context, id int64) (*models.Transaction, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "GetTransactionByID")
	span.SetAttributes(attribute.Int64("transaction_id", id))
	defer finish(span, "GetTransactionByID", time.Now(), &err)

	var tx models.Transaction
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	err = scanTransaction(r.db.QueryRowContext(ctx, query, id), &tx)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrTransactionNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get transaction", "method", "GetByID", "transaction_id", id, "error", err)
		return nil, err
	}
	return &tx, nil
}

func (r *PostgresTransactionRepository) GetByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "GetTransactionByReference")
	span.SetAttributes(attribute.String("reference", reference))
	defer finish(span, "GetTransactionByReference", time.Now(), &err)

	var tx models.Transaction
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE reference = $1`
	err = scanTransaction(r.db.QueryRowContext(ctx, query, reference), &tx)
	if stderrors.Is(err, sql.ErrNoRows) {
		err = pkgerrors.ErrTransactionNotFound
		return nil, err
	}
	if err != nil {
		slog.Error("failed to get transaction", "method", "GetByReference", "reference", reference, "error", err)
		return nil, err
	}
	return &tx, nil
}

func (r *PostgresTransactionRepository) History(ctx context.Context, userID int64, limit int) ([]models.Transaction, error) {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "GetTransactionHistory")
	span.SetAttributes(attribute.Int64("user_id", userID))
	defer finish(span, "GetTransactionHistory", time.Now(), &err)

	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		slog.Error("failed to get transaction history", "method", "History", "user_id", userID, "error", err)
		err = fmt.Errorf("failed to get transaction history: %w", err)
		return nil, err
	}
	defer rows.Close()

	var out []models.Transaction
	for rows.Next() {
		var tx models.Transaction
		if err = rows.Scan(
			&tx.ID, &tx.UserID, &tx.Reference, &tx.Amount, &tx.Feature, &tx.Type, &tx.Status, &tx.Description,
			&tx.RecipientID, &tx.MerchantID, &tx.LocationData, &tx.CreatedAt, &tx.UpdatedAt,
		); err != nil {
			err = fmt.Errorf("failed to scan transaction: %w", err)
			return nil, err
		}
		out = append(out, tx)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PostgresTransactionRepository) MarkFailed(ctx context.Context, id int64) error {
	var err error
	tracer := otel.Tracer("transaction-repository")
	ctx, span := tracer.Start(ctx, "MarkTransactionFailed")
	span.SetAttributes(attribute.Int64("transaction_id", id))
	defer finish(span, "MarkTransactionFailed", time.Now(), &err)

	res, err := r.db.ExecContext(ctx,
		`UPDATE transactions SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`,
		models.StatusFailed, id, models.StatusPending)
	if err != nil {
		slog.Error("failed to mark transaction failed", "method", "MarkFailed", "transaction_id", id, "error", err)
		err = fmt.Errorf("failed to mark transaction failed: %w", err)
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to mark transaction failed: %w", err)
	}
	if affected == 0 {
		err = pkgerrors.ErrTransactionNotFound
		return err
	}
	return nil
}

func lockPending(ctx context.Context, dbTx *sql.Tx, query string, args ...interface{}) (*models.Transaction, error) {
	var tx models.Transaction
	err := scanTransaction(dbTx.QueryRowContext(ctx, query, args...), &tx)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

func scanTransaction(row *sql.Row, tx *models.Transaction) error {
	return row.Scan(
		&tx.ID, &tx.UserID, &tx.Reference, &tx.Amount, &tx.Feature, &tx.Type, &tx.Status, &tx.Description,
		&tx.RecipientID, &tx.MerchantID, &tx.LocationData, &tx.CreatedAt, &tx.UpdatedAt,
	)
}

func rollback(dbTx *sql.Tx, method string) {
	if rbErr := dbTx.Rollback(); rbErr != nil && !stderrors.Is(rbErr, sql.ErrTxDone) {
		slog.Error("rollback failed", "method", method, "error", rbErr)
	}
}
