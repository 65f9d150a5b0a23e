package repository

import (
	"context"

	"github.com/gestpay/wallet-service/internal/models"
)

// SettlementResult is returned by the atomic settlement operations.
type SettlementResult struct {
	Transaction *models.Transaction
	NewBalance  int64
	// CreditTransactionID is set when a recipient-side credit row was
	// written in the same unit.
	CreditTransactionID int64
}

// TransactionRepository owns every balance mutation. Each settlement method
// is a single database transaction: the guarded debit, the optional credit
// and the transaction rows commit or roll back together.
type TransactionRepository interface {
	// CreatePending records a transaction awaiting confirmation. No balance
	// is touched.
	CreatePending(ctx context.Context, tx *models.Transaction) (int64, error)

	// SettleImmediate debits the payer, credits the recipient or records a
	// merchant transfer, and inserts a successful transaction row.
	SettleImmediate(ctx context.Context, tx *models.Transaction) (*SettlementResult, error)

	// SettlePending re-validates and settles a pending transaction owned by
	// userID. Insufficient funds flips the row to failed and returns
	// ErrInsufficientFunds. A reference that is not pending returns
	// ErrTransactionNotFound.
	SettlePending(ctx context.Context, userID int64, reference string) (*SettlementResult, error)

	// RedeemTransfer settles a chat-initiated transfer bound to a webview
	// token: consumes the token, debits the sender, credits the recipient,
	// flips the pending debit to successful and inserts the credit row.
	RedeemTransfer(ctx context.Context, token *models.WebappToken, creditReference string) (*SettlementResult, error)

	GetByID(ctx context.Context, id int64) (*models.Transaction, error)
	GetByReference(ctx context.Context, reference string) (*models.Transaction, error)
	History(ctx context.Context, userID int64, limit int) ([]models.Transaction, error)
	MarkFailed(ctx context.Context, id int64) error
}
