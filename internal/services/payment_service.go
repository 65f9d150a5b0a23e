package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gestpay/wallet-service/internal/infrastructure/redis"
	"github.com/gestpay/wallet-service/internal/models"
	"github.com/gestpay/wallet-service/internal/repository"
	pkgerrors "github.com/gestpay/wallet-service/pkg/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

// PaymentIntent is one validated request to move money.
type PaymentIntent struct {
	PayerID              int64
	RecipientID          int64
	MerchantID           int64
	Amount               int64
	Description          string
	Feature              models.FeatureType
	Location             string
	RequestID            string
	RequiresConfirmation bool
}

// PaymentReceipt is the caller-visible outcome of a payment operation.
type PaymentReceipt struct {
	Reference            string            `json:"reference"`
	TransactionID        int64             `json:"transaction_id"`
	Amount               int64             `json:"amount"`
	Description          string            `json:"description"`
	Status               models.StatusType `json:"status"`
	NewBalance           int64             `json:"new_balance,omitempty"`
	VerificationRequired bool              `json:"verification_required,omitempty"`
}

// FacePayResult augments a receipt with the identification outcome.
type FacePayResult struct {
	Receipt    *PaymentReceipt
	UserID     int64
	Name       string
	Confidence float64
}

// TransferDetails is what the PIN webview displays before confirmation.
type TransferDetails struct {
	Recipient string    `json:"recipient"`
	Amount    int64     `json:"amount"`
	Reference string    `json:"reference"`
	ExpiresAt time.Time `json:"expires_at"`
}

type PaymentService interface {
	ExecutePayment(ctx context.Context, intent *PaymentIntent) (*PaymentReceipt, error)
	FacePay(ctx context.Context, imageBase64 string, amount int64, description, location string, merchantID int64, requestID string) (*FacePayResult, error)
	ApprovePayment(ctx context.Context, userID int64, reference, method string) (*PaymentReceipt, error)
	VerifyPayment(ctx context.Context, reference, method string) (*PaymentReceipt, error)
	SendMoney(ctx context.Context, userID int64, phone string, amount int64, description, requestID string) (*PaymentReceipt, error)
	InitiateChatTransfer(ctx context.Context, senderID, recipientID, amount int64, platform models.Platform, chatID string) (*models.WebappToken, *PaymentReceipt, error)
	TransferDetails(ctx context.Context, token string) (*TransferDetails, error)
	ConfirmWithPin(ctx context.Context, token, pin string) (*PaymentReceipt, error)
	GetBalance(ctx context.Context, userID int64) (int64, error)
	GetTransactionHistory(ctx context.Context, userID int64, limit int) ([]models.Transaction, error)
}

type paymentService struct {
	userRepo        repository.UserRepository
	transactionRepo repository.TransactionRepository
	tokenRepo       repository.TokenRepository
	redisClient     redis.RedisClient
	verifier        VerificationService
	notifier        NotificationService
	webappTokenTTL  time.Duration
}

func NewPaymentService(
	userRepo repository.UserRepository,
	transactionRepo repository.TransactionRepository,
	tokenRepo repository.TokenRepository,
	redisClient redis.RedisClient,
	verifier VerificationService,
	notifier NotificationService,
) *paymentService {
	return &paymentService{
		userRepo:        userRepo,
		transactionRepo: transactionRepo,
		tokenRepo:       tokenRepo,
		redisClient:     redisClient,
		verifier:        verifier,
		notifier:        notifier,
		webappTokenTTL:  15 * time.Minute,
	}
}

// NewReference builds a client-visible transaction reference.
func NewReference(prefix string) string {
	return prefix + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
}

func referencePrefix(feature models.FeatureType) string {
	if feature == models.FeatureFacePay {
		return "FP"
	}
	return "TXN"
}

// chatPlatform maps a chat-originated transaction feature back to its
// messaging platform.
func chatPlatform(feature models.FeatureType) (models.Platform, bool) {
	switch feature {
	case models.FeatureWhatsappPay:
		return models.PlatformWhatsapp, true
	case models.FeatureTelegramPay:
		return models.PlatformTelegram, true
	}
	return "", false
}

// claimRequest reserves an idempotency key for 24h. A key that was already
// claimed means this is a retry of a processed request.
func (s *paymentService) claimRequest(ctx context.Context, requestID string) (func(), error) {
	if requestID == "" {
		return func() {}, nil
	}
	requestKey := fmt.Sprintf("request:%s", requestID)
	ok, err := s.redisClient.SetNX(ctx, requestKey, "pending", 24*time.Hour)
	if err != nil {
		slog.Error("failed to set request key", "request_id", requestID, "error", err)
		return nil, err
	}
	if !ok {
		slog.Error("request already processed", "request_id", requestID)
		return nil, pkgerrors.ErrRequestAlreadyProcessed
	}
	release := func() {
		if err := s.redisClient.Del(ctx, requestKey); err != nil {
			slog.Error("failed to release request key", "request_id", requestID, "error", err)
		}
	}
	return release, nil
}

// lockAccount serializes settlements per account. The short TTL bounds the
// damage of a crashed holder.
func (s *paymentService) lockAccount(ctx context.Context, userID int64) (func(), error) {
	lockKey := fmt.Sprintf("user:%d:lock", userID)
	ok, err := s.redisClient.SetNX(ctx, lockKey, "locked", 3*time.Second)
	if err != nil {
		slog.Error("failed to acquire lock", "user_id", userID, "error", err)
		return nil, pkgerrors.ErrBalanceLocked
	}
	if !ok {
		slog.Error("balance is locked", "user_id", userID)
		return nil, pkgerrors.ErrBalanceLocked
	}
	unlock := func() {
		if err := s.redisClient.Del(ctx, lockKey); err != nil {
			slog.Error("failed to release lock", "user_id", userID, "error", err)
		}
	}
	return unlock, nil
}

func (s *paymentService) ExecutePayment(ctx context.Context, intent *PaymentIntent) (*PaymentReceipt, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "ExecutePayment")
	defer span.End()

	if intent == nil || intent.Amount <= 0 || intent.PayerID == 0 {
		span.SetStatus(codes.Error, "invalid intent")
		return nil, fmt.Errorf("%w: payer and positive amount are required", pkgerrors.ErrInvalidInput)
	}
	if !models.ValidFeature(intent.Feature) {
		span.SetStatus(codes.Error, "invalid feature")
		return nil, pkgerrors.ErrInvalidFeature
	}

	releaseRequest, err := s.claimRequest(ctx, intent.RequestID)
	if err != nil {
		span.SetStatus(codes.Error, "idempotency claim failed")
		return nil, err
	}

	reference := NewReference(referencePrefix(intent.Feature))
	tx := &models.Transaction{
		UserID:       intent.PayerID,
		Reference:    reference,
		Amount:       intent.Amount,
		Feature:      intent.Feature,
		Type:         models.TypeDebit,
		Description:  intent.Description,
		RecipientID:  intent.RecipientID,
		MerchantID:   intent.MerchantID,
		LocationData: intent.Location,
	}

	if intent.RequiresConfirmation {
		tx.Status = models.StatusPending
		if _, err := s.transactionRepo.CreatePending(ctx, tx); err != nil {
			releaseRequest()
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to create pending transaction")
			return nil, err
		}
		return &PaymentReceipt{
			Reference:            reference,
			TransactionID:        tx.ID,
			Amount:               tx.Amount,
			Description:          tx.Description,
			Status:               models.StatusPending,
			VerificationRequired: true,
		}, nil
	}

	unlock, err := s.lockAccount(ctx, intent.PayerID)
	if err != nil {
		releaseRequest()
		span.SetStatus(codes.Error, "balance locked")
		return nil, err
	}
	defer unlock()

	tx.Status = models.StatusSuccessful
	result, err := s.transactionRepo.SettleImmediate(ctx, tx)
	if err != nil {
		releaseRequest()
		span.RecordError(err)
		span.SetStatus(codes.Error, "settlement failed")
		return nil, err
	}

	// Best-effort after commit.
	s.notifier.Notify(ctx, intent.PayerID,
		fmt.Sprintf("Payment of %s completed successfully", FormatNaira(intent.Amount)),
		"wallet", result.Transaction.ID)
	if intent.RecipientID != 0 {
		s.notifier.Notify(ctx, intent.RecipientID,
			fmt.Sprintf("You received %s", FormatNaira(intent.Amount)),
			"wallet", result.CreditTransactionID)
	}

	slog.Info("payment executed", "payer_id", intent.PayerID, "reference", reference, "amount", intent.Amount, "feature", intent.Feature)
	return &PaymentReceipt{
		Reference:     reference,
		TransactionID: result.Transaction.ID,
		Amount:        tx.Amount,
		Description:   tx.Description,
		Status:        models.StatusSuccessful,
		NewBalance:    result.NewBalance,
	}, nil
}

func (s *paymentService) FacePay(ctx context.Context, imageBase64 string, amount int64, description, location string, merchantID int64, requestID string) (*FacePayResult, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "FacePay")
	defer span.End()

	if amount <= 0 {
		span.SetStatus(codes.Error, "invalid amount")
		return nil, fmt.Errorf("%w: invalid amount", pkgerrors.ErrInvalidInput)
	}
	if description == "" {
		description = "Face-pay transaction"
	}

	match, err := s.verifier.IdentifyFace(ctx, imageBase64)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "identification failed")
		return nil, err
	}

	user, err := s.userRepo.GetByID(ctx, match.UserID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if !user.AllowFacePayments || !user.HasSetupBiometric {
		s.verifier.Audit(ctx, user.ID, "payment", "failed", "User not found or face payments disabled")
		span.SetStatus(codes.Error, "face payments disabled")
		return nil, pkgerrors.ErrPaymentsDisabled
	}

	// Early sufficiency check for a friendly error; the guarded debit inside
	// the atomic unit remains the authority.
	if user.Balance < amount {
		s.verifier.Audit(ctx, user.ID, "payment", "failed",
			fmt.Sprintf("Insufficient balance. Required: %d, Available: %d", amount, user.Balance))
		span.SetStatus(codes.Error, "insufficient balance")
		return nil, pkgerrors.ErrInsufficientFunds
	}

	receipt, err := s.ExecutePayment(ctx, &PaymentIntent{
		PayerID:              user.ID,
		MerchantID:           merchantID,
		Amount:               amount,
		Description:          description,
		Feature:              models.FeatureFacePay,
		Location:             location,
		RequestID:            requestID,
		RequiresConfirmation: user.ConfirmPayment,
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if receipt.VerificationRequired {
		s.verifier.Audit(ctx, user.ID, "payment", "pending",
			fmt.Sprintf("Face payment pending confirmation: %s (confidence: %.2f)", FormatNaira(amount), match.Confidence))
	} else {
		s.verifier.Audit(ctx, user.ID, "payment", "success",
			fmt.Sprintf("Face payment completed: %s (confidence: %.2f)", FormatNaira(amount), match.Confidence))
	}

	return &FacePayResult{
		Receipt:    receipt,
		UserID:     user.ID,
		Name:       user.FullName(),
		Confidence: match.Confidence,
	}, nil
}

func (s *paymentService) ApprovePayment(ctx context.Context, userID int64, reference, method string) (*PaymentReceipt, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "ApprovePayment")
	defer span.End()

	if reference == "" || (method != "face" && method != "voice") {
		span.SetStatus(codes.Error, "invalid input")
		return nil, fmt.Errorf("%w: reference and method (face|voice) are required", pkgerrors.ErrInvalidInput)
	}

	unlock, err := s.lockAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	// Approval is bound to a specific reference owned by the caller; the
	// repository rejects anything that is not this user's pending row.
	result, err := s.transactionRepo.SettlePending(ctx, userID, reference)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "settlement failed")
		return nil, err
	}

	s.notifier.Notify(ctx, userID,
		fmt.Sprintf("Payment of %s approved successfully", FormatNaira(result.Transaction.Amount)),
		"wallet", result.Transaction.ID)

	slog.Info("pending payment approved", "user_id", userID, "reference", reference, "method", method)
	return &PaymentReceipt{
		Reference:     result.Transaction.Reference,
		TransactionID: result.Transaction.ID,
		Amount:        result.Transaction.Amount,
		Description:   result.Transaction.Description,
		Status:        models.StatusSuccessful,
		NewBalance:    result.NewBalance,
	}, nil
}

func (s *paymentService) VerifyPayment(ctx context.Context, reference, method string) (*PaymentReceipt, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "VerifyPayment")
	defer span.End()

	if reference == "" || (method != "face" && method != "voice") {
		span.SetStatus(codes.Error, "invalid input")
		return nil, fmt.Errorf("%w: reference and method (face|voice) are required", pkgerrors.ErrInvalidInput)
	}

	tx, err := s.transactionRepo.GetByReference(ctx, reference)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if tx.Status != models.StatusPending {
		span.SetStatus(codes.Error, "not pending")
		return nil, pkgerrors.ErrTransactionNotFound
	}

	owner, err := s.userRepo.GetByID(ctx, tx.UserID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if method == "face" && !owner.AllowFacePayments {
		return nil, fmt.Errorf("%w: face payments not enabled", pkgerrors.ErrPaymentsDisabled)
	}
	if method == "voice" && !owner.AllowVoicePayments {
		return nil, fmt.Errorf("%w: voice payments not enabled", pkgerrors.ErrPaymentsDisabled)
	}

	return s.ApprovePayment(ctx, tx.UserID, reference, method)
}

func (s *paymentService) SendMoney(ctx context.Context, userID int64, phone string, amount int64, description, requestID string) (*PaymentReceipt, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "SendMoney")
	defer span.End()

	if phone == "" {
		return nil, fmt.Errorf("%w: phone number is required for internal transfers", pkgerrors.ErrInvalidInput)
	}
	recipient, err := s.userRepo.GetByPhone(ctx, CleanPhoneNumber(phone))
	if err != nil {
		span.RecordError(err)
		return nil, pkgerrors.ErrRecipientNotFound
	}
	if recipient.ID == userID {
		return nil, fmt.Errorf("%w: cannot transfer to yourself", pkgerrors.ErrInvalidInput)
	}
	if description == "" {
		description = "Money transfer"
	}

	return s.ExecutePayment(ctx, &PaymentIntent{
		PayerID:     userID,
		RecipientID: recipient.ID,
		Amount:      amount,
		Description: description,
		Feature:     models.FeatureWallet,
		RequestID:   requestID,
	})
}

func (s *paymentService) InitiateChatTransfer(ctx context.Context, senderID, recipientID, amount int64, platform models.Platform, chatID string) (*models.WebappToken, *PaymentReceipt, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "InitiateChatTransfer")
	defer span.End()

	if amount <= 0 || senderID == 0 || recipientID == 0 {
		return nil, nil, fmt.Errorf("%w: sender, recipient and positive amount are required", pkgerrors.ErrInvalidInput)
	}

	recipient, err := s.userRepo.GetByID(ctx, recipientID)
	if err != nil {
		span.RecordError(err)
		return nil, nil, pkgerrors.ErrRecipientNotFound
	}

	feature := models.FeatureWhatsappPay
	if platform == models.PlatformTelegram {
		feature = models.FeatureTelegramPay
	}

	reference := NewReference("TXN")
	tx := &models.Transaction{
		UserID:      senderID,
		Reference:   reference,
		Amount:      amount,
		Feature:     feature,
		Type:        models.TypeDebit,
		Status:      models.StatusPending,
		Description: fmt.Sprintf("Transfer to %s via %s", recipient.FullName(), platform),
		RecipientID: recipientID,
	}
	if _, err := s.transactionRepo.CreatePending(ctx, tx); err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	token := &models.WebappToken{
		UserID:        senderID,
		RecipientID:   recipientID,
		ChatID:        chatID,
		TransactionID: tx.ID,
		ActionType:    "transfer",
		Token:         strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", ""),
		ExpiresAt:     time.Now().Add(s.webappTokenTTL),
	}
	if err := s.tokenRepo.Create(ctx, token); err != nil {
		span.RecordError(err)
		return nil, nil, err
	}

	slog.Info("chat transfer initiated", "sender_id", senderID, "recipient_id", recipientID, "reference", reference, "platform", platform)
	return token, &PaymentReceipt{
		Reference:            reference,
		TransactionID:        tx.ID,
		Amount:               amount,
		Description:          tx.Description,
		Status:               models.StatusPending,
		VerificationRequired: true,
	}, nil
}

func (s *paymentService) TransferDetails(ctx context.Context, token string) (*TransferDetails, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "TransferDetails")
	defer span.End()

	t, err := s.tokenRepo.GetActive(ctx, token)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if t.Expired(time.Now()) {
		return nil, pkgerrors.ErrTokenExpired
	}

	recipient, err := s.userRepo.GetByID(ctx, t.RecipientID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	pending, err := s.transactionRepo.GetByID(ctx, t.TransactionID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	return &TransferDetails{
		Recipient: recipient.FullName(),
		Amount:    pending.Amount,
		Reference: pending.Reference,
		ExpiresAt: t.ExpiresAt,
	}, nil
}

func (s *paymentService) ConfirmWithPin(ctx context.Context, token, pin string) (*PaymentReceipt, error) {
	tracer := otel.Tracer("payment-service")
	ctx, span := tracer.Start(ctx, "ConfirmWithPin")
	defer span.End()

	if token == "" || pin == "" {
		return nil, fmt.Errorf("%w: token and PIN are required", pkgerrors.ErrInvalidInput)
	}

	t, err := s.tokenRepo.GetActive(ctx, token)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if t.Expired(time.Now()) {
		span.SetStatus(codes.Error, "token expired")
		return nil, pkgerrors.ErrTokenExpired
	}

	sender, err := s.userRepo.GetByID(ctx, t.UserID)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := s.verifier.VerifyPin(sender.PinHash, pin); err != nil {
		span.SetStatus(codes.Error, "pin rejected")
		return nil, err
	}

	unlock, err := s.lockAccount(ctx, t.UserID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	creditReference := NewReference("TXN")
	result, err := s.transactionRepo.RedeemTransfer(ctx, t, creditReference)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "redemption failed")
		return nil, err
	}

	amount := result.Transaction.Amount
	s.notifier.Notify(ctx, t.UserID,
		fmt.Sprintf("Transfer of %s completed successfully", FormatNaira(amount)),
		"wallet", result.Transaction.ID)
	s.notifier.Notify(ctx, t.RecipientID,
		fmt.Sprintf("You received %s", FormatNaira(amount)),
		"wallet", result.CreditTransactionID)
	if platform, ok := chatPlatform(result.Transaction.Feature); ok {
		s.notifier.Push(ctx, platform, t.ChatID,
			fmt.Sprintf("Transfer of %s completed successfully. Ref: %s", FormatNaira(amount), result.Transaction.Reference),
			t.UserID)
	}

	slog.Info("chat transfer confirmed", "sender_id", t.UserID, "recipient_id", t.RecipientID, "reference", result.Transaction.Reference)
	return &PaymentReceipt{
		Reference:     result.Transaction.Reference,
		TransactionID: result.Transaction.ID,
		Amount:        amount,
		Description:   result.Transaction.Description,
		Status:        models.StatusSuccessful,
		NewBalance:    result.NewBalance,
	}, nil
}

var _ PaymentService = (*paymentService)(nil)

func (s *paymentService) GetBalance(ctx context.Context, userID int64) (int64, error) {
	return s.userRepo.GetBalance(ctx, userID)
}

func (s *paymentService) GetTransactionHistory(ctx context.Context, userID int64, limit int) ([]models.Transaction, error) {
	return s.transactionRepo.History(ctx, userID, limit)
}
