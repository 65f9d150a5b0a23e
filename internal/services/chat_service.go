package service

import (
	"context"
	"crypto/rand"
	stderrors "errors"
	"fmt"
	"log/slog"
	"math/big"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gestpay/wallet-service/internal/infrastructure/intent"
	"github.com/gestpay/wallet-service/internal/infrastructure/messenger"
	"github.com/gestpay/wallet-service/internal/models"
	"github.com/gestpay/wallet-service/internal/repository"
	pkgerrors "github.com/gestpay/wallet-service/pkg/errors"
	"go.opentelemetry.io/otel"
)

const otpTTL = 10 * time.Minute

var otpPattern = regexp.MustCompile(`^\d{6}$`)

// ChatService drives the conversational payment flow. Each inbound message
// advances the per-channel session state machine.
type ChatService interface {
	HandleMessage(ctx context.Context, platform models.Platform, chatID, from, text string) error
}

type chatService struct {
	sessionRepo    repository.SessionRepository
	otpRepo        repository.OTPRepository
	userRepo       repository.UserRepository
	payments       PaymentService
	notifier       NotificationService
	parser         intent.Parser
	messengers     map[models.Platform]messenger.Messenger
	webviewBaseURL string
}

func NewChatService(
	sessionRepo repository.SessionRepository,
	otpRepo repository.OTPRepository,
	userRepo repository.UserRepository,
	payments PaymentService,
	notifier NotificationService,
	parser intent.Parser,
	messengers map[models.Platform]messenger.Messenger,
	webviewBaseURL string,
) *chatService {
	return &chatService{
		sessionRepo:    sessionRepo,
		otpRepo:        otpRepo,
		userRepo:       userRepo,
		payments:       payments,
		notifier:       notifier,
		parser:         parser,
		messengers:     messengers,
		webviewBaseURL: webviewBaseURL,
	}
}

var _ ChatService = (*chatService)(nil)

func (s *chatService) reply(ctx context.Context, platform models.Platform, chatID, text string) {
	m, ok := s.messengers[platform]
	if !ok {
		slog.Error("no messenger configured for platform", "platform", platform)
		return
	}
	if err := m.SendText(ctx, chatID, text); err != nil {
		slog.Error("failed to send chat reply", "platform", platform, "chat_id", chatID, "error", err)
	}
}

func (s *chatService) HandleMessage(ctx context.Context, platform models.Platform, chatID, from, text string) error {
	tracer := otel.Tracer("chat-service")
	ctx, span := tracer.Start(ctx, "HandleChatMessage")
	defer span.End()

	phone := CleanPhoneNumber(from)
	text = strings.TrimSpace(text)
	if phone == "" || text == "" {
		return fmt.Errorf("%w: sender and message text are required", pkgerrors.ErrInvalidInput)
	}

	session, err := s.sessionRepo.GetOrCreate(ctx, platform, phone)
	if err != nil {
		span.RecordError(err)
		return err
	}

	switch session.State {
	case models.StateAwaitingOTP:
		err = s.handleAwaitingOTP(ctx, session, chatID, text)
	case models.StateLinked:
		err = s.handleLinked(ctx, session, chatID, text)
	case models.StateAwaitingSelection:
		err = s.handleAwaitingSelection(ctx, session, chatID, text)
	default:
		err = s.handleStart(ctx, session, chatID, text)
	}
	if err != nil {
		span.RecordError(err)
		slog.Error("chat message handling failed", "platform", platform, "phone", phone, "state", session.State, "error", err)
		s.reply(ctx, platform, chatID, "Sorry, something went wrong. Please try again.")
	}
	return err
}

// handleStart links a chat identity to a wallet account. Known phone numbers
// get a one-time code pushed to their GestPay app; unknown numbers are turned
// away. Telegram sessions are keyed by chat id, so the registered phone
// arrives in the message itself (typed or via a shared contact).
func (s *chatService) handleStart(ctx context.Context, session *models.ChatSession, chatID, text string) error {
	user, err := s.userRepo.GetByPhone(ctx, session.PhoneNumber)
	if err != nil {
		if candidate := CleanPhoneNumber(text); len(candidate) >= 10 {
			user, err = s.userRepo.GetByPhone(ctx, candidate)
		}
	}
	if err != nil || user == nil {
		s.reply(ctx, session.Platform, chatID,
			"This number is not registered with GestPay. Send your registered phone number, or download the app to create a wallet first.")
		return nil
	}

	// Accounts that completed linking before skip the OTP on a fresh session.
	if platformLinked(user, session.Platform) {
		if err := s.sessionRepo.UpdateState(ctx, session.Platform, session.PhoneNumber, models.StateLinked, "", user.ID); err != nil {
			return err
		}
		s.reply(ctx, session.Platform, chatID,
			fmt.Sprintf("Welcome back, %s! You can check your balance, view transactions or send money.", user.FirstName))
		return nil
	}

	code, err := generateOTP()
	if err != nil {
		return err
	}
	otp := &models.OTPCode{
		PhoneNumber: session.PhoneNumber,
		ChatID:      chatID,
		Code:        code,
		ExpiresAt:   time.Now().Add(otpTTL),
	}
	if err := s.otpRepo.Upsert(ctx, otp); err != nil {
		return err
	}

	s.notifier.Notify(ctx, user.ID,
		fmt.Sprintf("Your GestPay linking code is %s. It expires in 10 minutes.", code),
		"security", 0)

	scratch, err := models.EncodeScratch(&models.SessionScratch{Kind: models.ScratchOTPPending, UserID: user.ID})
	if err != nil {
		return err
	}
	if err := s.sessionRepo.UpdateState(ctx, session.Platform, session.PhoneNumber, models.StateAwaitingOTP, scratch, 0); err != nil {
		return err
	}

	s.reply(ctx, session.Platform, chatID,
		fmt.Sprintf("Hi %s! To link this chat to your wallet, enter the 6-digit code we just sent to your GestPay app.", user.FirstName))
	return nil
}

func (s *chatService) handleAwaitingOTP(ctx context.Context, session *models.ChatSession, chatID, text string) error {
	if !otpPattern.MatchString(text) {
		s.reply(ctx, session.Platform, chatID, "Please enter the 6-digit code from your GestPay app.")
		return nil
	}

	if _, err := s.otpRepo.Consume(ctx, session.PhoneNumber, text, time.Now()); err != nil {
		if stderrors.Is(err, pkgerrors.ErrOTPInvalid) {
			s.reply(ctx, session.Platform, chatID, "That code is invalid or has expired. Send any message to request a new one.")
			return s.sessionRepo.UpdateState(ctx, session.Platform, session.PhoneNumber, models.StateStart, "", 0)
		}
		return err
	}

	scratch, err := session.Scratch()
	if err != nil || scratch == nil || scratch.Kind != models.ScratchOTPPending {
		return fmt.Errorf("%w: session has no pending link", pkgerrors.ErrSessionNotFound)
	}

	if err := s.userRepo.SetPlatformLink(ctx, scratch.UserID, session.Platform, true); err != nil {
		return err
	}
	if err := s.sessionRepo.UpdateState(ctx, session.Platform, session.PhoneNumber, models.StateLinked, "", scratch.UserID); err != nil {
		return err
	}

	slog.Info("chat platform linked", "user_id", scratch.UserID, "platform", session.Platform)
	s.reply(ctx, session.Platform, chatID,
		"Your wallet is now linked! You can check your balance, view transactions or send money. Try: \"Send ₦500 to Ada\".")
	return nil
}

func (s *chatService) handleLinked(ctx context.Context, session *models.ChatSession, chatID, text string) error {
	user, err := s.userRepo.GetByID(ctx, session.UserID)
	if err != nil {
		return err
	}

	result, err := s.parser.Parse(ctx, text)
	if err != nil {
		s.reply(ctx, session.Platform, chatID, "I couldn't understand that. Could you rephrase?")
		return nil
	}

	switch result.Action {
	case intent.ActionGetBalance:
		balance, err := s.payments.GetBalance(ctx, user.ID)
		if err != nil {
			return err
		}
		s.reply(ctx, session.Platform, chatID, fmt.Sprintf("Your wallet balance is %s.", FormatNaira(balance)))

	case intent.ActionGetAccountDetails:
		s.reply(ctx, session.Platform, chatID,
			fmt.Sprintf("Account details:\nName: %s\nPhone: %s\nEmail: %s", user.FullName(), user.PhoneNumber, user.Email))

	case intent.ActionGetTransactionHistory:
		history, err := s.payments.GetTransactionHistory(ctx, user.ID, 5)
		if err != nil {
			return err
		}
		s.reply(ctx, session.Platform, chatID, formatHistory(history))

	case intent.ActionTransferInternal:
		return s.handleTransferIntent(ctx, session, user, chatID, result.Parameters)

	case intent.ActionTransferExternal:
		s.reply(ctx, session.Platform, chatID, "Bank transfers from chat are coming soon. Use the GestPay app for now.")

	default:
		msg := result.Message
		if msg == "" {
			msg = "I can check your balance, show recent transactions or send money to another GestPay user."
		}
		s.reply(ctx, session.Platform, chatID, msg)
	}
	return nil
}

func (s *chatService) handleTransferIntent(ctx context.Context, session *models.ChatSession, user *models.User, chatID string, params intent.Parameters) error {
	if !platformPaymentsEnabled(user, session.Platform) {
		s.reply(ctx, session.Platform, chatID,
			fmt.Sprintf("Payments over %s are disabled for your account. Enable them in the GestPay app settings.", session.Platform))
		return nil
	}
	if params.Amount <= 0 {
		s.reply(ctx, session.Platform, chatID, "How much would you like to send? Please include an amount, e.g. \"Send ₦1000 to Ada\".")
		return nil
	}
	if params.Recipient == "" {
		s.reply(ctx, session.Platform, chatID, "Who should receive the money? Please include a name or phone number.")
		return nil
	}
	if user.Balance < params.Amount {
		s.reply(ctx, session.Platform, chatID,
			fmt.Sprintf("Insufficient balance. You need %s but have %s.", FormatNaira(params.Amount), FormatNaira(user.Balance)))
		return nil
	}

	candidates, err := s.userRepo.SearchRecipients(ctx, params.Recipient, user.ID, 5)
	if err != nil {
		return err
	}
	switch len(candidates) {
	case 0:
		s.reply(ctx, session.Platform, chatID,
			fmt.Sprintf("I couldn't find any GestPay user matching %q.", params.Recipient))
		return nil
	case 1:
		return s.startTransfer(ctx, session, chatID, candidates[0], params.Amount)
	default:
		scratch, err := models.EncodeScratch(&models.SessionScratch{
			Kind:       models.ScratchRecipientSelection,
			Amount:     params.Amount,
			Candidates: candidates,
		})
		if err != nil {
			return err
		}
		if err := s.sessionRepo.UpdateState(ctx, session.Platform, session.PhoneNumber, models.StateAwaitingSelection, scratch, 0); err != nil {
			return err
		}

		var b strings.Builder
		fmt.Fprintf(&b, "I found %d people matching %q. Reply with a number:\n", len(candidates), params.Recipient)
		for i, c := range candidates {
			fmt.Fprintf(&b, "%d. %s %s (%s)\n", i+1, c.FirstName, c.LastName, maskPhone(c.PhoneNumber))
		}
		s.reply(ctx, session.Platform, chatID, b.String())
		return nil
	}
}

func (s *chatService) handleAwaitingSelection(ctx context.Context, session *models.ChatSession, chatID, text string) error {
	scratch, err := session.Scratch()
	if err != nil || scratch == nil || scratch.Kind != models.ScratchRecipientSelection {
		return fmt.Errorf("%w: no pending selection", pkgerrors.ErrSessionNotFound)
	}

	// Any reply leaves the selection state, valid pick or not.
	if err := s.sessionRepo.UpdateState(ctx, session.Platform, session.PhoneNumber, models.StateLinked, "", 0); err != nil {
		return err
	}

	idx, convErr := strconv.Atoi(strings.TrimSpace(text))
	if convErr != nil || idx < 1 || idx > len(scratch.Candidates) {
		s.reply(ctx, session.Platform, chatID, "Transfer cancelled. Send a new message to start again.")
		return nil
	}

	return s.startTransfer(ctx, session, chatID, scratch.Candidates[idx-1], scratch.Amount)
}

func (s *chatService) startTransfer(ctx context.Context, session *models.ChatSession, chatID string, recipient models.RecipientCandidate, amount int64) error {
	token, receipt, err := s.payments.InitiateChatTransfer(ctx, session.UserID, recipient.ID, amount, session.Platform, chatID)
	if err != nil {
		return err
	}

	// Selection may have moved the session away from linked.
	if session.State != models.StateLinked {
		if err := s.sessionRepo.UpdateState(ctx, session.Platform, session.PhoneNumber, models.StateLinked, "", 0); err != nil {
			return err
		}
	}

	s.reply(ctx, session.Platform, chatID, fmt.Sprintf(
		"You're sending %s to %s %s.\nConfirm with your PIN here (link expires in 15 minutes):\n%s/pay?token=%s\nRef: %s",
		FormatNaira(amount), recipient.FirstName, recipient.LastName, s.webviewBaseURL, token.Token, receipt.Reference))
	return nil
}

func platformLinked(user *models.User, platform models.Platform) bool {
	switch platform {
	case models.PlatformWhatsapp:
		return user.HasSetupWhatsapp
	case models.PlatformTelegram:
		return user.HasSetupTelegram
	}
	return false
}

func platformPaymentsEnabled(user *models.User, platform models.Platform) bool {
	switch platform {
	case models.PlatformWhatsapp:
		return user.AllowWhatsappPayments
	case models.PlatformTelegram:
		return user.AllowTelegramPayments
	}
	return false
}

func formatHistory(history []models.Transaction) string {
	if len(history) == 0 {
		return "You have no transactions yet."
	}
	var b strings.Builder
	b.WriteString("Your recent transactions:\n")
	for _, tx := range history {
		sign := "-"
		if tx.Type == models.TypeCredit {
			sign = "+"
		}
		fmt.Fprintf(&b, "%s%s  %s  %s\n", sign, FormatNaira(tx.Amount), tx.Status, tx.Description)
	}
	return b.String()
}

func maskPhone(phone string) string {
	if len(phone) < 7 {
		return phone
	}
	return phone[:4] + "***" + phone[len(phone)-3:]
}

func generateOTP() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
