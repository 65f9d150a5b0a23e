package service

import (
	"context"
	"testing"
	"time"

	"github.com/gestpay/wallet-service/internal/infrastructure/intent"
	"github.com/gestpay/wallet-service/internal/infrastructure/messenger"
	"github.com/gestpay/wallet-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeParser struct {
	result *intent.Result
	err    error
}

func (f *fakeParser) Parse(ctx context.Context, text string) (*intent.Result, error) {
	return f.result, f.err
}

type chatFixture struct {
	svc         *chatService
	sessionRepo *fakeSessionRepo
	otpRepo     *fakeOTPRepo
	userRepo    *fakeUserRepo
	payments    *paymentService
	txRepo      *fakeTransactionRepo
	notifier    *fakeNotifier
	parser      *fakeParser
	messenger   *fakeMessenger
}

func newChatFixture(users ...*models.User) *chatFixture {
	sessionRepo := newFakeSessionRepo()
	otpRepo := &fakeOTPRepo{}
	userRepo := newFakeUserRepo(users...)
	txRepo := newFakeTransactionRepo()
	notifier := &fakeNotifier{}
	parser := &fakeParser{}
	msgr := &fakeMessenger{}
	payments := NewPaymentService(userRepo, txRepo, newFakeTokenRepo(), newFakeRedis(), &fakeVerifier{}, notifier)
	svc := NewChatService(sessionRepo, otpRepo, userRepo, payments, notifier, parser,
		map[models.Platform]messenger.Messenger{models.PlatformWhatsapp: msgr, models.PlatformTelegram: msgr}, "https://pay.gestpay.app")
	return &chatFixture{
		svc:         svc,
		sessionRepo: sessionRepo,
		otpRepo:     otpRepo,
		userRepo:    userRepo,
		payments:    payments,
		txRepo:      txRepo,
		notifier:    notifier,
		parser:      parser,
		messenger:   msgr,
	}
}

func TestChatService_LinkingFlow(t *testing.T) {
	ctx := context.Background()
	user := &models.User{ID: 4, FirstName: "Ada", PhoneNumber: "08012345678", Balance: 10000}

	t.Run("KnownNumberGetsOTP", func(t *testing.T) {
		f := newChatFixture(user)

		err := f.svc.HandleMessage(ctx, models.PlatformWhatsapp, "08012345678", "08012345678", "hi")
		require.NoError(t, err)

		// OTP stored and pushed through the app, not the chat.
		require.Len(t, f.otpRepo.upserted, 1)
		assert.Len(t, f.otpRepo.upserted[0].Code, 6)
		require.Len(t, f.notifier.notifications, 1)
		assert.Contains(t, f.notifier.notifications[0].Content, f.otpRepo.upserted[0].Code)

		s := f.sessionRepo.sessions[sessionKey(models.PlatformWhatsapp, "08012345678")]
		assert.Equal(t, models.StateAwaitingOTP, s.State)
		require.Len(t, f.messenger.sent, 1)
		assert.Contains(t, f.messenger.sent[0].Text, "6-digit code")
	})

	t.Run("UnknownNumberIsTurnedAway", func(t *testing.T) {
		f := newChatFixture()

		err := f.svc.HandleMessage(ctx, models.PlatformWhatsapp, "08099999999", "08099999999", "hi")
		require.NoError(t, err)
		assert.Empty(t, f.otpRepo.upserted)
		require.Len(t, f.messenger.sent, 1)
		assert.Contains(t, f.messenger.sent[0].Text, "not registered")
	})

	t.Run("CorrectOTPLinks", func(t *testing.T) {
		f := newChatFixture(user)
		require.NoError(t, f.svc.HandleMessage(ctx, models.PlatformWhatsapp, "08012345678", "08012345678", "hi"))
		code := f.otpRepo.upserted[0].Code

		require.NoError(t, f.svc.HandleMessage(ctx, models.PlatformWhatsapp, "08012345678", "08012345678", code))

		s := f.sessionRepo.sessions[sessionKey(models.PlatformWhatsapp, "08012345678")]
		assert.Equal(t, models.StateLinked, s.State)
		assert.Equal(t, int64(4), s.UserID)
		assert.True(t, f.userRepo.platformLinks["4:whatsapp"])
	})

	t.Run("WrongOTPResetsToStart", func(t *testing.T) {
		f := newChatFixture(user)
		require.NoError(t, f.svc.HandleMessage(ctx, models.PlatformWhatsapp, "08012345678", "08012345678", "hi"))

		require.NoError(t, f.svc.HandleMessage(ctx, models.PlatformWhatsapp, "08012345678", "08012345678", "000000"))

		s := f.sessionRepo.sessions[sessionKey(models.PlatformWhatsapp, "08012345678")]
		assert.Equal(t, models.StateStart, s.State)
		assert.False(t, f.userRepo.platformLinks["4:whatsapp"])
	})

	t.Run("NonNumericInputIsRePrompted", func(t *testing.T) {
		f := newChatFixture(user)
		require.NoError(t, f.svc.HandleMessage(ctx, models.PlatformWhatsapp, "08012345678", "08012345678", "hi"))

		require.NoError(t, f.svc.HandleMessage(ctx, models.PlatformWhatsapp, "08012345678", "08012345678", "what?"))

		s := f.sessionRepo.sessions[sessionKey(models.PlatformWhatsapp, "08012345678")]
		assert.Equal(t, models.StateAwaitingOTP, s.State)
	})

	t.Run("PreviouslyLinkedAccountSkipsOTP", func(t *testing.T) {
		relink := *user
		relink.HasSetupWhatsapp = true
		f := newChatFixture(&relink)

		err := f.svc.HandleMessage(ctx, models.PlatformWhatsapp, "08012345678", "08012345678", "hi")
		require.NoError(t, err)

		assert.Empty(t, f.otpRepo.upserted)
		s := f.sessionRepo.sessions[sessionKey(models.PlatformWhatsapp, "08012345678")]
		assert.Equal(t, models.StateLinked, s.State)
		assert.Equal(t, int64(4), s.UserID)
		require.Len(t, f.messenger.sent, 1)
		assert.Contains(t, f.messenger.sent[0].Text, "Welcome back")
	})

	t.Run("TelegramLinksViaTypedPhone", func(t *testing.T) {
		f := newChatFixture(user)

		// Session keyed by chat id; the registered phone arrives as text.
		err := f.svc.HandleMessage(ctx, models.PlatformTelegram, "555001", "555001", "+2348012345678")
		require.NoError(t, err)
		require.Len(t, f.otpRepo.upserted, 1)

		s := f.sessionRepo.sessions[sessionKey(models.PlatformTelegram, "555001")]
		assert.Equal(t, models.StateAwaitingOTP, s.State)
	})
}

func linkedFixture(t *testing.T, users ...*models.User) *chatFixture {
	t.Helper()
	f := newChatFixture(users...)
	ctx := context.Background()
	phone := users[0].PhoneNumber
	require.NoError(t, f.svc.HandleMessage(ctx, models.PlatformWhatsapp, phone, phone, "hi"))
	require.NoError(t, f.svc.HandleMessage(ctx, models.PlatformWhatsapp, phone, phone, f.otpRepo.upserted[0].Code))
	f.messenger.sent = nil
	return f
}

func TestChatService_LinkedIntents(t *testing.T) {
	ctx := context.Background()
	user := &models.User{
		ID: 4, FirstName: "Ada", LastName: "Obi", PhoneNumber: "08012345678",
		Email: "ada@example.com", Balance: 250000, AllowWhatsappPayments: true,
	}

	t.Run("Balance", func(t *testing.T) {
		f := linkedFixture(t, user)
		f.parser.result = &intent.Result{Action: intent.ActionGetBalance}

		require.NoError(t, f.svc.HandleMessage(ctx, models.PlatformWhatsapp, user.PhoneNumber, user.PhoneNumber, "balance?"))
		require.Len(t, f.messenger.sent, 1)
		assert.Contains(t, f.messenger.sent[0].Text, "₦2,500.00")
	})

	t.Run("AccountDetails", func(t *testing.T) {
		f := linkedFixture(t, user)
		f.parser.result = &intent.Result{Action: intent.ActionGetAccountDetails}

		require.NoError(t, f.svc.HandleMessage(ctx, models.PlatformWhatsapp, user.PhoneNumber, user.PhoneNumber, "my details"))
		require.Len(t, f.messenger.sent, 1)
		assert.Contains(t, f.messenger.sent[0].Text, "Ada Obi")
	})

	t.Run("History", func(t *testing.T) {
		f := linkedFixture(t, user)
		f.txRepo.history = []models.Transaction{
			{Reference: "TXNA", Amount: 5000, Type: models.TypeDebit, Status: models.StatusSuccessful, Description: "Sent"},
		}
		f.parser.result = &intent.Result{Action: intent.ActionGetTransactionHistory}

		require.NoError(t, f.svc.HandleMessage(ctx, models.PlatformWhatsapp, user.PhoneNumber, user.PhoneNumber, "history"))
		require.Len(t, f.messenger.sent, 1)
		assert.Contains(t, f.messenger.sent[0].Text, "-₦50.00")
	})

	t.Run("UnparseableTextGetsGentleReply", func(t *testing.T) {
		f := linkedFixture(t, user)
		f.parser.err = context.DeadlineExceeded

		require.NoError(t, f.svc.HandleMessage(ctx, models.PlatformWhatsapp, user.PhoneNumber, user.PhoneNumber, "asdfgh"))
		require.Len(t, f.messenger.sent, 1)
		assert.Contains(t, f.messenger.sent[0].Text, "rephrase")
	})

	t.Run("AdviceFallsThroughToModelMessage", func(t *testing.T) {
		f := linkedFixture(t, user)
		f.parser.result = &intent.Result{Action: intent.ActionFintechAdvice, Message: "Save 20% of your income."}

		require.NoError(t, f.svc.HandleMessage(ctx, models.PlatformWhatsapp, user.PhoneNumber, user.PhoneNumber, "tips?"))
		require.Len(t, f.messenger.sent, 1)
		assert.Equal(t, "Save 20% of your income.", f.messenger.sent[0].Text)
	})
}

func TestChatService_TransferFlow(t *testing.T) {
	ctx := context.Background()
	sender := &models.User{
		ID: 4, FirstName: "Ada", PhoneNumber: "08012345678",
		Balance: 250000, AllowWhatsappPayments: true,
	}

	transferIntent := func(amount int64, recipient string) *intent.Result {
		return &intent.Result{
			Action:     intent.ActionTransferInternal,
			Parameters: intent.Parameters{Amount: amount, Recipient: recipient},
		}
	}

	t.Run("SingleMatchStartsTransfer", func(t *testing.T) {
		f := linkedFixture(t, sender, &models.User{ID: 7, FirstName: "Ben", Balance: 0})
		f.userRepo.searchResults = []models.RecipientCandidate{{ID: 7, FirstName: "Ben", PhoneNumber: "08087654321"}}
		f.parser.result = transferIntent(50000, "Ben")

		require.NoError(t, f.svc.HandleMessage(ctx, models.PlatformWhatsapp, sender.PhoneNumber, sender.PhoneNumber, "send 500 to Ben"))

		require.Len(t, f.txRepo.pending, 1)
		assert.Equal(t, int64(50000), f.txRepo.pending[0].Amount)
		require.Len(t, f.messenger.sent, 1)
		assert.Contains(t, f.messenger.sent[0].Text, "https://pay.gestpay.app/pay?token=")
		assert.Contains(t, f.messenger.sent[0].Text, "15 minutes")
	})

	t.Run("AmbiguousMatchesAskForSelection", func(t *testing.T) {
		f := linkedFixture(t, sender,
			&models.User{ID: 7, FirstName: "Ben", LastName: "Eze", PhoneNumber: "08087654321"},
			&models.User{ID: 8, FirstName: "Ben", LastName: "Ade", PhoneNumber: "08011112222"})
		f.userRepo.searchResults = []models.RecipientCandidate{
			{ID: 7, FirstName: "Ben", LastName: "Eze", PhoneNumber: "08087654321"},
			{ID: 8, FirstName: "Ben", LastName: "Ade", PhoneNumber: "08011112222"},
		}
		f.parser.result = transferIntent(50000, "Ben")

		require.NoError(t, f.svc.HandleMessage(ctx, models.PlatformWhatsapp, sender.PhoneNumber, sender.PhoneNumber, "send 500 to Ben"))

		s := f.sessionRepo.sessions[sessionKey(models.PlatformWhatsapp, sender.PhoneNumber)]
		assert.Equal(t, models.StateAwaitingSelection, s.State)
		scratch, err := s.Scratch()
		require.NoError(t, err)
		assert.Equal(t, models.ScratchRecipientSelection, scratch.Kind)
		assert.Len(t, scratch.Candidates, 2)
		assert.Empty(t, f.txRepo.pending)

		// Picking an index starts the transfer and returns to linked.
		require.NoError(t, f.svc.HandleMessage(ctx, models.PlatformWhatsapp, sender.PhoneNumber, sender.PhoneNumber, "2"))
		assert.Equal(t, models.StateLinked, s.State)
		require.Len(t, f.txRepo.pending, 1)
		assert.Equal(t, int64(8), f.txRepo.pending[0].RecipientID)
	})

	t.Run("InvalidSelectionCancels", func(t *testing.T) {
		f := linkedFixture(t, sender)
		f.userRepo.searchResults = []models.RecipientCandidate{
			{ID: 7, FirstName: "Ben", LastName: "Eze"},
			{ID: 8, FirstName: "Ben", LastName: "Ade"},
		}
		f.parser.result = transferIntent(50000, "Ben")
		require.NoError(t, f.svc.HandleMessage(ctx, models.PlatformWhatsapp, sender.PhoneNumber, sender.PhoneNumber, "send 500 to Ben"))

		require.NoError(t, f.svc.HandleMessage(ctx, models.PlatformWhatsapp, sender.PhoneNumber, sender.PhoneNumber, "9"))

		s := f.sessionRepo.sessions[sessionKey(models.PlatformWhatsapp, sender.PhoneNumber)]
		assert.Equal(t, models.StateLinked, s.State)
		assert.Empty(t, f.txRepo.pending)
	})

	t.Run("NoMatches", func(t *testing.T) {
		f := linkedFixture(t, sender)
		f.parser.result = transferIntent(50000, "Zed")

		require.NoError(t, f.svc.HandleMessage(ctx, models.PlatformWhatsapp, sender.PhoneNumber, sender.PhoneNumber, "send 500 to Zed"))
		require.Len(t, f.messenger.sent, 1)
		assert.Contains(t, f.messenger.sent[0].Text, "couldn't find")
		assert.Empty(t, f.txRepo.pending)
	})

	t.Run("PlatformPaymentsDisabled", func(t *testing.T) {
		locked := *sender
		locked.AllowWhatsappPayments = false
		f := linkedFixture(t, &locked)
		f.parser.result = transferIntent(50000, "Ben")

		require.NoError(t, f.svc.HandleMessage(ctx, models.PlatformWhatsapp, locked.PhoneNumber, locked.PhoneNumber, "send 500 to Ben"))
		require.Len(t, f.messenger.sent, 1)
		assert.Contains(t, f.messenger.sent[0].Text, "disabled")
		assert.Empty(t, f.txRepo.pending)
	})

	t.Run("InsufficientBalance", func(t *testing.T) {
		f := linkedFixture(t, sender)
		f.parser.result = transferIntent(999_999_999, "Ben")

		require.NoError(t, f.svc.HandleMessage(ctx, models.PlatformWhatsapp, sender.PhoneNumber, sender.PhoneNumber, "send it all"))
		require.Len(t, f.messenger.sent, 1)
		assert.Contains(t, f.messenger.sent[0].Text, "Insufficient balance")
		assert.Empty(t, f.txRepo.pending)
	})
}

func TestChatService_SessionExpiryIndependence(t *testing.T) {
	// Session scratch survives encode/decode with amounts intact.
	scratch := &models.SessionScratch{
		Kind:   models.ScratchRecipientSelection,
		Amount: 123456,
		Candidates: []models.RecipientCandidate{
			{ID: 7, FirstName: "Ben", PhoneNumber: "08087654321"},
		},
	}
	encoded, err := models.EncodeScratch(scratch)
	require.NoError(t, err)

	session := &models.ChatSession{TempData: encoded, UpdatedAt: time.Now()}
	decoded, err := session.Scratch()
	require.NoError(t, err)
	assert.Equal(t, scratch.Amount, decoded.Amount)
	assert.Equal(t, scratch.Candidates, decoded.Candidates)
}
