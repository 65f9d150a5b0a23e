package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gestpay/wallet-service/internal/infrastructure/faceapi"
	"github.com/gestpay/wallet-service/internal/models"
	"github.com/gestpay/wallet-service/internal/repository"
	pkgerrors "github.com/gestpay/wallet-service/pkg/errors"
)

// Hand-written fakes shared by the service tests.

type fakeUserRepo struct {
	users         map[int64]*models.User
	searchResults []models.RecipientCandidate
	searchErr     error
	platformLinks map[string]bool
	enrollments   []models.FaceEnrollment
	pins          map[int64]string
}

func newFakeUserRepo(users ...*models.User) *fakeUserRepo {
	m := make(map[int64]*models.User, len(users))
	for _, u := range users {
		m[u.ID] = u
	}
	return &fakeUserRepo{users: m, platformLinks: map[string]bool{}, pins: map[int64]string{}}
}

func (f *fakeUserRepo) Create(ctx context.Context, user *models.User) error {
	user.ID = int64(len(f.users) + 1)
	f.users[user.ID] = user
	return nil
}

func (f *fakeUserRepo) GetByID(ctx context.Context, id int64) (*models.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, pkgerrors.ErrUserNotFound
	}
	return u, nil
}

func (f *fakeUserRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	for _, u := range f.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, pkgerrors.ErrUserNotFound
}

func (f *fakeUserRepo) GetByPhone(ctx context.Context, phone string) (*models.User, error) {
	for _, u := range f.users {
		if u.PhoneNumber == phone {
			return u, nil
		}
	}
	return nil, pkgerrors.ErrUserNotFound
}

func (f *fakeUserRepo) GetBalance(ctx context.Context, userID int64) (int64, error) {
	u, ok := f.users[userID]
	if !ok {
		return 0, pkgerrors.ErrUserNotFound
	}
	return u.Balance, nil
}

func (f *fakeUserRepo) SearchRecipients(ctx context.Context, term string, excludeID int64, limit int) ([]models.RecipientCandidate, error) {
	return f.searchResults, f.searchErr
}

func (f *fakeUserRepo) SetPin(ctx context.Context, userID int64, pinHash string) error {
	u, ok := f.users[userID]
	if !ok {
		return pkgerrors.ErrUserNotFound
	}
	u.PinHash = pinHash
	f.pins[userID] = pinHash
	return nil
}

func (f *fakeUserRepo) SetFaceEnrollment(ctx context.Context, userID int64, encodedFace string) error {
	u, ok := f.users[userID]
	if !ok {
		return pkgerrors.ErrUserNotFound
	}
	u.EncodedFace = encodedFace
	u.HasSetupBiometric = true
	u.AllowFacePayments = true
	return nil
}

func (f *fakeUserRepo) UpdateFaceSettings(ctx context.Context, userID int64, allowFacePayments, confirmPayment bool) error {
	u, ok := f.users[userID]
	if !ok {
		return pkgerrors.ErrUserNotFound
	}
	u.AllowFacePayments = allowFacePayments
	u.ConfirmPayment = confirmPayment
	return nil
}

func (f *fakeUserRepo) SetPlatformLink(ctx context.Context, userID int64, platform models.Platform, linked bool) error {
	f.platformLinks[fmt.Sprintf("%d:%s", userID, platform)] = linked
	return nil
}

func (f *fakeUserRepo) SetPlatformPayments(ctx context.Context, userID int64, platform models.Platform, enabled bool) error {
	u, ok := f.users[userID]
	if !ok {
		return pkgerrors.ErrUserNotFound
	}
	switch platform {
	case models.PlatformWhatsapp:
		u.AllowWhatsappPayments = enabled
	case models.PlatformTelegram:
		u.AllowTelegramPayments = enabled
	}
	return nil
}

func (f *fakeUserRepo) ListFaceEnrollments(ctx context.Context) ([]models.FaceEnrollment, error) {
	return f.enrollments, nil
}

type fakeTransactionRepo struct {
	nextID       int64
	pending      []*models.Transaction
	settled      []*models.Transaction
	settleErr    error
	pendingErr   error
	redeemErr    error
	failed       []int64
	byReference  map[string]*models.Transaction
	byID         map[int64]*models.Transaction
	history      []models.Transaction
	settleResult *repository.SettlementResult
}

func newFakeTransactionRepo() *fakeTransactionRepo {
	return &fakeTransactionRepo{
		byReference: map[string]*models.Transaction{},
		byID:        map[int64]*models.Transaction{},
	}
}

func (f *fakeTransactionRepo) CreatePending(ctx context.Context, tx *models.Transaction) (int64, error) {
	if f.pendingErr != nil {
		return 0, f.pendingErr
	}
	f.nextID++
	tx.ID = f.nextID
	f.pending = append(f.pending, tx)
	f.byReference[tx.Reference] = tx
	f.byID[tx.ID] = tx
	return tx.ID, nil
}

func (f *fakeTransactionRepo) SettleImmediate(ctx context.Context, tx *models.Transaction) (*repository.SettlementResult, error) {
	if f.settleErr != nil {
		return nil, f.settleErr
	}
	f.nextID++
	tx.ID = f.nextID
	f.settled = append(f.settled, tx)
	f.byReference[tx.Reference] = tx
	f.byID[tx.ID] = tx
	if f.settleResult != nil {
		f.settleResult.Transaction = tx
		return f.settleResult, nil
	}
	return &repository.SettlementResult{Transaction: tx, NewBalance: 0}, nil
}

func (f *fakeTransactionRepo) SettlePending(ctx context.Context, userID int64, reference string) (*repository.SettlementResult, error) {
	if f.settleErr != nil {
		return nil, f.settleErr
	}
	tx, ok := f.byReference[reference]
	if !ok || tx.UserID != userID || tx.Status != models.StatusPending {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	tx.Status = models.StatusSuccessful
	f.settled = append(f.settled, tx)
	return &repository.SettlementResult{Transaction: tx, NewBalance: 0}, nil
}

func (f *fakeTransactionRepo) RedeemTransfer(ctx context.Context, token *models.WebappToken, creditReference string) (*repository.SettlementResult, error) {
	if f.redeemErr != nil {
		return nil, f.redeemErr
	}
	tx, ok := f.byID[token.TransactionID]
	if !ok || tx.Status != models.StatusPending {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	tx.Status = models.StatusSuccessful
	f.settled = append(f.settled, tx)
	f.nextID++
	return &repository.SettlementResult{Transaction: tx, NewBalance: 0, CreditTransactionID: f.nextID}, nil
}

func (f *fakeTransactionRepo) GetByID(ctx context.Context, id int64) (*models.Transaction, error) {
	tx, ok := f.byID[id]
	if !ok {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	return tx, nil
}

func (f *fakeTransactionRepo) GetByReference(ctx context.Context, reference string) (*models.Transaction, error) {
	tx, ok := f.byReference[reference]
	if !ok {
		return nil, pkgerrors.ErrTransactionNotFound
	}
	return tx, nil
}

func (f *fakeTransactionRepo) History(ctx context.Context, userID int64, limit int) ([]models.Transaction, error) {
	return f.history, nil
}

func (f *fakeTransactionRepo) MarkFailed(ctx context.Context, id int64) error {
	f.failed = append(f.failed, id)
	return nil
}

type fakeTokenRepo struct {
	created []*models.WebappToken
	active  map[string]*models.WebappToken
}

func newFakeTokenRepo() *fakeTokenRepo {
	return &fakeTokenRepo{active: map[string]*models.WebappToken{}}
}

func (f *fakeTokenRepo) Create(ctx context.Context, t *models.WebappToken) error {
	t.ID = int64(len(f.created) + 1)
	f.created = append(f.created, t)
	f.active[t.Token] = t
	return nil
}

func (f *fakeTokenRepo) GetActive(ctx context.Context, token string) (*models.WebappToken, error) {
	t, ok := f.active[token]
	if !ok {
		return nil, pkgerrors.ErrTokenNotFound
	}
	if t.Used {
		return nil, pkgerrors.ErrTokenUsed
	}
	return t, nil
}

type fakeOTPRepo struct {
	upserted   []*models.OTPCode
	consumeErr error
}

func (f *fakeOTPRepo) Upsert(ctx context.Context, otp *models.OTPCode) error {
	f.upserted = append(f.upserted, otp)
	return nil
}

func (f *fakeOTPRepo) Consume(ctx context.Context, phone, code string, now time.Time) (*models.OTPCode, error) {
	if f.consumeErr != nil {
		return nil, f.consumeErr
	}
	for _, otp := range f.upserted {
		if otp.PhoneNumber == phone && otp.Code == code {
			otp.Used = true
			return otp, nil
		}
	}
	return nil, pkgerrors.ErrOTPInvalid
}

type sessionUpdate struct {
	State    models.SessionState
	TempData string
	UserID   int64
}

type fakeSessionRepo struct {
	sessions map[string]*models.ChatSession
	updates  []sessionUpdate
	unlinked []int64
}

func newFakeSessionRepo() *fakeSessionRepo {
	return &fakeSessionRepo{sessions: map[string]*models.ChatSession{}}
}

func sessionKey(platform models.Platform, phone string) string {
	return string(platform) + ":" + phone
}

func (f *fakeSessionRepo) GetOrCreate(ctx context.Context, platform models.Platform, phone string) (*models.ChatSession, error) {
	key := sessionKey(platform, phone)
	if s, ok := f.sessions[key]; ok {
		return s, nil
	}
	s := &models.ChatSession{ID: int64(len(f.sessions) + 1), Platform: platform, PhoneNumber: phone, State: models.StateStart}
	f.sessions[key] = s
	return s, nil
}

func (f *fakeSessionRepo) UpdateState(ctx context.Context, platform models.Platform, phone string, state models.SessionState, tempData string, userID int64) error {
	s, ok := f.sessions[sessionKey(platform, phone)]
	if !ok {
		return pkgerrors.ErrSessionNotFound
	}
	s.State = state
	s.TempData = tempData
	if userID > 0 {
		s.UserID = userID
	}
	f.updates = append(f.updates, sessionUpdate{State: state, TempData: tempData, UserID: userID})
	return nil
}

func (f *fakeSessionRepo) Unlink(ctx context.Context, platform models.Platform, userID int64) error {
	f.unlinked = append(f.unlinked, userID)
	for _, s := range f.sessions {
		if s.Platform == platform && s.UserID == userID {
			s.State = models.StateStart
			s.UserID = 0
			s.TempData = ""
		}
	}
	return nil
}

type fakeRedis struct {
	mu    sync.Mutex
	store map[string]string
	dels  []string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{store: map[string]string{}}
}

func (f *fakeRedis) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.store[key]
	if !ok {
		return "", fmt.Errorf("key not found")
	}
	return v, nil
}

func (f *fakeRedis) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.store[key] = fmt.Sprint(value)
	return nil
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.store[key]; ok {
		return false, nil
	}
	f.store[key] = fmt.Sprint(value)
	return true, nil
}

func (f *fakeRedis) Del(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.store, key)
	f.dels = append(f.dels, key)
	return nil
}

func (f *fakeRedis) Close() error { return nil }

type fakeVerifier struct {
	match     *FaceMatch
	matchErr  error
	pinErr    error
	enrollErr error
	audits    []string
}

func (f *fakeVerifier) IdentifyFace(ctx context.Context, imageBase64 string) (*FaceMatch, error) {
	return f.match, f.matchErr
}

func (f *fakeVerifier) VerifyPin(storedHash, pin string) error { return f.pinErr }

func (f *fakeVerifier) EnrollFace(ctx context.Context, userID int64, imageBase64 string) error {
	return f.enrollErr
}

func (f *fakeVerifier) Audit(ctx context.Context, userID int64, action, status, detail string) {
	f.audits = append(f.audits, fmt.Sprintf("%s/%s: %s", action, status, detail))
}

type notification struct {
	UserID  int64
	Content string
}

type pushMessage struct {
	Platform models.Platform
	ChatID   string
	Content  string
}

type fakeNotifier struct {
	notifications []notification
	pushes        []pushMessage
}

func (f *fakeNotifier) Notify(ctx context.Context, userID int64, content, typ string, transactionID int64) {
	f.notifications = append(f.notifications, notification{UserID: userID, Content: content})
}

func (f *fakeNotifier) Push(ctx context.Context, platform models.Platform, chatID, content string, userID int64) {
	f.pushes = append(f.pushes, pushMessage{Platform: platform, ChatID: chatID, Content: content})
}

func (f *fakeNotifier) List(ctx context.Context, userID int64, limit int) ([]models.Notification, error) {
	return nil, nil
}

func (f *fakeNotifier) MarkRead(ctx context.Context, userID, id int64) error { return nil }

type fakeFaceClient struct {
	verifyResult *faceapi.VerifyResult
	verifyErr    error
	embedding    string
	enrollErr    error
}

func (f *fakeFaceClient) Verify(ctx context.Context, imageBase64 string, embeddings []models.FaceEnrollment, threshold float64) (*faceapi.VerifyResult, error) {
	return f.verifyResult, f.verifyErr
}

func (f *fakeFaceClient) Enroll(ctx context.Context, imageBase64 string) (string, error) {
	return f.embedding, f.enrollErr
}

type fakeFaceLogRepo struct {
	entries []string
	err     error
}

func (f *fakeFaceLogRepo) Log(ctx context.Context, userID int64, action, status, detail string) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, fmt.Sprintf("%d %s %s %s", userID, action, status, detail))
	return nil
}

type sentMessage struct {
	ChatID string
	Text   string
}

type fakeMessenger struct {
	sent []sentMessage
	err  error
}

func (f *fakeMessenger) SendText(ctx context.Context, chatID, text string) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMessage{ChatID: chatID, Text: text})
	return nil
}
