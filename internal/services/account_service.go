package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/gestpay/wallet-service/internal/infrastructure/auth"
	"github.com/gestpay/wallet-service/internal/infrastructure/redis"
	"github.com/gestpay/wallet-service/internal/models"
	"github.com/gestpay/wallet-service/internal/repository"
	pkgerrors "github.com/gestpay/wallet-service/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/bcrypt"
)

var pinPattern = regexp.MustCompile(`^\d{4}$`)

type RegisterInput struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	Email       string `json:"email"`
	PhoneNumber string `json:"phone_number"`
	Password    string `json:"password"`
}

// Profile is the user view returned to API clients. Credential hashes and
// face embeddings never leave the service layer.
type Profile struct {
	ID                    int64  `json:"id"`
	FirstName             string `json:"first_name"`
	LastName              string `json:"last_name"`
	Email                 string `json:"email"`
	PhoneNumber           string `json:"phone_number"`
	Balance               int64  `json:"balance"`
	HasSetupBiometric     bool   `json:"has_setup_biometric"`
	HasSetupWhatsapp      bool   `json:"has_setup_whatsapp"`
	HasSetupTelegram      bool   `json:"has_setup_telegram"`
	AllowFacePayments     bool   `json:"allow_face_payments"`
	AllowVoicePayments    bool   `json:"allow_voice_payments"`
	AllowWhatsappPayments bool   `json:"allow_whatsapp_payments"`
	AllowTelegramPayments bool   `json:"allow_telegram_payments"`
	ConfirmPayment        bool   `json:"confirm_payment"`
	HasSetPin             bool   `json:"has_set_pin"`
}

type AccountService interface {
	Register(ctx context.Context, input *RegisterInput) (*Profile, error)
	Login(ctx context.Context, email, password string) (string, *Profile, error)
	Me(ctx context.Context, userID int64) (*Profile, error)
	SetPin(ctx context.Context, userID int64, pin string) error
	EnrollFace(ctx context.Context, userID int64, imageBase64 string) error
	UpdateFaceSettings(ctx context.Context, userID int64, allowFacePayments, confirmPayment bool) error
	SetPlatformPayments(ctx context.Context, userID int64, platform models.Platform, enabled bool) error
	Disconnect(ctx context.Context, userID int64, platform models.Platform) error
}

type accountService struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	redisClient redis.RedisClient
	verifier    VerificationService
	notifier    NotificationService
	jwtSecret   string
}

func NewAccountService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	redisClient redis.RedisClient,
	verifier VerificationService,
	notifier NotificationService,
	jwtSecret string,
) *accountService {
	return &accountService{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		redisClient: redisClient,
		verifier:    verifier,
		notifier:    notifier,
		jwtSecret:   jwtSecret,
	}
}

var _ AccountService = (*accountService)(nil)

func toProfile(u *models.User) *Profile {
	return &Profile{
		ID:                    u.ID,
		FirstName:             u.FirstName,
		LastName:              u.LastName,
		Email:                 u.Email,
		PhoneNumber:           u.PhoneNumber,
		Balance:               u.Balance,
		HasSetupBiometric:     u.HasSetupBiometric,
		HasSetupWhatsapp:      u.HasSetupWhatsapp,
		HasSetupTelegram:      u.HasSetupTelegram,
		AllowFacePayments:     u.AllowFacePayments,
		AllowVoicePayments:    u.AllowVoicePayments,
		AllowWhatsappPayments: u.AllowWhatsappPayments,
		AllowTelegramPayments: u.AllowTelegramPayments,
		ConfirmPayment:        u.ConfirmPayment,
		HasSetPin:             u.PinHash != "",
	}
}

func (s *accountService) Register(ctx context.Context, input *RegisterInput) (*Profile, error) {
	tracer := otel.Tracer("account-service")
	ctx, span := tracer.Start(ctx, "Register")
	defer span.End()

	if input == nil || input.Email == "" || input.Password == "" || input.FirstName == "" || input.PhoneNumber == "" {
		span.SetStatus(codes.Error, "missing fields")
		return nil, fmt.Errorf("%w: first name, email, phone number and password are required", pkgerrors.ErrInvalidInput)
	}
	if len(input.Password) < 8 {
		return nil, fmt.Errorf("%w: password must be at least 8 characters", pkgerrors.ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		span.RecordError(err)
		return nil, pkgerrors.ErrInternal
	}

	user := &models.User{
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		Email:        strings.ToLower(strings.TrimSpace(input.Email)),
		PhoneNumber:  CleanPhoneNumber(input.PhoneNumber),
		PasswordHash: string(hash),
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "user creation failed")
		return nil, err
	}

	s.notifier.Notify(ctx, user.ID, "Welcome to GestPay! Set up your transaction PIN to start sending money.", "account", 0)
	slog.Info("user registered", "user_id", user.ID, "email", user.Email)
	return toProfile(user), nil
}

func (s *accountService) Login(ctx context.Context, email, password string) (string, *Profile, error) {
	tracer := otel.Tracer("account-service")
	ctx, span := tracer.Start(ctx, "Login")
	defer span.End()

	user, err := s.userRepo.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		span.SetStatus(codes.Error, "user lookup failed")
		return "", nil, pkgerrors.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		span.SetStatus(codes.Error, "password rejected")
		return "", nil, pkgerrors.ErrInvalidCredentials
	}

	token, err := auth.GenerateJWT(user.ID, s.jwtSecret)
	if err != nil {
		span.RecordError(err)
		return "", nil, pkgerrors.ErrInternal
	}

	// The cached copy lets logout and credential rotation invalidate tokens
	// before their JWT expiry.
	tokenKey := fmt.Sprintf("user:%d:token", user.ID)
	if err := s.redisClient.Set(ctx, tokenKey, token, auth.TokenTTL); err != nil {
		span.RecordError(err)
		slog.Error("failed to cache auth token", "user_id", user.ID, "error", err)
		return "", nil, pkgerrors.ErrInternal
	}

	slog.Info("user logged in", "user_id", user.ID)
	return token, toProfile(user), nil
}

func (s *accountService) Me(ctx context.Context, userID int64) (*Profile, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	return toProfile(user), nil
}

func (s *accountService) SetPin(ctx context.Context, userID int64, pin string) error {
	tracer := otel.Tracer("account-service")
	ctx, span := tracer.Start(ctx, "SetPin")
	defer span.End()

	if !pinPattern.MatchString(pin) {
		span.SetStatus(codes.Error, "invalid pin format")
		return fmt.Errorf("%w: PIN must be exactly 4 digits", pkgerrors.ErrInvalidInput)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		span.RecordError(err)
		return pkgerrors.ErrInternal
	}
	if err := s.userRepo.SetPin(ctx, userID, string(hash)); err != nil {
		span.RecordError(err)
		return err
	}

	s.notifier.Notify(ctx, userID, "Your transaction PIN has been updated.", "account", 0)
	slog.Info("transaction pin set", "user_id", userID)
	return nil
}

func (s *accountService) EnrollFace(ctx context.Context, userID int64, imageBase64 string) error {
	if imageBase64 == "" {
		return fmt.Errorf("%w: face image is required", pkgerrors.ErrInvalidInput)
	}
	if err := s.verifier.EnrollFace(ctx, userID, imageBase64); err != nil {
		return err
	}
	s.notifier.Notify(ctx, userID, "Face enrollment completed. You can now pay with your face.", "account", 0)
	return nil
}

func (s *accountService) UpdateFaceSettings(ctx context.Context, userID int64, allowFacePayments, confirmPayment bool) error {
	if err := s.userRepo.UpdateFaceSettings(ctx, userID, allowFacePayments, confirmPayment); err != nil {
		return err
	}
	slog.Info("face settings updated", "user_id", userID, "allow_face_payments", allowFacePayments, "confirm_payment", confirmPayment)
	return nil
}

func (s *accountService) SetPlatformPayments(ctx context.Context, userID int64, platform models.Platform, enabled bool) error {
	if platform != models.PlatformWhatsapp && platform != models.PlatformTelegram {
		return fmt.Errorf("%w: unknown platform", pkgerrors.ErrInvalidInput)
	}
	if err := s.userRepo.SetPlatformPayments(ctx, userID, platform, enabled); err != nil {
		return err
	}
	slog.Info("platform payments toggled", "user_id", userID, "platform", platform, "enabled", enabled)
	return nil
}

func (s *accountService) Disconnect(ctx context.Context, userID int64, platform models.Platform) error {
	tracer := otel.Tracer("account-service")
	ctx, span := tracer.Start(ctx, "DisconnectPlatform")
	defer span.End()

	if platform != models.PlatformWhatsapp && platform != models.PlatformTelegram {
		return fmt.Errorf("%w: unknown platform", pkgerrors.ErrInvalidInput)
	}
	if err := s.sessionRepo.Unlink(ctx, platform, userID); err != nil {
		span.RecordError(err)
		return err
	}
	if err := s.userRepo.SetPlatformLink(ctx, userID, platform, false); err != nil {
		span.RecordError(err)
		return err
	}

	slog.Info("platform disconnected", "user_id", userID, "platform", platform)
	return nil
}
