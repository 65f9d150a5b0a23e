package service

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gestpay/wallet-service/internal/infrastructure/faceapi"
	"github.com/gestpay/wallet-service/internal/repository"
	pkgerrors "github.com/gestpay/wallet-service/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/crypto/bcrypt"
)

// FaceMatch is an accepted identification: a user bound to a confidence at
// or above the configured threshold.
type FaceMatch struct {
	UserID     int64
	Confidence float64
}

// VerificationService turns raw credentials into authorization decisions.
// Verification always runs before any ledger mutation and fails closed when
// the recognizer is unreachable.
type VerificationService interface {
	IdentifyFace(ctx context.Context, imageBase64 string) (*FaceMatch, error)
	VerifyPin(storedHash, pin string) error
	EnrollFace(ctx context.Context, userID int64, imageBase64 string) error
	Audit(ctx context.Context, userID int64, action, status, detail string)
}

type verificationService struct {
	userRepo    repository.UserRepository
	faceLogRepo repository.FaceLogRepository
	faceClient  faceapi.Client
	threshold   float64
}

func NewVerificationService(userRepo repository.UserRepository, faceLogRepo repository.FaceLogRepository, faceClient faceapi.Client, threshold float64) *verificationService {
	return &verificationService{
		userRepo:    userRepo,
		faceLogRepo: faceLogRepo,
		faceClient:  faceClient,
		threshold:   threshold,
	}
}

func (s *verificationService) IdentifyFace(ctx context.Context, imageBase64 string) (*FaceMatch, error) {
	tracer := otel.Tracer("verification-service")
	ctx, span := tracer.Start(ctx, "IdentifyFace")
	defer span.End()

	if imageBase64 == "" {
		span.SetStatus(codes.Error, "empty image")
		return nil, fmt.Errorf("%w: face image is required", pkgerrors.ErrInvalidInput)
	}

	embeddings, err := s.userRepo.ListFaceEnrollments(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to load enrollments")
		return nil, err
	}
	if len(embeddings) == 0 {
		span.SetStatus(codes.Error, "no enrollments")
		return nil, pkgerrors.ErrNoEnrolledFaces
	}

	result, err := s.faceClient.Verify(ctx, imageBase64, embeddings, s.threshold)
	if err != nil {
		// Recognizer unreachable or timed out: deny, never proceed
		// optimistically.
		span.RecordError(err)
		span.SetStatus(codes.Error, "recognizer call failed")
		s.Audit(ctx, 0, "payment", "failed", fmt.Sprintf("Face verification unavailable: %v", err))
		return nil, err
	}

	if !result.Match || result.Confidence < s.threshold {
		span.SetStatus(codes.Error, "no match")
		s.Audit(ctx, 0, "payment", "failed",
			fmt.Sprintf("Face payment verification failed. Confidence: %.2f", result.Confidence))
		return nil, fmt.Errorf("%w (confidence %.2f)", pkgerrors.ErrVerificationFailed, result.Confidence)
	}

	slog.Info("face identified", "user_id", result.UserID, "confidence", result.Confidence)
	return &FaceMatch{UserID: result.UserID, Confidence: result.Confidence}, nil
}

func (s *verificationService) VerifyPin(storedHash, pin string) error {
	if storedHash == "" {
		return pkgerrors.ErrPinNotSet
	}
	if err := bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(pin)); err != nil {
		return pkgerrors.ErrInvalidPin
	}
	return nil
}

func (s *verificationService) EnrollFace(ctx context.Context, userID int64, imageBase64 string) error {
	tracer := otel.Tracer("verification-service")
	ctx, span := tracer.Start(ctx, "EnrollFace")
	defer span.End()

	if imageBase64 == "" {
		return fmt.Errorf("%w: face image is required", pkgerrors.ErrInvalidInput)
	}

	embedding, err := s.faceClient.Enroll(ctx, imageBase64)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "enrollment failed")
		s.Audit(ctx, userID, "enroll", "failed", fmt.Sprintf("Face enrollment failed: %v", err))
		return err
	}

	if err := s.userRepo.SetFaceEnrollment(ctx, userID, embedding); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to store enrollment")
		return err
	}

	s.Audit(ctx, userID, "enroll", "success", "Face enrolled")
	slog.Info("face enrolled", "user_id", userID)
	return nil
}

// Audit writes the biometric audit trail. Write-only: a failed write is
// logged and never fails the enclosing flow.
func (s *verificationService) Audit(ctx context.Context, userID int64, action, status, detail string) {
	if err := s.faceLogRepo.Log(ctx, userID, action, status, detail); err != nil {
		slog.Error("failed to write audit log", "user_id", userID, "action", action, "error", err)
	}
}

var _ VerificationService = (*verificationService)(nil)
