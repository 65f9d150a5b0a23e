package service

import (
	"context"
	"testing"

	"github.com/gestpay/wallet-service/internal/infrastructure/faceapi"
	"github.com/gestpay/wallet-service/internal/models"
	pkgerrors "github.com/gestpay/wallet-service/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestVerificationService_IdentifyFace(t *testing.T) {
	ctx := context.Background()

	enrolled := []models.FaceEnrollment{{UserID: 1, EncodedFace: "facedata"}}

	t.Run("AcceptsMatchAboveThreshold", func(t *testing.T) {
		userRepo := newFakeUserRepo()
		userRepo.enrollments = enrolled
		faceClient := &fakeFaceClient{verifyResult: &faceapi.VerifyResult{Match: true, UserID: 1, Confidence: 0.87}}
		svc := NewVerificationService(userRepo, &fakeFaceLogRepo{}, faceClient, 0.6)

		match, err := svc.IdentifyFace(ctx, "img")
		require.NoError(t, err)
		assert.Equal(t, int64(1), match.UserID)
		assert.Equal(t, 0.87, match.Confidence)
	})

	t.Run("RejectsBelowThreshold", func(t *testing.T) {
		userRepo := newFakeUserRepo()
		userRepo.enrollments = enrolled
		logRepo := &fakeFaceLogRepo{}
		faceClient := &fakeFaceClient{verifyResult: &faceapi.VerifyResult{Match: true, UserID: 1, Confidence: 0.4}}
		svc := NewVerificationService(userRepo, logRepo, faceClient, 0.6)

		_, err := svc.IdentifyFace(ctx, "img")
		assert.ErrorIs(t, err, pkgerrors.ErrVerificationFailed)
		// The rejection reaches the audit trail.
		require.Len(t, logRepo.entries, 1)
		assert.Contains(t, logRepo.entries[0], "Confidence: 0.40")
	})

	t.Run("RejectsNonMatchRegardlessOfConfidence", func(t *testing.T) {
		userRepo := newFakeUserRepo()
		userRepo.enrollments = enrolled
		faceClient := &fakeFaceClient{verifyResult: &faceapi.VerifyResult{Match: false, Confidence: 0.99}}
		svc := NewVerificationService(userRepo, &fakeFaceLogRepo{}, faceClient, 0.6)

		_, err := svc.IdentifyFace(ctx, "img")
		assert.ErrorIs(t, err, pkgerrors.ErrVerificationFailed)
	})

	t.Run("FailsClosedWhenRecognizerUnavailable", func(t *testing.T) {
		userRepo := newFakeUserRepo()
		userRepo.enrollments = enrolled
		logRepo := &fakeFaceLogRepo{}
		faceClient := &fakeFaceClient{verifyErr: pkgerrors.ErrExternalService}
		svc := NewVerificationService(userRepo, logRepo, faceClient, 0.6)

		_, err := svc.IdentifyFace(ctx, "img")
		assert.ErrorIs(t, err, pkgerrors.ErrExternalService)
		assert.Len(t, logRepo.entries, 1)
	})

	t.Run("NoEnrolledFaces", func(t *testing.T) {
		svc := NewVerificationService(newFakeUserRepo(), &fakeFaceLogRepo{}, &fakeFaceClient{}, 0.6)
		_, err := svc.IdentifyFace(ctx, "img")
		assert.ErrorIs(t, err, pkgerrors.ErrNoEnrolledFaces)
	})

	t.Run("EmptyImage", func(t *testing.T) {
		svc := NewVerificationService(newFakeUserRepo(), &fakeFaceLogRepo{}, &fakeFaceClient{}, 0.6)
		_, err := svc.IdentifyFace(ctx, "")
		assert.ErrorIs(t, err, pkgerrors.ErrInvalidInput)
	})
}

func TestVerificationService_VerifyPin(t *testing.T) {
	svc := NewVerificationService(newFakeUserRepo(), &fakeFaceLogRepo{}, &fakeFaceClient{}, 0.6)

	hash, err := bcrypt.GenerateFromPassword([]byte("1234"), bcrypt.MinCost)
	require.NoError(t, err)

	t.Run("Correct", func(t *testing.T) {
		assert.NoError(t, svc.VerifyPin(string(hash), "1234"))
	})

	t.Run("Wrong", func(t *testing.T) {
		assert.ErrorIs(t, svc.VerifyPin(string(hash), "0000"), pkgerrors.ErrInvalidPin)
	})

	t.Run("NotSet", func(t *testing.T) {
		assert.ErrorIs(t, svc.VerifyPin("", "1234"), pkgerrors.ErrPinNotSet)
	})
}

func TestVerificationService_EnrollFace(t *testing.T) {
	ctx := context.Background()

	t.Run("StoresEmbeddingAndEnablesFacePay", func(t *testing.T) {
		user := &models.User{ID: 1}
		userRepo := newFakeUserRepo(user)
		svc := NewVerificationService(userRepo, &fakeFaceLogRepo{}, &fakeFaceClient{embedding: "encoded"}, 0.6)

		require.NoError(t, svc.EnrollFace(ctx, 1, "img"))
		assert.Equal(t, "encoded", user.EncodedFace)
		assert.True(t, user.HasSetupBiometric)
		assert.True(t, user.AllowFacePayments)
	})

	t.Run("EncoderFailure", func(t *testing.T) {
		user := &models.User{ID: 1}
		logRepo := &fakeFaceLogRepo{}
		svc := NewVerificationService(newFakeUserRepo(user), logRepo, &fakeFaceClient{enrollErr: pkgerrors.ErrExternalService}, 0.6)

		err := svc.EnrollFace(ctx, 1, "img")
		assert.ErrorIs(t, err, pkgerrors.ErrExternalService)
		assert.False(t, user.HasSetupBiometric)
		assert.Len(t, logRepo.entries, 1)
	})
}

func TestVerificationService_AuditSwallowsFailures(t *testing.T) {
	svc := NewVerificationService(newFakeUserRepo(), &fakeFaceLogRepo{err: pkgerrors.ErrInternal}, &fakeFaceClient{}, 0.6)
	// Must not panic or propagate.
	svc.Audit(context.Background(), 1, "payment", "failed", "detail")
}
