package faceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gestpay/wallet-service/internal/models"
	pkgerrors "github.com/gestpay/wallet-service/pkg/errors"
)

// Client calls the face recognition service. Identification is a single
// request carrying every enrolled embedding; the service answers with the
// best-scoring candidate. Calls are bounded by the configured timeout and
// fail closed.
type Client interface {
	Verify(ctx context.Context, imageBase64 string, embeddings []models.FaceEnrollment, threshold float64) (*VerifyResult, error)
	Enroll(ctx context.Context, imageBase64 string) (string, error)
}

type VerifyResult struct {
	Match      bool    `json:"match"`
	UserID     int64   `json:"user_id"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message"`
}

type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type verifyRequest struct {
	ImageBase64         string                  `json:"image_base64"`
	StoredEmbeddings    []models.FaceEnrollment `json:"stored_embeddings"`
	ConfidenceThreshold float64                 `json:"confidence_threshold"`
}

func (c *HTTPClient) Verify(ctx context.Context, imageBase64 string, embeddings []models.FaceEnrollment, threshold float64) (*VerifyResult, error) {
	var result VerifyResult
	err := c.post(ctx, "/verify-face", verifyRequest{
		ImageBase64:         imageBase64,
		StoredEmbeddings:    embeddings,
		ConfidenceThreshold: threshold,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

type enrollRequest struct {
	ImageBase64 string `json:"image_base64"`
}

type enrollResponse struct {
	Success   bool   `json:"success"`
	Embedding string `json:"embedding"`
	Message   string `json:"message"`
}

// Enroll extracts and returns the embedding for a face image.
func (c *HTTPClient) Enroll(ctx context.Context, imageBase64 string) (string, error) {
	var resp enrollResponse
	if err := c.post(ctx, "/encode-face", enrollRequest{ImageBase64: imageBase64}, &resp); err != nil {
		return "", err
	}
	if !resp.Success || resp.Embedding == "" {
		return "", fmt.Errorf("%w: %s", pkgerrors.ErrVerificationFailed, resp.Message)
	}
	return resp.Embedding, nil
}

func (c *HTTPClient) post(ctx context.Context, endpoint string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal face API request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build face API request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Error("face API request failed", "endpoint", endpoint, "error", err)
		return fmt.Errorf("%w: %v", pkgerrors.ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Error("face API returned non-200", "endpoint", endpoint, "status", resp.StatusCode)
		return fmt.Errorf("%w: face API status %d", pkgerrors.ErrExternalService, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode face API response: %v", pkgerrors.ErrExternalService, err)
	}
	return nil
}
