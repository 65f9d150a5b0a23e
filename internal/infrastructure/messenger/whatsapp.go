package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	pkgerrors "github.com/gestpay/wallet-service/pkg/errors"
)

const graphAPIBase = "https://graph.facebook.com/v18.0"

type WhatsappClient struct {
	phoneNumberID string
	accessToken   string
	baseURL       string
	client        *http.Client
}

func NewWhatsappClient(phoneNumberID, accessToken string) *WhatsappClient {
	return &WhatsappClient{
		phoneNumberID: phoneNumberID,
		accessToken:   accessToken,
		baseURL:       graphAPIBase,
		client:        &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *WhatsappClient) SendText(ctx context.Context, chatID, text string) error {
	payload := map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                chatID,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal whatsapp message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build whatsapp request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Error("whatsapp send failed", "chat_id", chatID, "error", err)
		return fmt.Errorf("%w: %v", pkgerrors.ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		slog.Error("whatsapp send returned non-200", "chat_id", chatID, "status", resp.StatusCode, "body", string(respBody))
		return fmt.Errorf("%w: whatsapp status %d", pkgerrors.ErrExternalService, resp.StatusCode)
	}
	return nil
}
