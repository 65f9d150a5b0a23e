package messenger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	pkgerrors "github.com/gestpay/wallet-service/pkg/errors"
)

const telegramAPIBase = "https://api.telegram.org"

type TelegramClient struct {
	botToken string
	baseURL  string
	client   *http.Client
}

func NewTelegramClient(botToken string) *TelegramClient {
	return &TelegramClient{
		botToken: botToken,
		baseURL:  telegramAPIBase,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *TelegramClient) SendText(ctx context.Context, chatID, text string) error {
	payload := map[string]interface{}{
		"chat_id":    chatID,
		"text":       text,
		"parse_mode": "HTML",
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		slog.Error("telegram send failed", "chat_id", chatID, "error", err)
		return fmt.Errorf("%w: %v", pkgerrors.ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Error("telegram send returned non-200", "chat_id", chatID, "status", resp.StatusCode)
		return fmt.Errorf("%w: telegram status %d", pkgerrors.ErrExternalService, resp.StatusCode)
	}
	return nil
}
