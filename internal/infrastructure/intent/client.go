package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/gestpay/wallet-service/pkg/errors"
)

// Supported actions returned by the intent parser.
const (
	ActionGetBalance            = "get_balance"
	ActionGetAccountDetails     = "get_account_details"
	ActionGetTransactionHistory = "get_transaction_history"
	ActionTransferInternal      = "transfer_internal"
	ActionTransferExternal      = "transfer_external"
	ActionFintechAdvice         = "fintech_advice"
)

type Result struct {
	Action     string     `json:"action"`
	Parameters Parameters `json:"parameters"`
	Message    string     `json:"message"`
}

type Parameters struct {
	Amount    int64  `json:"amount"`
	Recipient string `json:"recipient"`
	Method    string `json:"method"`
}

// Parser turns free chat text into a structured banking intent.
type Parser interface {
	Parse(ctx context.Context, text string) (*Result, error)
}

const systemPrompt = `You are an AI financial assistant for a chat-based payment system called GestPay. ` +
	`You help users perform banking operations and provide fintech advice. Always respond in valid JSON format, never natural text. ` +
	`The supported actions are: get_balance, get_account_details, get_transaction_history, transfer_internal, transfer_external, fintech_advice. ` +
	`If the message does not match any supported action, respond with action fintech_advice. ` +
	`Return responses ONLY as {"action":"<one_of_the_actions>","parameters":{"amount":<minor units or 0>,"recipient":"<name or empty>","method":"<internal|bank|empty>"},"message":"<natural language summary>"}. ` +
	`Amounts are integer kobo. Be concise and never include explanations outside the JSON object.`

type HTTPParser struct {
	url    string
	apiKey string
	model  string
	client *http.Client
}

func NewHTTPParser(url, apiKey, model string) *HTTPParser {
	return &HTTPParser{
		url:    url,
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Stream      bool          `json:"stream"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func (p *HTTPParser) Parse(ctx context.Context, text string) (*Result, error) {
	body, err := json.Marshal(chatRequest{
		Model:       p.model,
		Temperature: 0.3,
		MaxTokens:   200,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal intent request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build intent request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Error("intent API request failed", "error", err)
		return nil, fmt.Errorf("%w: %v", pkgerrors.ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Error("intent API returned non-200", "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: intent API status %d", pkgerrors.ErrExternalService, resp.StatusCode)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, fmt.Errorf("%w: failed to decode intent response: %v", pkgerrors.ErrExternalService, err)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty intent response", pkgerrors.ErrExternalService)
	}

	content := strings.TrimSpace(cr.Choices[0].Message.Content)
	// Models occasionally wrap the JSON in a code fence.
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var result Result
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &result); err != nil {
		slog.Error("intent response is not valid JSON", "content", content, "error", err)
		return nil, fmt.Errorf("%w: malformed intent payload", pkgerrors.ErrExternalService)
	}
	return &result, nil
}
