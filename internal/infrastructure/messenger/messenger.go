package messenger

import "context"

// Messenger pushes a text message to a chat platform. Delivery is
// best-effort: callers log failures and move on, ledger state is never
// affected by a push outcome.
type Messenger interface {
	SendText(ctx context.Context, chatID, text string) error
}
