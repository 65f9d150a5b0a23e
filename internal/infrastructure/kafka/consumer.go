package kafka

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/gestpay/wallet-service/internal/infrastructure/messenger"
	"github.com/gestpay/wallet-service/internal/models"
	"github.com/segmentio/kafka-go"
)

// PushEvent is one chat-platform delivery request published after a
// settlement commits. Delivery is best-effort: a failed push is logged and
// dropped, never retried against the ledger.
type PushEvent struct {
	Platform models.Platform `json:"platform"`
	ChatID   string          `json:"chat_id"`
	Content  string          `json:"content"`
	UserID   int64           `json:"user_id,omitempty"`
}

// Consumer drains the notifications topic and forwards each event to the
// matching chat platform client.
type Consumer struct {
	reader     *kafka.Reader
	messengers map[models.Platform]messenger.Messenger
}

func NewConsumer(brokers []string, topic, groupID string, messengers map[models.Platform]messenger.Messenger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:  groupID,
			MinBytes: 10e3,
			MaxBytes: 10e6,
		}),
		messengers: messengers,
	}
}

func (c *Consumer) Consume(ctx context.Context) {
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Error("failed to read Kafka message", "topic", c.reader.Config().Topic, "error", err)
			continue
		}

		var event PushEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			slog.Error("failed to unmarshal push event", "error", err)
			continue
		}
		if event.ChatID == "" || event.Content == "" {
			slog.Error("invalid push event: missing chat_id or content", "key", string(msg.Key))
			continue
		}

		m, ok := c.messengers[event.Platform]
		if !ok {
			slog.Error("unknown push platform", "platform", event.Platform)
			continue
		}

		if err := m.SendText(ctx, event.ChatID, event.Content); err != nil {
			slog.Error("failed to deliver push message", "platform", event.Platform, "chat_id", event.ChatID, "error", err)
			continue
		}

		slog.Info("push message delivered", "platform", event.Platform, "chat_id", event.ChatID)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
