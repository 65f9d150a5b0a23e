package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gestpay/wallet-service/internal/models"
)

// VerifyWebhook answers the Meta subscription handshake: echo the challenge
// when the verify token matches, 403 otherwise.
func (h *Handler) VerifyWebhook(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")
	if mode == "" {
		mode = q.Get("hub_mode")
		token = q.Get("hub_verify_token")
		challenge = q.Get("hub_challenge")
	}

	if mode != "subscribe" || token != h.webhookVerifyToken {
		slog.Warn("webhook verification rejected", "mode", mode)
		w.WriteHeader(http.StatusForbidden)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte(challenge))
}

type whatsappWebhookPayload struct {
	Entry []struct {
		Changes []struct {
			Value struct {
				Messages []struct {
					From string `json:"from"`
					Type string `json:"type"`
					Text struct {
						Body string `json:"body"`
					} `json:"text"`
				} `json:"messages"`
			} `json:"value"`
		} `json:"changes"`
	} `json:"entry"`
}

// WhatsappWebhook always responds 200: the platform retries on any other
// status, and a retried payment command is worse than a dropped status event.
func (h *Handler) WhatsappWebhook(w http.ResponseWriter, r *http.Request) {
	var payload whatsappWebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		slog.Warn("unreadable whatsapp webhook payload", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	for _, entry := range payload.Entry {
		for _, change := range entry.Changes {
			for _, msg := range change.Value.Messages {
				if msg.Type != "" && msg.Type != "text" {
					continue
				}
				if msg.From == "" || msg.Text.Body == "" {
					continue
				}
				if err := h.chat.HandleMessage(r.Context(), models.PlatformWhatsapp, msg.From, msg.From, msg.Text.Body); err != nil {
					slog.Error("whatsapp message handling failed", "from", msg.From, "error", err)
				}
			}
		}
	}
	w.WriteHeader(http.StatusOK)
}

type telegramUpdate struct {
	Message struct {
		Chat struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text    string `json:"text"`
		Contact struct {
			PhoneNumber string `json:"phone_number"`
		} `json:"contact"`
	} `json:"message"`
}

// TelegramWebhook keys the session by chat id; a shared contact carries the
// phone number into the linking flow as message text.
func (h *Handler) TelegramWebhook(w http.ResponseWriter, r *http.Request) {
	var update telegramUpdate
	if err := json.NewDecoder(r.Body).Decode(&update); err != nil {
		slog.Warn("unreadable telegram webhook payload", "error", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	if update.Message.Chat.ID == 0 {
		w.WriteHeader(http.StatusOK)
		return
	}
	chatID := strconv.FormatInt(update.Message.Chat.ID, 10)

	text := update.Message.Text
	if update.Message.Contact.PhoneNumber != "" {
		text = update.Message.Contact.PhoneNumber
	}
	if text == "" {
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.chat.HandleMessage(r.Context(), models.PlatformTelegram, chatID, chatID, text); err != nil {
		slog.Error("telegram message handling failed", "chat_id", chatID, "error", err)
	}
	w.WriteHeader(http.StatusOK)
}
