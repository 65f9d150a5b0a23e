package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gestpay/wallet-service/internal/infrastructure/auth"
	service "github.com/gestpay/wallet-service/internal/services"
	pkgerrors "github.com/gestpay/wallet-service/pkg/errors"
	"github.com/gorilla/mux"
)

type Handler struct {
	accounts           service.AccountService
	payments           service.PaymentService
	notifications      service.NotificationService
	chat               service.ChatService
	webhookVerifyToken string
}

func NewHandler(
	accounts service.AccountService,
	payments service.PaymentService,
	notifications service.NotificationService,
	chat service.ChatService,
	webhookVerifyToken string,
) *Handler {
	return &Handler{
		accounts:           accounts,
		payments:           payments,
		notifications:      notifications,
		chat:               chat,
		webhookVerifyToken: webhookVerifyToken,
	}
}

type response struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response{Success: status < 400, Message: message, Data: data})
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), err.Error(), nil)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, pkgerrors.ErrInvalidInput),
		errors.Is(err, pkgerrors.ErrInvalidFeature),
		errors.Is(err, pkgerrors.ErrInvalidTransactionType),
		errors.Is(err, pkgerrors.ErrInvalidStatus),
		errors.Is(err, pkgerrors.ErrInsufficientFunds):
		return http.StatusBadRequest
	case errors.Is(err, pkgerrors.ErrInvalidCredentials),
		errors.Is(err, pkgerrors.ErrInvalidPin),
		errors.Is(err, pkgerrors.ErrPinNotSet),
		errors.Is(err, pkgerrors.ErrVerificationFailed):
		return http.StatusUnauthorized
	case errors.Is(err, pkgerrors.ErrPaymentsDisabled):
		return http.StatusForbidden
	case errors.Is(err, pkgerrors.ErrUserNotFound),
		errors.Is(err, pkgerrors.ErrTransactionNotFound),
		errors.Is(err, pkgerrors.ErrTokenNotFound),
		errors.Is(err, pkgerrors.ErrRecipientNotFound),
		errors.Is(err, pkgerrors.ErrNoEnrolledFaces),
		errors.Is(err, pkgerrors.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, pkgerrors.ErrUserAlreadyExists),
		errors.Is(err, pkgerrors.ErrRequestAlreadyProcessed),
		errors.Is(err, pkgerrors.ErrTokenUsed),
		errors.Is(err, pkgerrors.ErrBalanceLocked):
		return http.StatusConflict
	case errors.Is(err, pkgerrors.ErrTokenExpired):
		return http.StatusGone
	case errors.Is(err, pkgerrors.ErrExternalService):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func userID(r *http.Request) (int64, bool) {
	return auth.UserIDFromContext(r.Context())
}

func (h *Handler) RegisterPublicRoutes(r *mux.Router) {
	r.HandleFunc("/auth/register", h.Register).Methods("POST")
	r.HandleFunc("/auth/login", h.Login).Methods("POST")

	// Terminal-facing: the payer is identified by the face image or the
	// pending reference, not by a bearer token.
	r.HandleFunc("/biometric/face-pay", h.FacePay).Methods("POST")
	r.HandleFunc("/biometric/verify-payment", h.VerifyPayment).Methods("POST")

	// PIN webview endpoints authenticate with the single-use transfer token.
	r.HandleFunc("/telegram/transaction-details", h.TransferDetails).Methods("GET")
	r.HandleFunc("/telegram/verify-pin", h.ConfirmWithPin).Methods("POST")

	r.HandleFunc("/webhook", h.VerifyWebhook).Methods("GET")
	r.HandleFunc("/webhook", h.WhatsappWebhook).Methods("POST")
	r.HandleFunc("/webhook/telegram", h.TelegramWebhook).Methods("POST")
}

func (h *Handler) RegisterProtectedRoutes(r *mux.Router) {
	r.HandleFunc("/auth/verify-token", h.VerifyToken).Methods("GET")
	r.HandleFunc("/user/me", h.Me).Methods("GET")
	r.HandleFunc("/user/set-pin", h.SetPin).Methods("POST")

	r.HandleFunc("/wallet/balance", h.GetBalance).Methods("GET")
	r.HandleFunc("/wallet/transactions", h.GetTransactionHistory).Methods("GET")
	r.HandleFunc("/wallet/send-money", h.SendMoney).Methods("POST")

	r.HandleFunc("/biometric/approve-payment", h.ApprovePayment).Methods("POST")
	r.HandleFunc("/face/enroll", h.EnrollFace).Methods("POST")
	r.HandleFunc("/face/settings", h.UpdateFaceSettings).Methods("POST")

	r.HandleFunc("/notifications", h.ListNotifications).Methods("GET")
	r.HandleFunc("/notifications/read", h.MarkNotificationRead).Methods("POST")

	r.HandleFunc("/whatsapp/toggle-payments", h.ToggleWhatsappPayments).Methods("POST")
	r.HandleFunc("/whatsapp/disconnect", h.DisconnectWhatsapp).Methods("POST")
	r.HandleFunc("/telegram/toggle-payments", h.ToggleTelegramPayments).Methods("POST")
	r.HandleFunc("/telegram/disconnect", h.DisconnectTelegram).Methods("POST")
}
