package handler

import (
	"encoding/json"
	"net/http"

	"github.com/gestpay/wallet-service/internal/models"
	service "github.com/gestpay/wallet-service/internal/services"
	pkgerrors "github.com/gestpay/wallet-service/pkg/errors"
)

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req service.RegisterInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}

	profile, err := h.accounts.Register(r.Context(), &req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, "registration successful", profile)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}

	token, profile, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "login successful", map[string]interface{}{
		"token": token,
		"user":  profile,
	})
}

func (h *Handler) VerifyToken(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}
	profile, err := h.accounts.Me(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "token is valid", profile)
}

func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}
	profile, err := h.accounts.Me(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "user retrieved", profile)
}

func (h *Handler) SetPin(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}
	var req struct {
		Pin string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}

	if err := h.accounts.SetPin(r.Context(), id, req.Pin); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "transaction PIN updated", nil)
}

func (h *Handler) EnrollFace(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}
	var req struct {
		Image string `json:"image"`
		Media string `json:"media"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}
	image := req.Image
	if image == "" {
		image = req.Media
	}

	if err := h.accounts.EnrollFace(r.Context(), id, image); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "face enrolled successfully", nil)
}

func (h *Handler) UpdateFaceSettings(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}
	var req struct {
		AllowFacePayments bool `json:"allow_face_payments"`
		ConfirmPayment    bool `json:"confirm_payment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}

	if err := h.accounts.UpdateFaceSettings(r.Context(), id, req.AllowFacePayments, req.ConfirmPayment); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "face settings updated", nil)
}

func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}
	list, err := h.notifications.List(r.Context(), id, 50)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "notifications retrieved", list)
}

func (h *Handler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}
	var req struct {
		NotificationID int64 `json:"notification_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NotificationID == 0 {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}

	if err := h.notifications.MarkRead(r.Context(), id, req.NotificationID); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "notification marked as read", nil)
}

func (h *Handler) togglePlatformPayments(w http.ResponseWriter, r *http.Request, platform models.Platform) {
	id, ok := userID(r)
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}

	if err := h.accounts.SetPlatformPayments(r.Context(), id, platform, req.Enabled); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "platform payment settings updated", nil)
}

func (h *Handler) disconnectPlatform(w http.ResponseWriter, r *http.Request, platform models.Platform) {
	id, ok := userID(r)
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}
	if err := h.accounts.Disconnect(r.Context(), id, platform); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "platform disconnected", nil)
}

func (h *Handler) ToggleWhatsappPayments(w http.ResponseWriter, r *http.Request) {
	h.togglePlatformPayments(w, r, models.PlatformWhatsapp)
}

func (h *Handler) ToggleTelegramPayments(w http.ResponseWriter, r *http.Request) {
	h.togglePlatformPayments(w, r, models.PlatformTelegram)
}

func (h *Handler) DisconnectWhatsapp(w http.ResponseWriter, r *http.Request) {
	h.disconnectPlatform(w, r, models.PlatformWhatsapp)
}

func (h *Handler) DisconnectTelegram(w http.ResponseWriter, r *http.Request) {
	h.disconnectPlatform(w, r, models.PlatformTelegram)
}
