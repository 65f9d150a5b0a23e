package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	service "github.com/gestpay/wallet-service/internal/services"
	pkgerrors "github.com/gestpay/wallet-service/pkg/errors"
)

func (h *Handler) FacePay(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Amount      int64  `json:"amount"`
		Description string `json:"description"`
		Image       string `json:"image"`
		Media       string `json:"media"`
		Location    string `json:"location"`
		MerchantID  int64  `json:"merchant_id"`
		RequestID   string `json:"request_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}
	image := req.Image
	if image == "" {
		image = req.Media
	}
	if image == "" || req.RequestID == "" {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}

	result, err := h.payments.FacePay(r.Context(), image, req.Amount, req.Description, req.Location, req.MerchantID, req.RequestID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	message := "payment completed successfully"
	if result.Receipt.VerificationRequired {
		message = "payment pending confirmation in the GestPay app"
	}
	writeJSON(w, http.StatusOK, message, map[string]interface{}{
		"receipt":    result.Receipt,
		"payer_name": result.Name,
		"confidence": result.Confidence,
	})
}

func (h *Handler) ApprovePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}
	var req struct {
		Reference string `json:"reference"`
		Method    string `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}

	receipt, err := h.payments.ApprovePayment(r.Context(), id, req.Reference, req.Method)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "payment approved", receipt)
}

func (h *Handler) VerifyPayment(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reference string `json:"reference"`
		Method    string `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}

	receipt, err := h.payments.VerifyPayment(r.Context(), req.Reference, req.Method)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "payment verified", receipt)
}

func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}
	balance, err := h.payments.GetBalance(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "balance retrieved", map[string]interface{}{
		"balance":   balance,
		"formatted": service.FormatNaira(balance),
	})
}

func (h *Handler) GetTransactionHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	history, err := h.payments.GetTransactionHistory(r.Context(), id, limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "transactions retrieved", history)
}

func (h *Handler) SendMoney(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(r)
	if !ok {
		h.writeError(w, pkgerrors.ErrInvalidCredentials)
		return
	}
	var req struct {
		PhoneNumber string `json:"phone_number"`
		Amount      int64  `json:"amount"`
		Description string `json:"description"`
		RequestID   string `json:"request_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}
	if req.RequestID == "" {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}

	receipt, err := h.payments.SendMoney(r.Context(), id, req.PhoneNumber, req.Amount, req.Description, req.RequestID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "transfer completed", receipt)
}

func (h *Handler) TransferDetails(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}

	details, err := h.payments.TransferDetails(r.Context(), token)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "transfer details retrieved", details)
}

func (h *Handler) ConfirmWithPin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Token string `json:"token"`
		Pin   string `json:"pin"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, pkgerrors.ErrInvalidInput)
		return
	}

	receipt, err := h.payments.ConfirmWithPin(r.Context(), req.Token, req.Pin)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, "transfer completed", receipt)
}
