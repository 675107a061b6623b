package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"foire/backend/internal/payments"
	"foire/backend/internal/payments/wave"

	"github.com/go-chi/chi/v5"
)

type initiatePaymentRequest struct {
	OrderID   string            `json:"orderId"`
	Amount    int64             `json:"amount"`
	Currency  string            `json:"currency"`
	Customer  payments.Customer `json:"customer"`
	Delivery  payments.Delivery `json:"delivery"`
	Items     []payments.Item   `json:"items"`
	Metadata  map[string]string `json:"metadata"`
	ReturnURL string            `json:"returnUrl"`
	CancelURL string            `json:"cancelUrl"`
	Locale    string            `json:"locale"`
}

type waveSessionResponse struct {
	SessionID      string `json:"sessionId"`
	OrderID        string `json:"orderId,omitempty"`
	CheckoutStatus string `json:"checkoutStatus"`
	PaymentStatus  string `json:"paymentStatus"`
	Status         string `json:"status"`
}

// InitiatePayment starts a checkout with the provider named in the path.
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	provider, err := payments.ParseProvider(chi.URLParam(r, "provider"))
	if err != nil {
		writeError(w, http.StatusNotFound, "unknown payment provider")
		return
	}
	var req initiatePaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := h.withPaymentTimeout(r.Context())
	defer cancel()
	result, err := h.dispatcher.Initiate(ctx, payments.Intent{
		OrderID:   req.OrderID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Provider:  provider,
		Customer:  req.Customer,
		Delivery:  req.Delivery,
		Items:     req.Items,
		Metadata:  req.Metadata,
		ReturnURL: req.ReturnURL,
		CancelURL: req.CancelURL,
		Locale:    req.Locale,
	})
	if err != nil {
		h.handlePaymentError(logger, w, "initiate_payment", err)
		return
	}
	logger.Info("initiate_payment", "status", result.Status, "provider", provider, "order_id", strings.TrimSpace(req.OrderID), "session_id", result.SessionID)
	writeJSON(w, http.StatusCreated, result)
}

// WaveSessionStatus looks a Wave session up and applies what Wave reports.
func (h *Handler) WaveSessionStatus(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	if h.wave == nil {
		writeError(w, http.StatusServiceUnavailable, "wave is not configured")
		return
	}
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionId"))
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "invalid session id")
		return
	}

	ctx, cancel := h.withPaymentTimeout(r.Context())
	defer cancel()
	session, _, err := h.wave.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		var apiErr *wave.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		h.handlePaymentError(logger, w, "wave_session_status", err)
		return
	}
	status, err := wave.Apply(ctx, h.dispatcher, session, "")
	if err != nil {
		h.handlePaymentError(logger, w, "wave_session_status", err)
		return
	}
	writeJSON(w, http.StatusOK, waveSessionResponse{
		SessionID:      session.ID,
		OrderID:        session.ClientReference,
		CheckoutStatus: session.CheckoutStatus,
		PaymentStatus:  session.PaymentStatus,
		Status:         status,
	})
}

func (h *Handler) handlePaymentError(logger *slog.Logger, w http.ResponseWriter, action string, err error) {
	var validationErr *payments.ValidationError
	var waveErr *wave.APIError
	switch {
	case errors.As(err, &validationErr):
		logger.Warn(action, "status", "invalid_request", "field", validationErr.Field, "error", err)
		writeFieldError(w, http.StatusBadRequest, validationErr.Field, err.Error())
	case errors.Is(err, payments.ErrProviderNotConfigured):
		logger.Warn(action, "status", "not_configured", "error", err)
		writeError(w, http.StatusServiceUnavailable, "payment provider not configured")
	case errors.Is(err, payments.ErrInitiationInProgress):
		logger.Warn(action, "status", "in_progress", "error", err)
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, payments.ErrPaymentNotFound):
		logger.Warn(action, "status", "not_found", "error", err)
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, payments.ErrPaymentStateNotAllowed), errors.Is(err, payments.ErrAmountMismatch):
		logger.Warn(action, "status", "conflict", "error", err)
		writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		logger.Error(action, "status", "timeout", "error", err)
		writeError(w, http.StatusGatewayTimeout, "payment provider timeout")
	case payments.IsProviderFailure(err), errors.As(err, &waveErr):
		logger.Error(action, "status", "provider_error", "error", err)
		writeError(w, http.StatusBadGateway, "payment provider error")
	default:
		logger.Error(action, "status", "internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
