package handlers

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"foire/backend/internal/payments"
	"foire/backend/internal/payments/orangemoney"
	stripeprovider "foire/backend/internal/payments/stripe"
	"foire/backend/internal/payments/wave"
)

type webhookResponse struct {
	Received bool   `json:"received"`
	Status   string `json:"status,omitempty"`
}

// WaveWebhook applies a signed Wave event. Without a configured secret every
// delivery is rejected.
func (h *Handler) WaveWebhook(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if err := wave.VerifySignature(h.cfg.Wave.WebhookSecret, r.Header.Get(wave.SignatureHeader), body, h.now(), wave.DefaultTolerance); err != nil {
		h.rejectWebhook(logger, w, string(payments.ProviderWave), waveRejectReason(err), err)
		return
	}
	evt, err := wave.ParseEvent(body)
	if err != nil {
		logger.Warn("wave_webhook", "status", "invalid_event", "error", err)
		writeError(w, http.StatusBadRequest, "invalid event")
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	status, err := wave.Apply(ctx, h.dispatcher, evt.Data, evt.Type)
	h.finishWebhook(logger, w, "wave_webhook", status, err, "event_id", evt.ID, "event_type", evt.Type, "session_id", evt.Data.ID)
}

// StripeWebhook applies a signed Stripe checkout event.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	evt, err := stripeprovider.ConstructEvent(h.cfg.Stripe.WebhookSecret, body, r.Header.Get(stripeprovider.SignatureHeader))
	if err != nil {
		reason := "invalid_signature"
		if errors.Is(err, stripeprovider.ErrWebhookSecretMissing) {
			reason = "secret_missing"
		}
		h.rejectWebhook(logger, w, string(payments.ProviderStripe), reason, err)
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	status, err := stripeprovider.Apply(ctx, h.dispatcher, evt)
	h.finishWebhook(logger, w, "stripe_webhook", status, err, "event_id", evt.ID, "event_type", string(evt.Type))
}

// OrangeMoneyWebhook applies a notification posted to the notif_url issued at
// initiation. The order travels in the query; the notif_token in the body
// must match the one stored for that order.
func (h *Handler) OrangeMoneyWebhook(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	orderID := strings.TrimSpace(r.URL.Query().Get("order"))
	if orderID == "" {
		writeError(w, http.StatusBadRequest, "order is required")
		return
	}
	var n orangemoney.Notification
	if err := decodeJSON(w, r, &n); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	payment, err := h.store.GetPaymentByOrder(ctx, string(payments.ProviderOrangeMoney), orderID)
	if err != nil {
		if errors.Is(err, payments.ErrPaymentNotFound) {
			h.rejectWebhook(logger, w, string(payments.ProviderOrangeMoney), "unknown_order", err)
			return
		}
		h.handlePaymentError(logger, w, "orange_money_webhook", err)
		return
	}
	status, err := orangemoney.Apply(ctx, h.dispatcher, payment, n)
	if errors.Is(err, orangemoney.ErrNotifTokenMissing) || errors.Is(err, orangemoney.ErrNotifTokenMismatch) {
		h.rejectWebhook(logger, w, string(payments.ProviderOrangeMoney), "invalid_token", err)
		return
	}
	h.finishWebhook(logger, w, "orange_money_webhook", status, err, "order_id", orderID, "provider_status", n.Status)
}

func (h *Handler) rejectWebhook(logger *slog.Logger, w http.ResponseWriter, provider, reason string, err error) {
	h.metrics.WebhookRejected(provider, reason)
	if reason == "secret_missing" {
		logger.Error("webhook_rejected", "provider", provider, "reason", reason, "error", err)
	} else {
		logger.Warn("webhook_rejected", "provider", provider, "reason", reason, "error", err)
	}
	writeError(w, http.StatusUnauthorized, "webhook rejected")
}

// finishWebhook acknowledges deliveries that cannot succeed on retry and
// answers 500 to the rest so the provider delivers again.
func (h *Handler) finishWebhook(logger *slog.Logger, w http.ResponseWriter, action, status string, err error, attrs ...any) {
	switch {
	case err == nil:
		if status == "" {
			status = "ignored"
		}
		logger.Info(action, append([]any{"status", status}, attrs...)...)
		writeJSON(w, http.StatusOK, webhookResponse{Received: true, Status: status})
	case errors.Is(err, payments.ErrPaymentNotFound):
		logger.Warn(action, append([]any{"status", "unknown_payment", "error", err}, attrs...)...)
		writeJSON(w, http.StatusOK, webhookResponse{Received: true, Status: "ignored"})
	case errors.Is(err, payments.ErrAmountMismatch):
		logger.Error(action, append([]any{"status", "amount_mismatch", "error", err}, attrs...)...)
		writeJSON(w, http.StatusOK, webhookResponse{Received: true, Status: "rejected"})
	case errors.Is(err, payments.ErrPaymentStateNotAllowed):
		logger.Warn(action, append([]any{"status", "state_not_allowed", "error", err}, attrs...)...)
		writeJSON(w, http.StatusOK, webhookResponse{Received: true, Status: status})
	default:
		logger.Error(action, append([]any{"status", "internal_error", "error", err}, attrs...)...)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func waveRejectReason(err error) string {
	switch {
	case errors.Is(err, wave.ErrWebhookSecretMissing):
		return "secret_missing"
	case errors.Is(err, wave.ErrSignatureMissing):
		return "signature_missing"
	case errors.Is(err, wave.ErrSignatureExpired):
		return "signature_expired"
	case errors.Is(err, wave.ErrSignatureMalformed):
		return "signature_malformed"
	default:
		return "invalid_signature"
	}
}
