package wave

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"foire/backend/internal/models"
	"foire/backend/internal/payments"
)

type AdapterConfig struct {
	// SuccessURL and ErrorURL are used when the intent carries no return or
	// cancel URL. Wave requires both.
	SuccessURL string
	ErrorURL   string
}

type Adapter struct {
	client *Client
	cfg    AdapterConfig
}

func NewAdapter(client *Client, cfg AdapterConfig) *Adapter {
	return &Adapter{client: client, cfg: cfg}
}

func (a *Adapter) Provider() payments.Provider {
	return payments.ProviderWave
}

func (a *Adapter) Initiate(ctx context.Context, intent payments.Intent) (payments.Result, error) {
	successURL := firstNonEmpty(intent.ReturnURL, withOrder(a.cfg.SuccessURL, intent.OrderID))
	errorURL := firstNonEmpty(intent.CancelURL, withOrder(a.cfg.ErrorURL, intent.OrderID), successURL)
	if successURL == "" {
		return payments.Result{}, fmt.Errorf("%w: wave success url missing", payments.ErrProviderNotConfigured)
	}

	session, raw, err := a.client.CreateCheckoutSession(ctx, intent.Reference(), CreateCheckoutSessionRequest{
		Amount:              intent.Amount,
		Currency:            intent.Currency,
		ClientReference:     intent.OrderID,
		SuccessURL:          successURL,
		ErrorURL:            errorURL,
		RestrictPayerMobile: intent.Customer.Phone,
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return payments.Result{}, fmt.Errorf("%w: %w", payments.ErrInitiationFailed, apiErr)
		}
		return payments.Result{}, err
	}
	return payments.Result{
		Provider:    payments.ProviderWave,
		SessionID:   session.ID,
		RedirectURL: session.WaveLaunchURL,
		Status:      payments.StatusPending,
		Raw:         map[string]any{"wave": string(raw)},
	}, nil
}

// Transitioner applies provider-confirmed status changes.
type Transitioner interface {
	Confirm(ctx context.Context, c payments.Confirmation) (models.Payment, error)
	Fail(ctx context.Context, provider payments.Provider, sessionID, orderID, status string, raw map[string]any) (models.Payment, error)
}

// Apply maps a session observed at Wave (by lookup or verified webhook) to a
// payment transition and returns the resulting local status.
func Apply(ctx context.Context, t Transitioner, session CheckoutSession, eventType string) (string, error) {
	raw := map[string]any{
		"checkout_status": session.CheckoutStatus,
		"payment_status":  session.PaymentStatus,
	}
	switch {
	case session.Succeeded():
		amount, err := session.AmountMinor()
		if err != nil {
			return "", err
		}
		payment, err := t.Confirm(ctx, payments.Confirmation{
			Provider:      payments.ProviderWave,
			SessionID:     session.ID,
			OrderID:       session.ClientReference,
			TransactionID: session.TransactionID,
			Amount:        &amount,
			Raw:           raw,
		})
		return payment.Status, err
	case session.CheckoutStatus == CheckoutStatusExpired:
		payment, err := t.Fail(ctx, payments.ProviderWave, session.ID, session.ClientReference, models.PaymentStatusCanceled, raw)
		return payment.Status, err
	case eventType == EventCheckoutPaymentFailed:
		payment, err := t.Fail(ctx, payments.ProviderWave, session.ID, session.ClientReference, models.PaymentStatusFailed, raw)
		return payment.Status, err
	default:
		return models.PaymentStatusPending, nil
	}
}

func withOrder(base, orderID string) string {
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	q.Set("order", orderID)
	u.RawQuery = q.Encode()
	return u.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
