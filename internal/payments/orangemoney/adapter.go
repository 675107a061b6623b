package orangemoney

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"foire/backend/internal/models"
	"foire/backend/internal/payments"
)

type AdapterConfig struct {
	NotifyURL string
	ReturnURL string
	CancelURL string
	// Currency overrides the intent currency; the sandbox only accepts OUV.
	Currency string
	Locale   string
}

type Adapter struct {
	client *Client
	cfg    AdapterConfig
}

func NewAdapter(client *Client, cfg AdapterConfig) *Adapter {
	return &Adapter{client: client, cfg: cfg}
}

func (a *Adapter) Provider() payments.Provider {
	return payments.ProviderOrangeMoney
}

func (a *Adapter) Initiate(ctx context.Context, intent payments.Intent) (payments.Result, error) {
	notifyURL := NotifyURLForOrder(a.cfg.NotifyURL, intent.OrderID)
	if notifyURL == "" {
		return payments.Result{}, fmt.Errorf("%w: orange money notify url missing", payments.ErrProviderNotConfigured)
	}
	currency := intent.Currency
	if a.cfg.Currency != "" {
		currency = a.cfg.Currency
	}
	lang := intent.Locale
	if lang == "" {
		lang = a.cfg.Locale
	}
	returnURL := intent.ReturnURL
	if returnURL == "" {
		returnURL = a.cfg.ReturnURL
	}
	cancelURL := intent.CancelURL
	if cancelURL == "" {
		cancelURL = firstNonEmpty(a.cfg.CancelURL, returnURL)
	}

	wp, raw, err := a.client.CreateWebPayment(ctx, WebPaymentRequest{
		Currency:  currency,
		OrderID:   intent.Reference(),
		Amount:    intent.Amount,
		ReturnURL: returnURL,
		CancelURL: cancelURL,
		NotifURL:  notifyURL,
		Lang:      strings.ToLower(lang),
		Reference: intent.Customer.Name,
	})
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return payments.Result{}, fmt.Errorf("%w: %w", payments.ErrInitiationFailed, apiErr)
		}
		return payments.Result{}, err
	}
	return payments.Result{
		Provider:    payments.ProviderOrangeMoney,
		SessionID:   wp.PayToken,
		RedirectURL: wp.PaymentURL,
		Status:      payments.StatusPending,
		NotifToken:  wp.NotifToken,
		Raw:         map[string]any{"orange_money": string(raw)},
	}, nil
}

// NotifyURLForOrder carries the order id in the notification URL since the
// notification body does not include it.
func NotifyURLForOrder(base, orderID string) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return ""
	}
	u, err := url.Parse(base)
	if err != nil {
		return ""
	}
	q := u.Query()
	q.Set("order", orderID)
	u.RawQuery = q.Encode()
	return u.String()
}

type Transitioner interface {
	Confirm(ctx context.Context, c payments.Confirmation) (models.Payment, error)
	Fail(ctx context.Context, provider payments.Provider, sessionID, orderID, status string, raw map[string]any) (models.Payment, error)
}

// Apply verifies a notification against the stored payment and performs the
// matching transition. Unknown statuses leave the payment pending.
func Apply(ctx context.Context, t Transitioner, payment models.Payment, n Notification) (string, error) {
	if err := VerifyNotification(payment.NotifToken, n.NotifToken); err != nil {
		return "", err
	}
	raw := map[string]any{"status": n.Status, "txnid": n.TxnID}
	switch strings.ToUpper(strings.TrimSpace(n.Status)) {
	case NotificationSuccess:
		updated, err := t.Confirm(ctx, payments.Confirmation{
			Provider:      payments.ProviderOrangeMoney,
			SessionID:     payment.ProviderSessionID,
			OrderID:       payment.OrderID,
			TransactionID: n.TxnID,
			Raw:           raw,
		})
		return updated.Status, err
	case NotificationFailed:
		updated, err := t.Fail(ctx, payments.ProviderOrangeMoney, payment.ProviderSessionID, payment.OrderID, models.PaymentStatusFailed, raw)
		return updated.Status, err
	default:
		return payment.Status, nil
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
