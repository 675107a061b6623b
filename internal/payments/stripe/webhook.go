package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"

	"foire/backend/internal/models"
	"foire/backend/internal/payments"
)

const SignatureHeader = "Stripe-Signature"

var ErrWebhookSecretMissing = errors.New("stripe webhook secret not configured")

// ConstructEvent verifies the Stripe-Signature header and decodes the event.
// An empty secret rejects every event.
func ConstructEvent(secret string, body []byte, header string) (stripe.Event, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return stripe.Event{}, ErrWebhookSecretMissing
	}
	return webhook.ConstructEventWithOptions(body, header, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
}

type Transitioner interface {
	Confirm(ctx context.Context, c payments.Confirmation) (models.Payment, error)
	Fail(ctx context.Context, provider payments.Provider, sessionID, orderID, status string, raw map[string]any) (models.Payment, error)
}

// Apply performs the transition a verified checkout event calls for. Events
// that do not concern checkout sessions are ignored and report "".
func Apply(ctx context.Context, t Transitioner, evt stripe.Event) (string, error) {
	eventType := string(evt.Type)
	if !strings.HasPrefix(eventType, "checkout.session.") {
		return "", nil
	}
	if evt.Data == nil {
		return "", fmt.Errorf("stripe event %s has no data", evt.ID)
	}
	var session stripe.CheckoutSession
	if err := json.Unmarshal(evt.Data.Raw, &session); err != nil {
		return "", fmt.Errorf("decode stripe checkout session: %w", err)
	}
	raw := map[string]any{
		"event_id":       evt.ID,
		"event_type":     eventType,
		"payment_status": string(session.PaymentStatus),
	}

	switch eventType {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			return models.PaymentStatusPending, nil
		}
		amount := FromStripeAmount(session.AmountTotal, string(session.Currency))
		payment, err := t.Confirm(ctx, payments.Confirmation{
			Provider:  payments.ProviderStripe,
			SessionID: session.ID,
			OrderID:   session.ClientReferenceID,
			Amount:    &amount,
			Raw:       raw,
		})
		return payment.Status, err
	case "checkout.session.async_payment_failed":
		payment, err := t.Fail(ctx, payments.ProviderStripe, session.ID, session.ClientReferenceID, models.PaymentStatusFailed, raw)
		return payment.Status, err
	case "checkout.session.expired":
		payment, err := t.Fail(ctx, payments.ProviderStripe, session.ID, session.ClientReferenceID, models.PaymentStatusCanceled, raw)
		return payment.Status, err
	default:
		return "", nil
	}
}
