package stripe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"

	"foire/backend/internal/payments"
)

// zeroDecimal lists currencies Stripe charges in whole units.
var zeroDecimal = map[string]struct{}{
	"BIF": {}, "CLP": {}, "DJF": {}, "GNF": {}, "JPY": {}, "KMF": {}, "KRW": {},
	"MGA": {}, "PYG": {}, "RWF": {}, "UGX": {}, "VND": {}, "VUV": {}, "XAF": {},
	"XOF": {}, "XPF": {},
}

type AdapterConfig struct {
	SuccessURL string
	CancelURL  string
}

type Adapter struct {
	api *client.API
	cfg AdapterConfig
}

// NewAdapter builds a Stripe adapter. backends may be nil to use the
// default Stripe endpoints.
func NewAdapter(secretKey string, backends *stripe.Backends, cfg AdapterConfig) *Adapter {
	return &Adapter{api: client.New(strings.TrimSpace(secretKey), backends), cfg: cfg}
}

func (a *Adapter) Provider() payments.Provider {
	return payments.ProviderStripe
}

func (a *Adapter) Initiate(ctx context.Context, intent payments.Intent) (payments.Result, error) {
	successURL := firstNonEmpty(intent.ReturnURL, a.cfg.SuccessURL)
	cancelURL := firstNonEmpty(intent.CancelURL, a.cfg.CancelURL, successURL)
	if successURL == "" {
		return payments.Result{}, fmt.Errorf("%w: stripe success url missing", payments.ErrProviderNotConfigured)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(successURL),
		CancelURL:         stripe.String(cancelURL),
		ClientReferenceID: stripe.String(intent.OrderID),
		LineItems:         lineItems(intent),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"order_id": intent.OrderID},
		},
	}
	if intent.Customer.Email != "" {
		params.CustomerEmail = stripe.String(intent.Customer.Email)
	}
	if intent.Locale != "" {
		params.Locale = stripe.String(intent.Locale)
	}
	for k, v := range intent.Metadata {
		params.AddMetadata(k, v)
	}
	params.AddMetadata("order_id", intent.OrderID)
	params.Context = ctx
	params.SetIdempotencyKey("checkout-" + intent.Reference())

	session, err := a.api.CheckoutSessions.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			return payments.Result{}, fmt.Errorf("%w: %w", payments.ErrInitiationFailed, stripeErr)
		}
		return payments.Result{}, err
	}
	return payments.Result{
		Provider:    payments.ProviderStripe,
		SessionID:   session.ID,
		RedirectURL: session.URL,
		Status:      payments.StatusPending,
		Raw: map[string]any{
			"stripe_session": session.ID,
			"amount_total":   session.AmountTotal,
			"currency":       string(session.Currency),
		},
	}, nil
}

// lineItems sends one aggregate line so the charged total always equals the
// intent amount, whatever the item breakdown.
func lineItems(intent payments.Intent) []*stripe.CheckoutSessionLineItemParams {
	name := "Order " + intent.OrderID
	if len(intent.Items) == 1 {
		name = intent.Items[0].Name
	}
	return []*stripe.CheckoutSessionLineItemParams{{
		Quantity: stripe.Int64(1),
		PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
			Currency:   stripe.String(strings.ToLower(intent.Currency)),
			UnitAmount: stripe.Int64(ToStripeAmount(intent.Amount, intent.Currency)),
			ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
				Name: stripe.String(name),
			},
		},
	}}
}

// ToStripeAmount converts whole currency units to Stripe's smallest unit.
func ToStripeAmount(amount int64, currency string) int64 {
	if _, ok := zeroDecimal[strings.ToUpper(currency)]; ok {
		return amount
	}
	return decimal.NewFromInt(amount).Shift(2).IntPart()
}

// FromStripeAmount is the inverse of ToStripeAmount.
func FromStripeAmount(amount int64, currency string) int64 {
	if _, ok := zeroDecimal[strings.ToUpper(currency)]; ok {
		return amount
	}
	return decimal.NewFromInt(amount).Shift(-2).IntPart()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
