package payments

import (
	"context"
	"errors"
	"time"

	"foire/backend/internal/models"
)

var (
	ErrProviderNotConfigured  = errors.New("payment provider not configured")
	ErrInitiationFailed       = errors.New("payment initiation failed")
	ErrInitiationInProgress   = errors.New("payment initiation already in progress")
	ErrPaymentNotFound        = errors.New("payment not found")
	ErrPaymentStateNotAllowed = errors.New("payment state transition not allowed")
	ErrAmountMismatch         = errors.New("confirmed amount does not match payment")
)

const (
	StatusPending = models.PaymentStatusPending
	StatusPaid    = models.PaymentStatusPaid
)

// Adapter initiates a payment with one provider. Adapters return an error
// wrapping ErrInitiationFailed when the provider answers non-2xx; transport
// errors are returned as is.
type Adapter interface {
	Provider() Provider
	Initiate(ctx context.Context, intent Intent) (Result, error)
}

// Result is the provider-neutral answer to an initiation.
type Result struct {
	Provider     Provider       `json:"provider"`
	SessionID    string         `json:"sessionId"`
	RedirectURL  string         `json:"redirectUrl,omitempty"`
	Status       string         `json:"status"`
	Instructions string         `json:"instructions,omitempty"`
	NotifToken   string         `json:"-"`
	Raw          map[string]any `json:"-"`
}

// Recorder persists payment rows. ConfirmPayment and MarkPaymentStatus only
// move a pending payment and report whether they did.
type Recorder interface {
	OrderState(ctx context.Context, orderID string) (OrderState, error)
	RecordInitiated(ctx context.Context, payment models.Payment) (models.Payment, error)
	GetPaymentBySession(ctx context.Context, provider, sessionID string) (models.Payment, error)
	GetPaymentByOrder(ctx context.Context, provider, orderID string) (models.Payment, error)
	ConfirmPayment(ctx context.Context, paymentID string, paidAt time.Time, raw map[string]any) (bool, error)
	MarkPaymentStatus(ctx context.Context, paymentID, status string, raw map[string]any) (bool, error)
}

// OrderState summarizes the tickets and payments already stored for an order.
// Tickets is zero when the order has no ticket rows.
type OrderState struct {
	Total   int64
	Tickets int
	Paid    bool
}

// IdempotencyStore keeps one lock-or-result entry per key.
type IdempotencyStore interface {
	GetResult(ctx context.Context, key string) (string, bool, error)
	AcquireLock(ctx context.Context, key string, lockTTL time.Duration) (bool, error)
	SaveResult(ctx context.Context, key, payload string) error
	Release(ctx context.Context, key string) error
}
