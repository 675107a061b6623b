package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"foire/backend/internal/idempotency"
	"foire/backend/internal/metrics"
	"foire/backend/internal/models"
)

type Dispatcher struct {
	adapters map[Provider]Adapter
	recorder Recorder
	idem     IdempotencyStore
	lockTTL  time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

type DispatcherOptions struct {
	Idempotency IdempotencyStore
	LockTTL     time.Duration
	Metrics     *metrics.Metrics
	Logger      *slog.Logger
}

// NewDispatcher registers adapters by provider. A provider without an adapter
// is reported as not configured.
func NewDispatcher(recorder Recorder, adapters []Adapter, opts DispatcherOptions) *Dispatcher {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	lockTTL := opts.LockTTL
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	d := &Dispatcher{
		adapters: make(map[Provider]Adapter, len(adapters)),
		recorder: recorder,
		idem:     opts.Idempotency,
		lockTTL:  lockTTL,
		metrics:  opts.Metrics,
		logger:   logger,
		now:      time.Now,
	}
	for _, adapter := range adapters {
		if adapter == nil {
			continue
		}
		d.adapters[adapter.Provider()] = adapter
	}
	return d
}

func (d *Dispatcher) Configured(provider Provider) bool {
	_, ok := d.adapters[provider]
	return ok
}

// Initiate validates the intent, calls the provider once per order attempt and
// records a pending payment. Nothing is written before the provider answers,
// and an order already paid through any provider is refused up front.
func (d *Dispatcher) Initiate(ctx context.Context, intent Intent) (Result, error) {
	intent.Normalize()
	if err := intent.Validate(); err != nil {
		d.metrics.PaymentInitiation(intent.Provider.String(), "rejected")
		return Result{}, err
	}
	adapter, ok := d.adapters[intent.Provider]
	if !ok {
		d.metrics.PaymentInitiation(intent.Provider.String(), "not_configured")
		return Result{}, fmt.Errorf("%w: %s", ErrProviderNotConfigured, intent.Provider)
	}

	state, err := d.recorder.OrderState(ctx, intent.OrderID)
	if err != nil {
		return Result{}, err
	}
	if state.Paid {
		d.metrics.PaymentInitiation(intent.Provider.String(), "already_paid")
		return Result{}, fmt.Errorf("%w: order %s is already paid", ErrPaymentStateNotAllowed, intent.OrderID)
	}
	if state.Tickets > 0 && state.Total != intent.Amount {
		d.metrics.PaymentInitiation(intent.Provider.String(), "rejected")
		return Result{}, &ValidationError{Field: "amount", Reason: fmt.Sprintf("order total is %d", state.Total)}
	}

	attempt, err := d.nextAttempt(ctx, intent.Provider, intent.OrderID)
	if err != nil {
		if errors.Is(err, ErrPaymentStateNotAllowed) {
			d.metrics.PaymentInitiation(intent.Provider.String(), "already_paid")
		}
		return Result{}, err
	}
	intent.Attempt = attempt

	key := paymentKey(intent.Provider, intent.OrderID, attempt)
	if d.idem != nil {
		if cached, ok, err := d.cachedResult(ctx, key); err != nil {
			return Result{}, err
		} else if ok {
			d.metrics.PaymentInitiation(intent.Provider.String(), "replayed")
			return cached, nil
		}
		acquired, err := d.idem.AcquireLock(ctx, key, d.lockTTL)
		if err != nil {
			return Result{}, fmt.Errorf("acquire payment lock: %w", err)
		}
		if !acquired {
			d.metrics.PaymentInitiation(intent.Provider.String(), "in_progress")
			return Result{}, ErrInitiationInProgress
		}
	}

	result, err := adapter.Initiate(ctx, intent)
	if err != nil {
		d.release(key)
		d.metrics.PaymentInitiation(intent.Provider.String(), "failed")
		d.logger.Error("initiate_payment", "status", "provider_error", "provider", intent.Provider, "order_id", intent.OrderID, "error", err)
		return Result{}, err
	}
	result.Provider = intent.Provider
	if result.Status == "" {
		result.Status = StatusPending
	}

	if _, err := d.recorder.RecordInitiated(ctx, models.Payment{
		OrderID:           intent.OrderID,
		Provider:          intent.Provider.String(),
		ProviderSessionID: result.SessionID,
		Attempt:           attempt,
		Amount:            intent.Amount,
		Currency:          intent.Currency,
		Status:            StatusPending,
		CheckoutURL:       result.RedirectURL,
		NotifToken:        result.NotifToken,
		RawResponseJSON:   result.Raw,
	}); err != nil {
		d.release(key)
		d.logger.Error("initiate_payment", "status", "record_failed", "provider", intent.Provider, "order_id", intent.OrderID, "session_id", result.SessionID, "error", err)
		return Result{}, fmt.Errorf("record payment: %w", err)
	}

	if d.idem != nil {
		if payload, err := json.Marshal(result); err == nil {
			if err := d.idem.SaveResult(ctx, key, string(payload)); err != nil {
				d.logger.Warn("initiate_payment", "status", "idempotency_save_failed", "order_id", intent.OrderID, "error", err)
			}
		}
	}
	d.metrics.PaymentInitiation(intent.Provider.String(), "created")
	d.logger.Info("initiate_payment", "status", "created", "provider", intent.Provider, "order_id", intent.OrderID, "attempt", attempt, "session_id", result.SessionID)
	return result, nil
}

// nextAttempt numbers the checkout about to be opened for (provider, order).
// A pending row keeps its attempt so retries replay; a failed or canceled row
// is superseded by the next attempt.
func (d *Dispatcher) nextAttempt(ctx context.Context, provider Provider, orderID string) (int, error) {
	current, err := d.recorder.GetPaymentByOrder(ctx, provider.String(), orderID)
	if errors.Is(err, ErrPaymentNotFound) {
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	attempt := max(current.Attempt, 1)
	switch current.Status {
	case StatusPending:
		return attempt, nil
	case models.PaymentStatusFailed, models.PaymentStatusCanceled:
		return attempt + 1, nil
	default:
		return 0, fmt.Errorf("%w: order %s is already %s", ErrPaymentStateNotAllowed, orderID, current.Status)
	}
}

func paymentKey(provider Provider, orderID string, attempt int) string {
	return idempotency.Key("payment", provider.String(), orderID, strconv.Itoa(max(attempt, 1)))
}

func (d *Dispatcher) cachedResult(ctx context.Context, key string) (Result, bool, error) {
	payload, found, err := d.idem.GetResult(ctx, key)
	if err != nil {
		return Result{}, false, fmt.Errorf("read payment idempotency: %w", err)
	}
	if !found {
		return Result{}, false, nil
	}
	var cached Result
	if err := json.Unmarshal([]byte(payload), &cached); err != nil {
		return Result{}, false, nil
	}
	return cached, true, nil
}

func (d *Dispatcher) release(key string) {
	if d.idem == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := d.idem.Release(ctx, key); err != nil {
		d.logger.Warn("initiate_payment", "status", "idempotency_release_failed", "key", key, "error", err)
	}
}

// Confirmation is a provider-verified "paid" signal. SessionID takes
// precedence over OrderID for the lookup. Amount, when set, must match.
type Confirmation struct {
	Provider      Provider
	SessionID     string
	OrderID       string
	TransactionID string
	Amount        *int64
	Raw           map[string]any
}

// Confirm moves a pending payment and the order's tickets to paid. Confirming
// an already paid payment is a no-op.
func (d *Dispatcher) Confirm(ctx context.Context, c Confirmation) (models.Payment, error) {
	payment, err := d.lookup(ctx, c.Provider, c.SessionID, c.OrderID)
	if err != nil {
		return models.Payment{}, err
	}
	if c.Amount != nil && *c.Amount != payment.Amount {
		d.logger.Error("confirm_payment", "status", "amount_mismatch", "payment_id", payment.ID, "expected", payment.Amount, "received", *c.Amount)
		return payment, ErrAmountMismatch
	}
	switch payment.Status {
	case StatusPaid:
		return payment, nil
	case StatusPending:
	default:
		return payment, fmt.Errorf("%w: %s -> %s", ErrPaymentStateNotAllowed, payment.Status, StatusPaid)
	}

	raw := c.Raw
	if c.TransactionID != "" {
		if raw == nil {
			raw = map[string]any{}
		}
		raw["transaction_id"] = c.TransactionID
	}
	paidAt := d.now().UTC()
	moved, err := d.recorder.ConfirmPayment(ctx, payment.ID, paidAt, raw)
	if err != nil {
		return payment, err
	}
	if !moved {
		current, err := d.lookup(ctx, c.Provider, c.SessionID, c.OrderID)
		if err != nil {
			return payment, err
		}
		if current.Status == StatusPaid {
			return current, nil
		}
		return current, fmt.Errorf("%w: %s -> %s", ErrPaymentStateNotAllowed, current.Status, StatusPaid)
	}

	payment.Status = StatusPaid
	payment.PaidAt = &paidAt
	d.metrics.PaymentTransition(c.Provider.String(), StatusPaid)
	d.logger.Info("confirm_payment", "status", "paid", "provider", c.Provider, "payment_id", payment.ID, "order_id", payment.OrderID)
	return payment, nil
}

// Fail records a provider-reported failure or cancellation of a pending
// payment. A paid payment is never moved back.
func (d *Dispatcher) Fail(ctx context.Context, provider Provider, sessionID, orderID, status string, raw map[string]any) (models.Payment, error) {
	if status != models.PaymentStatusFailed && status != models.PaymentStatusCanceled {
		return models.Payment{}, fmt.Errorf("%w: unsupported status %q", ErrPaymentStateNotAllowed, status)
	}
	payment, err := d.lookup(ctx, provider, sessionID, orderID)
	if err != nil {
		return models.Payment{}, err
	}
	if payment.Status == status {
		return payment, nil
	}
	if payment.Status != StatusPending {
		return payment, fmt.Errorf("%w: %s -> %s", ErrPaymentStateNotAllowed, payment.Status, status)
	}
	moved, err := d.recorder.MarkPaymentStatus(ctx, payment.ID, status, raw)
	if err != nil {
		return payment, err
	}
	if !moved {
		return payment, fmt.Errorf("%w: payment changed concurrently", ErrPaymentStateNotAllowed)
	}
	payment.Status = status
	d.release(paymentKey(provider, payment.OrderID, payment.Attempt))
	d.metrics.PaymentTransition(provider.String(), status)
	d.logger.Info("fail_payment", "status", status, "provider", provider, "payment_id", payment.ID, "order_id", payment.OrderID)
	return payment, nil
}

func (d *Dispatcher) lookup(ctx context.Context, provider Provider, sessionID, orderID string) (models.Payment, error) {
	sessionID = strings.TrimSpace(sessionID)
	orderID = strings.TrimSpace(orderID)
	switch {
	case sessionID != "":
		return d.recorder.GetPaymentBySession(ctx, provider.String(), sessionID)
	case orderID != "":
		return d.recorder.GetPaymentByOrder(ctx, provider.String(), orderID)
	default:
		return models.Payment{}, ErrPaymentNotFound
	}
}

// IsProviderFailure reports whether err came from a non-2xx provider answer.
func IsProviderFailure(err error) bool {
	return errors.Is(err, ErrInitiationFailed)
}
