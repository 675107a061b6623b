package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"foire/backend/internal/metrics"
	"foire/backend/internal/models"
	"foire/backend/internal/payments"
	"foire/backend/internal/payments/wave"
)

type pendingLister interface {
	ListPendingPayments(ctx context.Context, provider string, olderThan time.Time, limit int) ([]models.Payment, error)
	NoteReconcileAttempt(ctx context.Context, paymentID string, at time.Time) (int, error)
}

type sessionFetcher interface {
	GetCheckoutSession(ctx context.Context, sessionID string) (wave.CheckoutSession, []byte, error)
}

// reconciler polls Wave for payments whose webhook never arrived.
// maxAttempts bounds how many passes a payment whose session Wave does not
// know stays pending; zero keeps it pending forever.
type reconciler struct {
	store       pendingLister
	sessions    sessionFetcher
	apply       wave.Transitioner
	metrics     *metrics.Metrics
	logger      *slog.Logger
	minAge      time.Duration
	batch       int
	maxAttempts int
	now         func() time.Time
}

type reconcileSummary struct {
	Checked   int
	Settled   int
	NotFound  int
	Abandoned int
	Errors    int
}

// runOnce looks up a batch of pending Wave payments older than minAge, least
// recently checked first. A failed lookup is logged and left pending for a
// later pass.
func (r *reconciler) runOnce(ctx context.Context) (reconcileSummary, error) {
	var summary reconcileSummary
	pending, err := r.store.ListPendingPayments(ctx, payments.ProviderWave.String(), r.now().Add(-r.minAge), r.batch)
	if err != nil {
		return summary, err
	}
	for _, p := range pending {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		summary.Checked++
		attempts, err := r.store.NoteReconcileAttempt(ctx, p.ID, r.now())
		if err != nil {
			summary.Errors++
			r.metrics.Reconciled(payments.ProviderWave.String(), "error")
			r.logger.Error("reconcile_payment", "status", "note_failed", "payment_id", p.ID, "error", err)
			continue
		}
		session, _, err := r.sessions.GetCheckoutSession(ctx, p.ProviderSessionID)
		if err != nil {
			var apiErr *wave.APIError
			if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
				if r.maxAttempts > 0 && attempts >= r.maxAttempts {
					r.abandon(ctx, p, attempts, &summary)
					continue
				}
				summary.NotFound++
				r.metrics.Reconciled(payments.ProviderWave.String(), "not_found")
				r.logger.Warn("reconcile_payment", "status", "session_not_found", "payment_id", p.ID, "session_id", p.ProviderSessionID, "attempts", attempts)
				continue
			}
			summary.Errors++
			r.metrics.Reconciled(payments.ProviderWave.String(), "error")
			r.logger.Error("reconcile_payment", "status", "lookup_failed", "payment_id", p.ID, "error", err)
			continue
		}
		status, err := wave.Apply(ctx, r.apply, session, "")
		if err != nil {
			summary.Errors++
			r.metrics.Reconciled(payments.ProviderWave.String(), "error")
			r.logger.Error("reconcile_payment", "status", "apply_failed", "payment_id", p.ID, "session_id", session.ID, "error", err)
			continue
		}
		if status != models.PaymentStatusPending {
			summary.Settled++
		}
		r.metrics.Reconciled(payments.ProviderWave.String(), status)
		r.logger.Info("reconcile_payment", "status", status, "payment_id", p.ID, "order_id", p.OrderID)
	}
	return summary, nil
}

// abandon fails a payment whose session Wave never knew after maxAttempts
// passes.
func (r *reconciler) abandon(ctx context.Context, p models.Payment, attempts int, summary *reconcileSummary) {
	raw := map[string]any{"reason": "session_not_found", "reconcile_attempts": attempts}
	if _, err := r.apply.Fail(ctx, payments.ProviderWave, p.ProviderSessionID, p.OrderID, models.PaymentStatusFailed, raw); err != nil {
		summary.Errors++
		r.metrics.Reconciled(payments.ProviderWave.String(), "error")
		r.logger.Error("reconcile_payment", "status", "abandon_failed", "payment_id", p.ID, "error", err)
		return
	}
	summary.Abandoned++
	r.metrics.Reconciled(payments.ProviderWave.String(), "abandoned")
	r.logger.Warn("reconcile_payment", "status", "abandoned", "payment_id", p.ID, "order_id", p.OrderID, "attempts", attempts)
}

// run repeats runOnce every interval until ctx is done.
func (r *reconciler) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		summary, err := r.runOnce(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			r.logger.Error("reconcile_pass", "status", "failed", "error", err)
		case summary.Checked > 0:
			r.logger.Info("reconcile_pass", "checked", summary.Checked, "settled", summary.Settled, "not_found", summary.NotFound, "abandoned", summary.Abandoned, "errors", summary.Errors)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
