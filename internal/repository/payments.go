package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"foire/backend/internal/models"
	"foire/backend/internal/payments"

	"github.com/jackc/pgx/v5"
)

const paymentColumns = `
	id::text,
	order_id,
	provider,
	provider_session_id,
	attempt,
	amount,
	currency,
	status,
	checkout_url,
	notif_token,
	raw_response,
	paid_at,
	reconcile_attempts,
	reconciled_at,
	created_at,
	updated_at`

// OrderState sums the ticket prices of an order and reports whether any
// ticket or payment of it is already paid.
func (r *Repository) OrderState(ctx context.Context, orderID string) (payments.OrderState, error) {
	var out payments.OrderState
	err := r.pool.QueryRow(ctx, `
SELECT
	coalesce(sum(t.total_price), 0),
	count(t.id),
	coalesce(bool_or(t.payment_status = $2), false)
		OR EXISTS (SELECT 1 FROM payments p WHERE p.order_id = $1 AND p.status = $2)
FROM tickets t
WHERE t.order_id = $1;`, strings.TrimSpace(orderID), models.PaymentStatusPaid).Scan(&out.Total, &out.Tickets, &out.Paid)
	return out, err
}

// RecordInitiated writes the pending payment for (order, provider). A retry
// of the same attempt refreshes the session of a still pending row, and a
// later attempt reopens a failed or canceled row. A paid row is never
// overwritten.
func (r *Repository) RecordInitiated(ctx context.Context, p models.Payment) (models.Payment, error) {
	attempt := p.Attempt
	if attempt < 1 {
		attempt = 1
	}
	out, err := scanPayment(r.pool.QueryRow(ctx, `
INSERT INTO payments (order_id, provider, provider_session_id, attempt, amount, currency, status, checkout_url, notif_token, raw_response)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb)
ON CONFLICT (order_id, provider) DO UPDATE SET
	provider_session_id = EXCLUDED.provider_session_id,
	attempt = EXCLUDED.attempt,
	amount = EXCLUDED.amount,
	currency = EXCLUDED.currency,
	status = EXCLUDED.status,
	checkout_url = EXCLUDED.checkout_url,
	notif_token = EXCLUDED.notif_token,
	raw_response = EXCLUDED.raw_response,
	paid_at = NULL,
	reconcile_attempts = 0,
	reconciled_at = NULL,
	updated_at = now()
WHERE (payments.status = 'pending' AND payments.attempt = EXCLUDED.attempt)
	OR (payments.status IN ('failed', 'canceled') AND payments.attempt < EXCLUDED.attempt)
RETURNING`+paymentColumns+`;`,
		strings.TrimSpace(p.OrderID),
		p.Provider,
		nullString(p.ProviderSessionID),
		attempt,
		p.Amount,
		p.Currency,
		models.PaymentStatusPending,
		nullString(p.CheckoutURL),
		nullString(p.NotifToken),
		encodeJSONMap(p.RawResponseJSON),
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Payment{}, payments.ErrPaymentStateNotAllowed
	}
	return out, err
}

func (r *Repository) GetPaymentBySession(ctx context.Context, provider, sessionID string) (models.Payment, error) {
	out, err := scanPayment(r.pool.QueryRow(ctx, `
SELECT`+paymentColumns+`
FROM payments
WHERE provider = $1
	AND provider_session_id = $2;`, provider, strings.TrimSpace(sessionID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Payment{}, payments.ErrPaymentNotFound
	}
	return out, err
}

func (r *Repository) GetPaymentByOrder(ctx context.Context, provider, orderID string) (models.Payment, error) {
	out, err := scanPayment(r.pool.QueryRow(ctx, `
SELECT`+paymentColumns+`
FROM payments
WHERE provider = $1
	AND order_id = $2;`, provider, strings.TrimSpace(orderID)))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Payment{}, payments.ErrPaymentNotFound
	}
	return out, err
}

// ConfirmPayment marks a pending payment paid and its order's tickets paid
// in one transaction.
func (r *Repository) ConfirmPayment(ctx context.Context, paymentID string, paidAt time.Time, raw map[string]interface{}) (bool, error) {
	moved := false
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var orderID string
		err := tx.QueryRow(ctx, `
UPDATE payments
SET status = $2,
	paid_at = $3,
	raw_response = coalesce(raw_response, '{}'::jsonb) || $4::jsonb,
	updated_at = now()
WHERE id = $1::uuid
	AND status = $5
RETURNING order_id;`, paymentID, models.PaymentStatusPaid, paidAt.UTC(), encodeJSONMap(raw), models.PaymentStatusPending).Scan(&orderID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
UPDATE tickets
SET payment_status = $2
WHERE order_id = $1
	AND payment_status = $3;`, orderID, models.PaymentStatusPaid, models.PaymentStatusPending); err != nil {
			return err
		}
		moved = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return moved, nil
}

func (r *Repository) MarkPaymentStatus(ctx context.Context, paymentID, status string, raw map[string]interface{}) (bool, error) {
	cmd, err := r.pool.Exec(ctx, `
UPDATE payments
SET status = $2,
	raw_response = coalesce(raw_response, '{}'::jsonb) || $3::jsonb,
	updated_at = now()
WHERE id = $1::uuid
	AND status = $4;`, paymentID, status, encodeJSONMap(raw), models.PaymentStatusPending)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// ListPendingPayments returns pending payments of a provider created before
// olderThan, least recently reconciled first so rows that keep failing do not
// hide the rest of the backlog.
func (r *Repository) ListPendingPayments(ctx context.Context, provider string, olderThan time.Time, limit int) ([]models.Payment, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
SELECT`+paymentColumns+`
FROM payments
WHERE provider = $1
	AND status = $2
	AND provider_session_id IS NOT NULL
	AND created_at < $3
ORDER BY reconciled_at NULLS FIRST, created_at
LIMIT $4;`, provider, models.PaymentStatusPending, olderThan.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// NoteReconcileAttempt stamps a reconciliation pass on a payment and returns
// how many passes have looked at it so far.
func (r *Repository) NoteReconcileAttempt(ctx context.Context, paymentID string, at time.Time) (int, error) {
	var attempts int
	err := r.pool.QueryRow(ctx, `
UPDATE payments
SET reconcile_attempts = reconcile_attempts + 1,
	reconciled_at = $2
WHERE id = $1::uuid
RETURNING reconcile_attempts;`, paymentID, at.UTC()).Scan(&attempts)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, payments.ErrPaymentNotFound
	}
	return attempts, err
}

func scanPayment(row pgx.Row) (models.Payment, error) {
	var out models.Payment
	var sessionID sql.NullString
	var checkoutURL sql.NullString
	var notifToken sql.NullString
	var raw []byte
	var paidAt sql.NullTime
	var reconciledAt sql.NullTime
	if err := row.Scan(
		&out.ID,
		&out.OrderID,
		&out.Provider,
		&sessionID,
		&out.Attempt,
		&out.Amount,
		&out.Currency,
		&out.Status,
		&checkoutURL,
		&notifToken,
		&raw,
		&paidAt,
		&out.ReconcileAttempts,
		&reconciledAt,
		&out.CreatedAt,
		&out.UpdatedAt,
	); err != nil {
		return out, err
	}
	out.ProviderSessionID = sessionID.String
	out.CheckoutURL = checkoutURL.String
	out.NotifToken = notifToken.String
	out.RawResponseJSON = decodeJSONMap(raw)
	out.PaidAt = nullTimeToPtr(paidAt)
	out.ReconciledAt = nullTimeToPtr(reconciledAt)
	return out, nil
}
