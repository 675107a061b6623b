package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"foire/backend/internal/models"
	"foire/backend/internal/ticketing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const ticketColumns = `
	t.id::text,
	e.id::text,
	e.slug,
	e.title,
	t.order_id,
	t.buyer_name,
	t.buyer_email,
	t.buyer_phone,
	t.ticket_type,
	t.quantity,
	t.total_price,
	t.payment_status,
	t.qr_code,
	t.qr_image_url,
	t.used,
	t.used_at,
	t.created_at`

// CreateTickets inserts pending tickets for one order in a single
// transaction. All params must share the event and order. A transaction-scoped
// advisory lock on the order id serializes concurrent purchases of one order.
func (r *Repository) CreateTickets(ctx context.Context, params []models.CreateTicketsParams) ([]models.Ticket, error) {
	if len(params) == 0 {
		return nil, nil
	}
	out := make([]models.Ticket, 0, len(params))
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var eventID string
		if err := tx.QueryRow(ctx, `SELECT id::text FROM events WHERE slug = $1`, params[0].EventSlug).Scan(&eventID); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return ticketing.ErrEventNotFound
			}
			return err
		}

		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, params[0].OrderID); err != nil {
			return err
		}
		var existing int
		if err := tx.QueryRow(ctx, `SELECT count(*) FROM tickets WHERE order_id = $1`, params[0].OrderID).Scan(&existing); err != nil {
			return err
		}
		if existing > 0 {
			return ticketing.ErrOrderExists
		}

		for _, p := range params {
			var id string
			if err := tx.QueryRow(ctx, `
INSERT INTO tickets (event_id, order_id, buyer_name, buyer_email, buyer_phone, ticket_type, quantity, total_price, payment_status)
VALUES ($1::uuid, $2, $3, $4, $5, $6, $7, $8, $9)
RETURNING id::text;`,
				eventID,
				p.OrderID,
				p.BuyerName,
				nullString(p.BuyerEmail),
				nullString(p.BuyerPhone),
				p.TicketType,
				p.Quantity,
				int64(p.Quantity)*p.UnitPrice,
				models.PaymentStatusPending,
			).Scan(&id); err != nil {
				return err
			}
			ticket, err := scanTicket(tx.QueryRow(ctx, `
SELECT`+ticketColumns+`
FROM tickets t
JOIN events e ON e.id = t.event_id
WHERE t.id = $1::uuid;`, id))
			if err != nil {
				return err
			}
			out = append(out, ticket)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repository) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	id, ok := parseUUID(ticketID)
	if !ok {
		return models.Ticket{}, ticketing.ErrTicketNotFound
	}
	ticket, err := scanTicket(r.pool.QueryRow(ctx, `
SELECT`+ticketColumns+`
FROM tickets t
JOIN events e ON e.id = t.event_id
WHERE t.id = $1::uuid;`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, ticketing.ErrTicketNotFound
	}
	return ticket, err
}

func (r *Repository) ListTicketsByOrder(ctx context.Context, orderID string) ([]models.Ticket, error) {
	rows, err := r.pool.Query(ctx, `
SELECT`+ticketColumns+`
FROM tickets t
JOIN events e ON e.id = t.event_id
WHERE t.order_id = $1
ORDER BY t.created_at, t.id;`, strings.TrimSpace(orderID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ticket)
	}
	return out, rows.Err()
}

// FindTicketByQR resolves a payload within one event.
func (r *Repository) FindTicketByQR(ctx context.Context, qrCode, eventSlug string) (models.Ticket, error) {
	ticket, err := scanTicket(r.pool.QueryRow(ctx, `
SELECT`+ticketColumns+`
FROM tickets t
JOIN events e ON e.id = t.event_id
WHERE t.qr_code = $1
	AND e.slug = $2;`, strings.TrimSpace(qrCode), strings.TrimSpace(eventSlug)))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, ticketing.ErrTicketNotFound
	}
	return ticket, err
}

// MarkTicketUsed flips used only on an unused paid ticket. false means
// another scan got there first or the ticket is not admissible.
func (r *Repository) MarkTicketUsed(ctx context.Context, ticketID string, at time.Time) (bool, error) {
	id, ok := parseUUID(ticketID)
	if !ok {
		return false, nil
	}
	cmd, err := r.pool.Exec(ctx, `
UPDATE tickets
SET used = true,
	used_at = $2
WHERE id = $1::uuid
	AND used = false
	AND payment_status = $3;`, id, at.UTC(), models.PaymentStatusPaid)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

// SetTicketQRCode stores the payload once and returns the row as stored.
func (r *Repository) SetTicketQRCode(ctx context.Context, ticketID, qrCode string) (models.Ticket, error) {
	id, ok := parseUUID(ticketID)
	if !ok {
		return models.Ticket{}, ticketing.ErrTicketNotFound
	}
	if _, err := r.pool.Exec(ctx, `
UPDATE tickets
SET qr_code = $2
WHERE id = $1::uuid
	AND qr_code IS NULL
	AND payment_status = $3;`, id, strings.TrimSpace(qrCode), models.PaymentStatusPaid); err != nil {
		return models.Ticket{}, err
	}
	return r.GetTicket(ctx, id)
}

func (r *Repository) SetTicketQRImageURL(ctx context.Context, ticketID, imageURL string) error {
	id, ok := parseUUID(ticketID)
	if !ok {
		return ticketing.ErrTicketNotFound
	}
	cmd, err := r.pool.Exec(ctx, `
UPDATE tickets
SET qr_image_url = $2
WHERE id = $1::uuid;`, id, strings.TrimSpace(imageURL))
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return ticketing.ErrTicketNotFound
	}
	return nil
}

func (r *Repository) ListEventStatsRows(ctx context.Context, eventSlug string) ([]ticketing.StatsRow, error) {
	if _, err := r.GetEventBySlug(ctx, eventSlug); err != nil {
		return nil, err
	}
	rows, err := r.pool.Query(ctx, `
SELECT t.ticket_type, t.payment_status, t.quantity, t.total_price, t.used
FROM tickets t
JOIN events e ON e.id = t.event_id
WHERE e.slug = $1;`, strings.TrimSpace(eventSlug))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ticketing.StatsRow
	for rows.Next() {
		var row ticketing.StatsRow
		if err := rows.Scan(&row.TicketType, &row.PaymentStatus, &row.Quantity, &row.TotalPrice, &row.Used); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var out models.Ticket
	var eventTitle sql.NullString
	var buyerEmail sql.NullString
	var buyerPhone sql.NullString
	var qrCode sql.NullString
	var qrImageURL sql.NullString
	var usedAt sql.NullTime
	if err := row.Scan(
		&out.ID,
		&out.EventID,
		&out.EventSlug,
		&eventTitle,
		&out.OrderID,
		&out.BuyerName,
		&buyerEmail,
		&buyerPhone,
		&out.TicketType,
		&out.Quantity,
		&out.TotalPrice,
		&out.PaymentStatus,
		&qrCode,
		&qrImageURL,
		&out.Used,
		&usedAt,
		&out.CreatedAt,
	); err != nil {
		return out, err
	}
	out.EventTitle = eventTitle.String
	out.BuyerEmail = buyerEmail.String
	out.BuyerPhone = buyerPhone.String
	out.QRCode = qrCode.String
	out.QRImageURL = qrImageURL.String
	out.UsedAt = nullTimeToPtr(usedAt)
	return out, nil
}

func parseUUID(raw string) (string, bool) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", false
	}
	return id.String(), true
}
