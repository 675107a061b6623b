package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"foire/backend/internal/models"
	"foire/backend/internal/ticketing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// Ping is used by the readiness check.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// UpsertEvent creates or renames an event by slug. A non-nil Prices replaces
// the event's price list.
func (r *Repository) UpsertEvent(ctx context.Context, event models.Event) (models.Event, error) {
	var out models.Event
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		out, err = scanEvent(tx.QueryRow(ctx, `
INSERT INTO events (slug, title, starts_at)
VALUES ($1, $2, $3)
ON CONFLICT (slug) DO UPDATE SET
	title = EXCLUDED.title,
	starts_at = EXCLUDED.starts_at
RETURNING id::text, slug, title, starts_at, created_at;`,
			strings.TrimSpace(event.Slug), strings.TrimSpace(event.Title), event.StartsAt))
		if err != nil {
			return err
		}
		if event.Prices == nil {
			out.Prices, err = loadPrices(ctx, tx, out.ID)
			return err
		}
		types := make([]string, 0, len(event.Prices))
		for ticketType, price := range event.Prices {
			types = append(types, ticketType)
			if _, err := tx.Exec(ctx, `
INSERT INTO event_ticket_types (event_id, ticket_type, unit_price)
VALUES ($1::uuid, $2, $3)
ON CONFLICT (event_id, ticket_type) DO UPDATE SET unit_price = EXCLUDED.unit_price;`, out.ID, ticketType, price); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `
DELETE FROM event_ticket_types
WHERE event_id = $1::uuid
	AND NOT (ticket_type = ANY($2));`, out.ID, types); err != nil {
			return err
		}
		out.Prices, err = loadPrices(ctx, tx, out.ID)
		return err
	})
	if err != nil {
		return models.Event{}, err
	}
	return out, nil
}

func (r *Repository) GetEventBySlug(ctx context.Context, slug string) (models.Event, error) {
	row := r.pool.QueryRow(ctx, `
SELECT id::text, slug, title, starts_at, created_at
FROM events
WHERE slug = $1;`, strings.TrimSpace(slug))
	out, err := scanEvent(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Event{}, ticketing.ErrEventNotFound
	}
	if err != nil {
		return models.Event{}, err
	}
	out.Prices, err = loadPrices(ctx, r.pool, out.ID)
	return out, err
}

// TicketPrices returns the unit price of every ticket type on sale for an
// event.
func (r *Repository) TicketPrices(ctx context.Context, eventSlug string) (map[string]int64, error) {
	event, err := r.GetEventBySlug(ctx, eventSlug)
	if err != nil {
		return nil, err
	}
	return event.Prices, nil
}

type querier interface {
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

func loadPrices(ctx context.Context, q querier, eventID string) (map[string]int64, error) {
	rows, err := q.Query(ctx, `
SELECT ticket_type, unit_price
FROM event_ticket_types
WHERE event_id = $1::uuid;`, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	prices := map[string]int64{}
	for rows.Next() {
		var ticketType string
		var price int64
		if err := rows.Scan(&ticketType, &price); err != nil {
			return nil, err
		}
		prices[ticketType] = price
	}
	return prices, rows.Err()
}

func scanEvent(row pgx.Row) (models.Event, error) {
	var out models.Event
	var startsAt sql.NullTime
	if err := row.Scan(&out.ID, &out.Slug, &out.Title, &startsAt, &out.CreatedAt); err != nil {
		return out, err
	}
	out.StartsAt = nullTimeToPtr(startsAt)
	return out, nil
}

func nullString(value string) interface{} {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return strings.TrimSpace(value)
}

func nullTimeToPtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	v := value.Time
	return &v
}

func encodeJSONMap(input map[string]interface{}) string {
	if len(input) == 0 {
		return "{}"
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return "{}"
	}
	return string(raw)
}

func decodeJSONMap(raw []byte) map[string]interface{} {
	if len(raw) == 0 {
		return map[string]interface{}{}
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]interface{}{}
	}
	return out
}
