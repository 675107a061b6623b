package ticketing

import "foire/backend/internal/models"

// StatsRow is one ticket as seen by the admission dashboard.
type StatsRow struct {
	TicketType    string
	PaymentStatus string
	Quantity      int64
	TotalPrice    int64
	Used          bool
}

// TypeStats counts admissions for one ticket type.
type TypeStats struct {
	Sold     int64 `json:"sold"`
	Admitted int64 `json:"admitted"`
	Revenue  int64 `json:"revenue"`
}

// EventStats summarizes sales and gate admissions for an event.
type EventStats struct {
	EventSlug      string               `json:"eventSlug"`
	PendingTickets int64                `json:"pendingTickets"`
	SoldTickets    int64                `json:"soldTickets"`
	Admitted       int64                `json:"admitted"`
	Revenue        int64                `json:"revenue"`
	ByType         map[string]TypeStats `json:"byType"`
}

// AggregateStats folds ticket rows into event totals. Only paid tickets count
// as sold; admissions are weighted by ticket quantity.
func AggregateStats(eventSlug string, rows []StatsRow) EventStats {
	out := EventStats{EventSlug: eventSlug, ByType: map[string]TypeStats{}}
	for _, row := range rows {
		if row.Quantity <= 0 {
			continue
		}
		if row.PaymentStatus != models.PaymentStatusPaid {
			out.PendingTickets += row.Quantity
			continue
		}
		bucket := out.ByType[row.TicketType]
		bucket.Sold += row.Quantity
		bucket.Revenue += row.TotalPrice
		out.SoldTickets += row.Quantity
		out.Revenue += row.TotalPrice
		if row.Used {
			bucket.Admitted += row.Quantity
			out.Admitted += row.Quantity
		}
		out.ByType[row.TicketType] = bucket
	}
	return out
}
