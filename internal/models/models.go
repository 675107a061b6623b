package models

import "time"

// Event is the scope a ticket is valid for. Scanners address it by slug.
// Prices holds the unit price of each ticket type on sale.
type Event struct {
	ID        string           `json:"id"`
	Slug      string           `json:"slug"`
	Title     string           `json:"title"`
	StartsAt  *time.Time       `json:"startsAt,omitempty"`
	Prices    map[string]int64 `json:"prices,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}
