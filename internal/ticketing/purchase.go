package ticketing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"foire/backend/internal/models"
)

const maxTicketsPerLine = 20

var (
	ErrEventNotFound   = errors.New("event not found")
	ErrOrderExists     = errors.New("order already has tickets")
	ErrInvalidPurchase = errors.New("invalid purchase")
)

type PurchaseStore interface {
	TicketPrices(ctx context.Context, eventSlug string) (map[string]int64, error)
	CreateTickets(ctx context.Context, params []models.CreateTicketsParams) ([]models.Ticket, error)
}

// PurchaseLine asks for Quantity tickets of one type. The price is the
// event's, never the buyer's.
type PurchaseLine struct {
	TicketType string `json:"ticketType"`
	Quantity   int    `json:"quantity"`
}

type PurchaseRequest struct {
	OrderID    string
	BuyerName  string
	BuyerEmail string
	BuyerPhone string
	Lines      []PurchaseLine
}

// Order groups the pending tickets created by one purchase.
type Order struct {
	OrderID string          `json:"orderId"`
	Total   int64           `json:"total"`
	Tickets []models.Ticket `json:"tickets"`
}

type Purchaser struct {
	store PurchaseStore
}

func NewPurchaser(store PurchaseStore) *Purchaser {
	return &Purchaser{store: store}
}

// Purchase prices each line from the event's price list and creates pending
// tickets, one row per line. They become paid only through a
// provider-confirmed payment for the same order.
func (p *Purchaser) Purchase(ctx context.Context, eventSlug string, req PurchaseRequest) (Order, error) {
	eventSlug = strings.TrimSpace(eventSlug)
	if eventSlug == "" {
		return Order{}, fmt.Errorf("%w: event slug is required", ErrInvalidPurchase)
	}
	buyer := strings.TrimSpace(req.BuyerName)
	if buyer == "" {
		return Order{}, fmt.Errorf("%w: buyer name is required", ErrInvalidPurchase)
	}
	if len(req.Lines) == 0 {
		return Order{}, fmt.Errorf("%w: at least one ticket line is required", ErrInvalidPurchase)
	}
	orderID := strings.TrimSpace(req.OrderID)
	if orderID == "" {
		orderID = uuid.NewString()
	}

	prices, err := p.store.TicketPrices(ctx, eventSlug)
	if err != nil {
		return Order{}, err
	}

	var total int64
	params := make([]models.CreateTicketsParams, 0, len(req.Lines))
	for i, line := range req.Lines {
		ticketType := strings.ToLower(strings.TrimSpace(line.TicketType))
		if ticketType == "" {
			ticketType = models.TicketTypeStandard
		}
		if _, ok := models.TicketTypes[ticketType]; !ok {
			return Order{}, fmt.Errorf("%w: line %d has unknown ticket type %q", ErrInvalidPurchase, i, line.TicketType)
		}
		if line.Quantity <= 0 || line.Quantity > maxTicketsPerLine {
			return Order{}, fmt.Errorf("%w: line %d quantity must be between 1 and %d", ErrInvalidPurchase, i, maxTicketsPerLine)
		}
		price, ok := prices[ticketType]
		if !ok || price <= 0 {
			return Order{}, fmt.Errorf("%w: line %d ticket type %q is not on sale", ErrInvalidPurchase, i, ticketType)
		}
		total += int64(line.Quantity) * price
		params = append(params, models.CreateTicketsParams{
			EventSlug:  eventSlug,
			OrderID:    orderID,
			BuyerName:  buyer,
			BuyerEmail: strings.TrimSpace(req.BuyerEmail),
			BuyerPhone: strings.TrimSpace(req.BuyerPhone),
			TicketType: ticketType,
			Quantity:   line.Quantity,
			UnitPrice:  price,
		})
	}
	if total <= 0 {
		return Order{}, fmt.Errorf("%w: order total must be positive", ErrInvalidPurchase)
	}

	tickets, err := p.store.CreateTickets(ctx, params)
	if err != nil {
		return Order{}, err
	}
	out := Order{OrderID: orderID, Tickets: tickets}
	for _, ticket := range tickets {
		out.Total += ticket.TotalPrice
	}
	return out, nil
}
