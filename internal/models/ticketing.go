package models

import "time"

const (
	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusCanceled = "canceled"
)

const (
	TicketTypeStandard  = "standard"
	TicketTypeVIP       = "vip"
	TicketTypeExhibitor = "exhibitor"
)

var TicketTypes = map[string]struct{}{
	TicketTypeStandard:  {},
	TicketTypeVIP:       {},
	TicketTypeExhibitor: {},
}

// Ticket represents a purchased admission.
type Ticket struct {
	ID            string     `json:"id"`
	EventID       string     `json:"eventId"`
	EventSlug     string     `json:"eventSlug"`
	EventTitle    string     `json:"eventTitle,omitempty"`
	OrderID       string     `json:"orderId"`
	BuyerName     string     `json:"buyerName"`
	BuyerEmail    string     `json:"buyerEmail,omitempty"`
	BuyerPhone    string     `json:"buyerPhone,omitempty"`
	TicketType    string     `json:"ticketType"`
	Quantity      int        `json:"quantity"`
	TotalPrice    int64      `json:"totalPrice"`
	PaymentStatus string     `json:"paymentStatus"`
	QRCode        string     `json:"qrCode,omitempty"`
	QRImageURL    string     `json:"qrImageUrl,omitempty"`
	Used          bool       `json:"used"`
	UsedAt        *time.Time `json:"usedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

// IsPaid reports whether the ticket's payment was confirmed by a provider.
func (t Ticket) IsPaid() bool {
	return t.PaymentStatus == PaymentStatusPaid
}

// CreateTicketsParams describes one purchase line turned into a ticket row.
// UnitPrice comes from the event's price list, never from the buyer.
type CreateTicketsParams struct {
	EventSlug  string
	OrderID    string
	BuyerName  string
	BuyerEmail string
	BuyerPhone string
	TicketType string
	Quantity   int
	UnitPrice  int64
}

// Payment is the persisted trace of a provider checkout attempt.
type Payment struct {
	ID                string                 `json:"id"`
	OrderID           string                 `json:"orderId"`
	Provider          string                 `json:"provider"`
	ProviderSessionID string                 `json:"providerSessionId,omitempty"`
	Attempt           int                    `json:"attempt"`
	Amount            int64                  `json:"amount"`
	Currency          string                 `json:"currency"`
	Status            string                 `json:"status"`
	CheckoutURL       string                 `json:"checkoutUrl,omitempty"`
	NotifToken        string                 `json:"-"`
	RawResponseJSON   map[string]interface{} `json:"rawResponse,omitempty"`
	PaidAt            *time.Time             `json:"paidAt,omitempty"`
	ReconcileAttempts int                    `json:"-"`
	ReconciledAt      *time.Time             `json:"-"`
	CreatedAt         time.Time              `json:"createdAt"`
	UpdatedAt         time.Time              `json:"updatedAt"`
}
