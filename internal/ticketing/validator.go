package ticketing

import (
	"context"
	"errors"
	"strings"
	"time"

	"foire/backend/internal/models"
)

var (
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrInvalidScanInput = errors.New("qrData and eventSlug are required")
)

const (
	ReasonOK            = ""
	ReasonMalformed     = "malformed_qr"
	ReasonEventMismatch = "event_mismatch"
	ReasonNotFound      = "not_found"
	ReasonUnpaid        = "payment_not_confirmed"
	ReasonAlreadyUsed   = "already_used"
)

var reasonMessages = map[string]string{
	ReasonMalformed:     "unrecognized qr code",
	ReasonEventMismatch: "ticket is not valid for this event",
	ReasonNotFound:      "ticket not found",
	ReasonUnpaid:        "payment not confirmed",
	ReasonAlreadyUsed:   "already used",
}

// ScanStore is the storage the validator needs. MarkTicketUsed must only flip
// an unused ticket and report false when the ticket was already used.
type ScanStore interface {
	FindTicketByQR(ctx context.Context, qrCode, eventSlug string) (models.Ticket, error)
	MarkTicketUsed(ctx context.Context, ticketID string, at time.Time) (bool, error)
}

type ScanRequest struct {
	QRData     string
	EventSlug  string
	MarkAsUsed bool
}

// ScanResult is one of: valid and marked, valid and not marked (check only),
// or invalid with a reason.
type ScanResult struct {
	Valid        bool
	MarkedAsUsed bool
	Reason       string
	Error        string
	Message      string
	UsedAt       *time.Time
	Ticket       *models.Ticket
}

type Validator struct {
	store ScanStore
	now   func() time.Time
}

func NewValidator(store ScanStore) *Validator {
	return &Validator{store: store, now: time.Now}
}

// Validate resolves a scanned payload within an event and, when asked,
// performs the single-fire unused -> used transition.
func (v *Validator) Validate(ctx context.Context, req ScanRequest) (ScanResult, error) {
	qr := strings.TrimSpace(req.QRData)
	slug := strings.TrimSpace(req.EventSlug)
	if qr == "" || slug == "" {
		return ScanResult{}, ErrInvalidScanInput
	}

	_, payloadSlug, err := ParseQRPayload(qr)
	if err != nil {
		return invalid(ReasonMalformed, nil), nil
	}
	if payloadSlug != slug {
		return invalid(ReasonEventMismatch, nil), nil
	}

	ticket, err := v.store.FindTicketByQR(ctx, qr, slug)
	if err != nil {
		if errors.Is(err, ErrTicketNotFound) {
			return invalid(ReasonNotFound, nil), nil
		}
		return ScanResult{}, err
	}
	if !ticket.IsPaid() {
		return invalid(ReasonUnpaid, &ticket), nil
	}
	if ticket.Used {
		return invalid(ReasonAlreadyUsed, &ticket), nil
	}
	if !req.MarkAsUsed {
		return ScanResult{
			Valid:   true,
			Message: "ticket is valid and has not been used",
			Ticket:  &ticket,
		}, nil
	}

	now := v.now().UTC()
	marked, err := v.store.MarkTicketUsed(ctx, ticket.ID, now)
	if err != nil {
		return ScanResult{}, err
	}
	if !marked {
		// Lost the race against another scan; report what that scan stored.
		current, err := v.store.FindTicketByQR(ctx, qr, slug)
		if err != nil {
			return ScanResult{}, err
		}
		if !current.Used {
			current.Used = true
		}
		return invalid(ReasonAlreadyUsed, &current), nil
	}

	ticket.Used = true
	ticket.UsedAt = &now
	return ScanResult{
		Valid:        true,
		MarkedAsUsed: true,
		Message:      "ticket accepted",
		UsedAt:       &now,
		Ticket:       &ticket,
	}, nil
}

func invalid(reason string, ticket *models.Ticket) ScanResult {
	out := ScanResult{
		Valid:  false,
		Reason: reason,
		Error:  reasonMessages[reason],
		Ticket: ticket,
	}
	if ticket != nil && ticket.UsedAt != nil {
		usedAt := *ticket.UsedAt
		out.UsedAt = &usedAt
	}
	return out
}
