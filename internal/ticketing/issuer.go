package ticketing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"foire/backend/internal/models"
)

// IssueStore persists issued QR payloads. SetTicketQRCode only writes when the
// ticket has no payload yet and returns the stored row either way.
type IssueStore interface {
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	SetTicketQRCode(ctx context.Context, ticketID, qrCode string) (models.Ticket, error)
	SetTicketQRImageURL(ctx context.Context, ticketID, imageURL string) error
}

// ImageStore archives rendered QR images and returns their public URL.
type ImageStore interface {
	UploadObject(ctx context.Context, key, contentType string, body []byte) (string, error)
}

type Issuer struct {
	store     IssueStore
	images    ImageStore
	imageSize int
	logger    *slog.Logger
}

func NewIssuer(store IssueStore, images ImageStore, logger *slog.Logger) *Issuer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Issuer{store: store, images: images, imageSize: 512, logger: logger}
}

// EnsureQRCode returns the ticket, issuing its QR payload on the first view
// after payment confirmation. Unpaid tickets come back without a payload.
func (i *Issuer) EnsureQRCode(ctx context.Context, ticketID string) (models.Ticket, error) {
	ticket, err := i.store.GetTicket(ctx, strings.TrimSpace(ticketID))
	if err != nil {
		return models.Ticket{}, err
	}
	if !ticket.IsPaid() {
		return ticket, nil
	}
	if ticket.QRCode == "" {
		ticket, err = i.store.SetTicketQRCode(ctx, ticket.ID, BuildQRPayload(ticket.ID, ticket.EventSlug))
		if err != nil {
			return models.Ticket{}, err
		}
	}
	if i.images != nil && ticket.QRImageURL == "" {
		if url, err := i.archiveImage(ctx, ticket); err != nil {
			i.logger.Warn("issue_qr", "status", "image_archive_failed", "ticket_id", ticket.ID, "error", err)
		} else {
			ticket.QRImageURL = url
		}
	}
	return ticket, nil
}

func (i *Issuer) archiveImage(ctx context.Context, ticket models.Ticket) (string, error) {
	png, err := GenerateQRImagePNG(ticket.QRCode, i.imageSize)
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("tickets/%s/%s.png", ticket.EventSlug, ticket.ID)
	url, err := i.images.UploadObject(ctx, key, "image/png", png)
	if err != nil {
		return "", err
	}
	if err := i.store.SetTicketQRImageURL(ctx, ticket.ID, url); err != nil {
		return "", err
	}
	return url, nil
}
