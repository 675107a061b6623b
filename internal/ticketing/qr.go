package ticketing

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	qrcode "github.com/skip2/go-qrcode"
)

// QRPrefix opens every ticket payload issued for the fair.
const QRPrefix = "FOIRE2025"

var ErrInvalidQRPayload = errors.New("invalid qr payload")

// BuildQRPayload returns the deterministic payload for a ticket:
// FOIRE2025-{ticketId}-{eventSlug}.
func BuildQRPayload(ticketID, eventSlug string) string {
	return fmt.Sprintf("%s-%s-%s", QRPrefix, strings.TrimSpace(ticketID), strings.TrimSpace(eventSlug))
}

// ParseQRPayload splits a payload back into ticket id and event slug.
// Ticket ids are UUIDs in storage but short ids are accepted as well; a short
// id must not contain a dash.
func ParseQRPayload(payload string) (ticketID, eventSlug string, err error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(payload), QRPrefix+"-")
	if !ok || rest == "" {
		return "", "", ErrInvalidQRPayload
	}
	if len(rest) > 37 && rest[36] == '-' {
		if _, perr := uuid.Parse(rest[:36]); perr == nil {
			return rest[:36], rest[37:], nil
		}
	}
	id, slug, found := strings.Cut(rest, "-")
	if !found || id == "" || slug == "" {
		return "", "", ErrInvalidQRPayload
	}
	return id, slug, nil
}

// GenerateQRImagePNG renders payload as a PNG of size x size pixels.
func GenerateQRImagePNG(payload string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(payload, qrcode.Medium, size)
}
