package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"foire/backend/internal/models"
	"foire/backend/internal/ticketing"

	"github.com/go-chi/chi/v5"
)

type validateTicketRequest struct {
	QRData     string `json:"qrData"`
	EventSlug  string `json:"eventSlug"`
	MarkAsUsed bool   `json:"markAsUsed"`
}

type validateTicketResponse struct {
	Success      bool           `json:"success"`
	Valid        bool           `json:"valid"`
	Ticket       *models.Ticket `json:"ticket,omitempty"`
	Error        string         `json:"error,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Message      string         `json:"message,omitempty"`
	MarkedAsUsed *bool          `json:"markedAsUsed,omitempty"`
	UsedAt       *time.Time     `json:"usedAt,omitempty"`
}

type purchaseLineRequest struct {
	TicketType string `json:"ticketType"`
	Quantity   int    `json:"quantity" validate:"gt=0"`
}

type purchaseRequest struct {
	OrderID    string                `json:"orderId" validate:"omitempty,max=128"`
	BuyerName  string                `json:"buyerName" validate:"required"`
	BuyerEmail string                `json:"buyerEmail" validate:"omitempty,email"`
	BuyerPhone string                `json:"buyerPhone"`
	Lines      []purchaseLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// ValidateTicket serves gate scanners. Every completed validation answers
// 200; only unusable input is a 400.
func (h *Handler) ValidateTicket(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	var req validateTicketRequest
	if err := decodeJSON(w, r, &req); err != nil {
		logger.Warn("validate_ticket", "status", "invalid_json", "error", err)
		writeJSON(w, http.StatusBadRequest, validateTicketResponse{Error: "invalid json"})
		return
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	result, err := h.scanner.Validate(ctx, ticketing.ScanRequest{
		QRData:     req.QRData,
		EventSlug:  req.EventSlug,
		MarkAsUsed: req.MarkAsUsed,
	})
	if err != nil {
		if errors.Is(err, ticketing.ErrInvalidScanInput) {
			logger.Warn("validate_ticket", "status", "invalid_request")
			writeJSON(w, http.StatusBadRequest, validateTicketResponse{Error: err.Error()})
			return
		}
		logger.Error("validate_ticket", "status", "internal_error", "error", err)
		h.metrics.TicketScan("error")
		writeJSON(w, http.StatusInternalServerError, validateTicketResponse{Error: "internal error"})
		return
	}

	resp := validateTicketResponse{
		Success: true,
		Valid:   result.Valid,
		Ticket:  result.Ticket,
		Error:   result.Error,
		Reason:  result.Reason,
		Message: result.Message,
		UsedAt:  result.UsedAt,
	}
	if result.Valid {
		marked := result.MarkedAsUsed
		resp.MarkedAsUsed = &marked
	}

	outcome := scanOutcome(result)
	h.metrics.TicketScan(outcome)
	attrs := []any{"status", outcome, "event_slug", strings.TrimSpace(req.EventSlug)}
	if result.Ticket != nil {
		attrs = append(attrs, "ticket_id", result.Ticket.ID)
	}
	logger.Info("validate_ticket", attrs...)
	writeJSON(w, http.StatusOK, resp)
}

func scanOutcome(result ticketing.ScanResult) string {
	switch {
	case result.MarkedAsUsed:
		return "admitted"
	case result.Valid:
		return "valid"
	default:
		return result.Reason
	}
}

// PurchaseTickets creates the pending tickets of an order.
func (h *Handler) PurchaseTickets(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	slug := strings.TrimSpace(chi.URLParam(r, "slug"))
	if slug == "" {
		writeError(w, http.StatusBadRequest, "invalid event slug")
		return
	}
	var req purchaseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		logger.Warn("purchase_tickets", "status", "invalid_request", "error", err)
		writeError(w, http.StatusBadRequest, "invalid purchase: "+err.Error())
		return
	}

	lines := make([]ticketing.PurchaseLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, ticketing.PurchaseLine{
			TicketType: line.TicketType,
			Quantity:   line.Quantity,
		})
	}

	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	order, err := h.purchaser.Purchase(ctx, slug, ticketing.PurchaseRequest{
		OrderID:    req.OrderID,
		BuyerName:  req.BuyerName,
		BuyerEmail: req.BuyerEmail,
		BuyerPhone: req.BuyerPhone,
		Lines:      lines,
	})
	if err != nil {
		h.handleTicketError(logger, w, "purchase_tickets", err)
		return
	}
	logger.Info("purchase_tickets", "status", "created", "event_slug", slug, "order_id", order.OrderID, "total", order.Total)
	writeJSON(w, http.StatusCreated, order)
}

// GetTicket returns a ticket, issuing its QR payload once it is paid.
func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	ticket, err := h.issuer.EnsureQRCode(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.handleTicketError(logger, w, "get_ticket", err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

// TicketQRImage renders the ticket payload as PNG. size is clamped to
// 128..1024 pixels.
func (h *Handler) TicketQRImage(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	ticket, err := h.issuer.EnsureQRCode(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.handleTicketError(logger, w, "ticket_qr_image", err)
		return
	}
	if ticket.QRCode == "" {
		writeError(w, http.StatusConflict, "payment not confirmed")
		return
	}

	size := 256
	if raw := strings.TrimSpace(r.URL.Query().Get("size")); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			size = parsed
		}
	}
	if size < 128 {
		size = 128
	}
	if size > 1024 {
		size = 1024
	}
	png, err := ticketing.GenerateQRImagePNG(ticket.QRCode, size)
	if err != nil {
		h.handleTicketError(logger, w, "ticket_qr_image", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

func (h *Handler) EventStats(w http.ResponseWriter, r *http.Request) {
	logger := h.loggerForRequest(r)
	slug := strings.TrimSpace(chi.URLParam(r, "slug"))
	ctx, cancel := h.withTimeout(r.Context())
	defer cancel()
	rows, err := h.store.ListEventStatsRows(ctx, slug)
	if err != nil {
		h.handleTicketError(logger, w, "event_stats", err)
		return
	}
	writeJSON(w, http.StatusOK, ticketing.AggregateStats(slug, rows))
}

func (h *Handler) handleTicketError(logger *slog.Logger, w http.ResponseWriter, action string, err error) {
	switch {
	case errors.Is(err, ticketing.ErrTicketNotFound), errors.Is(err, ticketing.ErrEventNotFound):
		logger.Warn(action, "status", "not_found", "error", err)
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, ticketing.ErrInvalidPurchase):
		logger.Warn(action, "status", "invalid_request", "error", err)
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ticketing.ErrOrderExists):
		logger.Warn(action, "status", "conflict", "error", err)
		writeError(w, http.StatusConflict, err.Error())
	default:
		logger.Error(action, "status", "internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}
