package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"foire/backend/internal/config"
	"foire/backend/internal/metrics"
	"foire/backend/internal/models"
	"foire/backend/internal/payments"
	"foire/backend/internal/payments/wave"
	"foire/backend/internal/ticketing"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

// Store is the slice of the repository the handlers read directly.
type Store interface {
	GetTicket(ctx context.Context, ticketID string) (models.Ticket, error)
	GetPaymentByOrder(ctx context.Context, provider, orderID string) (models.Payment, error)
	ListEventStatsRows(ctx context.Context, eventSlug string) ([]ticketing.StatsRow, error)
	Ping(ctx context.Context) error
}

// WaveSessions looks checkout sessions up at Wave.
type WaveSessions interface {
	GetCheckoutSession(ctx context.Context, sessionID string) (wave.CheckoutSession, []byte, error)
}

type Deps struct {
	Store      Store
	Dispatcher *payments.Dispatcher
	Validator  *ticketing.Validator
	Issuer     *ticketing.Issuer
	Purchaser  *ticketing.Purchaser
	Wave       WaveSessions
	Config     *config.Config
	Metrics    *metrics.Metrics
	Logger     *slog.Logger
}

type Handler struct {
	store          Store
	dispatcher     *payments.Dispatcher
	scanner        *ticketing.Validator
	issuer         *ticketing.Issuer
	purchaser      *ticketing.Purchaser
	wave           WaveSessions
	cfg            *config.Config
	metrics        *metrics.Metrics
	logger         *slog.Logger
	validator      *validator.Validate
	timeout        time.Duration
	paymentTimeout time.Duration
	now            func() time.Time
}

func New(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := d.Config
	if cfg == nil {
		cfg = &config.Config{}
	}
	return &Handler{
		store:          d.Store,
		dispatcher:     d.Dispatcher,
		scanner:        d.Validator,
		issuer:         d.Issuer,
		purchaser:      d.Purchaser,
		wave:           d.Wave,
		cfg:            cfg,
		metrics:        d.Metrics,
		logger:         logger,
		validator:      validator.New(),
		timeout:        5 * time.Second,
		paymentTimeout: 20 * time.Second,
		now:            time.Now,
	}
}

func (h *Handler) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, h.timeout)
}

// withPaymentTimeout bounds calls that reach a payment provider.
func (h *Handler) withPaymentTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, h.paymentTimeout)
}

func (h *Handler) loggerForRequest(r *http.Request) *slog.Logger {
	logger := h.logger
	if logger == nil {
		return slog.Default()
	}
	if reqID := chimw.GetReqID(r.Context()); reqID != "" {
		logger = logger.With("request_id", reqID)
	}
	return logger
}

// Healthz is the liveness check.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Readyz reports whether the database answers.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		h.loggerForRequest(r).Warn("readyz", "status", "db_unavailable", "error", err)
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
