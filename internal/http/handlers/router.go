package handlers

import (
	"net/http"
	"time"

	"foire/backend/internal/http/middleware"
	"foire/backend/internal/rate"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

type RouterOptions struct {
	// ScanLimiter throttles ticket validation per client. nil disables it.
	ScanLimiter    *rate.WindowLimiter
	MetricsPath    string
	MetricsEnabled bool
	RequestTimeout time.Duration
}

func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Metrics(h.metrics))
	r.Use(middleware.RequestLogger(h.logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(timeout))
	r.Use(corsMiddleware)

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)
	if opts.MetricsEnabled && h.metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, h.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.With(middleware.RateLimit(opts.ScanLimiter)).Post("/tickets/validate", h.ValidateTicket)
		r.Get("/tickets/{id}", h.GetTicket)
		r.Get("/tickets/{id}/qr.png", h.TicketQRImage)
		r.Post("/events/{slug}/tickets", h.PurchaseTickets)
		r.Get("/events/{slug}/stats", h.EventStats)

		r.Get("/payments/wave/{sessionId}", h.WaveSessionStatus)
		r.Post("/payments/{provider}", h.InitiatePayment)

		r.Post("/webhooks/wave", h.WaveWebhook)
		r.Post("/webhooks/stripe", h.StripeWebhook)
		r.Post("/webhooks/orange-money", h.OrangeMoneyWebhook)
	})
	return r
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Idempotency-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
