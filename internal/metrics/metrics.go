package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests and multiple binaries never share
// collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	initiations       *prometheus.CounterVec
	confirmations     *prometheus.CounterVec
	webhookRejections *prometheus.CounterVec
	ticketScans       *prometheus.CounterVec
	reconciled        *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foire_http_requests_total",
				Help: "HTTP requests by route pattern and status code",
			},
			[]string{"method", "route", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "foire_http_request_duration_seconds",
				Help:    "HTTP request latency by route pattern",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),
		initiations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foire_payment_initiations_total",
				Help: "Payment initiations by provider and outcome",
			},
			[]string{"provider", "outcome"},
		),
		confirmations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foire_payment_transitions_total",
				Help: "Provider-confirmed payment status transitions",
			},
			[]string{"provider", "status"},
		),
		webhookRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foire_webhook_rejections_total",
				Help: "Webhooks rejected before processing",
			},
			[]string{"provider", "reason"},
		),
		ticketScans: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foire_ticket_scans_total",
				Help: "Ticket validations by result",
			},
			[]string{"result"},
		),
		reconciled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "foire_reconciled_payments_total",
				Help: "Pending payments resolved by the reconciliation worker",
			},
			[]string{"provider", "status"},
		),
	}
	m.registry.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.initiations,
		m.confirmations,
		m.webhookRejections,
		m.ticketScans,
		m.reconciled,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) PaymentInitiation(provider, outcome string) {
	if m == nil {
		return
	}
	m.initiations.WithLabelValues(provider, outcome).Inc()
}

func (m *Metrics) PaymentTransition(provider, status string) {
	if m == nil {
		return
	}
	m.confirmations.WithLabelValues(provider, status).Inc()
}

func (m *Metrics) WebhookRejected(provider, reason string) {
	if m == nil {
		return
	}
	m.webhookRejections.WithLabelValues(provider, reason).Inc()
}

func (m *Metrics) TicketScan(result string) {
	if m == nil {
		return
	}
	m.ticketScans.WithLabelValues(result).Inc()
}

func (m *Metrics) Reconciled(provider, status string) {
	if m == nil {
		return
	}
	m.reconciled.WithLabelValues(provider, status).Inc()
}
