package wave

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	CheckoutStatusOpen     = "open"
	CheckoutStatusComplete = "complete"
	CheckoutStatusExpired  = "expired"

	PaymentStatusProcessing = "processing"
	PaymentStatusCancelled  = "cancelled"
	PaymentStatusSucceeded  = "succeeded"
)

type Config struct {
	BaseURL           string
	APIKey            string
	RequestsPerSecond float64
}

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("wave api status %d: %s", e.StatusCode, e.Body)
}

type CreateCheckoutSessionRequest struct {
	Amount              int64
	Currency            string
	ClientReference     string
	SuccessURL          string
	ErrorURL            string
	RestrictPayerMobile string
}

type checkoutSessionPayload struct {
	Amount              string `json:"amount"`
	Currency            string `json:"currency"`
	ClientReference     string `json:"client_reference,omitempty"`
	SuccessURL          string `json:"success_url"`
	ErrorURL            string `json:"error_url"`
	RestrictPayerMobile string `json:"restrict_payer_mobile,omitempty"`
}

// CheckoutSession mirrors the fields of a Wave checkout session we act on.
type CheckoutSession struct {
	ID              string `json:"id"`
	Amount          string `json:"amount"`
	Currency        string `json:"currency"`
	ClientReference string `json:"client_reference"`
	CheckoutStatus  string `json:"checkout_status"`
	PaymentStatus   string `json:"payment_status"`
	TransactionID   string `json:"transaction_id"`
	WaveLaunchURL   string `json:"wave_launch_url"`
	WhenCreated     string `json:"when_created"`
	WhenCompleted   string `json:"when_completed"`
	WhenExpires     string `json:"when_expires"`
}

// AmountMinor parses the decimal amount string into whole currency units.
func (s CheckoutSession) AmountMinor() (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s.Amount))
	if err != nil {
		return 0, fmt.Errorf("parse wave amount %q: %w", s.Amount, err)
	}
	if !d.Equal(d.Truncate(0)) {
		return 0, fmt.Errorf("wave amount %q has a fractional part", s.Amount)
	}
	return d.IntPart(), nil
}

func (s CheckoutSession) Succeeded() bool {
	return s.CheckoutStatus == CheckoutStatusComplete && s.PaymentStatus == PaymentStatusSucceeded
}

func NewClient(cfg Config, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.wave.com"
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 5
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
		logger:     logger,
	}
}

// CreateCheckoutSession starts a Wave checkout. idempotencyKey makes retries
// of the same order return the same session.
func (c *Client) CreateCheckoutSession(ctx context.Context, idempotencyKey string, in CreateCheckoutSessionRequest) (CheckoutSession, []byte, error) {
	var out CheckoutSession
	if in.Amount <= 0 {
		return out, nil, fmt.Errorf("wave amount must be positive")
	}
	payload, err := json.Marshal(checkoutSessionPayload{
		Amount:              decimal.NewFromInt(in.Amount).String(),
		Currency:            strings.ToUpper(strings.TrimSpace(in.Currency)),
		ClientReference:     in.ClientReference,
		SuccessURL:          in.SuccessURL,
		ErrorURL:            in.ErrorURL,
		RestrictPayerMobile: in.RestrictPayerMobile,
	})
	if err != nil {
		return out, nil, err
	}
	body, err := c.do(ctx, http.MethodPost, "/v1/checkout/sessions", idempotencyKey, payload)
	if err != nil {
		return out, body, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, body, fmt.Errorf("decode wave checkout session: %w", err)
	}
	if strings.TrimSpace(out.ID) == "" || strings.TrimSpace(out.WaveLaunchURL) == "" {
		return out, body, fmt.Errorf("wave checkout session response missing id or wave_launch_url")
	}
	return out, body, nil
}

func (c *Client) GetCheckoutSession(ctx context.Context, sessionID string) (CheckoutSession, []byte, error) {
	var out CheckoutSession
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return out, nil, fmt.Errorf("wave session id is required")
	}
	body, err := c.do(ctx, http.MethodGet, "/v1/checkout/sessions/"+url.PathEscape(sessionID), "", nil)
	if err != nil {
		return out, body, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, body, fmt.Errorf("decode wave checkout session: %w", err)
	}
	return out, body, nil
}

func (c *Client) do(ctx context.Context, method, pathPart, idempotencyKey string, payload []byte) ([]byte, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("wave api key is required")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if len(payload) > 0 {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+pathPart, bodyReader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}
	if key := strings.TrimSpace(idempotencyKey); key != "" {
		req.Header.Set("Idempotency-Key", key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Warn("wave_request", "status", "http_error", "method", method, "path", pathPart, "http_status", resp.StatusCode)
		return body, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return body, nil
}
