package orangemoney

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	NotificationSuccess = "SUCCESS"
	NotificationFailed  = "FAILED"
)

var (
	ErrNotifTokenMissing  = errors.New("orange money notification token not recorded")
	ErrNotifTokenMismatch = errors.New("orange money notification token mismatch")
)

type Config struct {
	BaseURL     string
	MerchantKey string
	Country     string
}

type Client struct {
	baseURL     string
	merchantKey string
	country     string
	httpClient  *http.Client
	tokens      *TokenManager
	logger      *slog.Logger
}

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("orange money api status %d: %s", e.StatusCode, e.Body)
}

type WebPaymentRequest struct {
	MerchantKey string `json:"merchant_key"`
	Currency    string `json:"currency"`
	OrderID     string `json:"order_id"`
	Amount      int64  `json:"amount"`
	ReturnURL   string `json:"return_url"`
	CancelURL   string `json:"cancel_url"`
	NotifURL    string `json:"notif_url"`
	Lang        string `json:"lang"`
	Reference   string `json:"reference,omitempty"`
}

type WebPayment struct {
	Status     int    `json:"status"`
	Message    string `json:"message"`
	PayToken   string `json:"pay_token"`
	PaymentURL string `json:"payment_url"`
	NotifToken string `json:"notif_token"`
}

// Notification is the body Orange Money posts to notif_url.
type Notification struct {
	Status     string `json:"status"`
	NotifToken string `json:"notif_token"`
	TxnID      string `json:"txnid"`
}

func NewClient(cfg Config, tm *TokenManager, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.orange.com"
	}
	country := strings.TrimSpace(cfg.Country)
	if country == "" {
		country = "dev"
	}
	return &Client{
		baseURL:     baseURL,
		merchantKey: strings.TrimSpace(cfg.MerchantKey),
		country:     country,
		httpClient:  httpClient,
		tokens:      tm,
		logger:      logger,
	}
}

func (c *Client) CreateWebPayment(ctx context.Context, in WebPaymentRequest) (WebPayment, []byte, error) {
	var out WebPayment
	if in.MerchantKey == "" {
		in.MerchantKey = c.merchantKey
	}
	if in.MerchantKey == "" {
		return out, nil, fmt.Errorf("orange money merchant key is required")
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return out, nil, err
	}
	pathPart := fmt.Sprintf("/orange-money-webpay/%s/v1/webpayment", url.PathEscape(c.country))
	body, err := c.do(ctx, http.MethodPost, pathPart, payload)
	if err != nil {
		return out, body, err
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, body, fmt.Errorf("decode orange money webpayment: %w", err)
	}
	if strings.TrimSpace(out.PaymentURL) == "" || strings.TrimSpace(out.NotifToken) == "" {
		return out, body, fmt.Errorf("orange money webpayment response missing payment_url or notif_token")
	}
	return out, body, nil
}

// VerifyNotification compares the token stored at initiation with the one
// received. An unrecorded token rejects the notification.
func VerifyNotification(stored, received string) error {
	stored = strings.TrimSpace(stored)
	if stored == "" {
		return ErrNotifTokenMissing
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(strings.TrimSpace(received))) != 1 {
		return ErrNotifTokenMismatch
	}
	return nil
}

// do sends one API request. A 401 drops the cached token and the request is
// retried once with a fresh one.
func (c *Client) do(ctx context.Context, method, pathPart string, payload []byte) ([]byte, error) {
	if c.tokens == nil {
		return nil, fmt.Errorf("orange money token manager is required")
	}
	for attempt := 0; ; attempt++ {
		token, err := c.tokens.AccessToken(ctx)
		if err != nil {
			return nil, err
		}
		body, status, err := c.send(ctx, method, pathPart, payload, token)
		if err != nil {
			return nil, err
		}
		if status == http.StatusUnauthorized && attempt == 0 {
			c.tokens.Invalidate(token)
			c.logger.Warn("orange_money_request", "status", "token_rejected", "path", pathPart)
			continue
		}
		if status < 200 || status >= 300 {
			c.logger.Warn("orange_money_request", "status", "http_error", "path", pathPart, "http_status", status)
			return body, &APIError{StatusCode: status, Body: strings.TrimSpace(string(body))}
		}
		return body, nil
	}
}

func (c *Client) send(ctx context.Context, method, pathPart string, payload []byte, token string) ([]byte, int, error) {
	var bodyReader io.Reader
	if len(payload) > 0 {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+pathPart, bodyReader)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if len(payload) > 0 {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, err
	}
	return body, resp.StatusCode, nil
}
