package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var ErrRateLimited = errors.New("validation rate limited")

// StatusError is a non-200 answer from the validation endpoint.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("validation endpoint returned %d", e.StatusCode)
	}
	return fmt.Sprintf("validation endpoint returned %d: %s", e.StatusCode, e.Message)
}

type TicketSummary struct {
	ID         string `json:"id"`
	BuyerName  string `json:"buyerName"`
	TicketType string `json:"ticketType"`
	Quantity   int    `json:"quantity"`
}

// Result mirrors the body of POST /api/tickets/validate.
type Result struct {
	Success      bool           `json:"success"`
	Valid        bool           `json:"valid"`
	Ticket       *TicketSummary `json:"ticket,omitempty"`
	Error        string         `json:"error,omitempty"`
	Reason       string         `json:"reason,omitempty"`
	Message      string         `json:"message,omitempty"`
	MarkedAsUsed *bool          `json:"markedAsUsed,omitempty"`
	UsedAt       *time.Time     `json:"usedAt,omitempty"`
}

// Admitted reports whether the scan let the holder in.
func (r Result) Admitted() bool {
	return r.Valid && r.MarkedAsUsed != nil && *r.MarkedAsUsed
}

type ClientConfig struct {
	BaseURL    string
	EventSlug  string
	CheckOnly  bool
	Timeout    time.Duration
	DeviceName string
}

type Client struct {
	baseURL    string
	eventSlug  string
	markAsUsed bool
	timeout    time.Duration
	device     string
	httpClient *http.Client
}

func NewClient(cfg ClientConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		eventSlug:  strings.TrimSpace(cfg.EventSlug),
		markAsUsed: !cfg.CheckOnly,
		timeout:    timeout,
		device:     strings.TrimSpace(cfg.DeviceName),
		httpClient: httpClient,
	}
}

// Validate submits one payload. Each call is bounded by the client timeout.
func (c *Client) Validate(ctx context.Context, qrData string) (Result, error) {
	payload, err := json.Marshal(map[string]any{
		"qrData":     qrData,
		"eventSlug":  c.eventSlug,
		"markAsUsed": c.markAsUsed,
	})
	if err != nil {
		return Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/tickets/validate", bytes.NewReader(payload))
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.device != "" {
		req.Header.Set("User-Agent", "foire-scanner/"+c.device)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return Result{}, ErrRateLimited
	}
	var out Result
	if resp.StatusCode != http.StatusOK {
		_ = json.Unmarshal(body, &out)
		return Result{}, &StatusError{StatusCode: resp.StatusCode, Message: out.Error}
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return Result{}, fmt.Errorf("decode validation result: %w", err)
	}
	return out, nil
}
