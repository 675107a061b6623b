package wave

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	SignatureHeader = "Wave-Signature"

	EventCheckoutCompleted     = "checkout.session.completed"
	EventCheckoutPaymentFailed = "checkout.session.payment_failed"

	DefaultTolerance = 5 * time.Minute
)

var (
	ErrWebhookSecretMissing = errors.New("wave webhook secret not configured")
	ErrSignatureMissing     = errors.New("wave signature header missing")
	ErrSignatureMalformed   = errors.New("wave signature header malformed")
	ErrSignatureExpired     = errors.New("wave signature timestamp outside tolerance")
	ErrSignatureMismatch    = errors.New("wave signature mismatch")
)

// VerifySignature checks a "t=<unix>,v1=<hex>[,v1=<hex>]" header against
// HMAC-SHA256(secret, t + body). It rejects everything when secret is empty.
func VerifySignature(secret, header string, body []byte, now time.Time, tolerance time.Duration) error {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return ErrWebhookSecretMissing
	}
	header = strings.TrimSpace(header)
	if header == "" {
		return ErrSignatureMissing
	}

	var timestamp string
	var signatures []string
	for _, part := range strings.Split(header, ",") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch key {
		case "t":
			timestamp = value
		case "v1":
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return ErrSignatureMalformed
	}
	unix, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrSignatureMalformed
	}
	if tolerance > 0 {
		skew := now.Sub(time.Unix(unix, 0))
		if skew < 0 {
			skew = -skew
		}
		if skew > tolerance {
			return ErrSignatureExpired
		}
	}

	expected := Sign(secret, timestamp, body)
	for _, sig := range signatures {
		if hmac.Equal([]byte(expected), []byte(strings.ToLower(sig))) {
			return nil
		}
	}
	return ErrSignatureMismatch
}

// Sign returns the hex signature Wave sends for timestamp and body.
func Sign(secret, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(timestamp))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

type Event struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Data CheckoutSession `json:"data"`
}

func ParseEvent(body []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(body, &evt); err != nil {
		return evt, fmt.Errorf("decode wave event: %w", err)
	}
	if strings.TrimSpace(evt.Type) == "" || strings.TrimSpace(evt.Data.ID) == "" {
		return evt, fmt.Errorf("wave event missing type or session id")
	}
	return evt, nil
}
