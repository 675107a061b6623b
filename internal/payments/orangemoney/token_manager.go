package orangemoney

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

const defaultTokenURL = "https://api.orange.com/oauth/v3/token"

// TokenManagerConfig carries the application credentials of the Orange
// developer portal. AuthHeader is the ready-made "Basic ..." value shown
// there; the "Basic " prefix is optional.
type TokenManagerConfig struct {
	AuthHeader string
	TokenURL   string
}

type accessToken struct {
	value     string
	refreshAt time.Time
}

func (t *accessToken) usable(now time.Time) bool {
	return t != nil && now.Before(t.refreshAt)
}

// lifetime decodes expires_in, which Orange has sent both as a number and as
// a quoted string.
type lifetime int64

func (l *lifetime) UnmarshalJSON(data []byte) error {
	raw := string(bytes.Trim(data, `"`))
	if raw == "" || raw == "null" {
		*l = 0
		return nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("expires_in %q: %w", raw, err)
	}
	*l = lifetime(n)
	return nil
}

type grant struct {
	TokenType   string   `json:"token_type"`
	AccessToken string   `json:"access_token"`
	ExpiresIn   lifetime `json:"expires_in"`
}

type grantError struct {
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// TokenManager holds one client-credentials token for the webpayment API.
// Readers never block on a valid token; an expired or invalidated one is
// replaced by a single shared fetch.
type TokenManager struct {
	httpClient *http.Client
	tokenURL   string
	auth       string
	now        func() time.Time
	fetches    singleflight.Group
	current    atomic.Pointer[accessToken]
}

func NewTokenManager(cfg TokenManagerConfig, client *http.Client) *TokenManager {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	tokenURL := strings.TrimSpace(cfg.TokenURL)
	if tokenURL == "" {
		tokenURL = defaultTokenURL
	}
	auth := strings.TrimSpace(cfg.AuthHeader)
	if auth != "" && !strings.HasPrefix(strings.ToLower(auth), "basic ") {
		auth = "Basic " + auth
	}
	return &TokenManager{
		httpClient: client,
		tokenURL:   tokenURL,
		auth:       auth,
		now:        time.Now,
	}
}

func (tm *TokenManager) AccessToken(ctx context.Context) (string, error) {
	if tok := tm.current.Load(); tok.usable(tm.now()) {
		return tok.value, nil
	}
	v, err, _ := tm.fetches.Do("token", func() (any, error) {
		if tok := tm.current.Load(); tok.usable(tm.now()) {
			return tok, nil
		}
		tok, err := tm.fetch(ctx)
		if err != nil {
			return nil, err
		}
		tm.current.Store(tok)
		return tok, nil
	})
	if err != nil {
		return "", err
	}
	return v.(*accessToken).value, nil
}

// Invalidate forgets token if it is still the cached one, so the next
// AccessToken call fetches a fresh grant.
func (tm *TokenManager) Invalidate(token string) {
	if tok := tm.current.Load(); tok != nil && tok.value == token {
		tm.current.CompareAndSwap(tok, nil)
	}
}

func (tm *TokenManager) fetch(ctx context.Context) (*accessToken, error) {
	if tm.auth == "" {
		return nil, fmt.Errorf("orange money authorization header is required")
	}
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", tm.auth)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := tm.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		var ge grantError
		if json.Unmarshal(body, &ge) == nil && ge.Error != "" {
			return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(ge.Error + ": " + ge.Description)}
		}
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var g grant
	if err := json.Unmarshal(body, &g); err != nil {
		return nil, fmt.Errorf("decode orange money token: %w", err)
	}
	if g.AccessToken == "" {
		return nil, fmt.Errorf("orange money token response missing access_token")
	}
	if g.TokenType != "" && !strings.EqualFold(g.TokenType, "bearer") {
		return nil, fmt.Errorf("orange money token type %q is not bearer", g.TokenType)
	}
	ttl := time.Duration(g.ExpiresIn) * time.Second
	if ttl <= 0 {
		ttl = time.Hour
	}
	// Renew a tenth of the lifetime early, at most one minute.
	early := min(ttl/10, time.Minute)
	return &accessToken{value: g.AccessToken, refreshAt: tm.now().Add(ttl - early)}, nil
}
