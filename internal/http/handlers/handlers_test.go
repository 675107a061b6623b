package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"foire/backend/internal/config"
	"foire/backend/internal/logging"
	"foire/backend/internal/metrics"
	"foire/backend/internal/models"
	"foire/backend/internal/payments"
	"foire/backend/internal/payments/wave"
	"foire/backend/internal/rate"
	"foire/backend/internal/ticketing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

// memStore backs every store interface the handlers reach, including the
// payment recorder, with the same conditional semantics as Postgres.
type memStore struct {
	mu       sync.Mutex
	tickets  map[string]*models.Ticket
	payments map[string]*models.Payment
	seq      int
}

func newMemStore(tickets ...models.Ticket) *memStore {
	s := &memStore{tickets: map[string]*models.Ticket{}, payments: map[string]*models.Payment{}}
	for i := range tickets {
		ticket := tickets[i]
		s.tickets[ticket.ID] = &ticket
	}
	return s
}

func (s *memStore) Ping(context.Context) error { return nil }

func (s *memStore) GetTicket(_ context.Context, id string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[id]
	if !ok {
		return models.Ticket{}, ticketing.ErrTicketNotFound
	}
	return *ticket, nil
}

func (s *memStore) FindTicketByQR(_ context.Context, qr, slug string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ticket := range s.tickets {
		if ticket.QRCode == qr && ticket.EventSlug == slug {
			return *ticket, nil
		}
	}
	return models.Ticket{}, ticketing.ErrTicketNotFound
}

func (s *memStore) MarkTicketUsed(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[id]
	if !ok || ticket.Used || !ticket.IsPaid() {
		return false, nil
	}
	ticket.Used = true
	ticket.UsedAt = &at
	return true, nil
}

func (s *memStore) SetTicketQRCode(_ context.Context, id, qr string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ticket, ok := s.tickets[id]
	if !ok {
		return models.Ticket{}, ticketing.ErrTicketNotFound
	}
	if ticket.QRCode == "" && ticket.IsPaid() {
		ticket.QRCode = qr
	}
	return *ticket, nil
}

func (s *memStore) SetTicketQRImageURL(_ context.Context, id, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[id].QRImageURL = url
	return nil
}

func (s *memStore) TicketPrices(_ context.Context, slug string) (map[string]int64, error) {
	if slug != "salon2025" {
		return nil, ticketing.ErrEventNotFound
	}
	return map[string]int64{models.TicketTypeStandard: 2000, models.TicketTypeVIP: 5000}, nil
}

func (s *memStore) CreateTickets(_ context.Context, params []models.CreateTicketsParams) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if params[0].EventSlug != "salon2025" {
		return nil, ticketing.ErrEventNotFound
	}
	out := make([]models.Ticket, 0, len(params))
	for _, p := range params {
		s.seq++
		ticket := models.Ticket{
			ID:            "t" + strconv.Itoa(s.seq),
			EventSlug:     p.EventSlug,
			OrderID:       p.OrderID,
			BuyerName:     p.BuyerName,
			TicketType:    p.TicketType,
			Quantity:      p.Quantity,
			TotalPrice:    int64(p.Quantity) * p.UnitPrice,
			PaymentStatus: models.PaymentStatusPending,
		}
		s.tickets[ticket.ID] = &ticket
		out = append(out, ticket)
	}
	return out, nil
}

func (s *memStore) ListEventStatsRows(_ context.Context, slug string) ([]ticketing.StatsRow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slug != "salon2025" {
		return nil, ticketing.ErrEventNotFound
	}
	var out []ticketing.StatsRow
	for _, ticket := range s.tickets {
		out = append(out, ticketing.StatsRow{
			TicketType:    ticket.TicketType,
			PaymentStatus: ticket.PaymentStatus,
			Quantity:      int64(ticket.Quantity),
			TotalPrice:    ticket.TotalPrice,
			Used:          ticket.Used,
		})
	}
	return out, nil
}

func (s *memStore) OrderState(_ context.Context, orderID string) (payments.OrderState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out payments.OrderState
	for _, ticket := range s.tickets {
		if ticket.OrderID == orderID {
			out.Total += ticket.TotalPrice
			out.Tickets++
			out.Paid = out.Paid || ticket.IsPaid()
		}
	}
	for _, p := range s.payments {
		if p.OrderID == orderID && p.Status == models.PaymentStatusPaid {
			out.Paid = true
		}
	}
	return out, nil
}

func (s *memStore) RecordInitiated(_ context.Context, p models.Payment) (models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p.Status = models.PaymentStatusPending
	for id, existing := range s.payments {
		if existing.OrderID == p.OrderID && existing.Provider == p.Provider {
			p.ID = id
			s.payments[id] = &p
			return p, nil
		}
	}
	s.seq++
	p.ID = "p" + strconv.Itoa(s.seq)
	s.payments[p.ID] = &p
	return p, nil
}

func (s *memStore) GetPaymentBySession(_ context.Context, provider, sessionID string) (models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.Provider == provider && p.ProviderSessionID == sessionID {
			return *p, nil
		}
	}
	return models.Payment{}, payments.ErrPaymentNotFound
}

func (s *memStore) GetPaymentByOrder(_ context.Context, provider, orderID string) (models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.Provider == provider && p.OrderID == orderID {
			return *p, nil
		}
	}
	return models.Payment{}, payments.ErrPaymentNotFound
}

func (s *memStore) ConfirmPayment(_ context.Context, id string, at time.Time, _ map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok || p.Status != models.PaymentStatusPending {
		return false, nil
	}
	p.Status = models.PaymentStatusPaid
	p.PaidAt = &at
	for _, ticket := range s.tickets {
		if ticket.OrderID == p.OrderID {
			ticket.PaymentStatus = models.PaymentStatusPaid
		}
	}
	return true, nil
}

func (s *memStore) MarkPaymentStatus(_ context.Context, id, status string, _ map[string]any) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok || p.Status != models.PaymentStatusPending {
		return false, nil
	}
	p.Status = status
	return true, nil
}

func (s *memStore) addPayment(p models.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = &p
}

func (s *memStore) payment(id string) models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.payments[id]
}

type testEnv struct {
	store   *memStore
	metrics *metrics.Metrics
	handler *Handler
	router  http.Handler
}

var fixedNow = time.Date(2025, 11, 20, 9, 30, 0, 0, time.UTC)

func newTestEnv(t *testing.T, cfg *config.Config, tickets ...models.Ticket) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}
	store := newMemStore(tickets...)
	m := metrics.New()
	logger := logging.Discard()
	dispatcher := payments.NewDispatcher(store, []payments.Adapter{
		payments.NewOfflineAdapter(payments.ProviderCash, "Pay at the desk."),
		payments.NewOfflineAdapter(payments.ProviderBankTransfer, "Wire the amount."),
	}, payments.DispatcherOptions{Metrics: m, Logger: logger})
	h := New(Deps{
		Store:      store,
		Dispatcher: dispatcher,
		Validator:  ticketing.NewValidator(store),
		Issuer:     ticketing.NewIssuer(store, nil, logger),
		Purchaser:  ticketing.NewPurchaser(store),
		Config:     cfg,
		Metrics:    m,
		Logger:     logger,
	})
	h.now = func() time.Time { return fixedNow }
	router := NewRouter(h, RouterOptions{
		ScanLimiter:    rate.NewWindowLimiter(100, time.Minute),
		MetricsEnabled: true,
	})
	return &testEnv{store: store, metrics: m, handler: h, router: router}
}

func (e *testEnv) do(method, path string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	e.router.ServeHTTP(resp, req)
	return resp
}

func paidTicket(id, slug string) models.Ticket {
	return models.Ticket{
		ID:            id,
		EventSlug:     slug,
		OrderID:       "order-" + id,
		BuyerName:     "Awa Ndiaye",
		TicketType:    models.TicketTypeStandard,
		Quantity:      1,
		TotalPrice:    1000,
		PaymentStatus: models.PaymentStatusPaid,
		QRCode:        ticketing.BuildQRPayload(id, slug),
	}
}

func decodeBody(t *testing.T, resp *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", resp.Body.String(), err)
	}
	return out
}

func TestValidateTicketScenario(t *testing.T) {
	env := newTestEnv(t, nil, paidTicket("abc123", "salon2025"))
	body := []byte(`{"qrData":"FOIRE2025-abc123-salon2025","eventSlug":"salon2025","markAsUsed":true}`)

	first := env.do(http.MethodPost, "/api/tickets/validate", body, nil)
	if first.Code != http.StatusOK {
		t.Fatalf("first scan status %d: %s", first.Code, first.Body.String())
	}
	got := decodeBody(t, first)
	if got["success"] != true || got["valid"] != true || got["markedAsUsed"] != true {
		t.Fatalf("unexpected first scan: %v", got)
	}

	second := env.do(http.MethodPost, "/api/tickets/validate", body, nil)
	if second.Code != http.StatusOK {
		t.Fatalf("second scan status %d", second.Code)
	}
	got = decodeBody(t, second)
	if got["valid"] != false || got["error"] != "already used" {
		t.Fatalf("unexpected rescan: %v", got)
	}
	if _, ok := got["usedAt"]; !ok {
		t.Fatalf("rescan must report the original usedAt: %v", got)
	}
	if _, ok := got["markedAsUsed"]; ok {
		t.Fatalf("invalid results carry no markedAsUsed: %v", got)
	}

	expected := `
# HELP foire_ticket_scans_total Ticket validations by result
# TYPE foire_ticket_scans_total counter
foire_ticket_scans_total{result="admitted"} 1
foire_ticket_scans_total{result="already_used"} 1
`
	if err := testutil.GatherAndCompare(env.metrics.Registry(), strings.NewReader(expected), "foire_ticket_scans_total"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestValidateTicketCheckOnly(t *testing.T) {
	env := newTestEnv(t, nil, paidTicket("abc123", "salon2025"))
	resp := env.do(http.MethodPost, "/api/tickets/validate", []byte(`{"qrData":"FOIRE2025-abc123-salon2025","eventSlug":"salon2025"}`), nil)
	got := decodeBody(t, resp)
	if resp.Code != http.StatusOK || got["valid"] != true || got["markedAsUsed"] != false {
		t.Fatalf("unexpected check-only result %d: %v", resp.Code, got)
	}
	if got["message"] == "" || got["message"] == nil {
		t.Fatalf("check-only result needs a message: %v", got)
	}
}

func TestValidateTicketBadInput(t *testing.T) {
	env := newTestEnv(t, nil)
	cases := map[string]string{
		"malformed json": `{"qrData":`,
		"missing fields": `{"qrData":""}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp := env.do(http.MethodPost, "/api/tickets/validate", []byte(body), nil)
			if resp.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", resp.Code)
			}
			got := decodeBody(t, resp)
			if got["success"] != false || got["error"] == nil {
				t.Fatalf("unexpected body: %v", got)
			}
		})
	}
}

func TestValidateTicketUnknownIsOutcome(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.do(http.MethodPost, "/api/tickets/validate", []byte(`{"qrData":"FOIRE2025-zzz-salon2025","eventSlug":"salon2025","markAsUsed":true}`), nil)
	got := decodeBody(t, resp)
	if resp.Code != http.StatusOK || got["success"] != true || got["valid"] != false || got["error"] != "ticket not found" {
		t.Fatalf("unexpected result %d: %v", resp.Code, got)
	}
}

func TestInitiatePaymentResponses(t *testing.T) {
	cases := []struct {
		name     string
		provider string
		body     string
		want     int
	}{
		{name: "cash pending", provider: "cash", body: `{"orderId":"o-1","amount":1000,"customer":{"name":"Awa"}}`, want: http.StatusCreated},
		{name: "bank transfer slug", provider: "bank-transfer", body: `{"orderId":"o-2","amount":1000}`, want: http.StatusCreated},
		{name: "zero amount", provider: "cash", body: `{"orderId":"o-3","amount":0}`, want: http.StatusBadRequest},
		{name: "mobile money without phone", provider: "wave", body: `{"orderId":"o-4","amount":1000}`, want: http.StatusBadRequest},
		{name: "free money not configured", provider: "free-money", body: `{"orderId":"o-5","amount":1000,"customer":{"phone":"771234567"}}`, want: http.StatusServiceUnavailable},
		{name: "unknown provider", provider: "paypal", body: `{"orderId":"o-6","amount":1000}`, want: http.StatusNotFound},
		{name: "malformed json", provider: "cash", body: `{`, want: http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := newTestEnv(t, nil)
			resp := env.do(http.MethodPost, "/api/payments/"+tc.provider, []byte(tc.body), nil)
			if resp.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, resp.Code, resp.Body.String())
			}
		})
	}
}

func TestInitiateCashReturnsInstructions(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.do(http.MethodPost, "/api/payments/cash", []byte(`{"orderId":"o-1","amount":1500}`), nil)
	if resp.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	got := decodeBody(t, resp)
	if got["status"] != "pending" || got["instructions"] != "Pay at the desk." || got["redirectUrl"] != nil {
		t.Fatalf("unexpected cash result: %v", got)
	}
	payment, err := env.store.GetPaymentByOrder(context.Background(), "cash", "o-1")
	if err != nil || payment.Status != models.PaymentStatusPending {
		t.Fatalf("cash payment must be recorded pending: %#v err=%v", payment, err)
	}
}

func TestInitiateOnPaidOrderConflicts(t *testing.T) {
	env := newTestEnv(t, nil, paidTicket("abc123", "salon2025"))
	resp := env.do(http.MethodPost, "/api/payments/bank-transfer", []byte(`{"orderId":"order-abc123","amount":1000}`), nil)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a paid order, got %d: %s", resp.Code, resp.Body.String())
	}
	if _, err := env.store.GetPaymentByOrder(context.Background(), "bank_transfer", "order-abc123"); !errors.Is(err, payments.ErrPaymentNotFound) {
		t.Fatalf("no payment row may be written for a paid order, got %v", err)
	}
}

func TestInitiateValidationNamesField(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.do(http.MethodPost, "/api/payments/cash", []byte(`{"orderId":"o-1","amount":-5}`), nil)
	got := decodeBody(t, resp)
	if resp.Code != http.StatusBadRequest || got["field"] != "amount" {
		t.Fatalf("unexpected validation answer %d: %v", resp.Code, got)
	}
}

func signWave(secret string, at time.Time, body []byte) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	return fmt.Sprintf("t=%s,v1=%s", ts, wave.Sign(secret, ts, body))
}

func waveCompletedEvent(sessionID, orderID, amount string) []byte {
	return []byte(fmt.Sprintf(`{"id":"evt_1","type":"checkout.session.completed","data":{"id":%q,"amount":%q,"currency":"XOF","client_reference":%q,"checkout_status":"complete","payment_status":"succeeded","transaction_id":"T1"}}`, sessionID, amount, orderID))
}

func TestWaveWebhookFailsClosedWithoutSecret(t *testing.T) {
	env := newTestEnv(t, nil)
	body := waveCompletedEvent("cos_1", "order-1", "1000")
	resp := env.do(http.MethodPost, "/api/webhooks/wave", body, map[string]string{
		wave.SignatureHeader: signWave("whatever", fixedNow, body),
	})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
	expected := `
# HELP foire_webhook_rejections_total Webhooks rejected before processing
# TYPE foire_webhook_rejections_total counter
foire_webhook_rejections_total{provider="wave",reason="secret_missing"} 1
`
	if err := testutil.GatherAndCompare(env.metrics.Registry(), strings.NewReader(expected), "foire_webhook_rejections_total"); err != nil {
		t.Fatalf("unexpected metrics: %v", err)
	}
}

func TestWaveWebhookConfirmsPayment(t *testing.T) {
	cfg := &config.Config{Wave: config.WaveConfig{WebhookSecret: "wave_sn_secret"}}
	ticket := paidTicket("abc123", "salon2025")
	ticket.PaymentStatus = models.PaymentStatusPending
	ticket.QRCode = ""
	env := newTestEnv(t, cfg, ticket)
	env.store.addPayment(models.Payment{
		ID:                "pay-1",
		OrderID:           ticket.OrderID,
		Provider:          "wave",
		ProviderSessionID: "cos_1",
		Amount:            1000,
		Currency:          "XOF",
		Status:            models.PaymentStatusPending,
	})

	body := waveCompletedEvent("cos_1", ticket.OrderID, "1000")
	bad := env.do(http.MethodPost, "/api/webhooks/wave", body, map[string]string{
		wave.SignatureHeader: signWave("other_secret", fixedNow, body),
	})
	if bad.Code != http.StatusUnauthorized {
		t.Fatalf("wrong signature must be rejected, got %d", bad.Code)
	}
	if env.store.payment("pay-1").Status != models.PaymentStatusPending {
		t.Fatalf("rejected webhook must not change state")
	}

	resp := env.do(http.MethodPost, "/api/webhooks/wave", body, map[string]string{
		wave.SignatureHeader: signWave("wave_sn_secret", fixedNow, body),
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if env.store.payment("pay-1").Status != models.PaymentStatusPaid {
		t.Fatalf("payment must be paid after a verified webhook")
	}

	view := env.do(http.MethodGet, "/api/tickets/abc123", nil, nil)
	got := decodeBody(t, view)
	if got["qrCode"] != "FOIRE2025-abc123-salon2025" {
		t.Fatalf("paid ticket must receive its payload on view: %v", got)
	}

	replay := env.do(http.MethodPost, "/api/webhooks/wave", body, map[string]string{
		wave.SignatureHeader: signWave("wave_sn_secret", fixedNow, body),
	})
	if replay.Code != http.StatusOK {
		t.Fatalf("replayed webhook must be acknowledged, got %d", replay.Code)
	}
}

func TestWaveWebhookAmountMismatchKeepsPending(t *testing.T) {
	cfg := &config.Config{Wave: config.WaveConfig{WebhookSecret: "wave_sn_secret"}}
	env := newTestEnv(t, cfg)
	env.store.addPayment(models.Payment{ID: "pay-1", OrderID: "order-1", Provider: "wave", ProviderSessionID: "cos_1", Amount: 1000, Status: models.PaymentStatusPending})

	body := waveCompletedEvent("cos_1", "order-1", "10")
	resp := env.do(http.MethodPost, "/api/webhooks/wave", body, map[string]string{
		wave.SignatureHeader: signWave("wave_sn_secret", fixedNow, body),
	})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected acknowledgement, got %d", resp.Code)
	}
	if env.store.payment("pay-1").Status != models.PaymentStatusPending {
		t.Fatalf("mismatched amount must not confirm")
	}
}

func TestStripeWebhookFailsClosedWithoutSecret(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.do(http.MethodPost, "/api/webhooks/stripe", []byte(`{"id":"evt_1","type":"checkout.session.completed"}`), map[string]string{
		"Stripe-Signature": "t=1,v1=deadbeef",
	})
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestOrangeMoneyWebhookChecksToken(t *testing.T) {
	ticket := paidTicket("abc123", "salon2025")
	ticket.PaymentStatus = models.PaymentStatusPending
	env := newTestEnv(t, nil, ticket)
	env.store.addPayment(models.Payment{
		ID:                "pay-om",
		OrderID:           ticket.OrderID,
		Provider:          "orange_money",
		ProviderSessionID: "pay_token_1",
		Amount:            1000,
		NotifToken:        "stored-token",
		Status:            models.PaymentStatusPending,
	})

	path := "/api/webhooks/orange-money?order=" + ticket.OrderID
	bad := env.do(http.MethodPost, path, []byte(`{"status":"SUCCESS","notif_token":"forged","txnid":"MP1"}`), nil)
	if bad.Code != http.StatusUnauthorized {
		t.Fatalf("forged token must be rejected, got %d", bad.Code)
	}
	if env.store.payment("pay-om").Status != models.PaymentStatusPending {
		t.Fatalf("forged notification must not change state")
	}

	ok := env.do(http.MethodPost, path, []byte(`{"status":"SUCCESS","notif_token":"stored-token","txnid":"MP1"}`), nil)
	if ok.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", ok.Code, ok.Body.String())
	}
	if env.store.payment("pay-om").Status != models.PaymentStatusPaid {
		t.Fatalf("verified notification must confirm the payment")
	}

	missing := env.do(http.MethodPost, "/api/webhooks/orange-money", []byte(`{}`), nil)
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("missing order must be a 400, got %d", missing.Code)
	}
}

func TestWaveSessionStatusWithoutWave(t *testing.T) {
	env := newTestEnv(t, nil)
	resp := env.do(http.MethodGet, "/api/payments/wave/cos_1", nil, nil)
	if resp.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.Code)
	}
}

type waveLookupStub struct {
	session wave.CheckoutSession
}

func (s waveLookupStub) GetCheckoutSession(context.Context, string) (wave.CheckoutSession, []byte, error) {
	return s.session, nil, nil
}

func TestWaveSessionStatusConfirmsCompletedSession(t *testing.T) {
	env := newTestEnv(t, nil)
	env.store.addPayment(models.Payment{ID: "pay-1", OrderID: "order-1", Provider: "wave", ProviderSessionID: "cos_1", Amount: 1000, Status: models.PaymentStatusPending})
	env.handler.wave = waveLookupStub{session: wave.CheckoutSession{
		ID:              "cos_1",
		Amount:          "1000",
		ClientReference: "order-1",
		CheckoutStatus:  wave.CheckoutStatusComplete,
		PaymentStatus:   wave.PaymentStatusSucceeded,
	}}

	resp := env.do(http.MethodGet, "/api/payments/wave/cos_1", nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	got := decodeBody(t, resp)
	if got["status"] != models.PaymentStatusPaid {
		t.Fatalf("unexpected lookup answer: %v", got)
	}
}

func TestPurchaseThenViewPendingTicket(t *testing.T) {
	env := newTestEnv(t, nil)
	// unitPrice is not part of the request; the event price applies.
	resp := env.do(http.MethodPost, "/api/events/salon2025/tickets", []byte(`{"buyerName":"Awa Ndiaye","lines":[{"ticketType":"vip","quantity":2,"unitPrice":1}]}`), nil)
	if resp.Code != http.StatusCreated {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	var order ticketing.Order
	if err := json.Unmarshal(resp.Body.Bytes(), &order); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if order.Total != 10000 || len(order.Tickets) != 1 {
		t.Fatalf("unexpected order: %#v", order)
	}

	view := env.do(http.MethodGet, "/api/tickets/"+order.Tickets[0].ID, nil, nil)
	got := decodeBody(t, view)
	if view.Code != http.StatusOK || got["qrCode"] != nil {
		t.Fatalf("pending ticket must not carry a payload: %v", got)
	}
	png := env.do(http.MethodGet, "/api/tickets/"+order.Tickets[0].ID+"/qr.png", nil, nil)
	if png.Code != http.StatusConflict {
		t.Fatalf("expected 409 for unpaid qr, got %d", png.Code)
	}

	wrongTotal := env.do(http.MethodPost, "/api/payments/cash", []byte(`{"orderId":"`+order.OrderID+`","amount":500}`), nil)
	if wrongTotal.Code != http.StatusBadRequest {
		t.Fatalf("amount must match the order total, got %d", wrongTotal.Code)
	}
}

func TestPurchaseErrors(t *testing.T) {
	env := newTestEnv(t, nil)
	cases := []struct {
		name string
		path string
		body string
		want int
	}{
		{name: "missing buyer", path: "/api/events/salon2025/tickets", body: `{"lines":[{"quantity":1}]}`, want: http.StatusBadRequest},
		{name: "no lines", path: "/api/events/salon2025/tickets", body: `{"buyerName":"A"}`, want: http.StatusBadRequest},
		{name: "bad email", path: "/api/events/salon2025/tickets", body: `{"buyerName":"A","buyerEmail":"nope","lines":[{"quantity":1}]}`, want: http.StatusBadRequest},
		{name: "unknown type", path: "/api/events/salon2025/tickets", body: `{"buyerName":"A","lines":[{"ticketType":"backstage","quantity":1}]}`, want: http.StatusBadRequest},
		{name: "type not on sale", path: "/api/events/salon2025/tickets", body: `{"buyerName":"A","lines":[{"ticketType":"exhibitor","quantity":1}]}`, want: http.StatusBadRequest},
		{name: "unknown event", path: "/api/events/nope/tickets", body: `{"buyerName":"A","lines":[{"quantity":1}]}`, want: http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := env.do(http.MethodPost, tc.path, []byte(tc.body), nil)
			if resp.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, resp.Code, resp.Body.String())
			}
		})
	}
}

func TestTicketQRImageForPaidTicket(t *testing.T) {
	env := newTestEnv(t, nil, paidTicket("abc123", "salon2025"))
	resp := env.do(http.MethodGet, "/api/tickets/abc123/qr.png?size=64", nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if resp.Header().Get("Content-Type") != "image/png" {
		t.Fatalf("unexpected content type %q", resp.Header().Get("Content-Type"))
	}
	if !bytes.HasPrefix(resp.Body.Bytes(), []byte("\x89PNG")) {
		t.Fatalf("body is not a png")
	}
}

func TestEventStats(t *testing.T) {
	used := paidTicket("abc123", "salon2025")
	used.Used = true
	env := newTestEnv(t, nil, used, paidTicket("def456", "salon2025"))

	resp := env.do(http.MethodGet, "/api/events/salon2025/stats", nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if missing := env.do(http.MethodGet, "/api/events/nope/stats", nil, nil); missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown event, got %d", missing.Code)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	if resp := env.do(http.MethodGet, "/healthz", nil, nil); resp.Code != http.StatusOK {
		t.Fatalf("healthz: %d", resp.Code)
	}
	if resp := env.do(http.MethodGet, "/readyz", nil, nil); resp.Code != http.StatusOK {
		t.Fatalf("readyz: %d", resp.Code)
	}
	resp := env.do(http.MethodGet, "/metrics", nil, nil)
	if resp.Code != http.StatusOK || !strings.Contains(resp.Body.String(), "foire_http_requests_total") {
		t.Fatalf("metrics endpoint: %d", resp.Code)
	}
}
