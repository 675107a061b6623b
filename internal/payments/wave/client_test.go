package wave

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"foire/backend/internal/models"
	"foire/backend/internal/payments"
)

func newWaveServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if got := r.Header.Get("Authorization"); got != "Bearer wave_sn_test" {
			t.Errorf("unexpected auth header: %s", got)
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/v1/checkout/sessions":
			if got := r.Header.Get("Idempotency-Key"); got != "order-1" {
				t.Errorf("unexpected idempotency key: %q", got)
			}
			var payload map[string]string
			if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
				t.Errorf("decode request: %v", err)
			}
			if payload["amount"] != "1000" || payload["currency"] != "XOF" {
				t.Errorf("unexpected amount payload: %#v", payload)
			}
			if payload["success_url"] == "" || payload["error_url"] == "" {
				t.Errorf("redirect urls missing: %#v", payload)
			}
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":               "cos-18qq25rgr100a",
				"amount":           payload["amount"],
				"currency":         payload["currency"],
				"client_reference": payload["client_reference"],
				"checkout_status":  "open",
				"payment_status":   "processing",
				"wave_launch_url":  "https://pay.wave.com/c/cos-18qq25rgr100a?a=1000&c=XOF",
			})
		case r.Method == http.MethodGet && r.URL.Path == "/v1/checkout/sessions/cos-18qq25rgr100a":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"id":               "cos-18qq25rgr100a",
				"amount":           "1000",
				"currency":         "XOF",
				"client_reference": "order-1",
				"checkout_status":  "complete",
				"payment_status":   "succeeded",
				"transaction_id":   "TCN4Y4ZC3FM",
			})
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"code":"not-found","message":"no such session"}`))
		}
	}))
}

func TestCreateAndGetCheckoutSession(t *testing.T) {
	var hits int32
	srv := newWaveServer(t, &hits)
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, APIKey: "wave_sn_test", RequestsPerSecond: 100}, srv.Client(), nil)
	session, raw, err := client.CreateCheckoutSession(context.Background(), "order-1", CreateCheckoutSessionRequest{
		Amount:          1000,
		Currency:        "xof",
		ClientReference: "order-1",
		SuccessURL:      "https://foire.example/checkout/success",
		ErrorURL:        "https://foire.example/checkout/error",
	})
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if session.WaveLaunchURL == "" || len(raw) == 0 {
		t.Fatalf("unexpected session: %#v", session)
	}

	fetched, _, err := client.GetCheckoutSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if !fetched.Succeeded() {
		t.Fatalf("expected succeeded session, got %#v", fetched)
	}
	amount, err := fetched.AmountMinor()
	if err != nil || amount != 1000 {
		t.Fatalf("unexpected amount %d, %v", amount, err)
	}
}

func TestClientReturnsAPIErrorOnNon2xx(t *testing.T) {
	var hits int32
	srv := newWaveServer(t, &hits)
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, APIKey: "wave_sn_test"}, srv.Client(), nil)
	_, _, err := client.GetCheckoutSession(context.Background(), "cos-unknown")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 APIError, got %v", err)
	}
}

type recorderStub struct {
	recorded []models.Payment
}

func (r *recorderStub) OrderState(context.Context, string) (payments.OrderState, error) {
	return payments.OrderState{}, nil
}

func (r *recorderStub) RecordInitiated(_ context.Context, p models.Payment) (models.Payment, error) {
	r.recorded = append(r.recorded, p)
	return p, nil
}

func (r *recorderStub) GetPaymentBySession(context.Context, string, string) (models.Payment, error) {
	return models.Payment{}, payments.ErrPaymentNotFound
}

func (r *recorderStub) GetPaymentByOrder(context.Context, string, string) (models.Payment, error) {
	return models.Payment{}, payments.ErrPaymentNotFound
}

func (r *recorderStub) ConfirmPayment(context.Context, string, time.Time, map[string]any) (bool, error) {
	return false, nil
}

func (r *recorderStub) MarkPaymentStatus(context.Context, string, string, map[string]any) (bool, error) {
	return false, nil
}

func TestDispatchWaveCheckout(t *testing.T) {
	var hits int32
	srv := newWaveServer(t, &hits)
	defer srv.Close()

	client := NewClient(Config{BaseURL: srv.URL, APIKey: "wave_sn_test", RequestsPerSecond: 100}, srv.Client(), nil)
	adapter := NewAdapter(client, AdapterConfig{SuccessURL: "https://foire.example/checkout/success"})
	recorder := &recorderStub{}
	dispatcher := payments.NewDispatcher(recorder, []payments.Adapter{adapter}, payments.DispatcherOptions{})

	intent := payments.Intent{
		OrderID:  "order-1",
		Amount:   0,
		Currency: "XOF",
		Provider: payments.ProviderWave,
		Customer: payments.Customer{Name: "Awa", Phone: "+221770000000"},
	}
	if _, err := dispatcher.Initiate(context.Background(), intent); err == nil {
		t.Fatalf("expected zero amount to be rejected")
	}
	if got := atomic.LoadInt32(&hits); got != 0 {
		t.Fatalf("expected no calls to wave, got %d", got)
	}

	intent.Amount = 1000
	result, err := dispatcher.Initiate(context.Background(), intent)
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if result.RedirectURL != "https://pay.wave.com/c/cos-18qq25rgr100a?a=1000&c=XOF" {
		t.Fatalf("unexpected redirect url %q", result.RedirectURL)
	}
	if len(recorder.recorded) != 1 || recorder.recorded[0].ProviderSessionID != "cos-18qq25rgr100a" {
		t.Fatalf("expected one pending payment row, got %#v", recorder.recorded)
	}
}

func TestAdapterWrapsProviderFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"request-validation-error"}`))
	}))
	defer srv.Close()

	adapter := NewAdapter(NewClient(Config{BaseURL: srv.URL, APIKey: "wave_sn_test"}, srv.Client(), nil), AdapterConfig{SuccessURL: "https://foire.example/ok"})
	_, err := adapter.Initiate(context.Background(), payments.Intent{OrderID: "order-2", Amount: 500, Currency: "XOF"})
	if !errors.Is(err, payments.ErrInitiationFailed) {
		t.Fatalf("expected ErrInitiationFailed, got %v", err)
	}
}

func TestAdapterKeysRetryAttemptSeparately(t *testing.T) {
	var key, reference string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("Idempotency-Key")
		var payload map[string]string
		_ = json.NewDecoder(r.Body).Decode(&payload)
		reference = payload["client_reference"]
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "cos-2", "wave_launch_url": "https://pay.wave.com/c/cos-2"})
	}))
	defer srv.Close()

	adapter := NewAdapter(NewClient(Config{BaseURL: srv.URL, APIKey: "wave_sn_test"}, srv.Client(), nil), AdapterConfig{SuccessURL: "https://foire.example/ok"})
	if _, err := adapter.Initiate(context.Background(), payments.Intent{OrderID: "order-3", Amount: 500, Currency: "XOF", Attempt: 2}); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if key != "order-3-r2" {
		t.Fatalf("retry attempt must use its own idempotency key, got %q", key)
	}
	if reference != "order-3" {
		t.Fatalf("client_reference must stay the order id, got %q", reference)
	}
}

type transitionRecorder struct {
	confirmed []payments.Confirmation
	failed    []string
}

func (r *transitionRecorder) Confirm(_ context.Context, c payments.Confirmation) (models.Payment, error) {
	r.confirmed = append(r.confirmed, c)
	return models.Payment{Status: models.PaymentStatusPaid}, nil
}

func (r *transitionRecorder) Fail(_ context.Context, _ payments.Provider, _, _, status string, _ map[string]any) (models.Payment, error) {
	r.failed = append(r.failed, status)
	return models.Payment{Status: status}, nil
}

func TestApplySessionStates(t *testing.T) {
	cases := []struct {
		name    string
		session CheckoutSession
		event   string
		want    string
	}{
		{name: "succeeded", session: CheckoutSession{ID: "cos-1", Amount: "1000", CheckoutStatus: "complete", PaymentStatus: "succeeded"}, want: models.PaymentStatusPaid},
		{name: "expired", session: CheckoutSession{ID: "cos-2", CheckoutStatus: "expired", PaymentStatus: "cancelled"}, want: models.PaymentStatusCanceled},
		{name: "failed event", session: CheckoutSession{ID: "cos-3", CheckoutStatus: "open", PaymentStatus: "cancelled"}, event: EventCheckoutPaymentFailed, want: models.PaymentStatusFailed},
		{name: "still open", session: CheckoutSession{ID: "cos-4", CheckoutStatus: "open", PaymentStatus: "processing"}, want: models.PaymentStatusPending},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &transitionRecorder{}
			got, err := Apply(context.Background(), rec, tc.session, tc.event)
			if err != nil {
				t.Fatalf("apply: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
		})
	}
}

func TestApplyPassesConfirmedAmount(t *testing.T) {
	rec := &transitionRecorder{}
	session := CheckoutSession{ID: "cos-1", Amount: "2500", ClientReference: "order-7", CheckoutStatus: "complete", PaymentStatus: "succeeded", TransactionID: "T1"}
	if _, err := Apply(context.Background(), rec, session, EventCheckoutCompleted); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(rec.confirmed) != 1 || rec.confirmed[0].Amount == nil || *rec.confirmed[0].Amount != 2500 {
		t.Fatalf("unexpected confirmation: %#v", rec.confirmed)
	}
	if rec.confirmed[0].OrderID != "order-7" || rec.confirmed[0].TransactionID != "T1" {
		t.Fatalf("confirmation lost references: %#v", rec.confirmed[0])
	}
}
