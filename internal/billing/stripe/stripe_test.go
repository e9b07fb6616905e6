package stripe

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
)

// useBackend points the package-level Stripe API backend at srv.
func useBackend(t *testing.T, srv *httptest.Server) {
	t.Helper()
	stripe.SetBackend(stripe.APIBackend, stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		HTTPClient:        srv.Client(),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}))
	t.Cleanup(func() { stripe.SetBackend(stripe.APIBackend, nil) })
}

const subscriptionJSON = `{
  "id": "sub_1",
  "object": "subscription",
  "customer": "cus_1",
  "status": "active",
  "start_date": 1893456000,
  "items": {"object": "list", "data": [
    {"id": "si_1", "object": "subscription_item",
     "price": {"id": "price_1", "object": "price", "recurring": {"interval": "month", "interval_count": 3}}}
  ]}
}`

func TestGetSubscriptionRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"error": {"type": "api_error", "message": "try again"}}`))
			return
		}
		if r.URL.Path != "/v1/subscriptions/sub_1" {
			t.Errorf("path = %q, want /v1/subscriptions/sub_1", r.URL.Path)
		}
		w.Write([]byte(subscriptionJSON))
	}))
	defer srv.Close()
	useBackend(t, srv)

	c := NewClient(Config{SecretKey: "sk_test_123", RetryBase: time.Millisecond}, slog.Default())
	sub, err := c.GetSubscription(context.Background(), "sub_1")
	if err != nil {
		t.Fatalf("get subscription: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
	if sub.Interval != "month" || sub.IntervalCount != 3 {
		t.Errorf("interval = %s x %d, want month x 3", sub.Interval, sub.IntervalCount)
	}
	if sub.CustomerID != "cus_1" {
		t.Errorf("customer = %q, want cus_1", sub.CustomerID)
	}
	if want := time.Unix(1893456000, 0).UTC(); !sub.StartDate.Equal(want) {
		t.Errorf("start = %v, want %v", sub.StartDate, want)
	}
}

func TestGetSubscriptionDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error": {"type": "invalid_request_error", "message": "No such subscription"}}`))
	}))
	defer srv.Close()
	useBackend(t, srv)

	c := NewClient(Config{SecretKey: "sk_test_123", RetryBase: time.Millisecond}, slog.Default())
	if _, err := c.GetSubscription(context.Background(), "sub_missing"); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}
