package server

import (
	"context"
	"database/sql"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dukerupert/fitstack/internal/auth"
	billingstripe "github.com/dukerupert/fitstack/internal/billing/stripe"
	"github.com/dukerupert/fitstack/internal/database"
	"github.com/dukerupert/fitstack/internal/model"
	"github.com/dukerupert/fitstack/internal/store"
)

const (
	jwtSecret     = "test-secret"
	webhookSecret = "whsec_test"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	users := store.NewUserStore(db)
	for _, u := range []struct {
		id   string
		role model.Role
	}{{"alice", model.RoleUser}, {"carol", model.RoleCoach}, {"root", model.RoleAdmin}} {
		if _, err := users.Create(context.Background(), u.id, u.id+"@example.com", u.id, u.role); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	return db
}

func newServer(t *testing.T, db *sql.DB, stripeClient *billingstripe.Client) http.Handler {
	t.Helper()
	srv := New(db, Config{JWTSecret: jwtSecret, SweepInterval: time.Hour, Stripe: stripeClient}, quiet)
	return srv.Router()
}

func do(t *testing.T, h http.Handler, method, path, actor string, role model.Role, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if actor != "" {
		token, err := auth.IssueToken(jwtSecret, actor, role, time.Hour)
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealthIsPublic(t *testing.T) {
	h := newServer(t, openDB(t), nil)
	if w := do(t, h, "GET", "/health", "", "", ""); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	h := newServer(t, openDB(t), nil)
	if w := do(t, h, "GET", "/api/plans", "", "", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", w.Code)
	}
}

func TestBillingRoutesAbsentWithoutStripe(t *testing.T) {
	h := newServer(t, openDB(t), nil)

	if w := do(t, h, "POST", "/webhooks/stripe", "", "", "{}"); w.Code == http.StatusOK {
		t.Errorf("webhook mounted without stripe: status %d", w.Code)
	}
	if w := do(t, h, "POST", "/api/checkout", "alice", model.RoleUser, `{"plan_id":"gold"}`); w.Code != http.StatusNotFound {
		t.Errorf("checkout status = %d, want 404", w.Code)
	}
}

func TestRoleGuards(t *testing.T) {
	h := newServer(t, openDB(t), nil)
	plan := `{"name":"Gold","price_cents":90000,"duration_months":3}`
	slot := `{"start_time":"2099-01-01T10:00:00Z","end_time":"2099-01-01T11:00:00Z"}`

	tests := []struct {
		name   string
		method string
		path   string
		actor  string
		role   model.Role
		body   string
		want   int
	}{
		{"user cannot create plan", "POST", "/api/plans", "alice", model.RoleUser, plan, http.StatusForbidden},
		{"admin creates plan", "POST", "/api/plans", "root", model.RoleAdmin, plan, http.StatusCreated},
		{"duplicate plan", "POST", "/api/plans", "root", model.RoleAdmin, plan, http.StatusConflict},
		{"user cannot create slot", "POST", "/api/slots", "alice", model.RoleUser, slot, http.StatusForbidden},
		{"coach creates slot", "POST", "/api/slots", "carol", model.RoleCoach, slot, http.StatusCreated},
		{"overlapping slot", "POST", "/api/slots", "carol", model.RoleCoach, slot, http.StatusConflict},
		{"admin has no wallet", "GET", "/api/wallet", "root", model.RoleAdmin, "", http.StatusForbidden},
		{"user wallet", "GET", "/api/wallet", "alice", model.RoleUser, "", http.StatusOK},
		{"missing session", "POST", "/api/sessions/nope/cancel", "alice", model.RoleUser, `{}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		w := do(t, h, tt.method, tt.path, tt.actor, tt.role, tt.body)
		if w.Code != tt.want {
			t.Errorf("%s: status = %d, want %d (body %s)", tt.name, w.Code, tt.want, w.Body.String())
		}
	}
}

func TestBookingWithoutMembershipForbidden(t *testing.T) {
	h := newServer(t, openDB(t), nil)
	slot := `{"start_time":"2099-01-01T10:00:00Z","end_time":"2099-01-01T11:00:00Z"}`
	w := do(t, h, "POST", "/api/slots", "carol", model.RoleCoach, slot)
	if w.Code != http.StatusCreated {
		t.Fatalf("create slot: %d", w.Code)
	}
	id := between(w.Body.String(), `"id":"`, `"`)

	if w := do(t, h, "POST", "/api/slots/"+id+"/book", "alice", model.RoleUser, ""); w.Code != http.StatusForbidden {
		t.Errorf("book status = %d, want 403", w.Code)
	}
}

func TestWriteRateLimit(t *testing.T) {
	h := newServer(t, openDB(t), nil)

	for i := 0; i < writeLimit; i++ {
		if w := do(t, h, "POST", "/api/notifications/n1/read", "alice", model.RoleUser, ""); w.Code != http.StatusNotFound {
			t.Fatalf("request %d: status = %d, want 404", i, w.Code)
		}
	}
	w := do(t, h, "POST", "/api/notifications/n1/read", "alice", model.RoleUser, "")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	// Reads and other actors are unaffected.
	if w := do(t, h, "GET", "/api/notifications", "alice", model.RoleUser, ""); w.Code != http.StatusOK {
		t.Errorf("read status = %d, want 200", w.Code)
	}
	if w := do(t, h, "POST", "/api/notifications/n1/read", "carol", model.RoleCoach, ""); w.Code != http.StatusNotFound {
		t.Errorf("other actor status = %d, want 404", w.Code)
	}
}

func TestWebhookCancelsMembership(t *testing.T) {
	db := openDB(t)
	ctx := context.Background()

	if _, err := store.NewPlanStore(db).Create(ctx, &model.Plan{ID: "gold", Name: "gold", PriceCents: 90000, DurationMonths: 3}); err != nil {
		t.Fatalf("create plan: %v", err)
	}
	memberships := store.NewMembershipStore(db)
	users := store.NewUserStore(db)
	if _, err := memberships.Upsert(ctx, &model.Membership{
		ID: "sub_1", UserID: "alice", PlanID: "gold",
		StripeCustomerID: "cus_1", StripeSubscriptionID: "sub_1",
		Status: model.MembershipActive,
	}); err != nil {
		t.Fatalf("upsert membership: %v", err)
	}
	if err := users.SetActiveMembership(ctx, "alice", "sub_1"); err != nil {
		t.Fatalf("set active membership: %v", err)
	}

	client := billingstripe.NewClient(billingstripe.Config{SecretKey: "sk_test_123", WebhookSecret: webhookSecret}, quiet)
	h := newServer(t, db, client)

	payload := `{
  "id": "evt_deleted",
  "object": "event",
  "type": "customer.subscription.deleted",
  "data": {"object": {"id": "sub_1", "object": "subscription", "status": "canceled"}}
}`
	post := func(sig string) int {
		req := httptest.NewRequest("POST", "/webhooks/stripe", strings.NewReader(payload))
		req.Header.Set("Stripe-Signature", sig)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}

	if code := post("t=1,v1=bad"); code != http.StatusBadRequest {
		t.Fatalf("bad signature status = %d, want 400", code)
	}
	ms, _ := memberships.GetByID(ctx, "sub_1")
	if ms.Status != model.MembershipActive {
		t.Fatalf("status after rejected event = %s, want active", ms.Status)
	}

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    webhookSecret,
		Timestamp: time.Now(),
	})
	for i := 0; i < 2; i++ {
		if code := post(signed.Header); code != http.StatusOK {
			t.Fatalf("delivery %d status = %d, want 200", i+1, code)
		}
	}

	ms, _ = memberships.GetByID(ctx, "sub_1")
	if ms.Status != model.MembershipCanceled {
		t.Errorf("status = %s, want canceled", ms.Status)
	}
	u, _ := users.GetByID(ctx, "alice")
	if u.ActiveMembershipID != nil {
		t.Errorf("active membership = %v, want nil", *u.ActiveMembershipID)
	}
}

func between(s, start, end string) string {
	i := strings.Index(s, start)
	if i < 0 {
		return ""
	}
	s = s[i+len(start):]
	if j := strings.Index(s, end); j >= 0 {
		return s[:j]
	}
	return s
}

func TestProvisionedCoachCanPublishSlots(t *testing.T) {
	h := newServer(t, openDB(t), nil)
	slot := `{"start_time":"2099-01-01T10:00:00Z","end_time":"2099-01-01T11:00:00Z"}`

	if w := do(t, h, "POST", "/api/slots", "dave", model.RoleCoach, slot); w.Code != http.StatusNotFound {
		t.Fatalf("unprovisioned coach: status = %d, want 404 (body %s)", w.Code, w.Body.String())
	}
	if w := do(t, h, "GET", "/api/users/me", "dave", model.RoleCoach, ""); w.Code != http.StatusNotFound {
		t.Errorf("me before provisioning: status = %d, want 404", w.Code)
	}

	body := `{"id":"dave","email":"Dave@Example.com","name":"Dave","role":"coach"}`
	if w := do(t, h, "POST", "/api/users", "alice", model.RoleUser, body); w.Code != http.StatusForbidden {
		t.Errorf("user provisioning: status = %d, want 403", w.Code)
	}
	if w := do(t, h, "POST", "/api/users", "root", model.RoleAdmin, body); w.Code != http.StatusCreated {
		t.Fatalf("admin provisioning: status = %d, body %s", w.Code, w.Body.String())
	}
	if w := do(t, h, "POST", "/api/users", "root", model.RoleAdmin, body); w.Code != http.StatusConflict {
		t.Errorf("duplicate provisioning: status = %d, want 409", w.Code)
	}
	if w := do(t, h, "POST", "/api/users", "root", model.RoleAdmin, `{"email":"nope","role":"coach"}`); w.Code != http.StatusBadRequest {
		t.Errorf("bad email: status = %d, want 400", w.Code)
	}

	w := do(t, h, "GET", "/api/users/me", "dave", model.RoleCoach, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"email":"dave@example.com"`) {
		t.Errorf("me: status = %d, body %s", w.Code, w.Body.String())
	}
	if w := do(t, h, "POST", "/api/slots", "dave", model.RoleCoach, slot); w.Code != http.StatusCreated {
		t.Errorf("provisioned coach: status = %d, want 201 (body %s)", w.Code, w.Body.String())
	}
}
