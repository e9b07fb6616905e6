package membership

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/fitstack/internal/database"
	"github.com/dukerupert/fitstack/internal/model"
	"github.com/dukerupert/fitstack/internal/store"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []model.Notification
	err  error
}

func (n *recordingNotifier) Notify(_ context.Context, msg model.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, msg)
	return n.err
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, m := range n.sent {
		out = append(out, m.Type)
	}
	return out
}

type fixture struct {
	machine     *Machine
	memberships *store.MembershipStore
	users       *store.UserStore
	notifier    *recordingNotifier
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	users := store.NewUserStore(db)
	for _, id := range []string{"alice", "bob"} {
		if _, err := users.Create(ctx, id, id+"@example.com", id, model.RoleUser); err != nil {
			t.Fatalf("create user: %v", err)
		}
	}
	if _, err := store.NewPlanStore(db).Create(ctx, &model.Plan{ID: "p1", Name: "gold", PriceCents: 90000, DurationMonths: 3}); err != nil {
		t.Fatalf("create plan: %v", err)
	}

	memberships := store.NewMembershipStore(db)
	notifier := &recordingNotifier{}
	return &fixture{
		machine:     NewMachine(memberships, users, notifier, slog.Default()),
		memberships: memberships,
		users:       users,
		notifier:    notifier,
	}
}

func (f *fixture) activate(t *testing.T, subID, userID string, periodEnd time.Time) *model.Membership {
	t.Helper()
	ms, err := f.machine.Activate(context.Background(), Activation{
		SubscriptionID: subID,
		CustomerID:     "cus_" + userID,
		UserID:         userID,
		PlanID:         "p1",
		PeriodEnd:      periodEnd,
	})
	if err != nil {
		t.Fatalf("activate %s: %v", subID, err)
	}
	return ms
}

func (f *fixture) activeID(t *testing.T, userID string) *string {
	t.Helper()
	u, err := f.users.GetByID(context.Background(), userID)
	if err != nil || u == nil {
		t.Fatalf("get user %s: %v", userID, err)
	}
	return u.ActiveMembershipID
}

func TestActivateCreatesActiveMembership(t *testing.T) {
	f := setup(t)
	end := time.Date(2030, 4, 1, 0, 0, 0, 0, time.UTC)

	ms := f.activate(t, "sub_1", "alice", end)
	if ms.Status != model.MembershipActive {
		t.Errorf("status = %q, want active", ms.Status)
	}
	if ms.CurrentPeriodEnd == nil || !ms.CurrentPeriodEnd.Equal(end) {
		t.Errorf("period end = %v, want %v", ms.CurrentPeriodEnd, end)
	}
	if got := f.activeID(t, "alice"); got == nil || *got != "sub_1" {
		t.Errorf("active membership = %v, want sub_1", got)
	}
	if got := f.notifier.types(); len(got) != 1 || got[0] != model.NotifMembershipActivated {
		t.Errorf("notifications = %v, want [activated]", got)
	}
}

func TestActivateReplayIsIdempotent(t *testing.T) {
	f := setup(t)
	end := time.Now().Add(90 * 24 * time.Hour)

	f.activate(t, "sub_1", "alice", end)
	f.activate(t, "sub_1", "alice", end)

	got, err := f.memberships.GetBySubscriptionID(context.Background(), "sub_1")
	if err != nil || got == nil {
		t.Fatalf("get membership: %v", err)
	}
	if n := len(f.notifier.types()); n != 1 {
		t.Errorf("notifications = %d, want 1", n)
	}
}

func TestActivateReplayKeepsLaterStatus(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.activate(t, "sub_1", "alice", time.Now().Add(time.Hour))

	if err := f.machine.MarkPastDue(ctx, "sub_1"); err != nil {
		t.Fatalf("mark past due: %v", err)
	}
	ms := f.activate(t, "sub_1", "alice", time.Now().Add(time.Hour))
	if ms.Status != model.MembershipPastDue {
		t.Errorf("status = %q, want past_due", ms.Status)
	}
}

func TestActivateNotificationFailureIgnored(t *testing.T) {
	f := setup(t)
	f.notifier.err = errors.New("inbox down")

	ms := f.activate(t, "sub_1", "alice", time.Now().Add(time.Hour))
	if ms.Status != model.MembershipActive {
		t.Errorf("status = %q, want active", ms.Status)
	}
}

func TestRenewUnknownSubscriptionDropped(t *testing.T) {
	f := setup(t)

	ms, err := f.machine.Renew(context.Background(), "sub_unknown", nil)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if ms != nil {
		t.Errorf("membership = %+v, want nil", ms)
	}
	if n := len(f.notifier.types()); n != 0 {
		t.Errorf("notifications = %d, want 0", n)
	}
}

func TestRenewRestoresPastDueAndAdvancesPeriod(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.activate(t, "sub_1", "alice", time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))
	f.machine.MarkPastDue(ctx, "sub_1")

	next := time.Date(2030, 4, 1, 0, 0, 0, 0, time.UTC)
	ms, err := f.machine.Renew(ctx, "sub_1", &next)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if ms.Status != model.MembershipActive {
		t.Errorf("status = %q, want active", ms.Status)
	}
	if ms.CurrentPeriodEnd == nil || !ms.CurrentPeriodEnd.Equal(next) {
		t.Errorf("period end = %v, want %v", ms.CurrentPeriodEnd, next)
	}

	want := []string{model.NotifMembershipActivated, model.NotifPaymentFailed, model.NotifMembershipRenewed}
	got := f.notifier.types()
	if len(got) != len(want) {
		t.Fatalf("notifications = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("notification[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestMarkPastDueReplayNotifiesOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.activate(t, "sub_1", "alice", time.Now().Add(time.Hour))

	f.machine.MarkPastDue(ctx, "sub_1")
	f.machine.MarkPastDue(ctx, "sub_1")

	count := 0
	for _, typ := range f.notifier.types() {
		if typ == model.NotifPaymentFailed {
			count++
		}
	}
	if count != 1 {
		t.Errorf("payment failed notifications = %d, want 1", count)
	}
}

func TestCancelClearsPointerAndIsTerminal(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.activate(t, "sub_1", "alice", time.Now().Add(time.Hour))

	if err := f.machine.Cancel(ctx, "sub_1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := f.activeID(t, "alice"); got != nil {
		t.Errorf("active membership = %v, want nil", *got)
	}

	// A late renewal must not resurrect a cancelled membership.
	ms, err := f.machine.Renew(ctx, "sub_1", nil)
	if err != nil {
		t.Fatalf("renew: %v", err)
	}
	if ms != nil {
		t.Error("expected renewal of cancelled membership to be dropped")
	}
	got, _ := f.memberships.GetByID(ctx, "sub_1")
	if got.Status != model.MembershipCanceled {
		t.Errorf("status = %q, want canceled", got.Status)
	}
}

func TestCancelKeepsNewerMembershipPointer(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.activate(t, "sub_old", "alice", time.Now().Add(time.Hour))
	if err := f.users.SetActiveMembership(ctx, "alice", "sub_new"); err != nil {
		t.Fatalf("set active: %v", err)
	}

	if err := f.machine.Cancel(ctx, "sub_old"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := f.activeID(t, "alice"); got == nil || *got != "sub_new" {
		t.Errorf("active membership = %v, want sub_new", got)
	}
}

func TestActivateSecondSubscriptionSupersedesFirst(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	end := time.Now().Add(time.Hour)
	f.activate(t, "sub_A", "alice", end)
	f.activate(t, "sub_B", "alice", end)

	if got := f.activeID(t, "alice"); got == nil || *got != "sub_B" {
		t.Fatalf("active membership = %v, want sub_B", got)
	}
	active := 0
	for _, id := range []string{"sub_A", "sub_B"} {
		ms, err := f.memberships.GetByID(ctx, id)
		if err != nil || ms == nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if ms.Status == model.MembershipActive {
			active++
		}
	}
	if active != 1 {
		t.Errorf("active memberships = %d, want 1", active)
	}
	old, _ := f.memberships.GetByID(ctx, "sub_A")
	if old.Status != model.MembershipCanceled {
		t.Errorf("sub_A status = %s, want canceled", old.Status)
	}

	// A replayed confirmation for the superseded subscription must not repoint.
	f.activate(t, "sub_A", "alice", end)
	if got := f.activeID(t, "alice"); got == nil || *got != "sub_B" {
		t.Errorf("after replay active membership = %v, want sub_B", got)
	}

	// Another user's membership is untouched.
	f.activate(t, "sub_C", "bob", end)
	b, _ := f.memberships.GetByID(ctx, "sub_B")
	if b.Status != model.MembershipActive {
		t.Errorf("sub_B status = %s, want active", b.Status)
	}
}

func TestExpire(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	ms := f.activate(t, "sub_1", "alice", time.Now().Add(-time.Hour))

	expired, err := f.machine.Expire(ctx, ms)
	if err != nil {
		t.Fatalf("expire: %v", err)
	}
	if !expired {
		t.Fatal("expected expire to transition")
	}
	if got := f.activeID(t, "alice"); got != nil {
		t.Errorf("active membership = %v, want nil", *got)
	}

	again, err := f.machine.Expire(ctx, ms)
	if err != nil {
		t.Fatalf("second expire: %v", err)
	}
	if again {
		t.Error("expected second expire to be a no-op")
	}
}
