package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/fitstack/internal/database"
	"github.com/dukerupert/fitstack/internal/ledger"
	"github.com/dukerupert/fitstack/internal/membership"
	"github.com/dukerupert/fitstack/internal/model"
	"github.com/dukerupert/fitstack/internal/store"
)

type fakeProvider struct {
	mu            sync.Mutex
	customers     int
	checkouts     []CheckoutRequest
	subscriptions map[string]*Subscription
	subCalls      int
	products      []string
	prices        map[string]int64
	archived      []string
	failCheckout  error

	// When set, CreateCustomer signals customerStarted and blocks until
	// customerGate closes.
	customerStarted chan struct{}
	customerGate    chan struct{}
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		subscriptions: make(map[string]*Subscription),
		prices:        make(map[string]int64),
	}
}

func (p *fakeProvider) CreateCustomer(ctx context.Context, _, userID string) (string, error) {
	if p.customerGate != nil {
		p.customerStarted <- struct{}{}
		<-p.customerGate
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.customers++
	time.Sleep(5 * time.Millisecond)
	return fmt.Sprintf("cus_%s_%d", userID, p.customers), nil
}

func (p *fakeProvider) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failCheckout != nil {
		return "", p.failCheckout
	}
	p.checkouts = append(p.checkouts, req)
	return fmt.Sprintf("https://checkout.test/cs_%d", len(p.checkouts)), nil
}

func (p *fakeProvider) CreatePortalSession(_ context.Context, customerID string) (string, error) {
	return "https://portal.test/" + customerID, nil
}

func (p *fakeProvider) GetSubscription(_ context.Context, id string) (*Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subCalls++
	sub, ok := p.subscriptions[id]
	if !ok {
		return nil, errors.New("no such subscription")
	}
	return sub, nil
}

func (p *fakeProvider) CreateProduct(_ context.Context, planID, _, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := "prod_" + planID
	p.products = append(p.products, id)
	return id, nil
}

func (p *fakeProvider) CreatePrice(_ context.Context, _ string, amount int64, _ int) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := fmt.Sprintf("price_%d", len(p.prices)+1)
	p.prices[id] = amount
	return id, nil
}

func (p *fakeProvider) ArchivePrice(_ context.Context, priceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.archived = append(p.archived, priceID)
	return nil
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, model.Notification) error { return nil }

type fixture struct {
	provider    *fakeProvider
	users       *store.UserStore
	plans       *store.PlanStore
	memberships *store.MembershipStore
	ledger      *ledger.Ledger
	machine     *membership.Machine
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
	if _, err := users.Create(ctx, "alice", "alice@example.com", "Alice", model.RoleUser); err != nil {
		t.Fatalf("create user: %v", err)
	}

	plans := store.NewPlanStore(db)
	if _, err := plans.Create(ctx, &model.Plan{ID: "gold", Name: "gold", PriceCents: 90000, DurationMonths: 3}); err != nil {
		t.Fatalf("create plan: %v", err)
	}
	if err := plans.SetStripeRefs(ctx, "gold", "prod_gold", "price_gold"); err != nil {
		t.Fatalf("set refs: %v", err)
	}

	memberships := store.NewMembershipStore(db)
	return &fixture{
		provider:    newFakeProvider(),
		users:       users,
		plans:       plans,
		memberships: memberships,
		ledger:      ledger.New(db, slog.Default()),
		machine:     membership.NewMachine(memberships, users, nopNotifier{}, slog.Default()),
	}
}

func (f *fixture) checkout() *Checkout {
	return NewCheckout(f.plans, f.users, f.ledger, f.provider, slog.Default())
}

func (f *fixture) reconciler() *Reconciler {
	return NewReconciler(f.machine, f.ledger, f.provider, slog.Default())
}

var alice = model.Owner{ID: "alice", Type: model.OwnerUser}

func (f *fixture) seedBalance(t *testing.T, amount int64) {
	t.Helper()
	_, err := f.ledger.Credit(context.Background(), alice, amount, ledger.Entry{Type: model.TxRefund, Description: "seed"})
	if err != nil {
		t.Fatalf("seed balance: %v", err)
	}
}
