package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/fitstack/internal/ledger"
	"github.com/dukerupert/fitstack/internal/membership"
	"github.com/dukerupert/fitstack/internal/model"
)

type walletDebiter interface {
	Debit(ctx context.Context, owner model.Owner, amount int64, e ledger.Entry) (*model.Transaction, error)
}

type membershipMachine interface {
	Get(ctx context.Context, subscriptionID string) (*model.Membership, error)
	Activate(ctx context.Context, a membership.Activation) (*model.Membership, error)
	Renew(ctx context.Context, subscriptionID string, periodEnd *time.Time) (*model.Membership, error)
	MarkPastDue(ctx context.Context, subscriptionID string) error
	Cancel(ctx context.Context, subscriptionID string) error
}

type subscriptionGetter interface {
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
}

// Reconciler applies provider events to memberships and the ledger. A
// returned error means the event should be redelivered; every step is safe
// to repeat.
type Reconciler struct {
	machine       membershipMachine
	wallets       walletDebiter
	subscriptions subscriptionGetter
	logger        *slog.Logger
}

func NewReconciler(machine membershipMachine, wallets walletDebiter, subscriptions subscriptionGetter, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		machine:       machine,
		wallets:       wallets,
		subscriptions: subscriptions,
		logger:        logger.With("component", "reconciler"),
	}
}

func (r *Reconciler) Handle(ctx context.Context, ev Event) error {
	m := ev.meta()
	logger := r.logger.With("event_id", m.ID, "event_type", m.Type)

	var err error
	switch e := ev.(type) {
	case CheckoutCompleted:
		err = r.checkoutCompleted(ctx, logger, e)
	case InvoicePaid:
		err = r.invoicePaid(ctx, logger, e)
	case InvoicePaymentFailed:
		if e.SubscriptionID == "" {
			return nil
		}
		err = r.machine.MarkPastDue(ctx, e.SubscriptionID)
	case SubscriptionDeleted:
		err = r.machine.Cancel(ctx, e.SubscriptionID)
	case Ignored:
		logger.Debug("event ignored")
		return nil
	default:
		return fmt.Errorf("unhandled event %T", ev)
	}

	if err != nil {
		logger.Error("reconcile event", "error", err)
		return err
	}
	return nil
}

// checkoutCompleted runs three ordered steps, each idempotent on its own:
// debit the discount (deduplicated by subscription id), upsert the
// membership keyed by subscription id, then set the user pointer.
func (r *Reconciler) checkoutCompleted(ctx context.Context, logger *slog.Logger, e CheckoutCompleted) error {
	if e.SubscriptionID == "" || e.UserID == "" || e.PlanID == "" {
		logger.Warn("checkout missing subscription or metadata, skipping",
			"subscription_id", e.SubscriptionID, "user_id", e.UserID, "plan_id", e.PlanID)
		return nil
	}

	if e.DiscountCents > 0 {
		_, err := r.wallets.Debit(ctx, model.Owner{ID: e.UserID, Type: model.OwnerUser}, e.DiscountCents, ledger.Entry{
			Type:           model.TxSubscriptionPayment,
			Description:    fmt.Sprintf("Balance applied to plan %s", e.PlanID),
			RelatedID:      e.SubscriptionID,
			AllowOverdraft: true,
		})
		if err != nil {
			return fmt.Errorf("debit discount: %w", err)
		}
	}

	sub, err := r.subscriptions.GetSubscription(ctx, e.SubscriptionID)
	if err != nil {
		return fmt.Errorf("get subscription: %w", err)
	}
	periodEnd, err := PeriodEnd(sub.StartDate, sub.Interval, sub.IntervalCount)
	if err != nil {
		return fmt.Errorf("subscription %s: %w", sub.ID, err)
	}

	customerID := e.CustomerID
	if customerID == "" {
		customerID = sub.CustomerID
	}
	ms, err := r.machine.Activate(ctx, membership.Activation{
		SubscriptionID: e.SubscriptionID,
		CustomerID:     customerID,
		UserID:         e.UserID,
		PlanID:         e.PlanID,
		PeriodEnd:      periodEnd,
	})
	if err != nil {
		return fmt.Errorf("activate membership: %w", err)
	}

	logger.Info("checkout reconciled", "membership_id", ms.ID, "discount_cents", e.DiscountCents)
	return nil
}

func (r *Reconciler) invoicePaid(ctx context.Context, logger *slog.Logger, e InvoicePaid) error {
	if e.SubscriptionID == "" {
		return nil
	}
	// The first invoice is covered by the checkout event.
	if e.BillingReason == BillingReasonSubscriptionCreate {
		logger.Debug("initial invoice, skipping", "subscription_id", e.SubscriptionID)
		return nil
	}

	ms, err := r.machine.Get(ctx, e.SubscriptionID)
	if err != nil {
		return err
	}
	if ms == nil {
		logger.Info("renewal for untracked subscription dropped", "subscription_id", e.SubscriptionID)
		return nil
	}

	var periodEnd *time.Time
	if !e.PeriodStart.IsZero() {
		sub, err := r.subscriptions.GetSubscription(ctx, e.SubscriptionID)
		if err != nil {
			return fmt.Errorf("get subscription: %w", err)
		}
		end, err := PeriodEnd(e.PeriodStart, sub.Interval, sub.IntervalCount)
		if err != nil {
			return fmt.Errorf("subscription %s: %w", sub.ID, err)
		}
		periodEnd = &end
	}

	_, err = r.machine.Renew(ctx, e.SubscriptionID, periodEnd)
	return err
}
