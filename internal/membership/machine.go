// Package membership owns membership status transitions and the user's
// active-membership pointer.
package membership

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukerupert/fitstack/internal/model"
	"github.com/dukerupert/fitstack/internal/store"
)

type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

// Activation describes a confirmed checkout.
type Activation struct {
	SubscriptionID string
	CustomerID     string
	UserID         string
	PlanID         string
	PeriodEnd      time.Time
}

type Machine struct {
	memberships *store.MembershipStore
	users       *store.UserStore
	notifier    Notifier
	logger      *slog.Logger
}

func NewMachine(memberships *store.MembershipStore, users *store.UserStore, notifier Notifier, logger *slog.Logger) *Machine {
	return &Machine{
		memberships: memberships,
		users:       users,
		notifier:    notifier,
		logger:      logger.With("component", "membership"),
	}
}

// Get returns the membership for an external subscription id, or nil when
// the subscription is not tracked locally.
func (m *Machine) Get(ctx context.Context, subscriptionID string) (*model.Membership, error) {
	return m.memberships.GetBySubscriptionID(ctx, subscriptionID)
}

// Activate records a paid checkout. The membership is keyed by the
// subscription id, so a replay finds the existing record and only re-asserts
// the user pointer. The activated notice fires on first creation only.
// A user holds at most one active membership: a confirmation for a new
// subscription cancels the one the user pointer currently names.
func (m *Machine) Activate(ctx context.Context, a Activation) (*model.Membership, error) {
	existing, err := m.memberships.GetBySubscriptionID(ctx, a.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.Status == model.MembershipActive {
			if err := m.users.SetActiveMembership(ctx, existing.UserID, existing.ID); err != nil {
				return nil, err
			}
		}
		m.logger.Info("activation replayed", "membership_id", existing.ID, "status", existing.Status)
		return existing, nil
	}

	if err := m.supersede(ctx, a); err != nil {
		return nil, err
	}

	periodEnd := a.PeriodEnd.UTC()
	created, err := m.memberships.Upsert(ctx, &model.Membership{
		ID:                   a.SubscriptionID,
		UserID:               a.UserID,
		PlanID:               a.PlanID,
		StripeCustomerID:     a.CustomerID,
		StripeSubscriptionID: a.SubscriptionID,
		Status:               model.MembershipActive,
		CurrentPeriodEnd:     &periodEnd,
	})
	if err != nil {
		return nil, err
	}
	if err := m.users.SetActiveMembership(ctx, created.UserID, created.ID); err != nil {
		return nil, err
	}

	m.logger.Info("membership activated", "membership_id", created.ID, "user_id", created.UserID, "plan_id", created.PlanID, "period_end", periodEnd)
	m.notify(ctx, created, model.NotifMembershipActivated, "Membership activated",
		fmt.Sprintf("Your membership is active until %s.", periodEnd.Format("Jan 2, 2006")))
	return created, nil
}

// Renew marks a paid renewal. Unknown subscriptions are dropped and a nil
// membership is returned. A non-nil periodEnd replaces the current one.
func (m *Machine) Renew(ctx context.Context, subscriptionID string, periodEnd *time.Time) (*model.Membership, error) {
	ms, err := m.lookup(ctx, subscriptionID, "renew")
	if ms == nil || err != nil {
		return nil, err
	}

	if _, err := m.memberships.Transition(ctx, ms.ID, model.MembershipActive, model.NonTerminalStatuses...); err != nil {
		return nil, err
	}
	if periodEnd != nil {
		if err := m.memberships.UpdatePeriodEnd(ctx, ms.ID, *periodEnd); err != nil {
			return nil, err
		}
	}

	renewed, err := m.memberships.GetByID(ctx, ms.ID)
	if err != nil {
		return nil, err
	}
	m.logger.Info("membership renewed", "membership_id", ms.ID, "from", ms.Status, "period_end", renewed.CurrentPeriodEnd)
	m.notify(ctx, renewed, model.NotifMembershipRenewed, "Membership renewed", "Your membership has been renewed.")
	return renewed, nil
}

// MarkPastDue records a failed renewal payment.
func (m *Machine) MarkPastDue(ctx context.Context, subscriptionID string) error {
	ms, err := m.lookup(ctx, subscriptionID, "mark past due")
	if ms == nil || err != nil {
		return err
	}

	changed, err := m.memberships.Transition(ctx, ms.ID, model.MembershipPastDue,
		model.MembershipActive, model.MembershipTrialing, model.MembershipUnpaid, model.MembershipIncomplete)
	if err != nil {
		return err
	}
	if !changed {
		m.logger.Debug("membership already past due", "membership_id", ms.ID)
		return nil
	}

	m.logger.Warn("membership past due", "membership_id", ms.ID, "user_id", ms.UserID)
	m.notify(ctx, ms, model.NotifPaymentFailed, "Payment failed",
		"We could not collect your membership payment. Please update your payment method.")
	return nil
}

// Cancel records deletion of the external subscription.
func (m *Machine) Cancel(ctx context.Context, subscriptionID string) error {
	ms, err := m.lookup(ctx, subscriptionID, "cancel")
	if ms == nil || err != nil {
		return err
	}

	changed, err := m.memberships.Transition(ctx, ms.ID, model.MembershipCanceled, model.NonTerminalStatuses...)
	if err != nil {
		return err
	}
	// Cleared on replays too, in case an earlier attempt stopped after the transition.
	if _, err := m.users.ClearActiveMembership(ctx, ms.UserID, ms.ID); err != nil {
		return err
	}
	if !changed {
		return nil
	}

	m.logger.Info("membership cancelled", "membership_id", ms.ID, "user_id", ms.UserID)
	m.notify(ctx, ms, model.NotifMembershipCancelled, "Membership cancelled", "Your membership has been cancelled.")
	return nil
}

// Expire ends an active membership whose period has elapsed. It reports
// false when the membership was no longer active.
func (m *Machine) Expire(ctx context.Context, ms *model.Membership) (bool, error) {
	changed, err := m.memberships.Transition(ctx, ms.ID, model.MembershipExpired, model.MembershipActive)
	if err != nil {
		return false, err
	}
	if !changed {
		return false, nil
	}
	if _, err := m.users.ClearActiveMembership(ctx, ms.UserID, ms.ID); err != nil {
		return true, err
	}

	m.logger.Info("membership expired", "membership_id", ms.ID, "user_id", ms.UserID)
	m.notify(ctx, ms, model.NotifMembershipExpired, "Membership expired",
		"Your membership has expired. Renew to keep booking sessions.")
	return true, nil
}

// supersede cancels the user's current active membership when a different
// subscription is being activated. The external subscription is left alone.
func (m *Machine) supersede(ctx context.Context, a Activation) error {
	user, err := m.users.GetByID(ctx, a.UserID)
	if err != nil {
		return err
	}
	if user == nil || user.ActiveMembershipID == nil || *user.ActiveMembershipID == a.SubscriptionID {
		return nil
	}
	current, err := m.memberships.GetByID(ctx, *user.ActiveMembershipID)
	if err != nil {
		return err
	}
	if current == nil || current.Status != model.MembershipActive {
		return nil
	}

	changed, err := m.memberships.Transition(ctx, current.ID, model.MembershipCanceled, model.MembershipActive)
	if err != nil {
		return err
	}
	if changed {
		m.logger.Warn("active membership superseded", "membership_id", current.ID, "user_id", a.UserID,
			"subscription_id", current.StripeSubscriptionID, "replaced_by", a.SubscriptionID)
	}
	return nil
}

func (m *Machine) lookup(ctx context.Context, subscriptionID, op string) (*model.Membership, error) {
	ms, err := m.memberships.GetBySubscriptionID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if ms == nil {
		m.logger.Info("untracked subscription, dropping event", "op", op, "subscription_id", subscriptionID)
		return nil, nil
	}
	if ms.Status.Terminal() {
		m.logger.Info("membership is terminal, dropping event", "op", op, "membership_id", ms.ID, "status", ms.Status)
		return nil, nil
	}
	return ms, nil
}

func (m *Machine) notify(ctx context.Context, ms *model.Membership, typ, title, message string) {
	id := ms.ID
	err := m.notifier.Notify(ctx, model.Notification{
		RecipientID:   ms.UserID,
		RecipientRole: model.RoleUser,
		Type:          typ,
		Title:         title,
		Message:       message,
		RelatedID:     &id,
	})
	if err != nil {
		m.logger.Warn("notification failed", "error", err, "type", typ, "membership_id", ms.ID)
	}
}
