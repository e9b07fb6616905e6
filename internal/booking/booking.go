// Package booking coordinates coach slots, session bookings and
// cancellations, including the refund owed when a coach cancels.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/fitstack/internal/ledger"
	"github.com/dukerupert/fitstack/internal/model"
	"github.com/dukerupert/fitstack/internal/store"
)

// daysPerMonth is the fixed month length used to pro-rate plan prices.
const daysPerMonth = 30

type Notifier interface {
	Notify(ctx context.Context, n model.Notification) error
}

type walletCrediter interface {
	Credit(ctx context.Context, owner model.Owner, amount int64, e ledger.Entry) (*model.Transaction, error)
}

type Coordinator struct {
	slots       *store.SlotStore
	sessions    *store.SessionStore
	users       *store.UserStore
	memberships *store.MembershipStore
	plans       *store.PlanStore
	wallets     walletCrediter
	notifier    Notifier
	logger      *slog.Logger
	now         func() time.Time
}

type Option func(*Coordinator)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

func NewCoordinator(
	slots *store.SlotStore,
	sessions *store.SessionStore,
	users *store.UserStore,
	memberships *store.MembershipStore,
	plans *store.PlanStore,
	wallets walletCrediter,
	notifier Notifier,
	logger *slog.Logger,
	opts ...Option,
) *Coordinator {
	c := &Coordinator{
		slots:       slots,
		sessions:    sessions,
		users:       users,
		memberships: memberships,
		plans:       plans,
		wallets:     wallets,
		notifier:    notifier,
		logger:      logger.With("component", "booking"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RefundRate is the per-session value of a plan: its price spread over
// durationMonths 30-day months, rounded half-up to the minor unit.
func RefundRate(priceCents int64, durationMonths int) int64 {
	if priceCents <= 0 || durationMonths <= 0 {
		return 0
	}
	days := decimal.NewFromInt(int64(durationMonths) * daysPerMonth)
	return decimal.NewFromInt(priceCents).Div(days).Round(0).IntPart()
}

// FormatAmount renders minor units as a fixed two-decimal amount.
func FormatAmount(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// CreateSlot publishes a future, non-overlapping time window for a coach.
func (c *Coordinator) CreateSlot(ctx context.Context, coachID string, start, end time.Time) (*model.Slot, error) {
	if !end.After(start) {
		return nil, fmt.Errorf("%w: slot must end after it starts", model.ErrInvalidInput)
	}
	if !start.After(c.now()) {
		return nil, fmt.Errorf("%w: slot must start in the future", model.ErrInvalidInput)
	}

	coach, err := c.users.GetByID(ctx, coachID)
	if err != nil {
		return nil, err
	}
	if coach == nil || coach.Role != model.RoleCoach {
		return nil, fmt.Errorf("coach %s: %w", coachID, model.ErrNotFound)
	}

	overlap, err := c.slots.HasOverlap(ctx, coachID, start, end)
	if err != nil {
		return nil, err
	}
	if overlap {
		return nil, fmt.Errorf("slot overlaps an existing slot: %w", model.ErrConflict)
	}

	slot, err := c.slots.Create(ctx, uuid.NewString(), coachID, start, end)
	if err != nil {
		return nil, err
	}
	c.logger.Info("slot created", "slot_id", slot.ID, "coach_id", coachID, "start", slot.StartTime)
	return slot, nil
}

// BookSlot books an open future slot for a user holding an active membership.
func (c *Coordinator) BookSlot(ctx context.Context, userID, slotID string) (*model.Session, error) {
	if err := c.requireActiveMembership(ctx, userID); err != nil {
		return nil, err
	}

	slot, err := c.slots.GetByID(ctx, slotID)
	if err != nil {
		return nil, err
	}
	if slot == nil {
		return nil, fmt.Errorf("slot %s: %w", slotID, model.ErrNotFound)
	}
	if !slot.StartTime.After(c.now()) {
		return nil, fmt.Errorf("slot %s has already started: %w", slotID, model.ErrConflict)
	}

	sess, err := c.sessions.Book(ctx, uuid.NewString(), slot.ID, userID, "room-"+uuid.NewString())
	if err != nil {
		return nil, err
	}

	c.logger.Info("session booked", "session_id", sess.ID, "slot_id", slot.ID, "user_id", userID, "coach_id", sess.CoachID)
	c.notify(ctx, model.Notification{
		RecipientID:   sess.CoachID,
		RecipientRole: model.RoleCoach,
		Type:          model.NotifSessionBooked,
		Title:         "New session booked",
		Message:       fmt.Sprintf("A member booked your session on %s.", formatWhen(sess.StartTime)),
		RelatedID:     &sess.ID,
	})
	return sess, nil
}

// OpenSlots lists a coach's slots that have not started yet.
func (c *Coordinator) OpenSlots(ctx context.Context, coachID string) ([]model.Slot, error) {
	slots, err := c.slots.ListByCoach(ctx, coachID, c.now())
	if err != nil {
		return nil, err
	}
	if slots == nil {
		slots = []model.Slot{}
	}
	return slots, nil
}

// Sessions lists the sessions the actor takes part in, newest first.
func (c *Coordinator) Sessions(ctx context.Context, actorID string, role model.Role) ([]model.Session, error) {
	sessions, err := c.sessions.ListForActor(ctx, actorID, role)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []model.Session{}
	}
	return sessions, nil
}

func (c *Coordinator) requireActiveMembership(ctx context.Context, userID string) error {
	user, err := c.users.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if user == nil {
		return fmt.Errorf("user %s: %w", userID, model.ErrNotFound)
	}
	if user.ActiveMembershipID == nil {
		return fmt.Errorf("user %s has no active membership: %w", userID, model.ErrUnauthorized)
	}
	ms, err := c.memberships.GetByID(ctx, *user.ActiveMembershipID)
	if err != nil {
		return err
	}
	if ms == nil || ms.Status != model.MembershipActive {
		return fmt.Errorf("user %s has no active membership: %w", userID, model.ErrUnauthorized)
	}
	return nil
}

// CancelBookedSession cancels a waiting, future session on behalf of one of
// its parties. The cancellation itself is the guaranteed outcome; when the
// coach cancels, a refund is then attempted and its failure only logged.
func (c *Coordinator) CancelBookedSession(ctx context.Context, actorID string, role model.Role, sessionID, reason string) (*model.Session, error) {
	sess, err := c.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess == nil {
		return nil, fmt.Errorf("session %s: %w", sessionID, model.ErrNotFound)
	}
	if sess.Status != model.SessionWaiting {
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, sess.Status, model.ErrConflict)
	}

	switch role {
	case model.RoleUser:
		if actorID != sess.UserID {
			return nil, fmt.Errorf("session %s: %w", sessionID, model.ErrUnauthorized)
		}
	case model.RoleCoach:
		if actorID != sess.CoachID {
			return nil, fmt.Errorf("session %s: %w", sessionID, model.ErrUnauthorized)
		}
	default:
		return nil, fmt.Errorf("role %q cannot cancel sessions: %w", role, model.ErrUnauthorized)
	}

	now := c.now()
	if !sess.StartTime.After(now) {
		return nil, fmt.Errorf("session %s already started: %w", sessionID, model.ErrConflict)
	}

	cancelled, err := c.sessions.Cancel(ctx, sess.ID, reason, role, now)
	if err != nil {
		return nil, err
	}
	c.logger.Info("session cancelled", "session_id", sess.ID, "by", role, "actor_id", actorID)

	c.notifyCounterparty(ctx, cancelled, role, reason)

	if role == model.RoleCoach {
		if err := c.refund(ctx, cancelled); err != nil {
			c.logger.Error("refund failed", "error", err, "session_id", sess.ID, "user_id", sess.UserID)
		}
	}
	return cancelled, nil
}

// refund credits the member one session's worth of their active plan. The
// ledger entry is keyed by session id, so a retry never pays twice.
func (c *Coordinator) refund(ctx context.Context, sess *model.Session) error {
	user, err := c.users.GetByID(ctx, sess.UserID)
	if err != nil {
		return err
	}
	if user == nil || user.ActiveMembershipID == nil {
		return errors.New("no active membership to price refund")
	}
	ms, err := c.memberships.GetByID(ctx, *user.ActiveMembershipID)
	if err != nil {
		return err
	}
	if ms == nil {
		return fmt.Errorf("membership %s: %w", *user.ActiveMembershipID, model.ErrNotFound)
	}
	plan, err := c.plans.GetByID(ctx, ms.PlanID)
	if err != nil {
		return err
	}
	if plan == nil {
		return fmt.Errorf("plan %s: %w", ms.PlanID, model.ErrNotFound)
	}

	amount := RefundRate(plan.PriceCents, plan.DurationMonths)
	if amount <= 0 {
		return fmt.Errorf("plan %s yields no refund", plan.ID)
	}

	tx, err := c.wallets.Credit(ctx, model.Owner{ID: sess.UserID, Type: model.OwnerUser}, amount, ledger.Entry{
		Type:        model.TxRefund,
		Description: fmt.Sprintf("Refund for session cancelled by coach on %s", formatWhen(sess.StartTime)),
		RelatedID:   sess.ID,
	})
	if err != nil {
		return fmt.Errorf("credit refund: %w", err)
	}

	c.logger.Info("refund credited", "session_id", sess.ID, "user_id", sess.UserID, "amount", amount, "transaction_id", tx.ID)
	c.notify(ctx, model.Notification{
		RecipientID:   sess.UserID,
		RecipientRole: model.RoleUser,
		Type:          model.NotifRefundIssued,
		Title:         "Refund issued",
		Message:       fmt.Sprintf("%s has been credited to your wallet.", FormatAmount(amount)),
		RelatedID:     &sess.ID,
	})
	return nil
}

func (c *Coordinator) notifyCounterparty(ctx context.Context, sess *model.Session, by model.Role, reason string) {
	n := model.Notification{
		Type:      model.NotifSessionCancelled,
		Title:     "Session cancelled",
		RelatedID: &sess.ID,
	}
	when := formatWhen(sess.StartTime)
	if by == model.RoleCoach {
		n.RecipientID = sess.UserID
		n.RecipientRole = model.RoleUser
		n.Message = fmt.Sprintf("Your coach cancelled the session on %s.", when)
	} else {
		n.RecipientID = sess.CoachID
		n.RecipientRole = model.RoleCoach
		n.Message = fmt.Sprintf("Your member cancelled the session on %s.", when)
	}
	if reason != "" {
		n.Message += " Reason: " + reason
	}
	c.notify(ctx, n)
}

func (c *Coordinator) notify(ctx context.Context, n model.Notification) {
	if err := c.notifier.Notify(ctx, n); err != nil {
		c.logger.Warn("notification failed", "error", err, "type", n.Type, "recipient_id", n.RecipientID)
	}
}

func formatWhen(t time.Time) string {
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}
