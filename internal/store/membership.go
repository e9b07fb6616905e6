package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/dukerupert/fitstack/internal/model"
)

type MembershipStore struct {
	db *sql.DB
}

func NewMembershipStore(db *sql.DB) *MembershipStore {
	return &MembershipStore{db: db}
}

func scanMembership(scanner interface{ Scan(...any) error }) (*model.Membership, error) {
	var m model.Membership
	var periodEnd sql.NullTime
	err := scanner.Scan(
		&m.ID, &m.UserID, &m.PlanID, &m.StripeCustomerID, &m.StripeSubscriptionID,
		&m.Status, &periodEnd, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if periodEnd.Valid {
		t := periodEnd.Time.UTC()
		m.CurrentPeriodEnd = &t
	}
	return &m, nil
}

const membershipCols = `id, user_id, plan_id, stripe_customer_id, stripe_subscription_id, status, current_period_end, created_at, updated_at`

// Upsert creates the membership keyed by its external subscription id, or
// refreshes the existing row in place. Replaying the same activation therefore
// never produces a second record.
func (s *MembershipStore) Upsert(ctx context.Context, m *model.Membership) (*model.Membership, error) {
	now := time.Now().UTC()
	var periodEnd any
	if m.CurrentPeriodEnd != nil {
		periodEnd = m.CurrentPeriodEnd.UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memberships (id, user_id, plan_id, stripe_customer_id, stripe_subscription_id, status, current_period_end, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			plan_id = excluded.plan_id,
			stripe_customer_id = excluded.stripe_customer_id,
			status = excluded.status,
			current_period_end = excluded.current_period_end,
			updated_at = excluded.updated_at`,
		m.ID, m.UserID, m.PlanID, m.StripeCustomerID, m.StripeSubscriptionID,
		m.Status, periodEnd, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert membership: %w", err)
	}
	return s.GetByID(ctx, m.ID)
}

func (s *MembershipStore) GetByID(ctx context.Context, id string) (*model.Membership, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+membershipCols+` FROM memberships WHERE id = ?`, id)
	m, err := scanMembership(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get membership: %w", err)
	}
	return m, nil
}

func (s *MembershipStore) GetBySubscriptionID(ctx context.Context, subscriptionID string) (*model.Membership, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+membershipCols+` FROM memberships WHERE stripe_subscription_id = ?`,
		subscriptionID,
	)
	m, err := scanMembership(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get membership by subscription: %w", err)
	}
	return m, nil
}

// Transition moves a membership to status `to`, but only while its current
// status is one of `from`. It reports whether the row changed.
func (s *MembershipStore) Transition(ctx context.Context, id string, to model.MembershipStatus, from ...model.MembershipStatus) (bool, error) {
	if len(from) == 0 {
		return false, fmt.Errorf("transition membership: no source statuses")
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(from)), ", ")
	args := []any{to, time.Now().UTC(), id}
	for _, f := range from {
		args = append(args, f)
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE memberships SET status = ?, updated_at = ? WHERE id = ? AND status IN (`+placeholders+`)`,
		args...,
	)
	if err != nil {
		return false, fmt.Errorf("transition membership: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *MembershipStore) UpdatePeriodEnd(ctx context.Context, id string, periodEnd time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memberships SET current_period_end = ?, updated_at = ? WHERE id = ?`,
		periodEnd.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("update membership period end: %w", err)
	}
	return nil
}

// ListDue returns active memberships whose period ended strictly before now.
func (s *MembershipStore) ListDue(ctx context.Context, now time.Time) ([]model.Membership, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+membershipCols+` FROM memberships
		 WHERE status = ? AND current_period_end IS NOT NULL AND current_period_end < ?
		 ORDER BY current_period_end`,
		model.MembershipActive, now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("list due memberships: %w", err)
	}
	defer rows.Close()

	var due []model.Membership
	for rows.Next() {
		m, err := scanMembership(rows)
		if err != nil {
			return nil, fmt.Errorf("scan membership: %w", err)
		}
		// Stored timestamps compare as text; re-check in time space.
		if m.CurrentPeriodEnd == nil || !m.CurrentPeriodEnd.Before(now) {
			continue
		}
		due = append(due, *m)
	}
	return due, rows.Err()
}
