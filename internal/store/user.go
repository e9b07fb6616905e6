package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dukerupert/fitstack/internal/model"
)

type UserStore struct {
	db *sql.DB
}

func NewUserStore(db *sql.DB) *UserStore {
	return &UserStore{db: db}
}

func scanUser(scanner interface{ Scan(...any) error }) (*model.User, error) {
	var u model.User
	var customerID, membershipID sql.NullString
	err := scanner.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &customerID, &membershipID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if customerID.Valid {
		u.StripeCustomerID = &customerID.String
	}
	if membershipID.Valid {
		u.ActiveMembershipID = &membershipID.String
	}
	return &u, nil
}

const userCols = `id, email, name, role, stripe_customer_id, active_membership_id, created_at, updated_at`

// Create inserts a user. A taken id or email yields model.ErrAlreadyExists.
func (s *UserStore) Create(ctx context.Context, id, email, name string, role model.Role) (*model.User, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, role) VALUES (?, ?, ?, ?)`,
		id, email, name, role,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("user %s: %w", id, model.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetByID(ctx, id)
}

func (s *UserStore) GetByID(ctx context.Context, id string) (*model.User, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+userCols+` FROM users WHERE id = ?`, id)
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// SetStripeCustomerID stores the external customer id only if none is set yet.
// It reports whether this call wrote it.
func (s *UserStore) SetStripeCustomerID(ctx context.Context, id, customerID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET stripe_customer_id = ? WHERE id = ? AND stripe_customer_id IS NULL`,
		customerID, id,
	)
	if err != nil {
		return false, fmt.Errorf("set stripe customer id: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *UserStore) SetActiveMembership(ctx context.Context, id, membershipID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE users SET active_membership_id = ? WHERE id = ?`,
		membershipID, id,
	)
	if err != nil {
		return fmt.Errorf("set active membership: %w", err)
	}
	return nil
}

// ClearActiveMembership clears the pointer only while it still refers to
// membershipID, so a newer membership is never unlinked by a stale event.
func (s *UserStore) ClearActiveMembership(ctx context.Context, id, membershipID string) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE users SET active_membership_id = NULL WHERE id = ? AND active_membership_id = ?`,
		id, membershipID,
	)
	if err != nil {
		return false, fmt.Errorf("clear active membership: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}
