package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/dukerupert/fitstack/internal/model"
)

type PlanStore struct {
	db *sql.DB
}

func NewPlanStore(db *sql.DB) *PlanStore {
	return &PlanStore{db: db}
}

func scanPlan(scanner interface{ Scan(...any) error }) (*model.Plan, error) {
	var p model.Plan
	var productID, priceID sql.NullString
	var active int
	err := scanner.Scan(
		&p.ID, &p.Name, &p.PriceCents, &p.DurationMonths, &p.Description,
		&active, &productID, &priceID, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Active = active != 0
	if productID.Valid {
		p.StripeProductID = &productID.String
	}
	if priceID.Valid {
		p.StripePriceID = &priceID.String
	}
	return &p, nil
}

const planCols = `id, name, price_cents, duration_months, description, active, stripe_product_id, stripe_price_id, created_at, updated_at`

// Create inserts a plan. A name already taken yields model.ErrAlreadyExists.
func (s *PlanStore) Create(ctx context.Context, p *model.Plan) (*model.Plan, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO plans (id, name, price_cents, duration_months, description) VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.PriceCents, p.DurationMonths, p.Description,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return nil, fmt.Errorf("plan %q: %w", p.Name, model.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("insert plan: %w", err)
	}
	return s.GetByID(ctx, p.ID)
}

func (s *PlanStore) GetByID(ctx context.Context, id string) (*model.Plan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+planCols+` FROM plans WHERE id = ?`, id)
	p, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return p, nil
}

func (s *PlanStore) GetByName(ctx context.Context, name string) (*model.Plan, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+planCols+` FROM plans WHERE name = ?`, name)
	p, err := scanPlan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get plan by name: %w", err)
	}
	return p, nil
}

func (s *PlanStore) List(ctx context.Context, activeOnly bool) ([]model.Plan, error) {
	query := `SELECT ` + planCols + ` FROM plans`
	if activeOnly {
		query += ` WHERE active = 1`
	}
	query += ` ORDER BY price_cents, name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []model.Plan
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, *p)
	}
	return plans, rows.Err()
}

func (s *PlanStore) SetStripeRefs(ctx context.Context, id, productID, priceID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE plans SET stripe_product_id = ?, stripe_price_id = ? WHERE id = ?`,
		productID, priceID, id,
	)
	if err != nil {
		return fmt.Errorf("set plan stripe refs: %w", err)
	}
	return nil
}

func (s *PlanStore) UpdatePrice(ctx context.Context, id string, priceCents int64, priceID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE plans SET price_cents = ?, stripe_price_id = ? WHERE id = ?`,
		priceCents, priceID, id,
	)
	if err != nil {
		return fmt.Errorf("update plan price: %w", err)
	}
	return nil
}

func (s *PlanStore) SetActive(ctx context.Context, id string, active bool) error {
	var v int
	if active {
		v = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE plans SET active = ? WHERE id = ?`, v, id)
	if err != nil {
		return fmt.Errorf("set plan active: %w", err)
	}
	return nil
}
