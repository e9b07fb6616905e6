package billing

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/dukerupert/fitstack/internal/model"
	"github.com/dukerupert/fitstack/internal/store"
)

type PlanInput struct {
	Name           string `json:"name"`
	Description    string `json:"description"`
	PriceCents     int64  `json:"price_cents"`
	DurationMonths int    `json:"duration_months"`
}

// Plans manages the plan catalogue. When a Catalog is configured, every plan
// is published as a provider product with a recurring price billed every
// DurationMonths months.
type Plans struct {
	store   *store.PlanStore
	catalog Catalog
	logger  *slog.Logger
}

func NewPlans(ps *store.PlanStore, catalog Catalog, logger *slog.Logger) *Plans {
	return &Plans{
		store:   ps,
		catalog: catalog,
		logger:  logger.With("component", "plans"),
	}
}

func NormalizePlanName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (p *Plans) Create(ctx context.Context, in PlanInput) (*model.Plan, error) {
	name := NormalizePlanName(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name required", model.ErrInvalidInput)
	}
	if in.PriceCents <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", model.ErrInvalidInput)
	}
	if in.DurationMonths <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", model.ErrInvalidInput)
	}

	existing, err := p.store.GetByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, fmt.Errorf("plan %q: %w", name, model.ErrAlreadyExists)
	}

	plan, err := p.store.Create(ctx, &model.Plan{
		ID:             uuid.NewString(),
		Name:           name,
		PriceCents:     in.PriceCents,
		DurationMonths: in.DurationMonths,
		Description:    strings.TrimSpace(in.Description),
	})
	if err != nil {
		return nil, err
	}
	p.logger.Info("plan created", "plan_id", plan.ID, "name", plan.Name)

	return p.Publish(ctx, plan.ID)
}

// Publish creates the provider product and price for a plan that has none.
// A plan whose earlier publication failed can be published again.
func (p *Plans) Publish(ctx context.Context, id string) (*model.Plan, error) {
	plan, err := p.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if p.catalog == nil || plan.StripePriceID != nil {
		return plan, nil
	}

	productID := ""
	if plan.StripeProductID != nil {
		productID = *plan.StripeProductID
	} else {
		productID, err = p.catalog.CreateProduct(ctx, plan.ID, plan.Name, plan.Description)
		if err != nil {
			return nil, fmt.Errorf("publish plan %s: %w", plan.ID, err)
		}
	}
	priceID, err := p.catalog.CreatePrice(ctx, productID, plan.PriceCents, plan.DurationMonths)
	if err != nil {
		return nil, fmt.Errorf("publish plan %s: %w", plan.ID, err)
	}
	if err := p.store.SetStripeRefs(ctx, plan.ID, productID, priceID); err != nil {
		return nil, err
	}

	p.logger.Info("plan published", "plan_id", plan.ID, "product_id", productID, "price_id", priceID)
	return p.store.GetByID(ctx, plan.ID)
}

func (p *Plans) List(ctx context.Context, activeOnly bool) ([]model.Plan, error) {
	plans, err := p.store.List(ctx, activeOnly)
	if err != nil {
		return nil, err
	}
	if plans == nil {
		plans = []model.Plan{}
	}
	return plans, nil
}

// ChangePrice versions a plan's price: a new provider price is created and
// the old one archived. Existing memberships keep the price they started on.
func (p *Plans) ChangePrice(ctx context.Context, id string, priceCents int64) (*model.Plan, error) {
	if priceCents <= 0 {
		return nil, fmt.Errorf("%w: price must be positive", model.ErrInvalidInput)
	}
	plan, err := p.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan.PriceCents == priceCents {
		return plan, nil
	}

	var oldPriceID, newPriceID string
	if plan.StripePriceID != nil {
		oldPriceID = *plan.StripePriceID
		newPriceID = oldPriceID
	}
	if p.catalog != nil && plan.StripeProductID != nil {
		newPriceID, err = p.catalog.CreatePrice(ctx, *plan.StripeProductID, priceCents, plan.DurationMonths)
		if err != nil {
			return nil, fmt.Errorf("create price for plan %s: %w", plan.ID, err)
		}
	}

	if err := p.store.UpdatePrice(ctx, plan.ID, priceCents, newPriceID); err != nil {
		return nil, err
	}

	if oldPriceID != "" && oldPriceID != newPriceID {
		if err := p.catalog.ArchivePrice(ctx, oldPriceID); err != nil {
			p.logger.Warn("archive old price", "error", err, "plan_id", plan.ID, "price_id", oldPriceID)
		}
	}

	p.logger.Info("plan price changed", "plan_id", plan.ID, "from", plan.PriceCents, "to", priceCents)
	return p.store.GetByID(ctx, plan.ID)
}

// Deactivate hides a plan from new checkouts.
func (p *Plans) Deactivate(ctx context.Context, id string) error {
	if _, err := p.get(ctx, id); err != nil {
		return err
	}
	if err := p.store.SetActive(ctx, id, false); err != nil {
		return err
	}
	p.logger.Info("plan deactivated", "plan_id", id)
	return nil
}

func (p *Plans) get(ctx context.Context, id string) (*model.Plan, error) {
	plan, err := p.store.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, fmt.Errorf("plan %s: %w", id, model.ErrNotFound)
	}
	return plan, nil
}
