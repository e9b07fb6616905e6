package billing

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"golang.org/x/sync/singleflight"

	"github.com/dukerupert/fitstack/internal/model"
	"github.com/dukerupert/fitstack/internal/store"
)

type walletReader interface {
	GetOrCreate(ctx context.Context, owner model.Owner) (*model.Wallet, error)
}

type StartRequest struct {
	UserID     string
	PlanID     string
	UseBalance bool
}

type CheckoutSession struct {
	URL           string `json:"url"`
	DiscountCents int64  `json:"discount_cents"`
}

// Checkout opens provider checkout sessions for plan purchases. Nothing is
// written to the ledger here; the discount offered is recorded in the
// session metadata and debited when the checkout is confirmed.
type Checkout struct {
	plans     *store.PlanStore
	users     *store.UserStore
	wallets   walletReader
	provider  Provider
	customers singleflight.Group
	logger    *slog.Logger
}

func NewCheckout(plans *store.PlanStore, users *store.UserStore, wallets walletReader, provider Provider, logger *slog.Logger) *Checkout {
	return &Checkout{
		plans:    plans,
		users:    users,
		wallets:  wallets,
		provider: provider,
		logger:   logger.With("component", "checkout"),
	}
}

// MaxDiscount caps a balance-backed discount one minor unit below the
// price so the provider never sees a zero-value charge.
func MaxDiscount(balance, price int64) int64 {
	if balance <= 0 || price <= 1 {
		return 0
	}
	return min(balance, price-1)
}

func (c *Checkout) Start(ctx context.Context, req StartRequest) (*CheckoutSession, error) {
	plan, err := c.plans.GetByID(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if plan == nil || !plan.Active || plan.StripePriceID == nil {
		return nil, fmt.Errorf("plan %s: %w", req.PlanID, model.ErrNotFound)
	}

	user, err := c.users.GetByID(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("user %s: %w", req.UserID, model.ErrNotFound)
	}
	if user.ActiveMembershipID != nil {
		return nil, fmt.Errorf("user already has membership %s: %w", *user.ActiveMembershipID, model.ErrConflict)
	}

	customerID, err := c.ensureCustomer(ctx, user)
	if err != nil {
		return nil, err
	}

	var discount int64
	if req.UseBalance {
		w, err := c.wallets.GetOrCreate(ctx, model.Owner{ID: user.ID, Type: model.OwnerUser})
		if err != nil {
			return nil, err
		}
		discount = MaxDiscount(w.Balance, plan.PriceCents)
	}

	url, err := c.provider.CreateCheckoutSession(ctx, CheckoutRequest{
		CustomerID:    customerID,
		PriceID:       *plan.StripePriceID,
		DiscountCents: discount,
		Metadata: map[string]string{
			MetaUserID:   user.ID,
			MetaPlanID:   plan.ID,
			MetaDiscount: strconv.FormatInt(discount, 10),
		},
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("checkout started", "user_id", user.ID, "plan_id", plan.ID, "discount_cents", discount)
	return &CheckoutSession{URL: url, DiscountCents: discount}, nil
}

// PortalURL returns a self-service billing portal link for a user who has
// already been registered with the provider.
func (c *Checkout) PortalURL(ctx context.Context, userID string) (string, error) {
	user, err := c.users.GetByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user == nil || user.StripeCustomerID == nil {
		return "", fmt.Errorf("billing customer for %s: %w", userID, model.ErrNotFound)
	}
	return c.provider.CreatePortalSession(ctx, *user.StripeCustomerID)
}

// ensureCustomer returns the user's provider customer id, creating it on
// first use. Concurrent first uses for one user share a single creation.
func (c *Checkout) ensureCustomer(ctx context.Context, user *model.User) (string, error) {
	if user.StripeCustomerID != nil {
		return *user.StripeCustomerID, nil
	}

	v, err, _ := c.customers.Do(user.ID, func() (any, error) {
		// Shared by every waiter, so it must outlive the caller that started it.
		ctx := context.WithoutCancel(ctx)
		fresh, err := c.users.GetByID(ctx, user.ID)
		if err != nil {
			return "", err
		}
		if fresh != nil && fresh.StripeCustomerID != nil {
			return *fresh.StripeCustomerID, nil
		}

		id, err := c.provider.CreateCustomer(ctx, user.Email, user.ID)
		if err != nil {
			return "", err
		}
		written, err := c.users.SetStripeCustomerID(ctx, user.ID, id)
		if err != nil {
			return "", err
		}
		if !written {
			// Another instance stored one first; the stored id wins.
			fresh, err := c.users.GetByID(ctx, user.ID)
			if err != nil {
				return "", err
			}
			c.logger.Warn("discarding duplicate customer", "user_id", user.ID, "customer_id", id)
			return *fresh.StripeCustomerID, nil
		}
		c.logger.Info("customer created", "user_id", user.ID, "customer_id", id)
		return id, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}
