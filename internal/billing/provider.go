package billing

import (
	"context"
	"time"
)

// Provider is the subset of the payment provider used by checkout and
// reconciliation. Calls are blocking network I/O.
type Provider interface {
	CreateCustomer(ctx context.Context, email, userID string) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (string, error)
	CreatePortalSession(ctx context.Context, customerID string) (string, error)
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
}

// Catalog publishes plans as provider products and recurring prices.
type Catalog interface {
	CreateProduct(ctx context.Context, planID, name, description string) (string, error)
	CreatePrice(ctx context.Context, productID string, amountCents int64, intervalMonths int) (string, error)
	ArchivePrice(ctx context.Context, priceID string) error
}

type CheckoutRequest struct {
	CustomerID    string
	PriceID       string
	DiscountCents int64
	Metadata      map[string]string
}

// Subscription carries the billing-interval data needed to compute a period end.
type Subscription struct {
	ID            string
	CustomerID    string
	Status        string
	StartDate     time.Time
	Interval      string
	IntervalCount int64
}
