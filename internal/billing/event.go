package billing

import "time"

// Meta identifies the provider notification an Event was decoded from.
type Meta struct {
	ID   string
	Type string
}

// Event is a decoded payment-provider notification. The set of cases is
// closed: CheckoutCompleted, InvoicePaid, InvoicePaymentFailed,
// SubscriptionDeleted, and Ignored for everything else.
type Event interface {
	meta() Meta
}

// MetaOf returns the id and provider type of ev.
func MetaOf(ev Event) Meta { return ev.meta() }

// CheckoutCompleted is a paid checkout session. UserID, PlanID and
// DiscountCents come from the metadata attached by Checkout.Start.
type CheckoutCompleted struct {
	Meta
	SessionID      string
	SubscriptionID string
	CustomerID     string
	UserID         string
	PlanID         string
	DiscountCents  int64
}

// InvoicePaid is a settled invoice on a subscription.
type InvoicePaid struct {
	Meta
	InvoiceID      string
	SubscriptionID string
	BillingReason  string
	PeriodStart    time.Time
}

type InvoicePaymentFailed struct {
	Meta
	InvoiceID      string
	SubscriptionID string
}

type SubscriptionDeleted struct {
	Meta
	SubscriptionID string
}

// Ignored is any notification kind the reconciler does not act on.
type Ignored struct {
	Meta
}

func (m Meta) meta() Meta { return m }

// Billing reason the provider uses for a subscription's first invoice.
const BillingReasonSubscriptionCreate = "subscription_create"

// Metadata keys written on checkout sessions and read back by the reconciler.
const (
	MetaUserID   = "user_id"
	MetaPlanID   = "plan_id"
	MetaDiscount = "discount_cents"
)
