package stripe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
	stripe "github.com/stripe/stripe-go/v82"
	portalsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checksession "github.com/stripe/stripe-go/v82/checkout/session"
	"github.com/stripe/stripe-go/v82/coupon"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/price"
	"github.com/stripe/stripe-go/v82/product"
	"github.com/stripe/stripe-go/v82/subscription"

	"github.com/dukerupert/fitstack/internal/billing"
)

type Config struct {
	SecretKey       string
	WebhookSecret   string
	Currency        string
	SuccessURL      string
	CancelURL       string
	PortalReturnURL string
	// RetryBase is the first backoff for retried reads. Defaults to 200ms.
	RetryBase time.Duration
}

// Client implements billing.Provider and billing.Catalog against Stripe.
type Client struct {
	cfg    Config
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	stripe.Key = cfg.SecretKey
	if cfg.Currency == "" {
		cfg.Currency = string(stripe.CurrencyUSD)
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 200 * time.Millisecond
	}
	return &Client{cfg: cfg, logger: logger.With("component", "stripe")}
}

// CreateCustomer creates a Stripe customer and returns the customer ID.
func (c *Client) CreateCustomer(ctx context.Context, email, userID string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
	}
	params.Context = ctx
	params.AddMetadata(billing.MetaUserID, userID)
	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	return cust.ID, nil
}

// CreateCheckoutSession creates a subscription checkout and returns its URL.
// A positive discount is applied as a single-use coupon.
func (c *Client) CreateCheckoutSession(ctx context.Context, req billing.CheckoutRequest) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Customer: stripe.String(req.CustomerID),
		Mode:     stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(req.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: req.Metadata,
		},
		SuccessURL: stripe.String(c.cfg.SuccessURL),
		CancelURL:  stripe.String(c.cfg.CancelURL),
	}
	params.Context = ctx
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	if req.DiscountCents > 0 {
		couponID, err := c.createBalanceCoupon(ctx, req.DiscountCents)
		if err != nil {
			return "", err
		}
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{
			{Coupon: stripe.String(couponID)},
		}
	} else {
		// Stripe rejects promotion codes alongside explicit discounts.
		params.AllowPromotionCodes = stripe.Bool(true)
	}

	sess, err := checksession.New(params)
	if err != nil {
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

func (c *Client) createBalanceCoupon(ctx context.Context, amount int64) (string, error) {
	params := &stripe.CouponParams{
		AmountOff:      stripe.Int64(amount),
		Currency:       stripe.String(c.cfg.Currency),
		Duration:       stripe.String(string(stripe.CouponDurationOnce)),
		MaxRedemptions: stripe.Int64(1),
		Name:           stripe.String("Wallet balance"),
	}
	params.Context = ctx
	cp, err := coupon.New(params)
	if err != nil {
		return "", fmt.Errorf("create balance coupon: %w", err)
	}
	return cp.ID, nil
}

// CreatePortalSession creates a Stripe billing portal session and returns the URL.
func (c *Client) CreatePortalSession(ctx context.Context, customerID string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(c.cfg.PortalReturnURL),
	}
	params.Context = ctx
	sess, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}

// GetSubscription fetches a subscription's billing interval, retrying
// timeouts, rate limits and 5xx responses.
func (c *Client) GetSubscription(ctx context.Context, id string) (*billing.Subscription, error) {
	var sub *stripe.Subscription
	backoff := retry.WithMaxRetries(3, retry.NewExponential(c.cfg.RetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		s, err := subscription.Get(id, params)
		if err != nil {
			if retryable(err) {
				c.logger.Warn("retrying subscription fetch", "subscription_id", id, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		sub = s
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("get subscription %s: %w", id, err)
	}
	return toSubscription(sub)
}

func toSubscription(s *stripe.Subscription) (*billing.Subscription, error) {
	if s.Items == nil || len(s.Items.Data) == 0 || s.Items.Data[0].Price == nil || s.Items.Data[0].Price.Recurring == nil {
		return nil, fmt.Errorf("subscription %s has no recurring price", s.ID)
	}
	rec := s.Items.Data[0].Price.Recurring
	out := &billing.Subscription{
		ID:            s.ID,
		Status:        string(s.Status),
		StartDate:     time.Unix(s.StartDate, 0).UTC(),
		Interval:      string(rec.Interval),
		IntervalCount: rec.IntervalCount,
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	return out, nil
}

func retryable(err error) bool {
	var serr *stripe.Error
	if errors.As(err, &serr) {
		return serr.HTTPStatusCode == 429 || serr.HTTPStatusCode >= 500
	}
	// Transport failures carry no Stripe error; the request may not have landed.
	return !errors.Is(err, context.Canceled)
}

// CreateProduct publishes a plan as a Stripe product.
func (c *Client) CreateProduct(ctx context.Context, planID, name, description string) (string, error) {
	params := &stripe.ProductParams{
		Name: stripe.String(name),
	}
	if description != "" {
		params.Description = stripe.String(description)
	}
	params.Context = ctx
	params.AddMetadata(billing.MetaPlanID, planID)
	p, err := product.New(params)
	if err != nil {
		return "", fmt.Errorf("create product: %w", err)
	}
	return p.ID, nil
}

// CreatePrice creates a recurring price billed every intervalMonths months.
func (c *Client) CreatePrice(ctx context.Context, productID string, amountCents int64, intervalMonths int) (string, error) {
	params := &stripe.PriceParams{
		Product:    stripe.String(productID),
		UnitAmount: stripe.Int64(amountCents),
		Currency:   stripe.String(c.cfg.Currency),
		Recurring: &stripe.PriceRecurringParams{
			Interval:      stripe.String(string(stripe.PriceRecurringIntervalMonth)),
			IntervalCount: stripe.Int64(int64(intervalMonths)),
		},
	}
	params.Context = ctx
	p, err := price.New(params)
	if err != nil {
		return "", fmt.Errorf("create price: %w", err)
	}
	return p.ID, nil
}

// ArchivePrice deactivates a price. Subscriptions already on it keep billing.
func (c *Client) ArchivePrice(ctx context.Context, priceID string) error {
	params := &stripe.PriceParams{
		Active: stripe.Bool(false),
	}
	params.Context = ctx
	if _, err := price.Update(priceID, params); err != nil {
		return fmt.Errorf("archive price %s: %w", priceID, err)
	}
	return nil
}
