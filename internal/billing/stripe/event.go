package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/dukerupert/fitstack/internal/billing"
)

var ErrInvalidSignature = errors.New("invalid webhook signature")

// ParseEvent verifies the Stripe-Signature header and decodes the payload
// into a billing.Event. Kinds the reconciler does not handle decode to
// billing.Ignored.
func (c *Client) ParseEvent(payload []byte, sigHeader string) (billing.Event, error) {
	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, c.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return decodeEvent(event)
}

func decodeEvent(event stripe.Event) (billing.Event, error) {
	meta := billing.Meta{ID: event.ID, Type: string(event.Type)}
	if event.Data == nil {
		return billing.Ignored{Meta: meta}, nil
	}

	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("unmarshal checkout session: %w", err)
		}
		if sess.Mode != "" && sess.Mode != stripe.CheckoutSessionModeSubscription {
			return billing.Ignored{Meta: meta}, nil
		}
		discount, err := parseDiscount(sess.Metadata[billing.MetaDiscount])
		if err != nil {
			return nil, err
		}
		ev := billing.CheckoutCompleted{
			Meta:          meta,
			SessionID:     sess.ID,
			UserID:        sess.Metadata[billing.MetaUserID],
			PlanID:        sess.Metadata[billing.MetaPlanID],
			DiscountCents: discount,
		}
		if sess.Subscription != nil {
			ev.SubscriptionID = sess.Subscription.ID
		}
		if sess.Customer != nil {
			ev.CustomerID = sess.Customer.ID
		}
		return ev, nil

	case stripe.EventTypeInvoicePaid:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, fmt.Errorf("unmarshal invoice: %w", err)
		}
		ev := billing.InvoicePaid{
			Meta:           meta,
			InvoiceID:      invoice.ID,
			SubscriptionID: subscriptionIDFromInvoice(invoice),
			BillingReason:  string(invoice.BillingReason),
		}
		if invoice.Lines != nil && len(invoice.Lines.Data) > 0 && invoice.Lines.Data[0].Period != nil {
			ev.PeriodStart = time.Unix(invoice.Lines.Data[0].Period.Start, 0).UTC()
		}
		return ev, nil

	case stripe.EventTypeInvoicePaymentFailed:
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return nil, fmt.Errorf("unmarshal invoice: %w", err)
		}
		return billing.InvoicePaymentFailed{
			Meta:           meta,
			InvoiceID:      invoice.ID,
			SubscriptionID: subscriptionIDFromInvoice(invoice),
		}, nil

	case stripe.EventTypeCustomerSubscriptionDeleted:
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("unmarshal subscription: %w", err)
		}
		return billing.SubscriptionDeleted{Meta: meta, SubscriptionID: sub.ID}, nil
	}

	return billing.Ignored{Meta: meta}, nil
}

// subscriptionIDFromInvoice extracts the subscription ID from an invoice's parent.
func subscriptionIDFromInvoice(invoice stripe.Invoice) string {
	if invoice.Parent != nil &&
		invoice.Parent.SubscriptionDetails != nil &&
		invoice.Parent.SubscriptionDetails.Subscription != nil {
		return invoice.Parent.SubscriptionDetails.Subscription.ID
	}
	return ""
}

func parseDiscount(raw string) (int64, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid %s metadata %q", billing.MetaDiscount, raw)
	}
	return n, nil
}
