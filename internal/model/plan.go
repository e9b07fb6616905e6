package model

import "time"

type Plan struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	PriceCents      int64     `json:"price_cents"`
	DurationMonths  int       `json:"duration_months"`
	Description     string    `json:"description"`
	Active          bool      `json:"active"`
	StripeProductID *string   `json:"stripe_product_id,omitempty"`
	StripePriceID   *string   `json:"stripe_price_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}
