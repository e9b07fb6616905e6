package model

import "time"

type MembershipStatus string

const (
	MembershipActive            MembershipStatus = "active"
	MembershipTrialing          MembershipStatus = "trialing"
	MembershipPastDue           MembershipStatus = "past_due"
	MembershipUnpaid            MembershipStatus = "unpaid"
	MembershipCanceled          MembershipStatus = "canceled"
	MembershipIncomplete        MembershipStatus = "incomplete"
	MembershipIncompleteExpired MembershipStatus = "incomplete_expired"
	MembershipExpired           MembershipStatus = "expired"
)

// Terminal reports whether no further transition may leave s.
func (s MembershipStatus) Terminal() bool {
	switch s {
	case MembershipCanceled, MembershipExpired, MembershipIncompleteExpired:
		return true
	}
	return false
}

// NonTerminalStatuses lists every status a membership can still move out of.
var NonTerminalStatuses = []MembershipStatus{
	MembershipActive,
	MembershipTrialing,
	MembershipPastDue,
	MembershipUnpaid,
	MembershipIncomplete,
}

type Membership struct {
	ID                   string           `json:"id"`
	UserID               string           `json:"user_id"`
	PlanID               string           `json:"plan_id"`
	StripeCustomerID     string           `json:"stripe_customer_id"`
	StripeSubscriptionID string           `json:"stripe_subscription_id"`
	Status               MembershipStatus `json:"status"`
	CurrentPeriodEnd     *time.Time       `json:"current_period_end"`
	CreatedAt            time.Time        `json:"created_at"`
	UpdatedAt            time.Time        `json:"updated_at"`
}
