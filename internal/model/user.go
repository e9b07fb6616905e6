package model

import "time"

// Role identifies which party an actor or recipient is.
type Role string

const (
	RoleUser  Role = "user"
	RoleCoach Role = "coach"
	RoleAdmin Role = "admin"
)

type User struct {
	ID                 string    `json:"id"`
	Email              string    `json:"email"`
	Name               string    `json:"name"`
	Role               Role      `json:"role"`
	StripeCustomerID   *string   `json:"stripe_customer_id"`
	ActiveMembershipID *string   `json:"active_membership_id"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}
