package model

import "time"

const (
	NotifMembershipActivated = "membership_activated"
	NotifMembershipRenewed   = "membership_renewed"
	NotifPaymentFailed       = "membership_payment_failed"
	NotifMembershipCancelled = "membership_cancelled"
	NotifMembershipExpired   = "membership_expired"
	NotifSessionBooked       = "session_booked"
	NotifSessionCancelled    = "session_cancelled"
	NotifRefundIssued        = "refund_issued"
)

type Notification struct {
	ID            string     `json:"id"`
	RecipientID   string     `json:"recipient_id"`
	RecipientRole Role       `json:"recipient_role"`
	Type          string     `json:"type"`
	Title         string     `json:"title"`
	Message       string     `json:"message"`
	RelatedID     *string    `json:"related_id,omitempty"`
	ReadAt        *time.Time `json:"read_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}
