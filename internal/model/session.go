package model

import "time"

type SessionStatus string

const (
	SessionWaiting   SessionStatus = "waiting"
	SessionLive      SessionStatus = "live"
	SessionCompleted SessionStatus = "completed"
	SessionMissed    SessionStatus = "missed"
	SessionCancelled SessionStatus = "cancelled"
)

type Slot struct {
	ID        string    `json:"id"`
	CoachID   string    `json:"coach_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
	Booked    bool      `json:"booked"`
	BookedBy  *string   `json:"booked_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Session is a booked slot. The cancellation fields are only set once Status
// is SessionCancelled.
type Session struct {
	ID           string        `json:"id"`
	UserID       string        `json:"user_id"`
	CoachID      string        `json:"coach_id"`
	SlotID       string        `json:"slot_id"`
	RoomID       string        `json:"room_id"`
	Status       SessionStatus `json:"status"`
	StartTime    time.Time     `json:"start_time"`
	EndTime      time.Time     `json:"end_time"`
	CancelReason *string       `json:"cancel_reason,omitempty"`
	CancelledAt  *time.Time    `json:"cancelled_at,omitempty"`
	CancelledBy  *Role         `json:"cancelled_by,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}
