package entity

import "time"

// Kind names a notification template.
type Kind string

const (
	KindWelcome              Kind = "welcome"
	KindVerificationReminder Kind = "verification_reminder"
	KindAdminGranted         Kind = "admin_granted"
)

// Notification is a message for a user, delivered by an outer service.
type Notification struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Kind        Kind           `json:"kind"`
	Payload     map[string]any `json:"payload,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	DeliveredAt *time.Time     `json:"delivered_at,omitempty"`
}
