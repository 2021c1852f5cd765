package session

import "time"

// Session is one login. Logout deactivates it; rows are never deleted.
type Session struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	IP        string    `db:"ip" json:"ip"`
	UserAgent string    `db:"user_agent" json:"user_agent"`
	ExpiresAt time.Time `db:"expires_at" json:"expires_at"`
	IsActive  bool      `db:"is_active" json:"is_active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Valid reports whether the session can still authenticate requests at now.
func (s Session) Valid(now time.Time) bool {
	return s.IsActive && s.ExpiresAt.After(now)
}
