package entity

import "time"

// FullAccess is the wildcard stored in Admin.Permissions for elevated accounts.
const FullAccess = "*"

// Admin is the optional administrative extension of a user. An active row is
// what makes a user an administrator.
type Admin struct {
	ID            string
	UserID        string
	StudentNumber string
	Permissions   []string
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Quota is a snapshot of the elevation counter.
type Quota struct {
	Active int `json:"active"`
	Max    int `json:"max"`
}

// Reached reports whether no further elevation is allowed.
func (q Quota) Reached() bool { return q.Active >= q.Max }
