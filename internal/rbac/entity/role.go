package entity

import (
	"regexp"
	"time"
)

// RoleName names a role. Business logic only branches on the constants below;
// other names may exist in storage and still contribute permissions.
type RoleName string

const (
	RoleStudent RoleName = "student"
	RoleAdmin   RoleName = "admin"
)

var roleName = regexp.MustCompile(`^[a-z][a-z0-9_-]{0,49}$`)

// ValidRoleName reports whether s may name a stored role. Names outside the
// closed set are allowed; they start with no permissions.
func ValidRoleName(s string) bool {
	return roleName.MatchString(s)
}

// DefaultPermissions is the permission map a role is created with on first use.
func (r RoleName) DefaultPermissions() map[string]bool {
	student := map[string]bool{
		"products:read":    true,
		"products:create":  true,
		"products:update":  true,
		"messages:read":    true,
		"messages:send":    true,
		"cart:manage":      true,
		"wishlist:manage":  true,
		"profile:update":   true,
		"documents:upload": true,
	}
	switch r {
	case RoleStudent:
		return student
	case RoleAdmin:
		admin := map[string]bool{
			"admin:access":      true,
			"users:read":        true,
			"users:manage":      true,
			"users:verify":      true,
			"products:moderate": true,
			"products:delete":   true,
			"reports:read":      true,
			"audit:read":        true,
		}
		for k, v := range student {
			admin[k] = v
		}
		return admin
	}
	return map[string]bool{}
}

// Role is a named, globally shared permission map.
type Role struct {
	ID          string
	Name        string
	Permissions map[string]bool
	CreatedAt   time.Time
}

// Assignment joins a user to a role.
type Assignment struct {
	ID        string     `db:"id"`
	UserID    string     `db:"user_id"`
	RoleID    string     `db:"role_id"`
	IsActive  bool       `db:"is_active"`
	ExpiresAt *time.Time `db:"expires_at"`
	CreatedAt time.Time  `db:"created_at"`
}

// Effective reports whether the assignment contributes permissions at now.
func (a Assignment) Effective(now time.Time) bool {
	if !a.IsActive {
		return false
	}
	return a.ExpiresAt == nil || a.ExpiresAt.After(now)
}

// AssignedRole is an assignment together with its role.
type AssignedRole struct {
	Assignment
	Role Role
}
