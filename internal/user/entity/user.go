package entity

import "time"

// User is the identity record in the `users` table.
type User struct {
	ID                string    `db:"id" json:"id"`
	Email             string    `db:"email" json:"email"`
	FirstName         string    `db:"first_name" json:"first_name"`
	LastName          string    `db:"last_name" json:"last_name"`
	University        *string   `db:"university" json:"university,omitempty"`
	Phone             *string   `db:"phone" json:"phone,omitempty"`
	Verified          bool      `db:"verified" json:"verified"`
	DocumentsUploaded bool      `db:"documents_uploaded" json:"documents_uploaded"`
	AdminVerified     bool      `db:"admin_verified" json:"admin_verified"`
	CreatedAt         time.Time `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time `db:"updated_at" json:"updated_at"`
}

// AccountSecurity is the 1:1 security record of a user. The password salt
// lives inside the encoded hash.
type AccountSecurity struct {
	UserID              string     `db:"user_id"`
	PasswordHash        string     `db:"password_hash"`
	PasswordAlgo        string     `db:"password_algo"`
	EmailVerified       bool       `db:"email_verified"`
	VerificationToken   *string    `db:"verification_token"`
	FailedLoginAttempts int        `db:"failed_login_attempts"`
	AccountLocked       bool       `db:"account_locked"`
	LockedUntil         *time.Time `db:"locked_until"`
	LastLogin           *time.Time `db:"last_login"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

// Credentials joins a user with its security record for the login path.
type Credentials struct {
	User
	Security AccountSecurity
}

// Identity is what callers learn about an authenticated user. Roles and
// permissions are always resolved from storage, never from token claims.
type Identity struct {
	UserID            string    `json:"id"`
	Email             string    `json:"email"`
	FirstName         string    `json:"first_name"`
	LastName          string    `json:"last_name"`
	University        *string   `json:"university,omitempty"`
	Verified          bool      `json:"verified"`
	EmailVerified     bool      `json:"email_verified"`
	Roles             []string  `json:"roles"`
	Permissions       []string  `json:"permissions"`
	IsAdmin           bool      `json:"is_admin"`
	RedirectTo        string    `json:"redirect_to,omitempty"`
	AdminQuotaReached bool      `json:"admin_quota_reached,omitempty"`
	SessionID         string    `json:"-"`
	ExpiresAt         time.Time `json:"expires_at,omitempty"`
}

// AuthResult is returned by register and login.
type AuthResult struct {
	Identity Identity
	Token    string
}
