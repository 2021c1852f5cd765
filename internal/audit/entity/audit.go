package entity

import "time"

// Action names recorded in security_audit_logs.
type Action string

const (
	ActionUserRegistered    Action = "USER_REGISTERED"
	ActionUserLogin         Action = "USER_LOGIN"
	ActionUserLogout        Action = "USER_LOGOUT"
	ActionFailedLogin       Action = "FAILED_LOGIN"
	ActionAccountLocked     Action = "ACCOUNT_LOCKED"
	ActionLoginBlocked      Action = "LOGIN_BLOCKED"
	ActionAccountUnlocked   Action = "ACCOUNT_UNLOCKED"
	ActionAdminGranted      Action = "ADMIN_GRANTED"
	ActionAdminQuotaReached Action = "ADMIN_QUOTA_REACHED"
	ActionAdminDeactivated  Action = "ADMIN_DEACTIVATED"
	ActionRoleGranted       Action = "ROLE_GRANTED"
	ActionUserDeleted       Action = "USER_DELETED"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Event is one append-only security audit record.
type Event struct {
	ID           string
	UserID       *string
	Action       Action
	ResourceType string
	ResourceID   string
	RiskLevel    RiskLevel
	Details      map[string]any
	CreatedAt    time.Time
}

// LoginAttempt is one append-only ledger row. Email need not belong to a user.
type LoginAttempt struct {
	ID            string    `db:"id"`
	Email         string    `db:"email"`
	IP            string    `db:"ip"`
	UserAgent     string    `db:"user_agent"`
	Success       bool      `db:"success"`
	FailureReason *string   `db:"failure_reason"`
	CreatedAt     time.Time `db:"created_at"`
}
