package user

import (
	"time"

	"github.com/ovaphlow/pitchfork/service-identity/internal/user/entity"
)

const (
	// MaxAttempts consecutive failures lock the account.
	MaxAttempts = 5
	// LockDuration is measured from the failure that triggered the lock.
	LockDuration = 30 * time.Minute
)

// Lockout evaluates lock state lazily; nothing unlocks an account in the
// background. An expired lock flag may stay in storage until the next login.
type Lockout struct {
	MaxAttempts  int
	LockDuration time.Duration
}

func DefaultLockout() Lockout {
	return Lockout{MaxAttempts: MaxAttempts, LockDuration: LockDuration}
}

// LockedUntil returns the lock expiry when sec blocks logins at now.
func (l Lockout) LockedUntil(sec entity.AccountSecurity, now time.Time) (time.Time, bool) {
	if !sec.AccountLocked || sec.LockedUntil == nil {
		return time.Time{}, false
	}
	if !sec.LockedUntil.After(now) {
		return time.Time{}, false
	}
	return *sec.LockedUntil, true
}

// FailureOutcome is the transition caused by one wrong password.
type FailureOutcome struct {
	Attempts    int
	Locked      bool
	LockedUntil time.Time
}

// OnFailure maps the incremented failure count to the next state. The count
// is not reset when a lock expires, so one more failure locks again.
func (l Lockout) OnFailure(attempts int, now time.Time) FailureOutcome {
	out := FailureOutcome{Attempts: attempts}
	if attempts >= l.MaxAttempts {
		out.Locked = true
		out.LockedUntil = now.Add(l.LockDuration)
	}
	return out
}
