package user

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrValidation     = errors.New("validation failed")
	ErrEmailTaken     = errors.New("email already registered")
	ErrBadCredentials = errors.New("invalid credentials")
	ErrLocked         = errors.New("account locked")
	ErrInvalidToken   = errors.New("invalid token")
	ErrForbidden      = errors.New("forbidden")
	ErrNotFound       = errors.New("user not found")
	ErrInternal       = errors.New("internal error")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// LockedError carries the lock expiry of a locked account.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

func (e *LockedError) Is(target error) bool { return target == ErrLocked }

// RetryAfter is the remaining lock time at now, rounded up to whole seconds.
func (e *LockedError) RetryAfter(now time.Time) time.Duration {
	d := e.Until.Sub(now)
	if d <= 0 {
		return 0
	}
	return (d + time.Second - 1) / time.Second * time.Second
}

// internal wraps a store failure so callers see ErrInternal while logs keep the cause.
func internal(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrInternal, op, err)
}
