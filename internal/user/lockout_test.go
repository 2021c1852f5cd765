package user

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ovaphlow/pitchfork/service-identity/internal/user/entity"
)

func TestLockout_OnFailure(t *testing.T) {
	l := DefaultLockout()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	for attempts := 1; attempts < MaxAttempts; attempts++ {
		out := l.OnFailure(attempts, now)
		assert.False(t, out.Locked, "attempts %d", attempts)
	}
	out := l.OnFailure(MaxAttempts, now)
	assert.True(t, out.Locked)
	assert.Equal(t, now.Add(30*time.Minute), out.LockedUntil)

	assert.True(t, l.OnFailure(MaxAttempts+3, now).Locked)
}

func TestLockout_LockedUntil(t *testing.T) {
	l := DefaultLockout()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	cases := []struct {
		name   string
		sec    entity.AccountSecurity
		locked bool
	}{
		{"unlocked", entity.AccountSecurity{}, false},
		{"locked", entity.AccountSecurity{AccountLocked: true, LockedUntil: &future}, true},
		{"elapsed", entity.AccountSecurity{AccountLocked: true, LockedUntil: &past}, false},
		{"boundary", entity.AccountSecurity{AccountLocked: true, LockedUntil: &now}, false},
		{"flag without expiry", entity.AccountSecurity{AccountLocked: true}, false},
		{"expiry without flag", entity.AccountSecurity{LockedUntil: &future}, false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			until, locked := l.LockedUntil(c.sec, now)
			assert.Equal(t, c.locked, locked)
			if locked {
				assert.Equal(t, future, until)
			}
		})
	}
}

func TestLockedError(t *testing.T) {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	err := &LockedError{Until: now.Add(90*time.Second + 200*time.Millisecond)}
	assert.ErrorIs(t, err, ErrLocked)
	assert.Equal(t, 91*time.Second, err.RetryAfter(now))
	assert.Equal(t, time.Duration(0), err.RetryAfter(now.Add(time.Hour)))
	assert.Contains(t, err.Error(), "2026-05-01T09:01:30Z")
}
