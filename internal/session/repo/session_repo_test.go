package repo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-identity/internal/session"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/database/dbtest"
)

func TestSessionRepo_Lifecycle(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	_, err := db.Exec(db.Rebind(`INSERT INTO users (id, email, first_name, last_name, created_at, updated_at)
		VALUES (?, 'a@b.test', 'A', 'B', ?, ?)`), "u1", now, now)
	require.NoError(t, err)

	repo := NewSessionRepo(db)
	for i, exp := range []time.Time{now.Add(time.Hour), now.Add(-time.Minute)} {
		require.NoError(t, repo.Create(ctx, &session.Session{
			ID:        []string{"live", "stale"}[i],
			UserID:    "u1",
			IP:        "10.0.0.1",
			UserAgent: "test",
			ExpiresAt: exp,
			IsActive:  true,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		}))
	}

	got, err := repo.Get(ctx, "live")
	require.NoError(t, err)
	assert.True(t, got.Valid(now))
	assert.Equal(t, "10.0.0.1", got.IP)

	_, err = repo.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	n, err := repo.SweepExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	active, err := repo.ListActive(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "live", active[0].ID)

	n, err = repo.DeactivateAllForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err = repo.Get(ctx, "live")
	require.NoError(t, err)
	assert.False(t, got.IsActive)
}
