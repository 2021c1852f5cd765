package rbac

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-identity/internal/rbac/entity"
	rolerepo "github.com/ovaphlow/pitchfork/service-identity/internal/rbac/repo"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/database/dbtest"
)

var now = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func assigned(name string, perms map[string]bool, active bool, exp *time.Time) entity.AssignedRole {
	return entity.AssignedRole{
		Assignment: entity.Assignment{IsActive: active, ExpiresAt: exp},
		Role:       entity.Role{Name: name, Permissions: perms},
	}
}

func TestEffective_UnionPrefersGrant(t *testing.T) {
	res := Effective([]entity.AssignedRole{
		assigned("reader", map[string]bool{"read": true}, true, nil),
		assigned("writer", map[string]bool{"write": true, "read": false}, true, nil),
	}, now)

	assert.Equal(t, []string{"read", "write"}, res.Permissions)
	assert.Equal(t, []string{"reader", "writer"}, res.Roles)
}

func TestEffective_OrderDoesNotMatter(t *testing.T) {
	a := assigned("a", map[string]bool{"x:1": true, "x:2": false}, true, nil)
	b := assigned("b", map[string]bool{"x:2": true}, true, nil)

	assert.Equal(t, Effective([]entity.AssignedRole{a, b}, now).Permissions,
		Effective([]entity.AssignedRole{b, a}, now).Permissions)
}

func TestEffective_SkipsInactiveAndExpired(t *testing.T) {
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	res := Effective([]entity.AssignedRole{
		assigned("inactive", map[string]bool{"a:b": true}, false, nil),
		assigned("expired", map[string]bool{"c:d": true}, true, &past),
		assigned("expiring", map[string]bool{"e:f": true}, true, &future),
		assigned("boundary", map[string]bool{"g:h": true}, true, &now),
	}, now)

	assert.Equal(t, []string{"e:f"}, res.Permissions)
	assert.True(t, res.Has("e", "f"))
	assert.False(t, res.Has("a", "b"))
	assert.False(t, res.Has("g", "h"))
}

func TestResolution_HasIsExact(t *testing.T) {
	res := Effective([]entity.AssignedRole{
		assigned("r", map[string]bool{"products:read": true}, true, nil),
	}, now)
	assert.True(t, res.Has("products", "read"))
	assert.False(t, res.Has("products", "rea"))
	assert.False(t, res.Has("product", "s:read"))
	assert.False(t, res.Has("products", "*"))
}

func seedUser(t *testing.T, db *sqlx.DB, id string) {
	t.Helper()
	_, err := db.Exec(db.Rebind(`INSERT INTO users (id, email, first_name, last_name, created_at, updated_at)
		VALUES (?, ?, 'F', 'L', ?, ?)`), id, id+"@x.test", now, now)
	require.NoError(t, err)
}

func TestResolver_ResolveFromStorage(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	seedUser(t, db, "u1")

	repo := rolerepo.NewRoleRepo(db)
	reader, err := repo.EnsureRole(ctx, "reader", map[string]bool{"read": true}, now)
	require.NoError(t, err)
	writer, err := repo.EnsureRole(ctx, "writer", map[string]bool{"write": true, "read": false}, now)
	require.NoError(t, err)
	require.NoError(t, repo.Assign(ctx, "u1", reader.ID, nil, now))
	require.NoError(t, repo.Assign(ctx, "u1", writer.ID, nil, now))

	r := NewResolver(db)
	r.SetClock(func() time.Time { return now })

	res, err := r.Resolve(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"read", "write"}, res.Permissions)

	ok, err := r.HasPermission(ctx, "u1", "products", "read")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestResolver_ExpiryAndDeactivation(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	seedUser(t, db, "u2")

	repo := rolerepo.NewRoleRepo(db)
	temp, err := repo.EnsureRole(ctx, "temp", map[string]bool{"reports:read": true}, now)
	require.NoError(t, err)
	exp := now.Add(time.Hour)
	require.NoError(t, repo.Assign(ctx, "u2", temp.ID, &exp, now))

	r := NewResolver(db)
	r.SetClock(func() time.Time { return now })
	ok, err := r.HasPermission(ctx, "u2", "reports", "read")
	require.NoError(t, err)
	assert.True(t, ok)

	r.SetClock(func() time.Time { return now.Add(2 * time.Hour) })
	ok, err = r.HasPermission(ctx, "u2", "reports", "read")
	require.NoError(t, err)
	assert.False(t, ok)

	// re-assigning without expiry replaces the old expiry
	require.NoError(t, repo.Assign(ctx, "u2", temp.ID, nil, now))
	ok, err = r.HasPermission(ctx, "u2", "reports", "read")
	require.NoError(t, err)
	assert.True(t, ok)

	changed, err := repo.Deactivate(ctx, "u2", temp.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	ok, err = r.HasPermission(ctx, "u2", "reports", "read")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRoleRepo_EnsureRoleIsLazyAndStable(t *testing.T) {
	db := dbtest.New(t)
	ctx := context.Background()
	repo := rolerepo.NewRoleRepo(db)

	_, err := repo.GetByName(ctx, "student")
	require.ErrorIs(t, err, rolerepo.ErrRoleNotFound)

	first, err := repo.EnsureRole(ctx, "student", entity.RoleStudent.DefaultPermissions(), now)
	require.NoError(t, err)
	second, err := repo.EnsureRole(ctx, "student", map[string]bool{"other": true}, now)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, entity.RoleStudent.DefaultPermissions(), second.Permissions)
	assert.Equal(t, 1, dbtest.Count(t, db, "user_roles", ""))
}

func TestRoleNames(t *testing.T) {
	for _, name := range []string{"student", "admin", "moderator", "support_2", "a"} {
		assert.True(t, entity.ValidRoleName(name), name)
	}
	for _, name := range []string{"", "Admin", "2fast", "has space", strings.Repeat("a", 51)} {
		assert.False(t, entity.ValidRoleName(name), name)
	}

	assert.Empty(t, entity.RoleName("moderator").DefaultPermissions())

	assert.True(t, entity.RoleAdmin.DefaultPermissions()["users:manage"])
	assert.True(t, entity.RoleAdmin.DefaultPermissions()["products:read"])
	assert.False(t, entity.RoleStudent.DefaultPermissions()["users:manage"])
}
