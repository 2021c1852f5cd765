// Package dbtest opens migrated databases for tests: in-memory SQLite by
// default, PostgreSQL when TEST_DATABASE_URL is set.
package dbtest

import (
	"context"
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-identity/pkg/database"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/utilities"
)

// PostgresURLEnv names the connection URL used by NewPostgres.
const PostgresURLEnv = "TEST_DATABASE_URL"

// New returns a fresh, fully migrated in-memory database closed on cleanup.
func New(t testing.TB) *sqlx.DB {
	t.Helper()
	db, err := database.Connect(database.Config{Driver: database.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))
	return db
}

// NewPostgres returns a migrated PostgreSQL pool living in a throwaway schema.
// The test is skipped when TEST_DATABASE_URL is unset. Unlike New, the pool
// has several connections, so transactions really run concurrently.
func NewPostgres(t testing.TB) *sqlx.DB {
	t.Helper()
	raw := os.Getenv(PostgresURLEnv)
	if raw == "" {
		t.Skipf("%s not set", PostgresURLEnv)
	}
	ctx := context.Background()

	admin, err := database.Connect(database.Config{Driver: database.DriverPostgres, DSN: raw})
	require.NoError(t, err)
	schema := "identity_test_" + strings.ToLower(utilities.NewKSUID())
	_, err = admin.ExecContext(ctx, "CREATE SCHEMA "+schema)
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = admin.ExecContext(context.Background(), "DROP SCHEMA "+schema+" CASCADE")
		_ = admin.Close()
	})

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	q.Set("search_path", schema)
	u.RawQuery = q.Encode()

	db, err := database.Connect(database.Config{Driver: database.DriverPostgres, DSN: u.String(), MaxConns: 16})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(ctx, db))
	return db
}

// Count returns SELECT COUNT(*) for the given table and optional where clause.
func Count(t testing.TB, db *sqlx.DB, table, where string, args ...any) int {
	t.Helper()
	q := "SELECT COUNT(*) FROM " + table
	if where != "" {
		q += " WHERE " + where
	}
	var n int
	require.NoError(t, db.Get(&n, db.Rebind(q), args...))
	return n
}
