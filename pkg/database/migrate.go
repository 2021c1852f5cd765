package database

import (
	"context"
	"fmt"
	"sync"

	"github.com/jmoiron/sqlx"
	"github.com/pressly/goose/v3"

	"github.com/ovaphlow/pitchfork/service-identity/pkg/database/migrations"
)

// goose keeps its base FS and dialect in package globals.
var gooseMu sync.Mutex

// Migrate applies the embedded schema migrations for the connection's driver.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	dialect, dir := "postgres", "postgres"
	if db.DriverName() == DriverSQLite {
		dialect, dir = "sqlite3", "sqlite"
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(dialect); err != nil {
		return fmt.Errorf("goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.DB, dir); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
