package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-identity/internal/admin/entity"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/database"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/utilities"
)

var ErrAdminNotFound = errors.New("admin not found")

// AdminRepo reads and writes admins and the admin_quota counter row.
type AdminRepo struct {
	db sqlx.ExtContext
}

func NewAdminRepo(db sqlx.ExtContext) *AdminRepo { return &AdminRepo{db: db} }

type adminRow struct {
	ID            string    `db:"id"`
	UserID        string    `db:"user_id"`
	StudentNumber string    `db:"student_number"`
	Permissions   string    `db:"permissions"`
	IsActive      bool      `db:"is_active"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// Insert creates an admin row. ID is generated when empty.
func (r *AdminRepo) Insert(ctx context.Context, a *entity.Admin) error {
	if a.ID == "" {
		a.ID = utilities.NewKSUID()
	}
	if a.Permissions == nil {
		a.Permissions = []string{}
	}
	perms, err := json.Marshal(a.Permissions)
	if err != nil {
		return err
	}
	q := r.db.Rebind(`INSERT INTO admins (id, user_id, student_number, permissions, is_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err = r.db.ExecContext(ctx, q, a.ID, a.UserID, a.StudentNumber, string(perms), a.IsActive, a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	return err
}

// GetByUser returns the admin row for userID regardless of its active flag.
func (r *AdminRepo) GetByUser(ctx context.Context, userID string) (*entity.Admin, error) {
	q := r.db.Rebind(`SELECT id, user_id, student_number, permissions, is_active, created_at, updated_at
		FROM admins WHERE user_id = ?`)
	var row adminRow
	if err := sqlx.GetContext(ctx, r.db, &row, q, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAdminNotFound
		}
		return nil, err
	}
	a := &entity.Admin{
		ID:            row.ID,
		UserID:        row.UserID,
		StudentNumber: row.StudentNumber,
		IsActive:      row.IsActive,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
	if err := json.Unmarshal([]byte(row.Permissions), &a.Permissions); err != nil {
		return nil, fmt.Errorf("decode admin permissions: %w", err)
	}
	return a, nil
}

// IsActiveAdmin reports whether userID has an active admin row.
func (r *AdminRepo) IsActiveAdmin(ctx context.Context, userID string) (bool, error) {
	q := r.db.Rebind(`SELECT COUNT(*) FROM admins WHERE user_id = ? AND is_active = ?`)
	var n int
	if err := sqlx.GetContext(ctx, r.db, &n, q, userID, true); err != nil {
		return false, err
	}
	return n > 0, nil
}

// Deactivate flips an active admin row off. Returns false when there was none.
func (r *AdminRepo) Deactivate(ctx context.Context, userID string, now time.Time) (bool, error) {
	q := r.db.Rebind(`UPDATE admins SET is_active = ?, updated_at = ? WHERE user_id = ? AND is_active = ?`)
	res, err := r.db.ExecContext(ctx, q, false, now.UTC(), userID, true)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TryReserve takes one elevation slot if fewer than max are in use. The
// conditional update is a single statement, so concurrent callers can never
// push the counter past max.
func (r *AdminRepo) TryReserve(ctx context.Context, max int) (bool, error) {
	q := r.db.Rebind(`UPDATE admin_quota SET active_count = active_count + 1
		WHERE id = 1 AND active_count < ? RETURNING active_count`)
	var n int
	if err := sqlx.GetContext(ctx, r.db, &n, q, max); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Release gives one slot back. The counter never drops below zero.
func (r *AdminRepo) Release(ctx context.Context) error {
	q := `UPDATE admin_quota SET active_count = active_count - 1 WHERE id = 1 AND active_count > 0`
	_, err := r.db.ExecContext(ctx, q)
	return err
}

// ActiveCount reads the counter row.
func (r *AdminRepo) ActiveCount(ctx context.Context) (int, error) {
	var n int
	if err := sqlx.GetContext(ctx, r.db, &n, `SELECT active_count FROM admin_quota WHERE id = 1`); err != nil {
		return 0, err
	}
	return n, nil
}

// LockQuota takes the counter row lock for the rest of the transaction on
// PostgreSQL. SQLite serializes writers already.
func (r *AdminRepo) LockQuota(ctx context.Context) error {
	d, ok := r.db.(interface{ DriverName() string })
	if !ok || !database.IsPostgres(d.DriverName()) {
		return nil
	}
	var n int
	return sqlx.GetContext(ctx, r.db, &n, `SELECT active_count FROM admin_quota WHERE id = 1 FOR UPDATE`)
}

// Reconcile rewrites the counter from the admins table and returns the new
// value. Call LockQuota first in the same transaction so the count is taken
// after any in-flight elevation commits.
func (r *AdminRepo) Reconcile(ctx context.Context) (int, error) {
	q := r.db.Rebind(`UPDATE admin_quota SET active_count =
		(SELECT COUNT(*) FROM admins WHERE is_active = ?) WHERE id = 1 RETURNING active_count`)
	var n int
	if err := sqlx.GetContext(ctx, r.db, &n, q, true); err != nil {
		return 0, err
	}
	return n, nil
}
