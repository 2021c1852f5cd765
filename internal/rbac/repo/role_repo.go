package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-identity/internal/rbac/entity"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/utilities"
)

var ErrRoleNotFound = errors.New("role not found")

// RoleRepo reads and writes user_roles and user_role_assignments.
type RoleRepo struct {
	db sqlx.ExtContext
}

func NewRoleRepo(db sqlx.ExtContext) *RoleRepo { return &RoleRepo{db: db} }

// WithTx returns a repo bound to tx.
func (r *RoleRepo) WithTx(tx *sqlx.Tx) *RoleRepo { return &RoleRepo{db: tx} }

type roleRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Permissions string    `db:"permissions"`
	CreatedAt   time.Time `db:"created_at"`
}

func (row roleRow) toEntity() (entity.Role, error) {
	perms := map[string]bool{}
	if row.Permissions != "" {
		if err := json.Unmarshal([]byte(row.Permissions), &perms); err != nil {
			return entity.Role{}, fmt.Errorf("decode permissions of role %s: %w", row.Name, err)
		}
	}
	return entity.Role{ID: row.ID, Name: row.Name, Permissions: perms, CreatedAt: row.CreatedAt}, nil
}

// EnsureRole returns the role called name, creating it with perms on first use.
// An existing role keeps its stored permissions.
func (r *RoleRepo) EnsureRole(ctx context.Context, name string, perms map[string]bool, now time.Time) (*entity.Role, error) {
	if perms == nil {
		perms = map[string]bool{}
	}
	raw, err := json.Marshal(perms)
	if err != nil {
		return nil, err
	}
	q := r.db.Rebind(`INSERT INTO user_roles (id, name, permissions, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (name) DO NOTHING`)
	if _, err := r.db.ExecContext(ctx, q, utilities.NewKSUID(), name, string(raw), now.UTC()); err != nil {
		return nil, fmt.Errorf("create role %s: %w", name, err)
	}
	return r.GetByName(ctx, name)
}

// GetByName returns ErrRoleNotFound when no role has that name.
func (r *RoleRepo) GetByName(ctx context.Context, name string) (*entity.Role, error) {
	q := r.db.Rebind(`SELECT id, name, permissions, created_at FROM user_roles WHERE name = ?`)
	var row roleRow
	if err := sqlx.GetContext(ctx, r.db, &row, q, name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRoleNotFound
		}
		return nil, err
	}
	role, err := row.toEntity()
	if err != nil {
		return nil, err
	}
	return &role, nil
}

// Assign activates the (user, role) pair, replacing any previous expiry.
func (r *RoleRepo) Assign(ctx context.Context, userID, roleID string, expiresAt *time.Time, now time.Time) error {
	var exp *time.Time
	if expiresAt != nil {
		e := expiresAt.UTC()
		exp = &e
	}
	q := r.db.Rebind(`INSERT INTO user_role_assignments (id, user_id, role_id, is_active, expires_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, role_id) DO UPDATE SET is_active = excluded.is_active, expires_at = excluded.expires_at`)
	_, err := r.db.ExecContext(ctx, q, utilities.NewKSUID(), userID, roleID, true, exp, now.UTC())
	return err
}

// Deactivate turns off the (user, role) assignment. Returns false if none was active.
func (r *RoleRepo) Deactivate(ctx context.Context, userID, roleID string) (bool, error) {
	q := r.db.Rebind(`UPDATE user_role_assignments SET is_active = ? WHERE user_id = ? AND role_id = ? AND is_active = ?`)
	res, err := r.db.ExecContext(ctx, q, false, userID, roleID, true)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

type assignedRow struct {
	entity.Assignment
	RoleName        string    `db:"role_name"`
	RolePermissions string    `db:"role_permissions"`
	RoleCreatedAt   time.Time `db:"role_created_at"`
}

// ListActive returns the user's active assignments with their roles. Expiry is
// left to the caller so a single clock decides effectiveness.
func (r *RoleRepo) ListActive(ctx context.Context, userID string) ([]entity.AssignedRole, error) {
	q := r.db.Rebind(`SELECT a.id, a.user_id, a.role_id, a.is_active, a.expires_at, a.created_at,
			ro.name AS role_name, ro.permissions AS role_permissions, ro.created_at AS role_created_at
		FROM user_role_assignments a
		JOIN user_roles ro ON ro.id = a.role_id
		WHERE a.user_id = ? AND a.is_active = ?
		ORDER BY a.created_at ASC`)
	var rows []assignedRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, q, userID, true); err != nil {
		return nil, err
	}
	out := make([]entity.AssignedRole, 0, len(rows))
	for _, row := range rows {
		role, err := roleRow{ID: row.RoleID, Name: row.RoleName, Permissions: row.RolePermissions, CreatedAt: row.RoleCreatedAt}.toEntity()
		if err != nil {
			return nil, err
		}
		out = append(out, entity.AssignedRole{Assignment: row.Assignment, Role: role})
	}
	return out, nil
}
