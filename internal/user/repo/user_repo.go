package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-identity/internal/user/entity"
)

var ErrUserNotFound = errors.New("user not found")

// UserRepo provides data access for the users and account_security tables.
type UserRepo struct {
	db sqlx.ExtContext
}

func NewUserRepo(db sqlx.ExtContext) *UserRepo { return &UserRepo{db: db} }

// WithTx returns a repo bound to tx.
func (r *UserRepo) WithTx(tx *sqlx.Tx) *UserRepo { return &UserRepo{db: tx} }

const userColumns = `u.id, u.email, u.first_name, u.last_name, u.university, u.phone,
	u.verified, u.documents_uploaded, u.admin_verified, u.created_at, u.updated_at`

// Create inserts the user row. Email must already be normalized.
func (r *UserRepo) Create(ctx context.Context, u *entity.User) error {
	q := r.db.Rebind(`INSERT INTO users (id, email, first_name, last_name, university, phone,
		verified, documents_uploaded, admin_verified, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, q, u.ID, u.Email, u.FirstName, u.LastName, u.University, u.Phone,
		u.Verified, u.DocumentsUploaded, u.AdminVerified, u.CreatedAt.UTC(), u.UpdatedAt.UTC())
	return err
}

// CreateSecurity inserts the 1:1 security row.
func (r *UserRepo) CreateSecurity(ctx context.Context, s *entity.AccountSecurity) error {
	q := r.db.Rebind(`INSERT INTO account_security (user_id, password_hash, password_algo, email_verified,
		verification_token, failed_login_attempts, account_locked, locked_until, last_login, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, q, s.UserID, s.PasswordHash, s.PasswordAlgo, s.EmailVerified,
		s.VerificationToken, s.FailedLoginAttempts, s.AccountLocked, s.LockedUntil, s.LastLogin, s.UpdatedAt.UTC())
	return err
}

type credentialsRow struct {
	entity.User
	PasswordHash        string     `db:"password_hash"`
	PasswordAlgo        string     `db:"password_algo"`
	EmailVerified       bool       `db:"email_verified"`
	VerificationToken   *string    `db:"verification_token"`
	FailedLoginAttempts int        `db:"failed_login_attempts"`
	AccountLocked       bool       `db:"account_locked"`
	LockedUntil         *time.Time `db:"locked_until"`
	LastLogin           *time.Time `db:"last_login"`
	SecurityUpdatedAt   time.Time  `db:"security_updated_at"`
}

func (row credentialsRow) toEntity() *entity.Credentials {
	return &entity.Credentials{
		User: row.User,
		Security: entity.AccountSecurity{
			UserID:              row.ID,
			PasswordHash:        row.PasswordHash,
			PasswordAlgo:        row.PasswordAlgo,
			EmailVerified:       row.EmailVerified,
			VerificationToken:   row.VerificationToken,
			FailedLoginAttempts: row.FailedLoginAttempts,
			AccountLocked:       row.AccountLocked,
			LockedUntil:         row.LockedUntil,
			LastLogin:           row.LastLogin,
			UpdatedAt:           row.SecurityUpdatedAt,
		},
	}
}

func (r *UserRepo) getCredentials(ctx context.Context, where string, arg any) (*entity.Credentials, error) {
	q := r.db.Rebind(`SELECT ` + userColumns + `,
		s.password_hash, s.password_algo, s.email_verified, s.verification_token,
		s.failed_login_attempts, s.account_locked, s.locked_until, s.last_login,
		s.updated_at AS security_updated_at
		FROM users u JOIN account_security s ON s.user_id = u.id
		WHERE ` + where)
	var row credentialsRow
	if err := sqlx.GetContext(ctx, r.db, &row, q, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return row.toEntity(), nil
}

// GetCredentialsByEmail returns the user with its security record.
func (r *UserRepo) GetCredentialsByEmail(ctx context.Context, email string) (*entity.Credentials, error) {
	return r.getCredentials(ctx, "u.email = ?", email)
}

// GetCredentialsByID returns the user with its security record.
func (r *UserRepo) GetCredentialsByID(ctx context.Context, id string) (*entity.Credentials, error) {
	return r.getCredentials(ctx, "u.id = ?", id)
}

// GetByID fetches the user row only.
func (r *UserRepo) GetByID(ctx context.Context, id string) (*entity.User, error) {
	q := r.db.Rebind(`SELECT ` + userColumns + ` FROM users u WHERE u.id = ?`)
	var u entity.User
	if err := sqlx.GetContext(ctx, r.db, &u, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &u, nil
}

// IncrementFailedLogin increments the failure counter atomically and returns new value.
func (r *UserRepo) IncrementFailedLogin(ctx context.Context, id string, now time.Time) (int, error) {
	q := r.db.Rebind(`UPDATE account_security SET failed_login_attempts = failed_login_attempts + 1, updated_at = ?
		WHERE user_id = ? RETURNING failed_login_attempts`)
	var v int
	if err := sqlx.GetContext(ctx, r.db, &v, q, now.UTC(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrUserNotFound
		}
		return 0, err
	}
	return v, nil
}

// Lock sets the lock flag and its expiry.
func (r *UserRepo) Lock(ctx context.Context, id string, until, now time.Time) error {
	q := r.db.Rebind(`UPDATE account_security SET account_locked = ?, locked_until = ?, updated_at = ? WHERE user_id = ?`)
	_, err := r.db.ExecContext(ctx, q, true, until.UTC(), now.UTC(), id)
	return err
}

// ResetLoginSuccess resets failure metrics on successful authentication.
func (r *UserRepo) ResetLoginSuccess(ctx context.Context, id string, now time.Time) error {
	q := r.db.Rebind(`UPDATE account_security SET failed_login_attempts = 0, account_locked = ?, locked_until = NULL,
		last_login = ?, updated_at = ? WHERE user_id = ?`)
	_, err := r.db.ExecContext(ctx, q, false, now.UTC(), now.UTC(), id)
	return err
}

// Unlock clears the lock and the failure counter. Returns false for unknown users.
func (r *UserRepo) Unlock(ctx context.Context, id string, now time.Time) (bool, error) {
	q := r.db.Rebind(`UPDATE account_security SET failed_login_attempts = 0, account_locked = ?, locked_until = NULL,
		updated_at = ? WHERE user_id = ?`)
	res, err := r.db.ExecContext(ctx, q, false, now.UTC(), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ClearStaleLocks drops lock flags whose window has elapsed. The failure
// counter is kept.
func (r *UserRepo) ClearStaleLocks(ctx context.Context, now time.Time) (int64, error) {
	q := r.db.Rebind(`UPDATE account_security SET account_locked = ?, locked_until = NULL, updated_at = ?
		WHERE account_locked = ? AND (locked_until IS NULL OR locked_until <= ?)`)
	res, err := r.db.ExecContext(ctx, q, false, now.UTC(), true, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// UpdatePassword replaces the stored hash.
func (r *UserRepo) UpdatePassword(ctx context.Context, id, hash, algo string, now time.Time) error {
	q := r.db.Rebind(`UPDATE account_security SET password_hash = ?, password_algo = ?, updated_at = ? WHERE user_id = ?`)
	_, err := r.db.ExecContext(ctx, q, hash, algo, now.UTC(), id)
	return err
}

// Delete removes the user; dependent rows go with it through ON DELETE CASCADE.
func (r *UserRepo) Delete(ctx context.Context, id string) (bool, error) {
	q := r.db.Rebind(`DELETE FROM users WHERE id = ?`)
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkAdminVerified sets the verification flags an elevated account skips the
// document flow with.
func (r *UserRepo) MarkAdminVerified(ctx context.Context, id string, now time.Time) error {
	q := r.db.Rebind(`UPDATE users SET verified = ?, admin_verified = ?, updated_at = ? WHERE id = ?`)
	_, err := r.db.ExecContext(ctx, q, true, true, now.UTC(), id)
	return err
}
