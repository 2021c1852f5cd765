package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-identity/internal/audit/entity"
)

// LoginAttemptRepo appends to login_attempts.
type LoginAttemptRepo struct {
	db sqlx.ExtContext
}

func NewLoginAttemptRepo(db sqlx.ExtContext) *LoginAttemptRepo { return &LoginAttemptRepo{db: db} }

func (r *LoginAttemptRepo) Insert(ctx context.Context, a *entity.LoginAttempt) error {
	q := r.db.Rebind(`INSERT INTO login_attempts (id, email, ip, user_agent, success, failure_reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, q, a.ID, a.Email, a.IP, a.UserAgent, a.Success, a.FailureReason, a.CreatedAt.UTC())
	return err
}

// ListByEmail returns attempts for an email, oldest first.
func (r *LoginAttemptRepo) ListByEmail(ctx context.Context, email string) ([]entity.LoginAttempt, error) {
	q := r.db.Rebind(`SELECT id, email, ip, user_agent, success, failure_reason, created_at
		FROM login_attempts WHERE email = ? ORDER BY created_at ASC, id ASC`)
	var out []entity.LoginAttempt
	if err := sqlx.SelectContext(ctx, r.db, &out, q, email); err != nil {
		return nil, err
	}
	return out, nil
}
