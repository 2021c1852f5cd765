package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-identity/internal/session"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepo struct {
	db sqlx.ExtContext
}

func NewSessionRepo(db sqlx.ExtContext) *SessionRepo {
	return &SessionRepo{db: db}
}

// WithTx returns a repo bound to tx.
func (r *SessionRepo) WithTx(tx *sqlx.Tx) *SessionRepo {
	return &SessionRepo{db: tx}
}

func (r *SessionRepo) Create(ctx context.Context, s *session.Session) error {
	query := r.db.Rebind(`INSERT INTO user_sessions (id, user_id, ip, user_agent, expires_at, is_active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query, s.ID, s.UserID, s.IP, s.UserAgent, s.ExpiresAt.UTC(), s.IsActive, s.CreatedAt.UTC())
	return err
}

func (r *SessionRepo) Get(ctx context.Context, id string) (*session.Session, error) {
	query := r.db.Rebind(`SELECT id, user_id, ip, user_agent, expires_at, is_active, created_at
		FROM user_sessions WHERE id = ?`)
	var s session.Session
	if err := sqlx.GetContext(ctx, r.db, &s, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return &s, nil
}

// ListActive returns the user's active sessions, newest first.
func (r *SessionRepo) ListActive(ctx context.Context, userID string) ([]session.Session, error) {
	query := r.db.Rebind(`SELECT id, user_id, ip, user_agent, expires_at, is_active, created_at
		FROM user_sessions WHERE user_id = ? AND is_active = ? ORDER BY created_at DESC`)
	var out []session.Session
	if err := sqlx.SelectContext(ctx, r.db, &out, query, userID, true); err != nil {
		return nil, err
	}
	return out, nil
}

// DeactivateAllForUser returns the number of sessions switched off.
func (r *SessionRepo) DeactivateAllForUser(ctx context.Context, userID string) (int64, error) {
	query := r.db.Rebind(`UPDATE user_sessions SET is_active = ? WHERE user_id = ? AND is_active = ?`)
	res, err := r.db.ExecContext(ctx, query, false, userID, true)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// SweepExpired deactivates active sessions whose expiry is not after now.
func (r *SessionRepo) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	query := r.db.Rebind(`UPDATE user_sessions SET is_active = ? WHERE is_active = ? AND expires_at <= ?`)
	res, err := r.db.ExecContext(ctx, query, false, true, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
