// Package audit writes the login-attempt ledger and the security audit log.
//
// Ledger writes run on their own and never fail the caller. Audit events that
// describe a state change are written inside that change's transaction, behind
// a savepoint, so they commit or roll back with it while an insert failure
// still leaves the surrounding transaction usable.
package audit

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity/internal/audit/entity"
	auditrepo "github.com/ovaphlow/pitchfork/service-identity/internal/audit/repo"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/utilities"
)

// Ledger is the best-effort login-attempt sink.
type Ledger struct {
	repo   *auditrepo.LoginAttemptRepo
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewLedger(db sqlx.ExtContext, logger *zap.SugaredLogger) *Ledger {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Ledger{repo: auditrepo.NewLoginAttemptRepo(db), logger: logger, now: time.Now}
}

// RecordAttempt appends an attempt row. Failures are logged, never returned.
func (l *Ledger) RecordAttempt(ctx context.Context, email, ip, userAgent string, success bool, reason string) {
	a := &entity.LoginAttempt{
		ID:        utilities.NewKSUID(),
		Email:     email,
		IP:        ip,
		UserAgent: userAgent,
		Success:   success,
		CreatedAt: l.now().UTC(),
	}
	if reason != "" {
		a.FailureReason = &reason
	}
	if err := l.repo.Insert(ctx, a); err != nil {
		l.logger.Warnw("login attempt ledger write failed", "email", email, "success", success, "err", err)
	}
}

// SetClock overrides the timestamp source.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// Attempts lists ledger rows for an email.
func (l *Ledger) Attempts(ctx context.Context, email string) ([]entity.LoginAttempt, error) {
	return l.repo.ListByEmail(ctx, email)
}

// Recorder writes security audit events.
type Recorder struct {
	db     sqlx.ExtContext
	logger *zap.SugaredLogger
	now    func() time.Time
}

func NewRecorder(db sqlx.ExtContext, logger *zap.SugaredLogger) *Recorder {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Recorder{db: db, logger: logger, now: time.Now}
}

// SetClock overrides the timestamp source.
func (r *Recorder) SetClock(now func() time.Time) { r.now = now }

func (r *Recorder) prepare(ev *entity.Event) {
	if ev.ID == "" {
		ev.ID = utilities.NewKSUID()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = r.now().UTC()
	}
	if ev.RiskLevel == "" {
		ev.RiskLevel = entity.RiskLow
	}
}

// RecordTx writes ev inside tx behind a savepoint. A failed insert is rolled
// back to the savepoint and logged; tx stays usable.
func (r *Recorder) RecordTx(ctx context.Context, tx *sqlx.Tx, ev entity.Event) {
	r.prepare(&ev)
	if _, err := tx.ExecContext(ctx, "SAVEPOINT audit_event"); err != nil {
		r.logger.Warnw("audit savepoint failed", "action", ev.Action, "err", err)
		return
	}
	if err := auditrepo.NewAuditRepo(tx).Insert(ctx, &ev); err != nil {
		r.logger.Warnw("audit write failed", "action", ev.Action, "user_id", deref(ev.UserID), "err", err)
		if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT audit_event"); rbErr != nil {
			r.logger.Errorw("audit savepoint rollback failed", "action", ev.Action, "err", rbErr)
		}
		return
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT audit_event"); err != nil {
		r.logger.Warnw("audit savepoint release failed", "action", ev.Action, "err", err)
	}
}

// Record writes ev outside any transaction, for outcomes that change no state.
func (r *Recorder) Record(ctx context.Context, ev entity.Event) {
	r.prepare(&ev)
	if err := auditrepo.NewAuditRepo(r.db).Insert(ctx, &ev); err != nil {
		r.logger.Warnw("audit write failed", "action", ev.Action, "user_id", deref(ev.UserID), "err", err)
	}
}

// Events lists the newest audit events for a user.
func (r *Recorder) Events(ctx context.Context, userID string, limit int) ([]entity.Event, error) {
	return auditrepo.NewAuditRepo(r.db).ListByUser(ctx, userID, limit)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
