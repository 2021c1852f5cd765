package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-identity/internal/audit/entity"
)

// AuditRepo appends to security_audit_logs. It never updates or deletes.
type AuditRepo struct {
	db sqlx.ExtContext
}

func NewAuditRepo(db sqlx.ExtContext) *AuditRepo { return &AuditRepo{db: db} }

type eventRow struct {
	ID           string    `db:"id"`
	UserID       *string   `db:"user_id"`
	Action       string    `db:"action"`
	ResourceType string    `db:"resource_type"`
	ResourceID   string    `db:"resource_id"`
	RiskLevel    string    `db:"risk_level"`
	Details      *string   `db:"details"`
	CreatedAt    time.Time `db:"created_at"`
}

// Insert appends one event. ID and CreatedAt must be set by the caller.
func (r *AuditRepo) Insert(ctx context.Context, ev *entity.Event) error {
	var details *string
	if len(ev.Details) > 0 {
		b, err := json.Marshal(ev.Details)
		if err != nil {
			return fmt.Errorf("marshal audit details: %w", err)
		}
		s := string(b)
		details = &s
	}
	q := r.db.Rebind(`INSERT INTO security_audit_logs (id, user_id, action, resource_type, resource_id, risk_level, details, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, q, ev.ID, ev.UserID, string(ev.Action), ev.ResourceType, ev.ResourceID,
		string(ev.RiskLevel), details, ev.CreatedAt.UTC())
	return err
}

// ListByUser returns the newest events for a user first.
func (r *AuditRepo) ListByUser(ctx context.Context, userID string, limit int) ([]entity.Event, error) {
	q := r.db.Rebind(`SELECT id, user_id, action, resource_type, resource_id, risk_level, details, created_at
		FROM security_audit_logs WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`)
	var rows []eventRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, q, userID, limit); err != nil {
		return nil, err
	}
	out := make([]entity.Event, 0, len(rows))
	for _, row := range rows {
		ev := entity.Event{
			ID:           row.ID,
			UserID:       row.UserID,
			Action:       entity.Action(row.Action),
			ResourceType: row.ResourceType,
			ResourceID:   row.ResourceID,
			RiskLevel:    entity.RiskLevel(row.RiskLevel),
			CreatedAt:    row.CreatedAt,
		}
		if row.Details != nil && *row.Details != "" {
			if err := json.Unmarshal([]byte(*row.Details), &ev.Details); err != nil {
				return nil, fmt.Errorf("decode audit details %s: %w", row.ID, err)
			}
		}
		out = append(out, ev)
	}
	return out, nil
}
