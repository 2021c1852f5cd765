package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-identity/internal/notify/entity"
)

// OutboxRepo stores notifications until a relay hands them on.
type OutboxRepo struct {
	db sqlx.ExtContext
}

func NewOutboxRepo(db sqlx.ExtContext) *OutboxRepo {
	return &OutboxRepo{db: db}
}

type outboxRow struct {
	ID          string     `db:"id"`
	UserID      string     `db:"user_id"`
	Kind        string     `db:"kind"`
	Payload     string     `db:"payload"`
	CreatedAt   time.Time  `db:"created_at"`
	DeliveredAt *time.Time `db:"delivered_at"`
}

func (r *OutboxRepo) Insert(ctx context.Context, n *entity.Notification) error {
	payload := []byte("{}")
	if len(n.Payload) > 0 {
		b, err := json.Marshal(n.Payload)
		if err != nil {
			return err
		}
		payload = b
	}
	query := r.db.Rebind(`INSERT INTO notifications (id, user_id, kind, payload, created_at) VALUES (?, ?, ?, ?, ?)`)
	_, err := r.db.ExecContext(ctx, query, n.ID, n.UserID, string(n.Kind), string(payload), n.CreatedAt.UTC())
	return err
}

// ListPending returns undelivered notifications, oldest first.
func (r *OutboxRepo) ListPending(ctx context.Context, limit int) ([]entity.Notification, error) {
	if limit <= 0 {
		limit = 100
	}
	query := r.db.Rebind(`SELECT id, user_id, kind, payload, created_at, delivered_at
		FROM notifications WHERE delivered_at IS NULL ORDER BY created_at ASC LIMIT ?`)
	var rows []outboxRow
	if err := sqlx.SelectContext(ctx, r.db, &rows, query, limit); err != nil {
		return nil, err
	}
	out := make([]entity.Notification, 0, len(rows))
	for _, row := range rows {
		n := entity.Notification{
			ID:          row.ID,
			UserID:      row.UserID,
			Kind:        entity.Kind(row.Kind),
			CreatedAt:   row.CreatedAt,
			DeliveredAt: row.DeliveredAt,
		}
		if row.Payload != "" {
			if err := json.Unmarshal([]byte(row.Payload), &n.Payload); err != nil {
				return nil, fmt.Errorf("decode notification %s: %w", row.ID, err)
			}
		}
		out = append(out, n)
	}
	return out, nil
}

func (r *OutboxRepo) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	query := r.db.Rebind(`UPDATE notifications SET delivered_at = ? WHERE id = ? AND delivered_at IS NULL`)
	_, err := r.db.ExecContext(ctx, query, at.UTC(), id)
	return err
}
