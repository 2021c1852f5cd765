// Package notify hands user notifications to the outer delivery service.
// Sending is best-effort: callers log failures and carry on.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity/internal/notify/entity"
	notifyrepo "github.com/ovaphlow/pitchfork/service-identity/internal/notify/repo"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/utilities"
)

type Notifier interface {
	Notify(ctx context.Context, n entity.Notification) error
}

func prepare(n *entity.Notification) {
	if n.ID == "" {
		n.ID = utilities.NewKSUID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
}

// OutboxNotifier persists notifications to the notifications table.
type OutboxNotifier struct {
	repo *notifyrepo.OutboxRepo
}

func NewOutboxNotifier(db sqlx.ExtContext) *OutboxNotifier {
	return &OutboxNotifier{repo: notifyrepo.NewOutboxRepo(db)}
}

func (o *OutboxNotifier) Notify(ctx context.Context, n entity.Notification) error {
	prepare(&n)
	if err := o.repo.Insert(ctx, &n); err != nil {
		return fmt.Errorf("outbox insert: %w", err)
	}
	return nil
}

// RedisPublisher publishes notifications as JSON on a pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

// NewRedisPublisherFromURL parses a redis:// URL and pings the server.
func NewRedisPublisherFromURL(ctx context.Context, url, channel string) (*RedisPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedisPublisher(client, channel), nil
}

func (p *RedisPublisher) Notify(ctx context.Context, n entity.Notification) error {
	prepare(&n)
	body, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.channel, body).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

func (p *RedisPublisher) Close() error { return p.client.Close() }

// Multi sends to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, n entity.Notification) error {
	prepare(&n)
	var errs []error
	for _, nt := range m {
		if err := nt.Notify(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier only logs. Used when no delivery channel is configured.
type LogNotifier struct {
	Logger *zap.SugaredLogger
}

func (l LogNotifier) Notify(_ context.Context, n entity.Notification) error {
	if l.Logger != nil {
		l.Logger.Infow("notification", "user_id", n.UserID, "kind", n.Kind)
	}
	return nil
}

// Relay publishes pending outbox rows through pub and marks them delivered.
// It stops at the first publish failure so ordering is kept.
func Relay(ctx context.Context, db sqlx.ExtContext, pub Notifier, limit int) (int, error) {
	repo := notifyrepo.NewOutboxRepo(db)
	pending, err := repo.ListPending(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending notifications: %w", err)
	}
	sent := 0
	for _, n := range pending {
		if err := pub.Notify(ctx, n); err != nil {
			return sent, err
		}
		if err := repo.MarkDelivered(ctx, n.ID, time.Now()); err != nil {
			return sent, fmt.Errorf("mark notification delivered: %w", err)
		}
		sent++
	}
	return sent, nil
}
