// Package app assembles the identity service from its configuration. Both
// the HTTP server and the operator CLI start from here.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity/internal/admin"
	"github.com/ovaphlow/pitchfork/service-identity/internal/config"
	"github.com/ovaphlow/pitchfork/service-identity/internal/notify"
	"github.com/ovaphlow/pitchfork/service-identity/internal/session"
	"github.com/ovaphlow/pitchfork/service-identity/internal/user"
)

// RelayBatch is the number of outbox rows published per maintenance pass.
const RelayBatch = 100

// App is a wired UserService plus the resources that must be closed with it.
type App struct {
	Service   *user.UserService
	Tokens    *session.TokenIssuer
	Publisher *notify.RedisPublisher

	db     *sqlx.DB
	logger *zap.SugaredLogger
}

// New builds the service. Notifications are written to the outbox table;
// when REDIS_URL is set, Maintain relays them to the configured channel.
func New(ctx context.Context, cfg config.Config, db *sqlx.DB, logger *zap.SugaredLogger) (*App, error) {
	tokens, err := session.NewTokenIssuer(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		return nil, err
	}
	hasher, err := user.NewHasher(cfg.PasswordHasher, cfg.BcryptCost)
	if err != nil {
		return nil, err
	}

	a := &App{Tokens: tokens, db: db, logger: logger}
	if cfg.RedisURL != "" {
		a.Publisher, err = notify.NewRedisPublisherFromURL(ctx, cfg.RedisURL, cfg.NotifyChannel)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
	}

	a.Service = user.NewUserService(db, tokens, user.Options{
		Hasher:   hasher,
		Elevator: admin.NewElevator(cfg.AdminMaxQuota),
		Notifier: notify.Multi{notify.NewOutboxNotifier(db), notify.LogNotifier{Logger: logger}},
		Logger:   logger,
	})
	return a, nil
}

// MaintenanceResult reports one Maintain pass.
type MaintenanceResult struct {
	user.SweepResult
	Relayed int
}

// Maintain sweeps expired sessions and lock flags, then relays pending
// notifications when a publisher is configured.
func (a *App) Maintain(ctx context.Context) (MaintenanceResult, error) {
	var out MaintenanceResult
	var err error
	if out.SweepResult, err = a.Service.Sweep(ctx); err != nil {
		return out, err
	}
	if a.Publisher == nil {
		return out, nil
	}
	out.Relayed, err = notify.Relay(ctx, a.db, a.Publisher, RelayBatch)
	return out, err
}

// RunMaintenance calls Maintain every interval until ctx is done.
func (a *App) RunMaintenance(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			res, err := a.Maintain(ctx)
			if err != nil {
				a.logger.Warnw("maintenance failed", "err", err)
				continue
			}
			if res.Sessions > 0 || res.Locks > 0 || res.Relayed > 0 {
				a.logger.Infow("maintenance", "sessions", res.Sessions, "locks", res.Locks, "relayed", res.Relayed)
			}
		}
	}
}

// Close releases the redis connection, if any.
func (a *App) Close() error {
	if a.Publisher != nil {
		return a.Publisher.Close()
	}
	return nil
}
