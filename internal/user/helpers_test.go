package user

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-identity/internal/admin"
	notifyentity "github.com/ovaphlow/pitchfork/service-identity/internal/notify/entity"
	"github.com/ovaphlow/pitchfork/service-identity/internal/session"
	"github.com/ovaphlow/pitchfork/service-identity/internal/user/entity"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/database/dbtest"
)

const testSecret = "test-secret-0123456789abcdefghijklmnop"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type notifications struct {
	mu  sync.Mutex
	got []notifyentity.Notification
}

func (n *notifications) Notify(_ context.Context, note notifyentity.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, note)
	return nil
}

func (n *notifications) kinds(userID string) []notifyentity.Kind {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notifyentity.Kind
	for _, note := range n.got {
		if note.UserID == userID {
			out = append(out, note.Kind)
		}
	}
	return out
}

type fixture struct {
	svc   *UserService
	db    *sqlx.DB
	clock *testClock
	notes *notifications
	logs  *observer.ObservedLogs
}

func newFixture(t *testing.T, maxQuota int) *fixture {
	t.Helper()
	return newFixtureOn(t, dbtest.New(t), maxQuota)
}

func newFixtureOn(t *testing.T, db *sqlx.DB, maxQuota int) *fixture {
	t.Helper()
	tokens, err := session.NewTokenIssuer(testSecret, 0)
	require.NoError(t, err)
	core, logs := observer.New(zap.DebugLevel)
	notes := &notifications{}
	svc := NewUserService(db, tokens, Options{
		Hasher:   BcryptHasher{Cost: bcrypt.MinCost},
		Elevator: admin.NewElevator(maxQuota),
		Notifier: notes,
		Logger:   zap.New(core).Sugar(),
	})
	clock := &testClock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	svc.SetClock(clock.Now)
	return &fixture{svc: svc, db: db, clock: clock, notes: notes, logs: logs}
}

func (f *fixture) register(t *testing.T, email string) *entity.AuthResult {
	t.Helper()
	res, err := f.svc.Register(context.Background(), RegisterInput{
		Email:     email,
		Password:  "correct horse",
		FirstName: "Ada",
		LastName:  "Lovelace",
	}, ClientInfo{IP: "10.0.0.1", UserAgent: "test"})
	require.NoError(t, err)
	return res
}

func (f *fixture) count(t *testing.T, table, where string, args ...any) int {
	t.Helper()
	return dbtest.Count(t, f.db, table, where, args...)
}
