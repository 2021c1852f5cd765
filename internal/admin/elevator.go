// Package admin implements quota-gated elevation of institution-format
// registrants to administrators.
package admin

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-identity/internal/admin/entity"
	adminrepo "github.com/ovaphlow/pitchfork/service-identity/internal/admin/repo"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/database"
)

// EmailSuffix follows the nine-digit student number in admin-issued addresses.
const EmailSuffix = "ads@institution.suffix"

// DefaultMaxQuota is the number of administrators elevation may create.
const DefaultMaxQuota = 14

var studentEmail = regexp.MustCompile(`(?i)^(\d{9})` + regexp.QuoteMeta(EmailSuffix) + `$`)

// MatchStudentNumber extracts the student number from an admin-format email.
func MatchStudentNumber(email string) (string, bool) {
	m := studentEmail.FindStringSubmatch(strings.TrimSpace(email))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Outcome describes what elevation did for one registration.
type Outcome struct {
	// Elevated is set when an Admin row was created.
	Elevated bool
	// QuotaReached is set when the email matched but no slot was left.
	QuotaReached bool
	Admin        *entity.Admin
}

// Elevator grants administrator status within a registration transaction.
type Elevator struct {
	max int
}

func NewElevator(maxQuota int) *Elevator {
	if maxQuota < 0 {
		maxQuota = 0
	}
	return &Elevator{max: maxQuota}
}

// Max returns the configured quota.
func (e *Elevator) Max() int { return e.max }

// Elevate reserves a quota slot and creates the Admin row for userID when
// email matches the institutional format. It must run inside the transaction
// that creates the user, so a rollback also returns the slot.
func (e *Elevator) Elevate(ctx context.Context, tx *sqlx.Tx, userID, email string, now time.Time) (Outcome, error) {
	number, ok := MatchStudentNumber(email)
	if !ok {
		return Outcome{}, nil
	}
	repo := adminrepo.NewAdminRepo(tx)
	reserved, err := repo.TryReserve(ctx, e.max)
	if err != nil {
		return Outcome{}, fmt.Errorf("reserve admin slot: %w", err)
	}
	if !reserved {
		return Outcome{QuotaReached: true}, nil
	}
	a := &entity.Admin{
		UserID:        userID,
		StudentNumber: number,
		Permissions:   []string{entity.FullAccess},
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := repo.Insert(ctx, a); err != nil {
		return Outcome{}, fmt.Errorf("create admin: %w", err)
	}
	return Outcome{Elevated: true, Admin: a}, nil
}

// Demote deactivates userID's Admin row and returns its slot. It reports
// false when the user was not an active administrator.
func (e *Elevator) Demote(ctx context.Context, tx *sqlx.Tx, userID string, now time.Time) (bool, error) {
	repo := adminrepo.NewAdminRepo(tx)
	changed, err := repo.Deactivate(ctx, userID, now)
	if err != nil {
		return false, fmt.Errorf("deactivate admin: %w", err)
	}
	if !changed {
		return false, nil
	}
	if err := repo.Release(ctx); err != nil {
		return false, fmt.Errorf("release admin slot: %w", err)
	}
	return true, nil
}

// Status reads the current counter.
func (e *Elevator) Status(ctx context.Context, db sqlx.ExtContext) (entity.Quota, error) {
	n, err := adminrepo.NewAdminRepo(db).ActiveCount(ctx)
	if err != nil {
		return entity.Quota{}, err
	}
	return entity.Quota{Active: n, Max: e.max}, nil
}

// Reconcile recounts active Admin rows into the counter while holding the
// counter row, so an elevation committing concurrently is either counted or
// waits for the new value.
func (e *Elevator) Reconcile(ctx context.Context, db *sqlx.DB) (entity.Quota, error) {
	var n int
	err := database.WithTx(ctx, db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		repo := adminrepo.NewAdminRepo(tx)
		if err := repo.LockQuota(ctx); err != nil {
			return fmt.Errorf("lock admin quota: %w", err)
		}
		var err error
		n, err = repo.Reconcile(ctx)
		return err
	})
	if err != nil {
		return entity.Quota{}, fmt.Errorf("reconcile admin quota: %w", err)
	}
	return entity.Quota{Active: n, Max: e.max}, nil
}
