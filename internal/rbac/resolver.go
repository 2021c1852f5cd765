// Package rbac resolves a user's effective permissions from role assignments.
package rbac

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-identity/internal/rbac/entity"
	rolerepo "github.com/ovaphlow/pitchfork/service-identity/internal/rbac/repo"
)

// Resolution is the union of a user's effective roles and permissions.
type Resolution struct {
	Roles       []string
	Permissions []string
	set         map[string]struct{}
}

// Has reports an exact "resource:action" match.
func (r Resolution) Has(resource, action string) bool {
	_, ok := r.set[resource+":"+action]
	return ok
}

// Effective unions every true permission of the assignments effective at now.
// Any role granting a permission wins over another denying it.
func Effective(assigned []entity.AssignedRole, now time.Time) Resolution {
	roles := map[string]struct{}{}
	perms := map[string]struct{}{}
	for _, a := range assigned {
		if !a.Effective(now) {
			continue
		}
		roles[a.Role.Name] = struct{}{}
		for name, granted := range a.Role.Permissions {
			if granted {
				perms[name] = struct{}{}
			}
		}
	}
	return Resolution{Roles: sortedKeys(roles), Permissions: sortedKeys(perms), set: perms}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Resolver loads assignments and computes resolutions.
type Resolver struct {
	repo *rolerepo.RoleRepo
	now  func() time.Time
}

func NewResolver(db sqlx.ExtContext) *Resolver {
	return &Resolver{repo: rolerepo.NewRoleRepo(db), now: time.Now}
}

// SetClock overrides the time used to evaluate expiry.
func (r *Resolver) SetClock(now func() time.Time) { r.now = now }

// Resolve reads the user's assignments fresh from storage.
func (r *Resolver) Resolve(ctx context.Context, userID string) (Resolution, error) {
	assigned, err := r.repo.ListActive(ctx, userID)
	if err != nil {
		return Resolution{}, fmt.Errorf("list role assignments: %w", err)
	}
	return Effective(assigned, r.now()), nil
}

// HasPermission resolves and checks a single permission.
func (r *Resolver) HasPermission(ctx context.Context, userID, resource, action string) (bool, error) {
	res, err := r.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return res.Has(resource, action), nil
}
