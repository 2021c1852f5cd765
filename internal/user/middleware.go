package user

import (
	"context"
	"net/http"
	"strings"

	"github.com/ovaphlow/pitchfork/service-identity/internal/user/entity"
)

type ctxKey struct{}

// IdentityFromContext returns the identity stored by Authenticate.
func IdentityFromContext(ctx context.Context) (entity.Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(entity.Identity)
	return id, ok
}

func withIdentity(ctx context.Context, id entity.Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// tokenFromRequest prefers the Authorization header over the cookie.
func tokenFromRequest(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if len(auth) > 7 && strings.EqualFold(auth[:7], "bearer ") {
			return strings.TrimSpace(auth[7:])
		}
		return ""
	}
	if c, err := r.Cookie(CookieName); err == nil {
		return c.Value
	}
	return ""
}

// Authenticate rejects requests without a valid token and stores the
// verified identity in the request context.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := h.svc.VerifyToken(r.Context(), tokenFromRequest(r))
		if err != nil {
			h.writeError(w, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), *id)))
	})
}

// RequirePermission must run after Authenticate.
func (h *Handler) RequirePermission(resource, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := IdentityFromContext(r.Context())
			if !ok {
				h.writeError(w, ErrInvalidToken)
				return
			}
			if err := h.svc.Authorize(r.Context(), id.UserID, resource, action); err != nil {
				h.writeError(w, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
