package router

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/ovaphlow/pitchfork/service-identity/internal/session"
	"github.com/ovaphlow/pitchfork/service-identity/internal/user"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/database/dbtest"
)

func newTestRouter(t *testing.T, opts Options) http.Handler {
	t.Helper()
	h, _ := newTestRouterDB(t, opts)
	return h
}

func newTestRouterDB(t *testing.T, opts Options) (http.Handler, *sqlx.DB) {
	t.Helper()
	db := dbtest.New(t)
	tokens, err := session.NewTokenIssuer("router-test-secret-0123456789abcdefgh", 0)
	require.NoError(t, err)
	svc := user.NewUserService(db, tokens, user.Options{Hasher: user.BcryptHasher{Cost: bcrypt.MinCost}})
	logger := zap.NewNop().Sugar()
	return RegisterRoutes(logger, user.NewHandler(svc, logger, false), opts), db
}

func loginFrom(h http.Handler, remote, forwarded string) int {
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"a@b.edu","password":"nope"}`))
	req.RemoteAddr = remote
	if forwarded != "" {
		req.Header.Set("X-Forwarded-For", forwarded)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestHealthAndHeaders(t *testing.T) {
	h := newTestRouter(t, Options{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := newTestRouter(t, Options{})
	for _, c := range []struct{ method, path string }{
		{http.MethodGet, "/api/auth/me"},
		{http.MethodGet, "/api/auth/permissions?resource=a&action=b"},
		{http.MethodPost, "/api/admin/users/1/unlock"},
		{http.MethodDelete, "/api/admin/admins/1"},
		{http.MethodGet, "/api/admin/quota"},
	} {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(c.method, c.path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, c.path)
	}
}

func TestLoginIsRateLimited(t *testing.T) {
	h := newTestRouter(t, Options{LoginRatePerMinute: 3})
	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/login", strings.NewReader(`{"email":"a@b.edu","password":"nope"}`))
		req.RemoteAddr = "192.0.2.10:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{401, 401, 401, http.StatusTooManyRequests}, codes)

	// logout is not limited
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/auth/logout", nil)
		req.RemoteAddr = "192.0.2.10:5000"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestLoginLimitIgnoresForwardedHeaders(t *testing.T) {
	h, db := newTestRouterDB(t, Options{LoginRatePerMinute: 3})
	codes := make([]int, 0, 6)
	for i := 0; i < 6; i++ {
		codes = append(codes, loginFrom(h, "192.0.2.10:5000", fmt.Sprintf("203.0.113.%d", i)))
	}
	assert.Equal(t, []int{401, 401, 401, 429, 429, 429}, codes)

	// the ledger records the socket address, not the claimed one
	assert.Equal(t, 3, dbtest.Count(t, db, "login_attempts", "ip = ?", "192.0.2.10"))
	assert.Zero(t, dbtest.Count(t, db, "login_attempts", "ip LIKE ?", "203.0.113.%"))
}

func TestLoginLimitBehindTrustedProxy(t *testing.T) {
	h, db := newTestRouterDB(t, Options{LoginRatePerMinute: 3, TrustProxyHeaders: true})

	// one proxy socket, distinct clients
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusUnauthorized, loginFrom(h, "10.0.0.2:443", fmt.Sprintf("203.0.113.%d", i)))
	}
	assert.Equal(t, 1, dbtest.Count(t, db, "login_attempts", "ip = ?", "203.0.113.4"))

	// the same client is still limited
	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		codes = append(codes, loginFrom(h, "10.0.0.2:443", "198.51.100.7"))
	}
	assert.Equal(t, []int{401, 401, 401, 429}, codes)
}

func TestCORSPreflight(t *testing.T) {
	h := newTestRouter(t, Options{CORSOrigins: []string{"https://market.example"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "https://market.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "https://market.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))

	req = httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
