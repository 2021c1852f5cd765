package router

import (
	"context"
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity/internal/user"
)

// Options carries the HTTP knobs from the service configuration.
type Options struct {
	CORSOrigins        []string
	LoginRatePerMinute int
	// TrustProxyHeaders takes the client address from X-Forwarded-For,
	// X-Real-IP or True-Client-IP. Only enable it behind a proxy that
	// overwrites those headers.
	TrustProxyHeaders bool
}

// loggingResponseWriter wraps http.ResponseWriter to capture status and size.
type loggingResponseWriter struct {
	http.ResponseWriter
	status int
	size   int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.status = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Write(b []byte) (int, error) {
	if lrw.status == 0 {
		lrw.status = http.StatusOK
	}
	n, err := lrw.ResponseWriter.Write(b)
	lrw.size += n
	return n, err
}

type ctxKey struct{}

// RequestID assigns a UUID v7 to each request unless the client sent X-Request-ID.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.Must(uuid.NewV7()).String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

// GetRequestID returns the id set by RequestID, or "".
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// LoggingMiddleware returns a middleware that logs requests at debug level using the provided sugared logger.
func LoggingMiddleware(logger *zap.SugaredLogger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			lrw := &loggingResponseWriter{ResponseWriter: w}
			next.ServeHTTP(lrw, r)
			status := lrw.status
			if status == 0 {
				status = http.StatusOK
			}
			logger.Debugw("http request",
				"request_id", GetRequestID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
				"remote", r.RemoteAddr,
				"status", status,
				"duration_ms", float64(time.Since(start).Microseconds())/1000.0,
				"size", lrw.size,
			)
		})
	}
}

// SecurityHeadersMiddleware returns a middleware that sets common HTTP security headers.
func SecurityHeadersMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Cache-Control", "no-store")
			if w.Header().Get("Content-Security-Policy") == "" {
				w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
			}
			if r.TLS != nil {
				w.Header().Set("Strict-Transport-Security", "max-age=2592000; includeSubDomains")
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RegisterRoutes mounts the identity endpoints on an http.ServeMux.
func RegisterRoutes(logger *zap.SugaredLogger, h *user.Handler, opts Options) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// credential endpoints are rate limited per client IP, taken from
	// RemoteAddr (rewritten by RealIP only for trusted proxies)
	rate := opts.LoginRatePerMinute
	if rate <= 0 {
		rate = 20
	}
	limited := httprate.LimitByIP(rate, time.Minute)
	mux.Handle("POST /api/auth/register", limited(http.HandlerFunc(h.Register)))
	mux.Handle("POST /api/auth/login", limited(http.HandlerFunc(h.Login)))
	mux.HandleFunc("POST /api/auth/logout", h.Logout)

	authed := func(f http.HandlerFunc) http.Handler { return h.Authenticate(f) }
	mux.Handle("GET /api/auth/me", authed(h.Me))
	mux.Handle("GET /api/auth/permissions", authed(h.Permission))

	manage := h.RequirePermission("users", "manage")
	mux.Handle("POST /api/admin/users/{id}/unlock", h.Authenticate(manage(http.HandlerFunc(h.Unlock))))
	mux.Handle("DELETE /api/admin/admins/{id}", h.Authenticate(manage(http.HandlerFunc(h.DeactivateAdmin))))
	mux.Handle("GET /api/admin/quota", h.Authenticate(h.RequirePermission("admin", "access")(http.HandlerFunc(h.Quota))))

	var handler http.Handler = mux
	handler = SecurityHeadersMiddleware()(handler)
	if len(opts.CORSOrigins) > 0 {
		handler = cors.Handler(cors.Options{
			AllowedOrigins:   opts.CORSOrigins,
			AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		})(handler)
	}
	handler = LoggingMiddleware(logger)(handler)
	handler = chimw.Recoverer(handler)
	if opts.TrustProxyHeaders {
		handler = chimw.RealIP(handler)
	}
	return RequestID(handler)
}
