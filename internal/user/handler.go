package user

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity/internal/user/entity"
)

// CookieName carries the token for browser clients.
const CookieName = "auth_token"

// Handler exposes HTTP endpoints for the identity operations.
type Handler struct {
	svc          *UserService
	logger       *zap.SugaredLogger
	secureCookie bool
}

func NewHandler(svc *UserService, logger *zap.SugaredLogger, secureCookie bool) *Handler {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{svc: svc, logger: logger, secureCookie: secureCookie}
}

// RegisterRequest request body for register endpoint.
type RegisterRequest struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	University string `json:"university"`
	Phone      string `json:"phone"`
}

// AuthResponse is returned by register and login.
type AuthResponse struct {
	User              entity.Identity `json:"user"`
	Token             string          `json:"token"`
	RedirectTo        string          `json:"redirect_to,omitempty"`
	AdminQuotaReached bool            `json:"admin_quota_reached,omitempty"`
}

func clientInfo(r *http.Request) ClientInfo {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}
	return ClientInfo{IP: ip, UserAgent: r.UserAgent()}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid register payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	res, err := h.svc.Register(r.Context(), RegisterInput{
		Email:      req.Email,
		Password:   req.Password,
		FirstName:  req.FirstName,
		LastName:   req.LastName,
		University: req.University,
		Phone:      req.Phone,
	}, clientInfo(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.setCookie(w, res.Token)
	h.writeJSON(w, http.StatusCreated, AuthResponse{
		User:              res.Identity,
		Token:             res.Token,
		RedirectTo:        res.Identity.RedirectTo,
		AdminQuotaReached: res.Identity.AdminQuotaReached,
	})
}

// LoginRequest login payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Debugw("invalid login payload", "err", err)
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid payload"})
		return
	}
	res, err := h.svc.Login(r.Context(), req.Email, req.Password, clientInfo(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.setCookie(w, res.Token)
	h.writeJSON(w, http.StatusOK, AuthResponse{User: res.Identity, Token: res.Token, RedirectTo: res.Identity.RedirectTo})
}

// Logout always succeeds and clears the cookie.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if token := tokenFromRequest(r); token != "" {
		h.svc.Logout(r.Context(), token)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	w.WriteHeader(http.StatusNoContent)
}

// Me returns the identity resolved by Authenticate.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		h.writeError(w, ErrInvalidToken)
		return
	}
	h.writeJSON(w, http.StatusOK, id)
}

// Permission answers whether the caller holds resource:action.
func (h *Handler) Permission(w http.ResponseWriter, r *http.Request) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		h.writeError(w, ErrInvalidToken)
		return
	}
	resource, action := r.URL.Query().Get("resource"), r.URL.Query().Get("action")
	if resource == "" || action == "" {
		h.writeError(w, &ValidationError{Field: "resource,action", Reason: "required"})
		return
	}
	allowed, err := h.svc.HasPermission(r.Context(), id.UserID, resource, action)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"resource": resource, "action": action, "allowed": allowed})
}

func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	actor, _ := IdentityFromContext(r.Context())
	if err := h.svc.UnlockAccount(r.Context(), r.PathValue("id"), actor.UserID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeactivateAdmin(w http.ResponseWriter, r *http.Request) {
	actor, _ := IdentityFromContext(r.Context())
	if err := h.svc.DeactivateAdmin(r.Context(), r.PathValue("id"), actor.UserID); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Quota(w http.ResponseWriter, r *http.Request) {
	q, err := h.svc.QuotaStatus(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, q)
}

func (h *Handler) setCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.svc.tokens.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// writeError maps service errors to stable responses. Internal details stay in the logs.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var locked *LockedError
	var invalid *ValidationError
	switch {
	case errors.As(err, &locked):
		retry := locked.RetryAfter(h.svc.now())
		w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())))
		h.writeJSON(w, http.StatusLocked, map[string]any{
			"error":        "account locked",
			"locked_until": locked.Until.UTC(),
			"retry_after":  int(retry.Seconds()),
		})
	case errors.As(err, &invalid):
		h.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request", "field": invalid.Field, "reason": invalid.Reason})
	case errors.Is(err, ErrEmailTaken):
		h.writeJSON(w, http.StatusConflict, map[string]string{"error": "email already registered"})
	case errors.Is(err, ErrBadCredentials):
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid credentials"})
	case errors.Is(err, ErrInvalidToken):
		h.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "invalid token"})
	case errors.Is(err, ErrForbidden):
		h.writeJSON(w, http.StatusForbidden, map[string]string{"error": "forbidden"})
	case errors.Is(err, ErrNotFound):
		h.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		h.logger.Errorw("request failed", "err", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
