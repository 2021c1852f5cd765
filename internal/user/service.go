package user

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-identity/internal/admin"
	adminentity "github.com/ovaphlow/pitchfork/service-identity/internal/admin/entity"
	adminrepo "github.com/ovaphlow/pitchfork/service-identity/internal/admin/repo"
	"github.com/ovaphlow/pitchfork/service-identity/internal/audit"
	auditentity "github.com/ovaphlow/pitchfork/service-identity/internal/audit/entity"
	"github.com/ovaphlow/pitchfork/service-identity/internal/notify"
	notifyentity "github.com/ovaphlow/pitchfork/service-identity/internal/notify/entity"
	"github.com/ovaphlow/pitchfork/service-identity/internal/rbac"
	rbacentity "github.com/ovaphlow/pitchfork/service-identity/internal/rbac/entity"
	rolerepo "github.com/ovaphlow/pitchfork/service-identity/internal/rbac/repo"
	"github.com/ovaphlow/pitchfork/service-identity/internal/session"
	sessionrepo "github.com/ovaphlow/pitchfork/service-identity/internal/session/repo"
	"github.com/ovaphlow/pitchfork/service-identity/internal/user/entity"
	userrepo "github.com/ovaphlow/pitchfork/service-identity/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/database"
	"github.com/ovaphlow/pitchfork/service-identity/pkg/utilities"
)

// AdminRedirect is the landing page hint returned to administrators.
const AdminRedirect = "/admin/dashboard"

const (
	minPasswordLen = 8
	maxPasswordLen = 72
	maxNameLen     = 100
)

// Options configures a UserService. Zero values select defaults.
type Options struct {
	Hasher   PasswordHasher
	Elevator *admin.Elevator
	Notifier notify.Notifier
	Logger   *zap.SugaredLogger
}

// UserService is the only entry point for registration, login, logout, token
// verification and permission checks.
type UserService struct {
	db       *sqlx.DB
	repo     *userrepo.UserRepo
	hasher   PasswordHasher
	lockout  Lockout
	tokens   *session.TokenIssuer
	sessions *sessionrepo.SessionRepo
	roles    *rolerepo.RoleRepo
	admins   *adminrepo.AdminRepo
	resolver *rbac.Resolver
	elevator *admin.Elevator
	ledger   *audit.Ledger
	audit    *audit.Recorder
	notifier notify.Notifier
	logger   *zap.SugaredLogger
	now      func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

func NewUserService(db *sqlx.DB, tokens *session.TokenIssuer, opts Options) *UserService {
	if opts.Hasher == nil {
		opts.Hasher = BcryptHasher{Cost: 12}
	}
	if opts.Elevator == nil {
		opts.Elevator = admin.NewElevator(admin.DefaultMaxQuota)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop().Sugar()
	}
	if opts.Notifier == nil {
		opts.Notifier = notify.LogNotifier{Logger: opts.Logger}
	}
	return &UserService{
		db:       db,
		repo:     userrepo.NewUserRepo(db),
		hasher:   opts.Hasher,
		lockout:  DefaultLockout(),
		tokens:   tokens,
		sessions: sessionrepo.NewSessionRepo(db),
		roles:    rolerepo.NewRoleRepo(db),
		admins:   adminrepo.NewAdminRepo(db),
		resolver: rbac.NewResolver(db),
		elevator: opts.Elevator,
		ledger:   audit.NewLedger(db, opts.Logger),
		audit:    audit.NewRecorder(db, opts.Logger),
		notifier: opts.Notifier,
		logger:   opts.Logger,
		now:      time.Now,
	}
}

// SetClock overrides the time source of the service and its collaborators.
func (s *UserService) SetClock(now func() time.Time) {
	s.now = now
	s.tokens.SetClock(now)
	s.resolver.SetClock(now)
	s.ledger.SetClock(now)
	s.audit.SetClock(now)
}

// ClientInfo describes where a request came from.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// RegisterInput carries the registration form.
type RegisterInput struct {
	Email      string
	Password   string
	FirstName  string
	LastName   string
	University string
	Phone      string
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func validateEmail(email string) error {
	if email == "" {
		return &ValidationError{Field: "email", Reason: "required"}
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return &ValidationError{Field: "email", Reason: "malformed"}
	}
	return nil
}

func (in *RegisterInput) validate() error {
	in.Email = normalizeEmail(in.Email)
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	if err := validateEmail(in.Email); err != nil {
		return err
	}
	if n := len(in.Password); n < minPasswordLen || n > maxPasswordLen {
		return &ValidationError{Field: "password", Reason: fmt.Sprintf("must be %d to %d bytes", minPasswordLen, maxPasswordLen)}
	}
	if in.FirstName == "" {
		return &ValidationError{Field: "first_name", Reason: "required"}
	}
	if in.LastName == "" {
		return &ValidationError{Field: "last_name", Reason: "required"}
	}
	if utf8.RuneCountInString(in.FirstName) > maxNameLen || utf8.RuneCountInString(in.LastName) > maxNameLen {
		return &ValidationError{Field: "name", Reason: "too long"}
	}
	return nil
}

// Register creates the user, its security record, its role assignment, an
// optional Admin row and a session in one transaction, then returns a token.
func (s *UserService) Register(ctx context.Context, in RegisterInput, client ClientInfo) (*entity.AuthResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	hash, algo, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, internal("hash password", err)
	}
	verification, err := utilities.RandomToken(32)
	if err != nil {
		return nil, internal("verification token", err)
	}

	now := s.now().UTC()
	u := &entity.User{
		ID:         utilities.NewSnowflakeID(),
		Email:      in.Email,
		FirstName:  in.FirstName,
		LastName:   in.LastName,
		University: optional(in.University),
		Phone:      optional(in.Phone),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	sec := &entity.AccountSecurity{
		UserID:            u.ID,
		PasswordHash:      hash,
		PasswordAlgo:      algo,
		VerificationToken: &verification,
		UpdatedAt:         now,
	}
	sessionID := utilities.NewKSUID()
	token, expiresAt, err := s.tokens.Issue(u.ID, u.Email, sessionID)
	if err != nil {
		return nil, internal("issue token", err)
	}

	var outcome admin.Outcome
	err = database.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		repo := s.repo.WithTx(tx)
		if err := repo.Create(ctx, u); err != nil {
			if database.IsUniqueViolation(err) {
				return ErrEmailTaken
			}
			return fmt.Errorf("create user: %w", err)
		}

		var err error
		outcome, err = s.elevator.Elevate(ctx, tx, u.ID, u.Email, now)
		if err != nil {
			return err
		}
		role := rbacentity.RoleStudent
		if outcome.Elevated {
			role = rbacentity.RoleAdmin
			u.Verified, u.AdminVerified = true, true
			sec.EmailVerified = true
			if err := repo.MarkAdminVerified(ctx, u.ID, now); err != nil {
				return fmt.Errorf("mark admin verified: %w", err)
			}
		}
		if err := repo.CreateSecurity(ctx, sec); err != nil {
			return fmt.Errorf("create account security: %w", err)
		}
		if err := s.assignRole(ctx, tx, u.ID, role, nil, now); err != nil {
			return err
		}
		if err := s.sessions.WithTx(tx).Create(ctx, &session.Session{
			ID:        sessionID,
			UserID:    u.ID,
			IP:        client.IP,
			UserAgent: client.UserAgent,
			ExpiresAt: expiresAt,
			IsActive:  true,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("create session: %w", err)
		}

		s.audit.RecordTx(ctx, tx, auditentity.Event{
			UserID:       &u.ID,
			Action:       auditentity.ActionUserRegistered,
			ResourceType: "user",
			ResourceID:   u.ID,
			RiskLevel:    auditentity.RiskLow,
			Details:      map[string]any{"role": string(role), "ip": client.IP},
		})
		switch {
		case outcome.Elevated:
			s.audit.RecordTx(ctx, tx, auditentity.Event{
				UserID:       &u.ID,
				Action:       auditentity.ActionAdminGranted,
				ResourceType: "admin",
				ResourceID:   outcome.Admin.ID,
				RiskLevel:    auditentity.RiskHigh,
				Details:      map[string]any{"student_number": outcome.Admin.StudentNumber},
			})
		case outcome.QuotaReached:
			s.audit.RecordTx(ctx, tx, auditentity.Event{
				UserID:       &u.ID,
				Action:       auditentity.ActionAdminQuotaReached,
				ResourceType: "admin",
				RiskLevel:    auditentity.RiskMedium,
				Details:      map[string]any{"max_quota": s.elevator.Max()},
			})
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, ErrEmailTaken
		}
		s.logger.Errorw("registration failed", "email", u.Email, "err", err)
		return nil, internal("register", err)
	}
	s.logger.Infow("user registered", "user_id", u.ID, "admin", outcome.Elevated, "quota_reached", outcome.QuotaReached)

	s.notifyRegistered(ctx, u, sec, outcome.Elevated)

	id, err := s.identity(ctx, u, sec)
	if err != nil {
		return nil, err
	}
	id.AdminQuotaReached = outcome.QuotaReached
	id.SessionID = sessionID
	id.ExpiresAt = expiresAt
	return &entity.AuthResult{Identity: *id, Token: token}, nil
}

func (s *UserService) notifyRegistered(ctx context.Context, u *entity.User, sec *entity.AccountSecurity, elevated bool) {
	send := func(kind notifyentity.Kind, payload map[string]any) {
		err := s.notifier.Notify(ctx, notifyentity.Notification{UserID: u.ID, Kind: kind, Payload: payload, CreatedAt: s.now().UTC()})
		if err != nil {
			s.logger.Warnw("notification failed", "user_id", u.ID, "kind", kind, "err", err)
		}
	}
	send(notifyentity.KindWelcome, map[string]any{"email": u.Email, "first_name": u.FirstName})
	if elevated {
		send(notifyentity.KindAdminGranted, map[string]any{"email": u.Email})
	}
	if !sec.EmailVerified && sec.VerificationToken != nil {
		send(notifyentity.KindVerificationReminder, map[string]any{"email": u.Email, "verification_token": *sec.VerificationToken})
	}
}

// assignRole lazily creates the role and activates the assignment inside tx.
func (s *UserService) assignRole(ctx context.Context, tx *sqlx.Tx, userID string, role rbacentity.RoleName, expiresAt *time.Time, now time.Time) error {
	roles := s.roles.WithTx(tx)
	r, err := roles.EnsureRole(ctx, string(role), role.DefaultPermissions(), now)
	if err != nil {
		return fmt.Errorf("ensure role %s: %w", role, err)
	}
	if err := roles.Assign(ctx, userID, r.ID, expiresAt, now); err != nil {
		return fmt.Errorf("assign role %s: %w", role, err)
	}
	return nil
}

// dummy returns a hash of the configured algorithm used to equalise timing
// for unknown emails.
func (s *UserService) dummy() string {
	s.dummyOnce.Do(func() {
		h, _, err := s.hasher.Hash("unknown-account-placeholder")
		if err != nil {
			s.logger.Warnw("dummy hash failed", "err", err)
		}
		s.dummyHash = h
	})
	return s.dummyHash
}

// Login authenticates email and password. Unknown emails and wrong passwords
// return the same ErrBadCredentials.
func (s *UserService) Login(ctx context.Context, email, password string, client ClientInfo) (*entity.AuthResult, error) {
	email = normalizeEmail(email)
	// recorded as failed before anything else; success adds a second row
	s.ledger.RecordAttempt(ctx, email, client.IP, client.UserAgent, false, "")

	if email == "" {
		return nil, &ValidationError{Field: "email", Reason: "required"}
	}
	if password == "" {
		return nil, &ValidationError{Field: "password", Reason: "required"}
	}

	creds, err := s.repo.GetCredentialsByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, userrepo.ErrUserNotFound) {
			_ = s.hasher.Verify(s.dummy(), password)
			s.logger.Debugw("login for unknown email", "email", email, "ip", client.IP)
			s.audit.Record(ctx, auditentity.Event{
				Action:       auditentity.ActionFailedLogin,
				ResourceType: "user",
				RiskLevel:    auditentity.RiskMedium,
				Details:      map[string]any{"email": email, "reason": "unknown_email", "ip": client.IP},
			})
			return nil, ErrBadCredentials
		}
		s.logger.Errorw("load credentials failed", "email", email, "err", err)
		return nil, internal("load credentials", err)
	}
	u, sec := creds.User, creds.Security
	now := s.now().UTC()

	if until, locked := s.lockout.LockedUntil(sec, now); locked {
		s.logger.Infow("login blocked by lock", "user_id", u.ID, "locked_until", until)
		s.audit.Record(ctx, auditentity.Event{
			UserID:       &u.ID,
			Action:       auditentity.ActionLoginBlocked,
			ResourceType: "user",
			ResourceID:   u.ID,
			RiskLevel:    auditentity.RiskMedium,
			Details:      map[string]any{"locked_until": until, "ip": client.IP},
		})
		return nil, &LockedError{Until: until}
	}

	verifier := verifierFor(sec.PasswordHash, s.hasher)
	if !verifier.Verify(sec.PasswordHash, password) {
		if err := s.recordFailure(ctx, u.ID, client, now); err != nil {
			s.logger.Errorw("record login failure", "user_id", u.ID, "err", err)
			return nil, internal("record login failure", err)
		}
		return nil, ErrBadCredentials
	}

	// rehash under the configured algorithm before the transaction opens
	var rehash, rehashAlgo string
	if s.hasher.NeedsRehash(sec.PasswordHash) {
		if h, a, err := s.hasher.Hash(password); err == nil {
			rehash, rehashAlgo = h, a
		} else {
			s.logger.Warnw("password rehash failed", "user_id", u.ID, "err", err)
		}
	}

	sessionID := utilities.NewKSUID()
	token, expiresAt, err := s.tokens.Issue(u.ID, u.Email, sessionID)
	if err != nil {
		return nil, internal("issue token", err)
	}
	err = database.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		repo := s.repo.WithTx(tx)
		if err := repo.ResetLoginSuccess(ctx, u.ID, now); err != nil {
			return fmt.Errorf("reset login counters: %w", err)
		}
		if rehash != "" {
			if err := repo.UpdatePassword(ctx, u.ID, rehash, rehashAlgo, now); err != nil {
				return fmt.Errorf("update password hash: %w", err)
			}
		}
		if err := s.sessions.WithTx(tx).Create(ctx, &session.Session{
			ID:        sessionID,
			UserID:    u.ID,
			IP:        client.IP,
			UserAgent: client.UserAgent,
			ExpiresAt: expiresAt,
			IsActive:  true,
			CreatedAt: now,
		}); err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		s.audit.RecordTx(ctx, tx, auditentity.Event{
			UserID:       &u.ID,
			Action:       auditentity.ActionUserLogin,
			ResourceType: "session",
			ResourceID:   sessionID,
			RiskLevel:    auditentity.RiskLow,
			Details:      map[string]any{"ip": client.IP, "user_agent": client.UserAgent},
		})
		return nil
	})
	if err != nil {
		s.logger.Errorw("login commit failed", "user_id", u.ID, "err", err)
		return nil, internal("login", err)
	}
	s.ledger.RecordAttempt(ctx, email, client.IP, client.UserAgent, true, "")

	sec.FailedLoginAttempts, sec.AccountLocked, sec.LockedUntil, sec.LastLogin = 0, false, nil, &now
	id, err := s.identity(ctx, &u, &sec)
	if err != nil {
		return nil, err
	}
	id.SessionID = sessionID
	id.ExpiresAt = expiresAt
	return &entity.AuthResult{Identity: *id, Token: token}, nil
}

// recordFailure advances the lockout state machine for one wrong password.
func (s *UserService) recordFailure(ctx context.Context, userID string, client ClientInfo, now time.Time) error {
	return database.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		repo := s.repo.WithTx(tx)
		attempts, err := repo.IncrementFailedLogin(ctx, userID, now)
		if err != nil {
			return fmt.Errorf("increment failed logins: %w", err)
		}
		out := s.lockout.OnFailure(attempts, now)
		if !out.Locked {
			s.audit.RecordTx(ctx, tx, auditentity.Event{
				UserID:       &userID,
				Action:       auditentity.ActionFailedLogin,
				ResourceType: "user",
				ResourceID:   userID,
				RiskLevel:    auditentity.RiskMedium,
				Details:      map[string]any{"attempts": attempts, "reason": "bad_password", "ip": client.IP},
			})
			return nil
		}
		if err := repo.Lock(ctx, userID, out.LockedUntil, now); err != nil {
			return fmt.Errorf("lock account: %w", err)
		}
		s.logger.Warnw("account locked", "user_id", userID, "attempts", attempts, "locked_until", out.LockedUntil)
		s.audit.RecordTx(ctx, tx, auditentity.Event{
			UserID:       &userID,
			Action:       auditentity.ActionAccountLocked,
			ResourceType: "user",
			ResourceID:   userID,
			RiskLevel:    auditentity.RiskHigh,
			Details:      map[string]any{"attempts": attempts, "locked_until": out.LockedUntil, "ip": client.IP},
		})
		return nil
	})
}

// Logout deactivates every active session of the token's user. It never
// fails visibly; problems are logged.
func (s *UserService) Logout(ctx context.Context, token string) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		s.logger.Debugw("logout with unreadable token", "err", err)
		return
	}
	userID := claims.UserID()
	var n int64
	err = database.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		var err error
		n, err = s.sessions.WithTx(tx).DeactivateAllForUser(ctx, userID)
		if err != nil {
			return err
		}
		s.audit.RecordTx(ctx, tx, auditentity.Event{
			UserID:       &userID,
			Action:       auditentity.ActionUserLogout,
			ResourceType: "session",
			ResourceID:   claims.SessionID,
			RiskLevel:    auditentity.RiskLow,
			Details:      map[string]any{"sessions": n},
		})
		return nil
	})
	if err != nil {
		s.logger.Warnw("logout failed", "user_id", userID, "err", err)
		return
	}
	s.logger.Infow("user logged out", "user_id", userID, "sessions", n)
}

// VerifyToken checks the signature, expiry and session of token and returns
// the identity with roles and permissions read fresh from storage.
func (s *UserService) VerifyToken(ctx context.Context, token string) (*entity.Identity, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, ErrInvalidToken
	}
	sess, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, sessionrepo.ErrSessionNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, internal("load session", err)
	}
	if sess.UserID != claims.UserID() || !sess.Valid(s.now()) {
		return nil, ErrInvalidToken
	}
	creds, err := s.repo.GetCredentialsByID(ctx, claims.UserID())
	if err != nil {
		if errors.Is(err, userrepo.ErrUserNotFound) {
			return nil, ErrInvalidToken
		}
		return nil, internal("load user", err)
	}
	id, err := s.identity(ctx, &creds.User, &creds.Security)
	if err != nil {
		return nil, err
	}
	id.SessionID = sess.ID
	id.ExpiresAt = sess.ExpiresAt
	return id, nil
}

// HasPermission reports an exact resource:action match in the user's
// effective permission set.
func (s *UserService) HasPermission(ctx context.Context, userID, resource, action string) (bool, error) {
	ok, err := s.resolver.HasPermission(ctx, userID, resource, action)
	if err != nil {
		return false, internal("resolve permissions", err)
	}
	return ok, nil
}

// Authorize is HasPermission as an error: ErrForbidden when not granted.
func (s *UserService) Authorize(ctx context.Context, userID, resource, action string) error {
	ok, err := s.HasPermission(ctx, userID, resource, action)
	if err != nil {
		return err
	}
	if !ok {
		return ErrForbidden
	}
	return nil
}

// identity assembles the caller-facing view. Administrator status comes from
// the Admin record; roles and permissions come from active assignments.
func (s *UserService) identity(ctx context.Context, u *entity.User, sec *entity.AccountSecurity) (*entity.Identity, error) {
	res, err := s.resolver.Resolve(ctx, u.ID)
	if err != nil {
		return nil, internal("resolve permissions", err)
	}
	isAdmin, err := s.admins.IsActiveAdmin(ctx, u.ID)
	if err != nil {
		return nil, internal("load admin", err)
	}
	id := &entity.Identity{
		UserID:        u.ID,
		Email:         u.Email,
		FirstName:     u.FirstName,
		LastName:      u.LastName,
		University:    u.University,
		Verified:      u.Verified,
		EmailVerified: sec.EmailVerified,
		Roles:         res.Roles,
		Permissions:   res.Permissions,
		IsAdmin:       isAdmin,
	}
	if isAdmin {
		id.RedirectTo = AdminRedirect
	}
	return id, nil
}

// UnlockAccount clears the lock and failure counter of userID.
func (s *UserService) UnlockAccount(ctx context.Context, userID, actorID string) error {
	now := s.now().UTC()
	err := database.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		ok, err := s.repo.WithTx(tx).Unlock(ctx, userID, now)
		if err != nil {
			return fmt.Errorf("unlock: %w", err)
		}
		if !ok {
			return ErrNotFound
		}
		s.audit.RecordTx(ctx, tx, auditentity.Event{
			UserID:       &userID,
			Action:       auditentity.ActionAccountUnlocked,
			ResourceType: "user",
			ResourceID:   userID,
			RiskLevel:    auditentity.RiskMedium,
			Details:      map[string]any{"actor_id": actorID},
		})
		return nil
	})
	return s.adminResult("unlock account", userID, err)
}

// DeactivateAdmin demotes userID to a student and returns its quota slot.
func (s *UserService) DeactivateAdmin(ctx context.Context, userID, actorID string) error {
	now := s.now().UTC()
	err := database.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		demoted, err := s.elevator.Demote(ctx, tx, userID, now)
		if err != nil {
			return err
		}
		if !demoted {
			return ErrNotFound
		}
		roles := s.roles.WithTx(tx)
		if r, err := roles.GetByName(ctx, string(rbacentity.RoleAdmin)); err == nil {
			if _, err := roles.Deactivate(ctx, userID, r.ID); err != nil {
				return fmt.Errorf("deactivate admin role: %w", err)
			}
		} else if !errors.Is(err, rolerepo.ErrRoleNotFound) {
			return fmt.Errorf("load admin role: %w", err)
		}
		if err := s.assignRole(ctx, tx, userID, rbacentity.RoleStudent, nil, now); err != nil {
			return err
		}
		s.audit.RecordTx(ctx, tx, auditentity.Event{
			UserID:       &userID,
			Action:       auditentity.ActionAdminDeactivated,
			ResourceType: "admin",
			ResourceID:   userID,
			RiskLevel:    auditentity.RiskHigh,
			Details:      map[string]any{"actor_id": actorID},
		})
		return nil
	})
	return s.adminResult("deactivate admin", userID, err)
}

// DeleteUser removes userID and everything it owns.
func (s *UserService) DeleteUser(ctx context.Context, userID, actorID string) error {
	now := s.now().UTC()
	err := database.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := s.elevator.Demote(ctx, tx, userID, now); err != nil {
			return err
		}
		ok, err := s.repo.WithTx(tx).Delete(ctx, userID)
		if err != nil {
			return fmt.Errorf("delete user: %w", err)
		}
		if !ok {
			return ErrNotFound
		}
		s.audit.RecordTx(ctx, tx, auditentity.Event{
			UserID:       &userID,
			Action:       auditentity.ActionUserDeleted,
			ResourceType: "user",
			ResourceID:   userID,
			RiskLevel:    auditentity.RiskHigh,
			Details:      map[string]any{"actor_id": actorID},
		})
		return nil
	})
	return s.adminResult("delete user", userID, err)
}

// GrantRole assigns any non-admin role, creating it on first use. Administrator
// status is only granted by elevation so the Admin record stays the single
// source of truth.
func (s *UserService) GrantRole(ctx context.Context, userID string, role rbacentity.RoleName, expiresAt *time.Time, actorID string) error {
	if role == rbacentity.RoleAdmin {
		return &ValidationError{Field: "role", Reason: "admin is granted by elevation only"}
	}
	if !rbacentity.ValidRoleName(string(role)) {
		return &ValidationError{Field: "role", Reason: "malformed"}
	}
	now := s.now().UTC()
	err := database.WithTx(ctx, s.db, nil, func(ctx context.Context, tx *sqlx.Tx) error {
		if _, err := s.repo.WithTx(tx).GetByID(ctx, userID); err != nil {
			if errors.Is(err, userrepo.ErrUserNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := s.assignRole(ctx, tx, userID, role, expiresAt, now); err != nil {
			return err
		}
		details := map[string]any{"role": string(role), "actor_id": actorID}
		if expiresAt != nil {
			details["expires_at"] = expiresAt.UTC()
		}
		s.audit.RecordTx(ctx, tx, auditentity.Event{
			UserID:       &userID,
			Action:       auditentity.ActionRoleGranted,
			ResourceType: "role",
			ResourceID:   string(role),
			RiskLevel:    auditentity.RiskMedium,
			Details:      details,
		})
		return nil
	})
	return s.adminResult("grant role", userID, err)
}

func (s *UserService) adminResult(op, userID string, err error) error {
	if err == nil {
		s.logger.Infow(op, "user_id", userID)
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	s.logger.Errorw(op+" failed", "user_id", userID, "err", err)
	return internal(op, err)
}

// SweepResult counts rows changed by Sweep.
type SweepResult struct {
	Sessions int64
	Locks    int64
}

// Sweep deactivates expired sessions and clears elapsed lock flags. Login
// behaves the same with or without it.
func (s *UserService) Sweep(ctx context.Context) (SweepResult, error) {
	now := s.now().UTC()
	var out SweepResult
	var err error
	if out.Sessions, err = s.sessions.SweepExpired(ctx, now); err != nil {
		return out, internal("sweep sessions", err)
	}
	if out.Locks, err = s.repo.ClearStaleLocks(ctx, now); err != nil {
		return out, internal("clear stale locks", err)
	}
	return out, nil
}

// QuotaStatus reads the elevation counter.
func (s *UserService) QuotaStatus(ctx context.Context) (adminentity.Quota, error) {
	q, err := s.elevator.Status(ctx, s.db)
	if err != nil {
		return q, internal("quota status", err)
	}
	return q, nil
}

// ReconcileQuota recounts active administrators into the counter.
func (s *UserService) ReconcileQuota(ctx context.Context) (adminentity.Quota, error) {
	q, err := s.elevator.Reconcile(ctx, s.db)
	if err != nil {
		return q, internal("reconcile quota", err)
	}
	return q, nil
}

// AuditTrail lists recent security events of a user.
func (s *UserService) AuditTrail(ctx context.Context, userID string, limit int) ([]auditentity.Event, error) {
	evs, err := s.audit.Events(ctx, userID, limit)
	if err != nil {
		return nil, internal("audit trail", err)
	}
	return evs, nil
}
