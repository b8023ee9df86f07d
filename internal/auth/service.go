package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/audit"
	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/ids"
	"github.com/aamsainz1-ui/financial-management-system-sub002/internal/obs"
)

const (
	resourceUser = "user"

	maxUsernameLength = 64
	maxEmailLength    = 254
	maxNameLength     = 128
	passwordLength    = 6
)

// Auditor receives audit entries. Record must not block on storage.
type Auditor interface {
	Record(ctx context.Context, e audit.Entry)
}

type nopAuditor struct{}

func (nopAuditor) Record(context.Context, audit.Entry) {}

// Service is the entry point for login, registration and token-guarded requests.
type Service struct {
	users    UserStore
	hasher   Hasher
	codec    *TokenCodec
	verifier *Verifier
	auditor  Auditor
	trail    audit.Reader
	now      func() time.Time
	log      *zap.Logger

	roleSelection bool
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithAuditor sets the audit destination.
func WithAuditor(a Auditor) ServiceOption {
	return func(s *Service) error {
		if a != nil {
			s.auditor = a
		}
		return nil
	}
}

// WithAuditReader enables AuditTrail.
func WithAuditReader(r audit.Reader) ServiceOption {
	return func(s *Service) error {
		s.trail = r
		return nil
	}
}

// WithClock overrides time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *Service) error {
		if l != nil {
			s.log = l
		}
		return nil
	}
}

// WithRoleSelection controls whether Register honors a requested role above
// DefaultRole. It is enabled by default.
func WithRoleSelection(allowed bool) ServiceOption {
	return func(s *Service) error {
		s.roleSelection = allowed
		return nil
	}
}

// NewService wires the gateway.
func NewService(users UserStore, hasher Hasher, codec *TokenCodec, verifier *Verifier, opts ...ServiceOption) (*Service, error) {
	if users == nil || hasher == nil || codec == nil || verifier == nil {
		return nil, errors.New("auth: users, hasher, codec and verifier are required")
	}
	svc := &Service{
		users:    users,
		hasher:   hasher,
		codec:    codec,
		verifier: verifier,
		auditor:  nopAuditor{},
		now:      time.Now,
		log:      obs.Logger(),

		roleSelection: true,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// Login authenticates and issues a bearer token. All credential failures
// return ErrInvalidCredentials. Surrounding whitespace is trimmed from
// username; the remaining match is exact and case-sensitive.
func (s *Service) Login(ctx context.Context, username, secret string, meta audit.RequestMeta) (LoginResult, error) {
	username = strings.TrimSpace(username)
	if username == "" || secret == "" {
		return LoginResult{}, fmt.Errorf("%w: username and password are required", ErrInvalidInput)
	}

	user, err := s.verifier.Authenticate(ctx, username, secret)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			obs.LoginAttempt("invalid")
			entry := audit.Entry{
				Action:       audit.ActionLoginFailed,
				ResourceType: resourceUser,
				NewValue:     audit.Snapshot(map[string]string{"username": username}),
			}
			meta.Apply(&entry)
			s.auditor.Record(ctx, entry)
			return LoginResult{}, ErrInvalidCredentials
		}
		obs.LoginAttempt("error")
		return LoginResult{}, err
	}

	token, expiresAt, err := s.codec.Issue(user.ID, user.Role, s.now())
	if err != nil {
		obs.LoginAttempt("error")
		return LoginResult{}, fmt.Errorf("issue token: %w", err)
	}

	entry := audit.Entry{
		ActorUserID:  audit.Actor(user.ID),
		Action:       audit.ActionLogin,
		ResourceType: resourceUser,
		ResourceID:   user.ID,
	}
	meta.Apply(&entry)
	s.auditor.Record(ctx, entry)
	obs.LoginAttempt("success")

	return LoginResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}

// Register validates the profile and creates an active user. Duplicate
// username or email yields ErrConflict.
func (s *Service) Register(ctx context.Context, p Profile, meta audit.RequestMeta) (*User, error) {
	p.Email = strings.ToLower(strings.TrimSpace(p.Email))
	p.Username = strings.TrimSpace(p.Username)
	p.Name = strings.TrimSpace(p.Name)

	role, err := validateProfile(p)
	if err != nil {
		obs.Registration("invalid")
		return nil, err
	}
	if role != DefaultRole {
		if !s.roleSelection {
			obs.Registration("forbidden")
			return nil, fmt.Errorf("%w: role selection is disabled", ErrForbidden)
		}
		s.log.Warn("registration requested elevated role",
			zap.String("username", p.Username),
			zap.String("role", role.String()),
			zap.String("ip", meta.IP),
			zap.String("request_id", meta.RequestID),
		)
	}

	exists, err := s.users.ExistsByUsernameOrEmail(ctx, p.Username, p.Email)
	if err != nil {
		obs.Registration("error")
		return nil, fmt.Errorf("%w: check existing user: %w", ErrStorage, err)
	}
	if exists {
		obs.Registration("conflict")
		return nil, ErrConflict
	}

	digest, err := s.hasher.Hash(p.Password)
	if err != nil {
		obs.Registration("error")
		return nil, fmt.Errorf("hash password: %w", err)
	}

	user := &User{
		ID:           ids.New(),
		Username:     p.Username,
		Email:        p.Email,
		Name:         p.Name,
		PasswordHash: digest,
		Role:         role,
		Active:       true,
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, ErrConflict) {
			obs.Registration("conflict")
			return nil, ErrConflict
		}
		obs.Registration("error")
		return nil, fmt.Errorf("%w: create user: %w", ErrStorage, err)
	}

	entry := audit.Entry{
		ActorUserID:  audit.Actor(user.ID),
		Action:       audit.ActionCreate,
		ResourceType: resourceUser,
		ResourceID:   user.ID,
		NewValue:     audit.Snapshot(user),
	}
	meta.Apply(&entry)
	s.auditor.Record(ctx, entry)
	obs.Registration("success")

	return user, nil
}

func validateProfile(p Profile) (Role, error) {
	if p.Email == "" || p.Username == "" || p.Password == "" || p.Name == "" {
		return 0, fmt.Errorf("%w: email, username, password and name are required", ErrInvalidInput)
	}
	if !validEmail(p.Email) {
		return 0, fmt.Errorf("%w: email is invalid", ErrInvalidInput)
	}
	if len(p.Username) > maxUsernameLength || strings.ContainsAny(p.Username, " \t\r\n") {
		return 0, fmt.Errorf("%w: username is invalid", ErrInvalidInput)
	}
	if len(p.Name) > maxNameLength {
		return 0, fmt.Errorf("%w: name is too long", ErrInvalidInput)
	}
	if !validPIN(p.Password) {
		return 0, fmt.Errorf("%w: password must be exactly %d digits", ErrInvalidInput, passwordLength)
	}
	if strings.TrimSpace(p.Role) == "" {
		return DefaultRole, nil
	}
	return ParseRole(p.Role)
}

func validEmail(email string) bool {
	if len(email) > maxEmailLength || strings.ContainsAny(email, " \t\r\n") {
		return false
	}
	at := strings.LastIndex(email, "@")
	return at > 0 && at < len(email)-1
}

func validPIN(secret string) bool {
	if len(secret) != passwordLength {
		return false
	}
	for i := 0; i < len(secret); i++ {
		if secret[i] < '0' || secret[i] > '9' {
			return false
		}
	}
	return true
}

// Authorize decides whether token may perform action at now. It has no side effects.
func (s *Service) Authorize(token string, action Action, now time.Time) Decision {
	if strings.TrimSpace(token) == "" {
		return Decision{Outcome: Unauthenticated}
	}
	claims, err := s.codec.Verify(token, now)
	if err != nil {
		return Decision{Outcome: Unauthenticated}
	}
	d := Decision{Outcome: Forbidden, Subject: claims.Subject, Role: claims.Role}
	if Can(claims.Role, action) {
		d.Outcome = Allowed
	}
	return d
}

// RecordDenied audits a Forbidden decision against resource.
func (s *Service) RecordDenied(ctx context.Context, d Decision, resource string, meta audit.RequestMeta) {
	entry := audit.Entry{
		ActorUserID:  audit.Actor(d.Subject),
		Action:       audit.ActionAccessDenied,
		ResourceType: resource,
		NewValue:     audit.Snapshot(map[string]string{"role": d.Role.String()}),
	}
	meta.Apply(&entry)
	s.auditor.Record(ctx, entry)
}

// ListUsers returns every user. Callers must have authorized ActionManageUsers.
func (s *Service) ListUsers(ctx context.Context) ([]*User, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: list users: %w", ErrStorage, err)
	}
	return users, nil
}

// SetActive activates or deactivates userID on behalf of actorID. Users cannot
// deactivate themselves. Unchanged state is not audited.
func (s *Service) SetActive(ctx context.Context, actorID, userID string, active bool, meta audit.RequestMeta) (*User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if actorID == userID && !active {
		return nil, fmt.Errorf("%w: cannot deactivate your own account", ErrInvalidInput)
	}

	before, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: find user: %w", ErrStorage, err)
	}
	if before.Active == active {
		return before, nil
	}

	if err := s.users.SetActive(ctx, userID, active); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: update user: %w", ErrStorage, err)
	}
	after := *before
	after.Active = active

	entry := audit.Entry{
		ActorUserID:  audit.Actor(actorID),
		Action:       audit.ActionUpdate,
		ResourceType: resourceUser,
		ResourceID:   userID,
		OldValue:     audit.Snapshot(before),
		NewValue:     audit.Snapshot(&after),
	}
	meta.Apply(&entry)
	s.auditor.Record(ctx, entry)
	s.log.Info("user activation changed",
		zap.String("actor_user_id", actorID),
		zap.String("user_id", userID),
		zap.Bool("active", active),
	)

	return &after, nil
}

// AuditTrail lists the most recent audit entries, newest first.
func (s *Service) AuditTrail(ctx context.Context, limit int) ([]audit.Entry, error) {
	if s.trail == nil {
		return []audit.Entry{}, nil
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	entries, err := s.trail.List(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list audit entries: %w", ErrStorage, err)
	}
	return entries, nil
}
