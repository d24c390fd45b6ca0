package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"admin-dashboard/internal/domain"
	"admin-dashboard/internal/ports"

	"github.com/golang-jwt/jwt/v5"
)

// Keys written to the client namespace.
const (
	KeyAccessToken     = "access_token"
	KeyUsername        = "username"
	KeyEmail           = "email"
	KeyRole            = "role"
	KeyPermissions     = "permissions"
	KeySelectedCompany = "selectedCompany"
)

var sessionKeys = []string{KeyAccessToken, KeyUsername, KeyEmail, KeyRole, KeyPermissions}

// EndReason says why a stored session was discarded.
type EndReason string

const (
	EndLogout      EndReason = "logout"
	EndInvalidated EndReason = "invalidated"
	// EndReplaced fires when a new login overwrites a previous one.
	EndReplaced EndReason = "replaced"
)

// SessionService owns the token and profile of one client namespace. It is
// also the ports.Credentials the credentialed backend API is bound to.
type SessionService struct {
	store   ports.KVStore
	backend ports.Backend
	logger  ports.Logger
	now     func() time.Time

	mu    sync.Mutex
	onEnd func(ctx context.Context, reason EndReason)
}

func NewSessionService(store ports.KVStore, backend ports.Backend, logger ports.Logger) *SessionService {
	return &SessionService{store: store, backend: backend, logger: logger, now: time.Now}
}

// OnEnd registers fn to run after the session is logged out or invalidated,
// and before a login replaces it.
func (s *SessionService) OnEnd(fn func(ctx context.Context, reason EndReason)) {
	s.mu.Lock()
	s.onEnd = fn
	s.mu.Unlock()
}

func (s *SessionService) ended(ctx context.Context, reason EndReason) {
	s.mu.Lock()
	fn := s.onEnd
	s.mu.Unlock()
	if fn != nil {
		fn(ctx, reason)
	}
}

// API returns the backend API authenticated with this session.
func (s *SessionService) API() ports.SessionAPI {
	return s.backend.Bind(s)
}

func (s *SessionService) Login(ctx context.Context, username, password string) (domain.Session, error) {
	verr := domain.ValidationErrors{}
	if username == "" {
		verr["username"] = "is required"
	}
	if password == "" {
		verr["password"] = "is required"
	}
	if len(verr) > 0 {
		return domain.Session{}, verr
	}

	token, err := s.backend.Login(ctx, username, password)
	if err != nil {
		s.logger.Warn(ctx, "login rejected", "username", username, "error", err)
		return domain.Session{}, err
	}
	s.ended(ctx, EndReplaced)
	if err := s.put(ctx, KeyAccessToken, token); err != nil {
		return domain.Session{}, err
	}

	profile, err := s.backend.Profile(ctx, token)
	if err != nil {
		s.clear(ctx, sessionKeys)
		return domain.Session{}, fmt.Errorf("load profile: %w", err)
	}
	sess, err := s.storeProfile(ctx, token, profile)
	if err != nil {
		s.clear(ctx, sessionKeys)
		return domain.Session{}, err
	}
	s.logger.Info(ctx, "user logged in", "username", sess.Username, "role", sess.Role)
	return sess, nil
}

func (s *SessionService) storeProfile(ctx context.Context, token string, p domain.Profile) (domain.Session, error) {
	role, err := domain.ParseRole(p.Role)
	if err != nil {
		s.logger.Warn(ctx, "unknown role in profile, using customer", "role", p.Role)
		role = domain.RoleCustomer
	}
	sess := domain.Session{Token: token, Username: p.Username, Email: p.Email, Role: role}
	values := map[string]string{
		KeyUsername: p.Username,
		KeyEmail:    p.Email,
		KeyRole:     string(role),
	}
	if p.Permissions != nil {
		set := domain.PermissionSetFromRecord(p.Permissions)
		raw, err := json.Marshal(set)
		if err != nil {
			return domain.Session{}, err
		}
		values[KeyPermissions] = string(raw)
		sess.Permissions = &set
	}
	for k, v := range values {
		if err := s.put(ctx, k, v); err != nil {
			return domain.Session{}, err
		}
	}
	return sess, nil
}

// Logout removes the session and the selected company. Cached company lists survive.
func (s *SessionService) Logout(ctx context.Context) {
	s.clear(ctx, append(sessionKeys, KeySelectedCompany))
	s.ended(ctx, EndLogout)
	s.logger.Info(ctx, "user logged out")
}

// Current returns the stored session. A JWT whose exp has passed counts as absent.
func (s *SessionService) Current(ctx context.Context) (domain.Session, error) {
	token, err := s.Token(ctx)
	if err != nil {
		return domain.Session{}, err
	}
	sess := domain.Session{Token: token}
	sess.Username, _ = s.get(ctx, KeyUsername)
	sess.Email, _ = s.get(ctx, KeyEmail)
	role, _ := s.get(ctx, KeyRole)
	sess.Role = domain.Role(role)
	if raw, err := s.get(ctx, KeyPermissions); err == nil && raw != "" {
		var set domain.PermissionSet
		if err := json.Unmarshal([]byte(raw), &set); err == nil {
			sess.Permissions = &set
		}
	}
	return sess, nil
}

func (s *SessionService) Token(ctx context.Context) (string, error) {
	token, err := s.get(ctx, KeyAccessToken)
	if err != nil || token == "" {
		return "", domain.ErrUnauthenticated
	}
	if s.expired(token) {
		s.logger.Info(ctx, "stored token expired")
		s.Invalidate(ctx)
		return "", domain.ErrUnauthenticated
	}
	return token, nil
}

// expired reports whether token is a JWT with an exp claim in the past.
// Opaque tokens never expire client side.
func (s *SessionService) expired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return false
	}
	return !exp.After(s.now())
}

// Invalidate drops the token and profile after the backend rejected them.
func (s *SessionService) Invalidate(ctx context.Context) {
	s.clear(ctx, sessionKeys)
	s.ended(ctx, EndInvalidated)
}

func (s *SessionService) SelectCompany(ctx context.Context, company string) error {
	if company == "" {
		return s.store.Delete(ctx, KeySelectedCompany)
	}
	return s.put(ctx, KeySelectedCompany, company)
}

func (s *SessionService) SelectedCompany(ctx context.Context) string {
	company, _ := s.get(ctx, KeySelectedCompany)
	return company
}

func (s *SessionService) VerifyResetToken(ctx context.Context, token string) error {
	if token == "" {
		return domain.ErrResetTokenInvalid
	}
	return resetTokenError(s.backend.VerifyResetToken(ctx, token))
}

func (s *SessionService) ResetPassword(ctx context.Context, token, password string) error {
	if err := domain.ValidatePassword(password); err != nil {
		return err
	}
	return resetTokenError(s.backend.ResetPassword(ctx, token, password))
}

func resetTokenError(err error) error {
	if errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("%w: %w", domain.ErrResetTokenInvalid, err)
	}
	return err
}

func (s *SessionService) get(ctx context.Context, key string) (string, error) {
	raw, err := s.store.Get(ctx, key)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func (s *SessionService) put(ctx context.Context, key, value string) error {
	return s.store.Set(ctx, key, []byte(value))
}

func (s *SessionService) clear(ctx context.Context, keys []string) {
	for _, k := range keys {
		if err := s.store.Delete(ctx, k); err != nil && !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn(ctx, "failed to clear session key", "key", k, "error", err)
		}
	}
}
