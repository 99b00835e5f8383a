// Package auth orchestrates the login, force-login, refresh, and logout flows
// across the user repository, session store, refresh token repository, and
// revocation store.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	auditdomain "cloudbalance/backend/internal/audit/domain"
	refreshdomain "cloudbalance/backend/internal/refreshtoken/domain"
	refreshrepo "cloudbalance/backend/internal/refreshtoken/repository"
	"cloudbalance/backend/internal/security"
	sessiondomain "cloudbalance/backend/internal/session/domain"
	"cloudbalance/backend/internal/session/store"
	userdomain "cloudbalance/backend/internal/user/domain"
)

// LoginResult holds the outcome of Login, ForceLogin, or Refresh.
// When ActiveSessions is non-nil the login hit the concurrency limit: no
// tokens were issued and the caller should surface the live sessions so the
// user can pick one to displace.
type LoginResult struct {
	AccessToken    string
	RefreshToken   string
	SessionID      string
	ExpiresAt      time.Time
	User           *userdomain.User
	ActiveSessions []*sessiondomain.Session
}

// UserRepo is the minimal user repository needed by the auth service.
type UserRepo interface {
	GetByID(ctx context.Context, id int64) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	UpdateLastLogin(ctx context.Context, id int64, at time.Time) error
	SetTokenVersion(ctx context.Context, id int64, version int) error
}

// SessionStore is the minimal session store needed by the auth service.
type SessionStore interface {
	Create(ctx context.Context, userID int64, deviceLabel, ip string) (*sessiondomain.Session, error)
	Get(ctx context.Context, id string) (*sessiondomain.Session, error)
	GetActive(ctx context.Context, id string) (*sessiondomain.Session, error)
	ListActiveByUser(ctx context.Context, userID int64) ([]*sessiondomain.Session, error)
	Touch(ctx context.Context, id string, userID int64) error
	Invalidate(ctx context.Context, id string, userID int64) error
	InvalidateAllForUser(ctx context.Context, userID int64) error
}

// RefreshTokenRepo is the minimal refresh token repository needed by the auth service.
type RefreshTokenRepo interface {
	CreateOrReuse(ctx context.Context, userID int64, deviceLabel, ip string, tokenVersion int, ttl time.Duration) (*refreshdomain.Token, error)
	Verify(ctx context.Context, value string, now time.Time) (*refreshdomain.Token, error)
	Touch(ctx context.Context, value string, at time.Time) error
	RevokeAllForUser(ctx context.Context, userID int64) error
	RevokeForDevice(ctx context.Context, userID int64, deviceLabel string) error
}

// RevocationStore is the minimal revocation store needed by the auth service.
type RevocationStore interface {
	Blacklist(ctx context.Context, token string, remaining time.Duration) error
	CurrentVersion(ctx context.Context, userID int64) (int, error)
	InitVersion(ctx context.Context, userID int64, version int) error
	IncrementVersion(ctx context.Context, userID int64) (int, error)
}

// AuditLogger records security events; best-effort, never fails the flow.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID int64, action, ip, metadata string)
}

// Service implements the auth flows.
type Service struct {
	users      UserRepo
	sessions   SessionStore
	refresh    RefreshTokenRepo
	revocation RevocationStore
	hasher     *security.Hasher
	tokens     *security.TokenProvider
	refreshTTL time.Duration
	audit      AuditLogger
}

// NewService returns a Service with the given dependencies.
func NewService(
	users UserRepo,
	sessions SessionStore,
	refresh RefreshTokenRepo,
	revocation RevocationStore,
	hasher *security.Hasher,
	tokens *security.TokenProvider,
	refreshTTL time.Duration,
	audit AuditLogger,
) *Service {
	return &Service{
		users:      users,
		sessions:   sessions,
		refresh:    refresh,
		revocation: revocation,
		hasher:     hasher,
		tokens:     tokens,
		refreshTTL: refreshTTL,
		audit:      audit,
	}
}

// Login authenticates with email/password and opens a session. At the
// concurrency limit under the reject policy it returns a LoginResult whose
// ActiveSessions lists the live sessions instead of issuing tokens.
func (s *Service) Login(ctx context.Context, email, password, deviceLabel, ip string) (*LoginResult, error) {
	user, err := s.authenticate(ctx, email, password, ip)
	if err != nil {
		return nil, err
	}
	return s.openSession(ctx, user, deviceLabel, ip, auditdomain.ActionLogin)
}

// ForceLogin authenticates and then displaces every existing session and
// refresh token of the user before opening a fresh session. The token
// version bump makes all previously issued access tokens rejectable at the
// gate without enumerating them.
func (s *Service) ForceLogin(ctx context.Context, email, password, deviceLabel, ip string) (*LoginResult, error) {
	user, err := s.authenticate(ctx, email, password, ip)
	if err != nil {
		return nil, err
	}
	if err := s.refresh.RevokeAllForUser(ctx, user.ID); err != nil {
		return nil, err
	}
	if err := s.sessions.InvalidateAllForUser(ctx, user.ID); err != nil {
		return nil, err
	}
	if err := s.revocation.InitVersion(ctx, user.ID, user.TokenVersion); err != nil {
		return nil, err
	}
	newVersion, err := s.revocation.IncrementVersion(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	// The counter in Redis is authoritative; the database copy only seeds it
	// after a Redis wipe, so this write may fail without harm.
	_ = s.users.SetTokenVersion(ctx, user.ID, newVersion)
	user.TokenVersion = newVersion

	return s.openSession(ctx, user, deviceLabel, ip, auditdomain.ActionForceLogin)
}

// Refresh exchanges a live refresh token for a new access token. sessionID
// may carry the session of the expired access token; when empty the user's
// most recently active session is used.
func (s *Service) Refresh(ctx context.Context, refreshValue, sessionID string) (*LoginResult, error) {
	now := time.Now().UTC()
	token, err := s.refresh.Verify(ctx, refreshValue, now)
	if err != nil {
		switch {
		case errors.Is(err, refreshrepo.ErrExpired):
			return nil, ErrSessionExpired
		case errors.Is(err, refreshrepo.ErrRevoked):
			return nil, ErrTokenRevoked
		default:
			return nil, err
		}
	}
	if token == nil {
		return nil, ErrSessionExpired
	}

	user, err := s.users.GetByID(ctx, token.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active {
		return nil, ErrSessionExpired
	}

	sess, err := s.resolveSession(ctx, token.UserID, sessionID)
	if err != nil {
		return nil, err
	}

	if err := s.revocation.InitVersion(ctx, user.ID, user.TokenVersion); err != nil {
		return nil, err
	}
	version, err := s.revocation.CurrentVersion(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	accessToken, expiresAt, err := s.tokens.IssueAccess(user.ID, sess.ID, user.Role, version)
	if err != nil {
		return nil, err
	}
	_ = s.sessions.Touch(ctx, sess.ID, user.ID)
	_ = s.refresh.Touch(ctx, refreshValue, now)

	s.audit.LogEvent(ctx, user.ID, auditdomain.ActionRefresh, ip(sess), fmt.Sprintf(`{"session_id":%q}`, sess.ID))
	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshValue,
		SessionID:    sess.ID,
		ExpiresAt:    expiresAt,
		User:         user,
	}, nil
}

// Logout revokes the presented access token for its remaining lifetime,
// retires the device's refresh token, and destroys the session. Safe to call
// with an already-dead session; each step is independently idempotent.
func (s *Service) Logout(ctx context.Context, userID int64, sessionID, accessToken, clientIP string) error {
	if accessToken != "" {
		if claims, err := s.tokens.Decode(accessToken); claims != nil && !errors.Is(err, security.ErrTokenExpired) {
			if exp := claims.ExpiresAt; exp != nil {
				if err := s.revocation.Blacklist(ctx, accessToken, time.Until(exp.Time)); err != nil {
					return err
				}
			}
		}
	}
	if sessionID != "" {
		sess, err := s.sessions.Get(ctx, sessionID)
		if err != nil {
			return err
		}
		if sess != nil && sess.UserID == userID {
			if err := s.refresh.RevokeForDevice(ctx, userID, sess.DeviceLabel); err != nil {
				return err
			}
			if err := s.sessions.Invalidate(ctx, sessionID, userID); err != nil {
				return err
			}
		}
	}
	s.audit.LogEvent(ctx, userID, auditdomain.ActionLogout, clientIP, fmt.Sprintf(`{"session_id":%q}`, sessionID))
	return nil
}

// ActiveSessions lists the user's live sessions.
func (s *Service) ActiveSessions(ctx context.Context, userID int64) ([]*sessiondomain.Session, error) {
	return s.sessions.ListActiveByUser(ctx, userID)
}

// Profile returns the user behind an authenticated identity.
func (s *Service) Profile(ctx context.Context, userID int64) (*userdomain.User, error) {
	return s.users.GetByID(ctx, userID)
}

func (s *Service) authenticate(ctx context.Context, email, password, ip string) (*userdomain.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Active {
		s.audit.LogEvent(ctx, 0, auditdomain.ActionLoginFailure, ip, fmt.Sprintf(`{"email":%q}`, email))
		return nil, ErrInvalidCredentials
	}
	if err := s.hasher.Compare(user.PasswordHash, []byte(password)); err != nil {
		s.audit.LogEvent(ctx, user.ID, auditdomain.ActionLoginFailure, ip, "")
		return nil, ErrInvalidCredentials
	}
	return user, nil
}

func (s *Service) openSession(ctx context.Context, user *userdomain.User, deviceLabel, ip, action string) (*LoginResult, error) {
	sess, err := s.sessions.Create(ctx, user.ID, deviceLabel, ip)
	if err != nil {
		var limitErr *store.LimitError
		if errors.As(err, &limitErr) {
			return &LoginResult{User: user, ActiveSessions: limitErr.Active}, nil
		}
		return nil, err
	}

	if err := s.revocation.InitVersion(ctx, user.ID, user.TokenVersion); err != nil {
		return nil, err
	}
	version, err := s.revocation.CurrentVersion(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	accessToken, expiresAt, err := s.tokens.IssueAccess(user.ID, sess.ID, user.Role, version)
	if err != nil {
		return nil, err
	}
	refreshToken, err := s.refresh.CreateOrReuse(ctx, user.ID, deviceLabel, ip, version, s.refreshTTL)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	_ = s.users.UpdateLastLogin(ctx, user.ID, now)
	user.LastLogin = &now

	s.audit.LogEvent(ctx, user.ID, action, ip, fmt.Sprintf(`{"session_id":%q,"device":%q}`, sess.ID, deviceLabel))
	return &LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken.Value,
		SessionID:    sess.ID,
		ExpiresAt:    expiresAt,
		User:         user,
	}, nil
}

func (s *Service) resolveSession(ctx context.Context, userID int64, sessionID string) (*sessiondomain.Session, error) {
	if sessionID != "" {
		sess, err := s.sessions.GetActive(ctx, sessionID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, ErrSessionExpired
			}
			return nil, err
		}
		if sess.UserID != userID {
			return nil, ErrSessionExpired
		}
		return sess, nil
	}
	live, err := s.sessions.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(live) == 0 {
		return nil, ErrSessionExpired
	}
	latest := live[0]
	for _, sess := range live[1:] {
		if sess.LastActivityTime.After(latest.LastActivityTime) {
			latest = sess
		}
	}
	return latest, nil
}

func ip(sess *sessiondomain.Session) string {
	if sess == nil {
		return ""
	}
	return sess.IPAddress
}
