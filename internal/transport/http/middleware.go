package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	refreshdomain "cloudbalance/backend/internal/refreshtoken/domain"
	"cloudbalance/backend/internal/security"
	sessiondomain "cloudbalance/backend/internal/session/domain"
	"cloudbalance/backend/internal/session/store"
)

const bearerPrefix = "bearer "

// SessionStore is the minimal session store needed by the gate.
type SessionStore interface {
	GetActive(ctx context.Context, id string) (*sessiondomain.Session, error)
	Touch(ctx context.Context, id string, userID int64) error
}

// RefreshTokenRepo is the minimal refresh token repository needed by the gate.
type RefreshTokenRepo interface {
	LatestActiveByUser(ctx context.Context, userID int64) (*refreshdomain.Token, error)
	Touch(ctx context.Context, value string, at time.Time) error
}

// RevocationStore is the minimal revocation store needed by the gate.
type RevocationStore interface {
	IsBlacklisted(ctx context.Context, token string) (bool, error)
	CurrentVersion(ctx context.Context, userID int64) (int, error)
}

// Gate authenticates requests. A current access token passes directly; an
// expired one with a live session and a live refresh token is transparently
// re-issued, so a browser that left a tab idle short of the session timeout
// never sees a 401.
type Gate struct {
	tokens     *security.TokenProvider
	sessions   SessionStore
	refresh    RefreshTokenRepo
	revocation RevocationStore
	cookies    CookieWriter
}

// NewGate returns a Gate with the given dependencies.
func NewGate(tokens *security.TokenProvider, sessions SessionStore, refresh RefreshTokenRepo, revocation RevocationStore, cookies CookieWriter) *Gate {
	return &Gate{tokens: tokens, sessions: sessions, refresh: refresh, revocation: revocation, cookies: cookies}
}

// Authenticate is the middleware protecting every non-public route.
func (g *Gate) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c)
		if token == "" {
			token, _ = c.Cookie(accessCookieName)
		}
		if token == "" {
			errorJSON(c, http.StatusUnauthorized, "missing or invalid authorization")
			return
		}

		revoked, err := g.revocation.IsBlacklisted(c.Request.Context(), token)
		if err != nil {
			errorJSON(c, http.StatusServiceUnavailable, "service unavailable")
			return
		}
		if revoked {
			errorJSON(c, http.StatusUnauthorized, "token has been revoked")
			return
		}

		claims, err := g.tokens.Decode(token)
		switch {
		case err == nil:
			g.admitCurrent(c, claims, token)
		case errors.Is(err, security.ErrTokenExpired):
			g.admitExpired(c, claims)
		default:
			errorJSON(c, http.StatusUnauthorized, "invalid token")
		}
	}
}

// admitCurrent handles a token that verified cleanly.
func (g *Gate) admitCurrent(c *gin.Context, claims *security.AccessClaims, token string) {
	ctx := c.Request.Context()
	if !g.versionCurrent(c, claims) {
		return
	}
	sess := g.liveSession(c, claims)
	if sess == nil {
		return
	}
	_ = g.sessions.Touch(ctx, sess.ID, claims.UserID)
	setIdentity(c, Identity{UserID: claims.UserID, Role: claims.Role, SessionID: sess.ID}, token)
	c.Next()
}

// admitExpired drives the transparent refresh: the signature checked out, so
// the claims are trustworthy even though the token is past its expiry.
func (g *Gate) admitExpired(c *gin.Context, claims *security.AccessClaims) {
	ctx := c.Request.Context()
	if !g.versionCurrent(c, claims) {
		return
	}
	sess := g.liveSession(c, claims)
	if sess == nil {
		return
	}
	rt, err := g.refresh.LatestActiveByUser(ctx, claims.UserID)
	if err != nil {
		errorJSON(c, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	if rt == nil {
		errorJSON(c, http.StatusUnauthorized, "session expired, please log in again")
		return
	}

	version, err := g.revocation.CurrentVersion(ctx, claims.UserID)
	if err != nil {
		errorJSON(c, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	newToken, _, err := g.tokens.IssueAccess(claims.UserID, sess.ID, claims.Role, version)
	if err != nil {
		errorJSON(c, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	g.cookies.SetAccess(c, newToken)
	now := time.Now().UTC()
	_ = g.refresh.Touch(ctx, rt.Value, now)
	_ = g.sessions.Touch(ctx, sess.ID, claims.UserID)

	setIdentity(c, Identity{UserID: claims.UserID, Role: claims.Role, SessionID: sess.ID}, newToken)
	c.Next()
}

// versionCurrent rejects tokens minted before the user's last version bump.
func (g *Gate) versionCurrent(c *gin.Context, claims *security.AccessClaims) bool {
	version, err := g.revocation.CurrentVersion(c.Request.Context(), claims.UserID)
	if err != nil {
		errorJSON(c, http.StatusServiceUnavailable, "service unavailable")
		return false
	}
	if claims.TokenVersion < version {
		errorJSON(c, http.StatusUnauthorized, "token has been revoked")
		return false
	}
	return true
}

// liveSession resolves the claims' session and checks ownership. On failure
// the response has been written and nil is returned.
func (g *Gate) liveSession(c *gin.Context, claims *security.AccessClaims) *sessiondomain.Session {
	sess, err := g.sessions.GetActive(c.Request.Context(), claims.SessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			errorJSON(c, http.StatusUnauthorized, "session expired, please log in again")
			return nil
		}
		errorJSON(c, http.StatusServiceUnavailable, "service unavailable")
		return nil
	}
	if sess.UserID != claims.UserID {
		errorJSON(c, http.StatusUnauthorized, "session expired, please log in again")
		return nil
	}
	return sess
}

// RequireRoles admits only callers whose role is in the list. Must run after
// the gate.
func RequireRoles(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(roles))
	for _, r := range roles {
		allowed[r] = true
	}
	return func(c *gin.Context) {
		id, ok := GetIdentity(c)
		if !ok {
			errorJSON(c, http.StatusUnauthorized, "missing or invalid authorization")
			return
		}
		if !allowed[id.Role] {
			errorJSON(c, http.StatusForbidden, "insufficient role")
			return
		}
		c.Next()
	}
}

// bearerToken returns the Bearer token from the Authorization header, or "" if absent or malformed.
func bearerToken(c *gin.Context) string {
	v := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(v) < len(bearerPrefix) {
		return ""
	}
	if !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
