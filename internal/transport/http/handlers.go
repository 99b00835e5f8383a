package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	auditdomain "cloudbalance/backend/internal/audit/domain"
	"cloudbalance/backend/internal/auth"
	"cloudbalance/backend/internal/security"
	sessiondomain "cloudbalance/backend/internal/session/domain"
	userdomain "cloudbalance/backend/internal/user/domain"
)

// AuditReader is the read side of the audit log, for the admin trail endpoint.
type AuditReader interface {
	ListByUser(ctx context.Context, userID int64, limit, offset int32) ([]*auditdomain.AuditLog, error)
}

// AuthHandler serves the auth endpoints.
type AuthHandler struct {
	svc     *auth.Service
	tokens  *security.TokenProvider
	cookies CookieWriter
	audits  AuditReader
}

// NewAuthHandler returns an AuthHandler. audits may be nil; the audit trail
// endpoint then reports empty.
func NewAuthHandler(svc *auth.Service, tokens *security.TokenProvider, cookies CookieWriter, audits AuditReader) *AuthHandler {
	return &AuthHandler{svc: svc, tokens: tokens, cookies: cookies, audits: audits}
}

type credentialsRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type userView struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Name      string `json:"name"`
	Role      string `json:"role"`
}

type loginView struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	SessionID   string    `json:"session_id"`
	User        userView  `json:"user"`
}

func viewUser(u *userdomain.User) userView {
	return userView{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Name:      u.FullName(),
		Role:      u.Role,
	}
}

// Login handles POST /api/auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	h.login(c, h.svc.Login)
}

// ForceLogin handles POST /api/auth/force-login. Same contract as Login but
// displaces the user's existing sessions instead of reporting a conflict.
func (h *AuthHandler) ForceLogin(c *gin.Context) {
	h.login(c, h.svc.ForceLogin)
}

func (h *AuthHandler) login(c *gin.Context, flow func(ctx context.Context, email, password, deviceLabel, ip string) (*auth.LoginResult, error)) {
	var req credentialsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorJSON(c, http.StatusBadRequest, "email and password are required")
		return
	}
	res, err := flow(c.Request.Context(), req.Email, req.Password, deviceLabel(c), c.ClientIP())
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			errorJSON(c, http.StatusUnauthorized, "invalid credentials")
			return
		}
		errorJSON(c, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	if res.ActiveSessions != nil {
		c.JSON(http.StatusConflict, gin.H{
			"success":         false,
			"message":         "maximum concurrent sessions reached",
			"active_sessions": viewSessions(res.ActiveSessions),
		})
		return
	}

	h.cookies.SetAccess(c, res.AccessToken)
	h.cookies.SetRefresh(c, res.RefreshToken)
	okJSON(c, http.StatusOK, loginView{
		AccessToken: res.AccessToken,
		ExpiresAt:   res.ExpiresAt,
		SessionID:   res.SessionID,
		User:        viewUser(res.User),
	})
}

// Refresh handles POST /api/auth/refresh-token. The refresh token arrives in
// its cookie or the request body; an expired access token, if presented,
// pins the refresh to its session.
func (h *AuthHandler) Refresh(c *gin.Context) {
	value, _ := c.Cookie(refreshCookieName)
	if value == "" {
		var req refreshRequest
		if err := c.ShouldBindJSON(&req); err == nil {
			value = req.RefreshToken
		}
	}
	if value == "" {
		errorJSON(c, http.StatusBadRequest, "refresh token is required")
		return
	}

	res, err := h.svc.Refresh(c.Request.Context(), value, h.sessionHint(c))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrSessionExpired):
			errorJSON(c, http.StatusUnauthorized, "session expired, please log in again")
		case errors.Is(err, auth.ErrTokenRevoked):
			errorJSON(c, http.StatusUnauthorized, "token has been revoked")
		default:
			errorJSON(c, http.StatusServiceUnavailable, "service unavailable")
		}
		return
	}

	h.cookies.SetAccess(c, res.AccessToken)
	okJSON(c, http.StatusOK, loginView{
		AccessToken: res.AccessToken,
		ExpiresAt:   res.ExpiresAt,
		SessionID:   res.SessionID,
		User:        viewUser(res.User),
	})
}

// Logout handles POST /api/auth/logout. Runs behind the gate.
func (h *AuthHandler) Logout(c *gin.Context) {
	id, ok := GetIdentity(c)
	if !ok {
		errorJSON(c, http.StatusUnauthorized, "missing or invalid authorization")
		return
	}
	if err := h.svc.Logout(c.Request.Context(), id.UserID, id.SessionID, getAccessToken(c), c.ClientIP()); err != nil {
		errorJSON(c, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	h.cookies.Clear(c)
	okJSON(c, http.StatusOK, gin.H{"message": "logged out"})
}

// Me handles GET /api/me.
func (h *AuthHandler) Me(c *gin.Context) {
	id, ok := GetIdentity(c)
	if !ok {
		errorJSON(c, http.StatusUnauthorized, "missing or invalid authorization")
		return
	}
	user, err := h.svc.Profile(c.Request.Context(), id.UserID)
	if err != nil {
		errorJSON(c, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	if user == nil {
		errorJSON(c, http.StatusUnauthorized, "session expired, please log in again")
		return
	}
	okJSON(c, http.StatusOK, viewUser(user))
}

// Sessions handles GET /api/sessions: the caller's own live sessions.
func (h *AuthHandler) Sessions(c *gin.Context) {
	id, ok := GetIdentity(c)
	if !ok {
		errorJSON(c, http.StatusUnauthorized, "missing or invalid authorization")
		return
	}
	live, err := h.svc.ActiveSessions(c.Request.Context(), id.UserID)
	if err != nil {
		errorJSON(c, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	okJSON(c, http.StatusOK, viewSessions(live))
}

// UserSessions handles GET /api/admin/users/:id/sessions.
func (h *AuthHandler) UserSessions(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid user id")
		return
	}
	live, err := h.svc.ActiveSessions(c.Request.Context(), userID)
	if err != nil {
		errorJSON(c, http.StatusServiceUnavailable, "service unavailable")
		return
	}
	okJSON(c, http.StatusOK, viewSessions(live))
}

// UserAudit handles GET /api/admin/users/:id/audit.
func (h *AuthHandler) UserAudit(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		errorJSON(c, http.StatusBadRequest, "invalid user id")
		return
	}
	limit := int32(50)
	if v, err := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 32); err == nil && v > 0 && v <= 500 {
		limit = int32(v)
	}
	offset := int32(0)
	if v, err := strconv.ParseInt(c.DefaultQuery("offset", "0"), 10, 32); err == nil && v >= 0 {
		offset = int32(v)
	}

	events := []auditView{}
	if h.audits != nil {
		list, err := h.audits.ListByUser(c.Request.Context(), userID, limit, offset)
		if err != nil {
			errorJSON(c, http.StatusServiceUnavailable, "service unavailable")
			return
		}
		for _, a := range list {
			events = append(events, auditView{
				ID: a.ID, Action: a.Action, IP: a.IP, Metadata: a.Metadata, CreatedAt: a.CreatedAt,
			})
		}
	}
	okJSON(c, http.StatusOK, events)
}

type auditView struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	IP        string    `json:"ip"`
	Metadata  string    `json:"metadata,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// sessionHint extracts the session id from an access token on the request,
// accepting expired tokens; only the verified signature matters here.
func (h *AuthHandler) sessionHint(c *gin.Context) string {
	token := bearerToken(c)
	if token == "" {
		token, _ = c.Cookie(accessCookieName)
	}
	if token == "" {
		return ""
	}
	claims, err := h.tokens.Decode(token)
	if claims == nil || (err != nil && !errors.Is(err, security.ErrTokenExpired)) {
		return ""
	}
	return claims.SessionID
}

type sessionView struct {
	ID               string    `json:"id"`
	DeviceLabel      string    `json:"device_label"`
	IPAddress        string    `json:"ip_address"`
	LoginTime        time.Time `json:"login_time"`
	LastActivityTime time.Time `json:"last_activity_time"`
}

func viewSessions(sessions []*sessiondomain.Session) []sessionView {
	out := make([]sessionView, len(sessions))
	for i, s := range sessions {
		out[i] = sessionView{
			ID:               s.ID,
			DeviceLabel:      s.DeviceLabel,
			IPAddress:        s.IPAddress,
			LoginTime:        s.LoginTime,
			LastActivityTime: s.LastActivityTime,
		}
	}
	return out
}

// deviceLabel derives a coarse device label from the User-Agent header.
func deviceLabel(c *gin.Context) string {
	ua := c.Request.UserAgent()
	if ua == "" {
		return "unknown"
	}
	if len(ua) > 200 {
		ua = ua[:200]
	}
	return ua
}
