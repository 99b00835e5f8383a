package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	accessCookieName  = "access_token"
	refreshCookieName = "refresh_token"

	apiPath     = "/api"
	refreshPath = "/api/auth/refresh-token"
)

// CookieWriter writes the auth cookies. The access cookie is scoped to the
// whole API; the refresh cookie only travels to the refresh endpoint so it is
// not replayed on every request.
type CookieWriter struct {
	Secure     bool
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// SetAccess writes the access token cookie.
func (w CookieWriter) SetAccess(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(accessCookieName, token, int(w.AccessTTL.Seconds()), apiPath, "", w.Secure, true)
}

// SetRefresh writes the refresh token cookie.
func (w CookieWriter) SetRefresh(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(refreshCookieName, token, int(w.RefreshTTL.Seconds()), refreshPath, "", w.Secure, true)
}

// Clear expires both auth cookies.
func (w CookieWriter) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie(accessCookieName, "", -1, apiPath, "", w.Secure, true)
	c.SetCookie(refreshCookieName, "", -1, refreshPath, "", w.Secure, true)
}
