// Package httpapi exposes the auth flows over HTTP: the token gate with
// transparent refresh, role-based route guards, and the login, refresh, and
// logout endpoints with their cookie contract.
package httpapi

import "github.com/gin-gonic/gin"

const (
	identityKey    = "auth_identity"
	accessTokenKey = "auth_access_token"
)

// Identity is the authenticated caller, set on the gin context by the token gate.
type Identity struct {
	UserID    int64
	Role      string
	SessionID string
}

func setIdentity(c *gin.Context, id Identity, rawToken string) {
	c.Set(identityKey, id)
	c.Set(accessTokenKey, rawToken)
}

// GetIdentity returns the authenticated identity and true if the gate set one.
func GetIdentity(c *gin.Context) (Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return Identity{}, false
	}
	id, ok := v.(Identity)
	return id, ok
}

// getAccessToken returns the raw access token the gate admitted the request with.
func getAccessToken(c *gin.Context) string {
	v, ok := c.Get(accessTokenKey)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}
