package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	userdomain "cloudbalance/backend/internal/user/domain"
)

var allRoles = []string{userdomain.RoleAdmin, userdomain.RoleReadOnly, userdomain.RoleCustomer}

// NewRouter assembles the HTTP surface: public auth endpoints, the token
// gate, and the role-guarded protected routes.
func NewRouter(gate *Gate, h *AuthHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group(apiPath)

	authGroup := api.Group("/auth")
	authGroup.POST("/login", h.Login)
	authGroup.POST("/force-login", h.ForceLogin)
	authGroup.POST("/refresh-token", h.Refresh)

	protected := api.Group("", gate.Authenticate())
	protected.POST("/auth/logout", h.Logout)
	protected.GET("/me", RequireRoles(allRoles...), h.Me)
	protected.GET("/sessions", RequireRoles(allRoles...), h.Sessions)

	admin := protected.Group("/admin", RequireRoles(userdomain.RoleAdmin))
	admin.GET("/users/:id/sessions", h.UserSessions)
	admin.GET("/users/:id/audit", h.UserAudit)

	return r
}
