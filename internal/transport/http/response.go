package httpapi

import "github.com/gin-gonic/gin"

// errorJSON writes a failure envelope and aborts the request.
func errorJSON(c *gin.Context, status int, message string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "message": message})
}

// okJSON writes a success envelope.
func okJSON(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}
