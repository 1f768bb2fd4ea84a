package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

// ServiceKeyAuth gates mutating endpoints (the probe trigger) behind a
// shared service key carried in the X-API-Key header. An empty configured
// key closes the endpoint entirely rather than leaving it open.
func ServiceKeyAuth(serviceKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if serviceKey == "" {
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "Endpoint disabled",
				"message": "SERVICE_API_KEY is not configured",
			})
			c.Abort()
			return
		}

		provided := c.GetHeader("X-API-Key")
		if provided == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Authentication required",
				"message": "Missing X-API-Key header",
			})
			c.Abort()
			return
		}

		if subtle.ConstantTimeCompare([]byte(provided), []byte(serviceKey)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "Authentication failed",
				"message": "Invalid service key",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}
