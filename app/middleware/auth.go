package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"crawlfleet/pkg/logger"

	"github.com/gin-gonic/gin"
)

// AuthMiddleware bearer token authentication, an empty apiKey disables it
func AuthMiddleware(apiKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if apiKey == "" {
			c.Next()
			return
		}

		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(apiKey)) != 1 {
			logger.WarnCtx(c.Request.Context(), "unauthorized request to %s, invalid API key", c.FullPath())
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}

		c.Next()
	}
}
