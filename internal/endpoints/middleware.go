package endpoints

import (
	"net/http"
	"slices"

	"mediascribe/internal/config"

	"github.com/gin-gonic/gin"
)

// CORSMiddleware handles CORS for the frontend. Allowed origins come from
// ALLOWED_ORIGINS; "*" allows everything.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigin(origin) {
			if slices.Contains(config.AllowedOrigins, "*") {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
			c.Header("Access-Control-Max-Age", "86400")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func allowedOrigin(origin string) bool {
	if origin == "" {
		return false
	}
	if slices.Contains(config.AllowedOrigins, "*") {
		return true
	}
	return slices.Contains(config.AllowedOrigins, origin)
}
