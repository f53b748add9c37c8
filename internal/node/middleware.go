package node

import (
	"net/http"
	"strings"
	"time"

	"github.com/bhandras/livecount/internal/logger"
	"github.com/bhandras/livecount/internal/protocol/wire"
	"github.com/gin-gonic/gin"
)

const claimsKey = "claims"

// AuthMiddleware rejects requests without a valid bearer access token.
func AuthMiddleware(tokens *TokenManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, wire.ErrorResponse{Error: "missing or malformed authorization header"})
			return
		}
		claims, err := tokens.VerifyAccess(token)
		if err != nil {
			logger.Debugf("Rejected token: %v", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, wire.ErrorResponse{Error: "invalid token"})
			return
		}
		c.Set(claimsKey, claims)
		c.Next()
	}
}

// LoggingMiddleware logs HTTP requests.
func LoggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		logger.Debugf("[%s] %s - %d (%v)", c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// bearerToken extracts the token of an "Authorization: Bearer <token>"
// header.
func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || strings.TrimSpace(parts[1]) == "" {
		return "", false
	}
	return strings.TrimSpace(parts[1]), true
}
