package auth

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// RequireAccessToken verifies an access token and injects identity into request context.
// It does not perform RBAC checks; those belong to internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return requireAccessToken(m, false)
}

// RequireAccessTokenOrQuery also accepts ?token= for browser WebSocket
// clients, which cannot set headers on the upgrade request.
func RequireAccessTokenOrQuery(m *Manager) gin.HandlerFunc {
	return requireAccessToken(m, true)
}

func requireAccessToken(m *Manager, allowQuery bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := ""
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		if strings.HasPrefix(raw, bearerPrefix) {
			tok = strings.TrimPrefix(raw, bearerPrefix)
		} else if allowQuery {
			tok = strings.TrimSpace(c.Query("token"))
		}
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		ctx := WithIdentity(c.Request.Context(), claims.UserID, claims.Role)
		c.Request = c.Request.WithContext(ctx)

		// Also store on gin context for handler convenience.
		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)

		c.Next()
	}
}
