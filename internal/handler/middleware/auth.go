package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/dermatrack/api/internal/domain"
	"github.com/dermatrack/api/pkg/auth"
)

const claimsKey = "auth.claims"

// RequireAuth blocks any request without a valid session. The session token
// is read from the configured cookie, with an Authorization bearer header as
// fallback for non-browser clients.
func RequireAuth(jwtManager *auth.JWTManager, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := tokenFromRequest(c, cookieName)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		claims, err := jwtManager.ValidateAccessToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session"})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

// CurrentUser returns the authenticated user's claims, or nil when the
// request carries no session (only possible on routes without RequireAuth).
func CurrentUser(c *gin.Context) *domain.Claims {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil
	}
	claims, _ := v.(*domain.Claims)
	return claims
}

func tokenFromRequest(c *gin.Context, cookieName string) string {
	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	return ""
}
