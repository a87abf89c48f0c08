package rbac

import (
	"net/http"

	"callsignal/internal/auth"

	"github.com/gin-gonic/gin"
)

// RequireIdentity enforces that a verified nickname exists in context.
// It does not check that the session is still online; that is the switchboard's call.
func RequireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		nick, err := auth.Nickname(c.Request.Context())
		if err != nil || nick == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session identity required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// Operators pass every check.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}

		if IsOperator(role) {
			c.Next()
			return
		}

		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
