package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/blindtest-party/backend/pkg/response"
)

// RequireRole returns a middleware that allows only the given roles.
func RequireRole(roles ...string) gin.HandlerFunc {
	allowed := make(map[string]struct{})
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		roleVal, ok := c.Get(ContextRole)
		if !ok {
			response.Unauthorized(c, "missing token context")
			c.Abort()
			return
		}
		role, _ := roleVal.(string)
		if _, ok := allowed[role]; !ok {
			response.Forbidden(c, "insufficient permissions")
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireSession rejects tokens issued for another session than the :code
// path parameter.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims := Claims(c)
		if claims == nil {
			response.Unauthorized(c, "missing token context")
			c.Abort()
			return
		}
		if !strings.EqualFold(claims.SessionCode, strings.TrimSpace(c.Param("code"))) {
			response.Forbidden(c, "token is not valid for this session")
			c.Abort()
			return
		}
		c.Next()
	}
}
