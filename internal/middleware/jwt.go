package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/blindtest-party/backend/internal/auth"
	"github.com/blindtest-party/backend/pkg/response"
)

const (
	// ContextClaims is the key for the validated *auth.Claims in gin context.
	ContextClaims = "claims"
	// ContextRole is the key for the token role in gin context.
	ContextRole = "role"
	// ContextPlayerID is the key for the player ID of player tokens.
	ContextPlayerID = "player_id"
)

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// JWT returns a middleware that validates the bearer token and sets its claims in context.
func JWT(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			response.Unauthorized(c, "missing authorization header")
			c.Abort()
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			response.Unauthorized(c, "invalid authorization header")
			c.Abort()
			return
		}
		claims, err := validator.Validate(strings.TrimSpace(parts[1]))
		if err != nil {
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}
		c.Set(ContextClaims, claims)
		c.Set(ContextRole, claims.Role)
		c.Set(ContextPlayerID, claims.PlayerID)
		c.Next()
	}
}

// OptionalJWT sets the claims of a valid bearer token and lets every other
// request through without claims.
func OptionalJWT(validator TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
			if claims, err := validator.Validate(strings.TrimSpace(parts[1])); err == nil {
				c.Set(ContextClaims, claims)
				c.Set(ContextRole, claims.Role)
				c.Set(ContextPlayerID, claims.PlayerID)
			}
		}
		c.Next()
	}
}

// Claims returns the claims set by JWT, or nil.
func Claims(c *gin.Context) *auth.Claims {
	v, ok := c.Get(ContextClaims)
	if !ok {
		return nil
	}
	claims, _ := v.(*auth.Claims)
	return claims
}
