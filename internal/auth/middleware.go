package auth

import (
	"errors"
	"net/http"
	"strings"

	"cactus/internal/utils"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Context keys set by AuthMiddleware
const (
	ContextUserID = "user_id"
	ContextEmail  = "email"
	ContextRole   = "role"
)

// AuthMiddleware validates the bearer token and stores its claims in the context
func AuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(tokenString) == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			c.Abort()
			return
		}

		claims, err := ValidateToken(secret, strings.TrimSpace(tokenString))
		if err != nil {
			log.Warn().Err(err).
				Str("ip", utils.GetRealClientIP(c)).
				Str("path", c.FullPath()).
				Msg("rejected bearer token")
			if errors.Is(err, ErrExpiredToken) {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "token expired, please log in again"})
			} else {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			}
			c.Abort()
			return
		}

		// Store user info in context for handlers to use
		if userID, err := claims.UserID(); err == nil {
			c.Set(ContextUserID, userID)
		}
		c.Set(ContextEmail, claims.Email)
		c.Set(ContextRole, claims.Role)

		c.Next()
	}
}

// RequireServiceRole rejects callers whose token does not carry the service role
func RequireServiceRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsServiceRole(c) {
			c.JSON(http.StatusForbidden, gin.H{"error": "service role required"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// IsServiceRole reports whether the request was authenticated with the service role
func IsServiceRole(c *gin.Context) bool {
	return c.GetString(ContextRole) == RoleService
}

// UserID returns the authenticated user id, if the token carried one
func UserID(c *gin.Context) (int64, bool) {
	v, ok := c.Get(ContextUserID)
	if !ok {
		return 0, false
	}
	id, ok := v.(int64)
	return id, ok
}
