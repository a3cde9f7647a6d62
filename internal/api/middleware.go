package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"speechkit-bot/internal/auth"
)

const adminIDKey = "admin_id"

// AdminAuth accepts requests carrying a valid admin bearer token whose id
// is still listed as an administrator.
func AdminAuth(secret []byte, isAdmin func(int64) bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		id, err := auth.AdminIDFromToken(token, secret)
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, auth.ErrTokenExpired) {
				msg = "token expired"
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msg})
			return
		}
		if !isAdmin(id) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not an administrator"})
			return
		}

		c.Set(adminIDKey, id)
		c.Next()
	}
}
