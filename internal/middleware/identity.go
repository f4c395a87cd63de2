package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// UserHeader carries the authenticated user id, set by the gateway in front
// of this service.
const UserHeader = "X-User-ID"

const userKey = "user_id"

// RequireUser rejects requests without a user id and stores it for handlers.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(UserHeader))
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing " + UserHeader + " header"})
			return
		}
		c.Set(userKey, userID)
		c.Next()
	}
}

// UserID returns the id stored by RequireUser.
func UserID(c *gin.Context) string {
	return c.GetString(userKey)
}

// UserKey buckets rate limits per user, falling back to the client IP.
func UserKey(c *gin.Context) string {
	if id := UserID(c); id != "" {
		return "user:" + id
	}
	return "ip:" + c.ClientIP()
}
