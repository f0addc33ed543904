package middleware

import (
	"net/http"
	"strings"

	"github.com/adamscao/ovpnpanel/internal/auth"
	"github.com/gin-gonic/gin"
)

// Session middleware requires a valid session token, taken from the session
// cookie or an "Authorization: Bearer" header
func Session(sessions *auth.SessionManager, cookieName, usernameKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
			token = strings.TrimPrefix(header, "Bearer ")
		} else if cookie, err := c.Cookie(cookieName); err == nil {
			token = cookie
		}

		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "unauthorized",
				"message": "Login required",
			})
			return
		}

		claims, err := sessions.Parse(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"error":   "unauthorized",
				"message": "Session expired or invalid",
			})
			return
		}

		c.Set(usernameKey, claims.Username)
		c.Next()
	}
}
