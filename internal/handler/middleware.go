// Package handler provides the HTTP API over the core services.
package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const userIDKey = "user_id"

// Authenticator is the auth collaborator boundary: it turns a bearer
// token into a stable user id. The core treats both as opaque.
type Authenticator interface {
	UserID(ctx context.Context, token string) (string, error)
}

// AuthMiddleware rejects requests without a valid bearer token and stores
// the resolved user id on the request context.
func AuthMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}

		userID, err := auth.UserID(c.Request.Context(), token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

func currentUser(c *gin.Context) string {
	return c.GetString(userIDKey)
}
