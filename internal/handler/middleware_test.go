package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type stubAuth struct {
	userID string
	err    error
}

func (s *stubAuth) UserID(_ context.Context, _ string) (string, error) {
	return s.userID, s.err
}

func authRouter(auth Authenticator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/whoami", AuthMiddleware(auth), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": currentUser(c)})
	})
	return router
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		auth       *stubAuth
		wantStatus int
	}{
		{"valid token", "Bearer tok-123", &stubAuth{userID: "alice"}, http.StatusOK},
		{"missing header", "", &stubAuth{userID: "alice"}, http.StatusUnauthorized},
		{"wrong scheme", "Basic tok-123", &stubAuth{userID: "alice"}, http.StatusUnauthorized},
		{"empty token", "Bearer ", &stubAuth{userID: "alice"}, http.StatusUnauthorized},
		{"rejected token", "Bearer tok-123", &stubAuth{err: errors.New("expired")}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := authRouter(tt.auth)

			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantStatus == http.StatusOK {
				assert.JSONEq(t, `{"user_id":"alice"}`, w.Body.String())
			}
		})
	}
}
