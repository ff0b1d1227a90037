package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"knowte-api/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type staticVerifier map[string]auth.Subject

func (v staticVerifier) VerifyCredential(token string) (auth.Subject, error) {
	s, ok := v[token]
	if !ok {
		return auth.Subject{}, errors.New("bad token")
	}
	return s, nil
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestLogger(), JWTAuth(staticVerifier{"good": {ID: "user-1", Email: "alice@example.com"}}))
	r.GET("/protected", func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString(SubjectIDKey)+"|"+c.GetString(EmailKey))
	})
	return r
}

func TestJWTAuth_Success(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer good")
	w := httptest.NewRecorder()

	newRouter().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "user-1|alice@example.com", w.Body.String())
}

func TestJWTAuth_QueryToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/protected?token=good", nil)
	w := httptest.NewRecorder()

	newRouter().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestJWTAuth_MissingHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	w := httptest.NewRecorder()

	newRouter().ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestJWTAuth_InvalidToken(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer nope")
	w := httptest.NewRecorder()

	newRouter().ServeHTTP(w, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "Invalid or expired token")
}
