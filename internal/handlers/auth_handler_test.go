package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestRegister_ReturnsToken(t *testing.T) {
	e := newEnv(t)
	h := NewAuthHandler(e.identity)
	r := gin.New()
	r.POST("/api/auth/register", h.Register)

	w := doJSON(r, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":        "Alice@Example.com",
		"password":     "password123",
		"display_name": "Alice",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode[AuthResponse](t, w)
	require.NotEmpty(t, resp.Token)
	require.Equal(t, "bearer", resp.TokenType)
	require.Equal(t, int64(3600), resp.ExpiresIn)
	require.Equal(t, "alice@example.com", resp.User.Email)
	require.Equal(t, "Alice", resp.User.DisplayName)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	e := newEnv(t)
	e.login(t, "bob@example.com")
	r := gin.New()
	r.POST("/api/auth/register", NewAuthHandler(e.identity).Register)

	w := doJSON(r, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    "bob@example.com",
		"password": "password123",
	})
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, "conflict", decode[errorBody](t, w).Kind)
}

func TestRegister_InvalidInput(t *testing.T) {
	e := newEnv(t)
	r := gin.New()
	r.POST("/api/auth/register", NewAuthHandler(e.identity).Register)

	w := doJSON(r, http.MethodPost, "/api/auth/register", "", map[string]string{"email": "x"})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email":    "not-an-email",
		"password": "short",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "invalid_input", decode[errorBody](t, w).Kind)
}

func TestLogin(t *testing.T) {
	e := newEnv(t)
	e.login(t, "carol@example.com")
	r := gin.New()
	r.POST("/api/auth/login", NewAuthHandler(e.identity).Login)

	w := doJSON(r, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "carol@example.com",
		"password": "password123",
	})
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, decode[AuthResponse](t, w).Token)

	w = doJSON(r, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email":    "carol@example.com",
		"password": "wrong-password",
	})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Equal(t, "Invalid email or password.", decode[errorBody](t, w).Error)
}

func TestMe(t *testing.T) {
	e := newEnv(t)
	id, token := e.login(t, "dave@example.com")
	r := gin.New()
	e.protected(r).GET("/api/auth/me", NewAuthHandler(e.identity).Me)

	w := doJSON(r, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]string](t, w)
	require.Equal(t, id, body["id"])
	require.Equal(t, "dave@example.com", body["email"])

	w = doJSON(r, http.MethodGet, "/api/auth/me", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}
