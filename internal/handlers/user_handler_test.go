package handlers

import (
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestListUsers(t *testing.T) {
	e := newEnv(t)
	_, token := e.login(t, "bob@example.com")
	e.login(t, "alice@example.com")

	r := gin.New()
	e.protected(r).GET("/api/users", NewUserHandler(e.db).List)

	w := doJSON(r, http.MethodGet, "/api/users", token, nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decode[struct {
		Users []UserResponse `json:"users"`
		Count int            `json:"count"`
	}](t, w)
	require.Equal(t, 2, resp.Count)
	require.Equal(t, "alice@example.com", resp.Users[0].Email)
	require.NotContains(t, w.Body.String(), "password")
}
