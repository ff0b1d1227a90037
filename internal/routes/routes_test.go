package routes

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"knowte-api/internal/auth"
	"knowte-api/internal/conversation"
	"knowte-api/internal/realtime"
	"knowte-api/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T, origins ...string) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := testutil.NewInMemoryDB()
	require.NoError(t, err)
	conv, err := conversation.NewService(&testutil.FakeBackend{Reply: "ok"}, conversation.Config{
		Model:      "phi3",
		MaxEntries: 2,
		MaxItems:   10,
		TTL:        time.Hour,
	})
	require.NoError(t, err)
	return SetupRoutes(Deps{
		DB:             db,
		Identity:       auth.NewLocalIdentity(db, auth.NewTokenIssuer("secret", "knowte-api", "knowte-clients", time.Hour)),
		Conversations:  conv,
		Hub:            realtime.NewHub(),
		MaxUploadBytes: 1 << 20,
		CORSOrigins:    origins,
	})
}

func TestHealth(t *testing.T) {
	r := newRouter(t, "*")
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "ok")
}

func TestMetrics(t *testing.T) {
	r := newRouter(t, "*")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), "go_goroutines")
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	r := newRouter(t, "*")
	for _, path := range []string{"/api/auth/me", "/api/rooms", "/api/users", "/api/agent/sessions/x"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestCORS(t *testing.T) {
	r := newRouter(t, "http://localhost:3000")

	req := httptest.NewRequest(http.MethodOptions, "/api/auth/login", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://evil.example")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
