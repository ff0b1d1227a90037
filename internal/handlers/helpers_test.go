package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"knowte-api/internal/auth"
	"knowte-api/internal/document"
	"knowte-api/internal/middleware"
	"knowte-api/internal/realtime"
	"knowte-api/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var samplePDF = []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\ntrailer\n<< /Root 1 0 R >>\n%%EOF\n")

type env struct {
	db       *gorm.DB
	identity *auth.LocalIdentity
}

func newEnv(t *testing.T) env {
	t.Helper()
	gin.SetMode(gin.TestMode)
	db, err := testutil.NewInMemoryDB()
	require.NoError(t, err)
	tokens := auth.NewTokenIssuer("test-secret", "knowte-api", "knowte-clients", time.Hour)
	return env{db: db, identity: auth.NewLocalIdentity(db, tokens)}
}

// login registers a user and returns its id and a bearer token.
func (e env) login(t *testing.T, email string) (string, string) {
	t.Helper()
	id, err := e.identity.RegisterCredential(email, "password123", "")
	require.NoError(t, err)
	subject, err := e.identity.Authenticate(email, "password123")
	require.NoError(t, err)
	token, err := e.identity.IssueToken(subject)
	require.NoError(t, err)
	return id, token
}


func (e env) protected(r *gin.Engine) *gin.RouterGroup {
	return r.Group("", middleware.JWTAuth(e.identity))
}

func doJSON(r http.Handler, method, path, token string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, _ := json.Marshal(body)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// recordingPublisher keeps published events for assertions.
type recordingPublisher struct {
	events []realtime.Event
}

func (p *recordingPublisher) Publish(subjectID string, ev realtime.Event) {
	ev.SubjectID = subjectID
	p.events = append(p.events, ev)
}

type stubDecoder struct{ pages int }

func (d stubDecoder) Decode(context.Context, []byte) (document.Decoded, error) {
	out := document.Decoded{PageCount: d.pages, Text: "Photosynthesis turns light into chemical energy."}
	for i := 0; i < d.pages; i++ {
		out.Pages = append(out.Pages, []byte(fmt.Sprintf("page-%d", i+1)))
	}
	return out, nil
}

type stubAnswerer struct{}

func (stubAnswerer) Answer(_ context.Context, page []byte, _ string) (string, float64, error) {
	return "answer from " + string(page), 0.9, nil
}

func (stubAnswerer) Model() string { return "llava" }

func newDocuments(t *testing.T, pages int, maxUpload int64) *document.Service {
	t.Helper()
	svc, err := document.NewService(afero.NewMemMapFs(), stubDecoder{pages: pages}, stubAnswerer{}, document.Config{
		MaxEntries:     4,
		TTL:            time.Hour,
		MaxUploadBytes: maxUpload,
		MaxTextChars:   1000,
		UploadDir:      "uploads",
	})
	require.NoError(t, err)
	return svc
}
