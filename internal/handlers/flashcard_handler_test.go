package handlers

import (
	"context"
	"net/http"
	"testing"

	"knowte-api/internal/flashcard"
	"knowte-api/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestGenerateFlashcards(t *testing.T) {
	gin.SetMode(gin.TestMode)
	docs := newDocuments(t, 1, 1024)
	up, err := docs.Register(context.Background(), samplePDF, "bio.pdf", "application/pdf")
	require.NoError(t, err)

	backend := &testutil.FakeBackend{Reply: "Sure! {\"flashcards\":[" +
		"{\"question\":\"What does photosynthesis produce?\",\"answer\":\"Chemical energy\"}," +
		"{\"question\":\"What drives it?\",\"answer\":\"Light\"}," +
		"{\"question\":\"\",\"answer\":\"skipped\"}]}"}
	r := gin.New()
	r.POST("/api/flashcard/generate", NewFlashcardHandler(flashcard.NewGenerator(docs, backend, "phi3")).Generate)

	w := doJSON(r, http.MethodPost, "/api/flashcard/generate", "", map[string]any{
		"document_id": up.DocumentID,
		"prompt":      "Key terms",
		"count":       3,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	deck := decode[flashcard.Deck](t, w)
	require.Equal(t, up.DocumentID, deck.DocumentID)
	require.Equal(t, "phi3", deck.Model)
	require.Len(t, deck.Flashcards, 2)
	require.Equal(t, "Light", deck.Flashcards[1].Answer)
}

func TestGenerateFlashcards_Errors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	docs := newDocuments(t, 1, 1024)
	up, err := docs.Register(context.Background(), samplePDF, "bio.pdf", "application/pdf")
	require.NoError(t, err)

	r := gin.New()
	r.POST("/api/flashcard/generate", NewFlashcardHandler(flashcard.NewGenerator(docs, &testutil.FakeBackend{Reply: "no json here"}, "phi3")).Generate)

	w := doJSON(r, http.MethodPost, "/api/flashcard/generate", "", map[string]any{
		"document_id": up.DocumentID,
		"prompt":      "Key terms",
		"count":       50,
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(r, http.MethodPost, "/api/flashcard/generate", "", map[string]any{
		"document_id": "missing",
		"prompt":      "Key terms",
	})
	require.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(r, http.MethodPost, "/api/flashcard/generate", "", map[string]any{
		"document_id": up.DocumentID,
		"prompt":      "Key terms",
	})
	require.Equal(t, http.StatusBadGateway, w.Code)
	require.Equal(t, "Model response did not contain a valid flashcards array.", decode[errorBody](t, w).Error)
}
