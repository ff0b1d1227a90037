package handlers

import (
	"net/http"

	"knowte-api/internal/flashcard"

	"github.com/gin-gonic/gin"
)

type FlashcardHandler struct {
	generator *flashcard.Generator
}

func NewFlashcardHandler(generator *flashcard.Generator) *FlashcardHandler {
	return &FlashcardHandler{generator: generator}
}

// Generate handles POST /api/flashcard/generate
func (h *FlashcardHandler) Generate(c *gin.Context) {
	var req flashcard.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	deck, err := h.generator.Generate(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, deck)
}
