package handlers

import (
	"io"
	"net/http"

	"knowte-api/internal/apperr"
	"knowte-api/internal/document"
	"knowte-api/internal/middleware"
	"knowte-api/internal/realtime"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
)

// AskRequest represents a question about one page
type AskRequest struct {
	Question string `json:"question" binding:"required"`
	Page     *int   `json:"page"`
}

type DocumentHandler struct {
	documents *document.Service
	events    realtime.Publisher
	maxUpload int64
}

func NewDocumentHandler(documents *document.Service, events realtime.Publisher, maxUpload int64) *DocumentHandler {
	return &DocumentHandler{documents: documents, events: events, maxUpload: maxUpload}
}

// Upload handles POST /api/document/upload (multipart field "file")
func (h *DocumentHandler) Upload(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "A PDF file is required in the \"file\" field.")
		return
	}
	if header.Size > h.maxUpload {
		respondError(c, apperr.New(apperr.KindPayloadTooLarge, "File too large. Max size is %s.", humanize.IBytes(uint64(h.maxUpload))))
		return
	}

	f, err := header.Open()
	if err != nil {
		respondError(c, apperr.Wrap(apperr.KindInternal, err, "Could not read the upload."))
		return
	}
	defer f.Close()
	// One byte past the ceiling is enough for the service to reject it.
	raw, err := io.ReadAll(io.LimitReader(f, h.maxUpload+1))
	if err != nil {
		respondError(c, apperr.Wrap(apperr.KindInternal, err, "Could not read the upload."))
		return
	}

	up, err := h.documents.Register(c.Request.Context(), raw, header.Filename, header.Header.Get("Content-Type"))
	if err != nil {
		respondError(c, err)
		return
	}

	subject := c.GetString(middleware.SubjectIDKey)
	h.events.Publish(subject, realtime.Event{Type: realtime.DocumentRegistered, ID: up.DocumentID, Version: 1})
	c.JSON(http.StatusCreated, up)
}

// Ask handles POST /api/document/:id/ask
func (h *DocumentHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request. A question is required.")
		return
	}
	page := 1
	if req.Page != nil {
		page = *req.Page
	}

	ans, err := h.documents.Answer(c.Request.Context(), c.Param("id"), req.Question, page)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ans)
}

// Text handles GET /api/document/:id/text
func (h *DocumentHandler) Text(c *gin.Context) {
	id := c.Param("id")
	text, err := h.documents.ExtractedText(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"document_id": id, "text": text})
}

// Info handles GET /api/document/:id
func (h *DocumentHandler) Info(c *gin.Context) {
	info, err := h.documents.Info(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// Delete handles DELETE /api/document/:id
func (h *DocumentHandler) Delete(c *gin.Context) {
	id := c.Param("id")
	deleted := h.documents.Delete(id)
	if deleted {
		h.events.Publish(c.GetString(middleware.SubjectIDKey), realtime.Event{Type: realtime.DocumentDeleted, ID: id, Version: 1})
	}
	c.JSON(http.StatusOK, gin.H{"document_id": id, "deleted": deleted})
}
