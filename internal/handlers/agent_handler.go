package handlers

import (
	"net/http"

	"knowte-api/internal/conversation"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type AgentHandler struct {
	conversations *conversation.Service
}

func NewAgentHandler(conversations *conversation.Service) *AgentHandler {
	return &AgentHandler{conversations: conversations}
}

// Chat handles POST /api/agent/chat
func (h *AgentHandler) Chat(c *gin.Context) {
	var req conversation.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	reply, err := h.conversations.Chat(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

// ChatStream handles POST /api/agent/chat/stream as server-sent events.
// Errors after the first byte arrive as a terminal event, not a status code.
func (h *AgentHandler) ChatStream(c *gin.Context) {
	var req conversation.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "Invalid request body")
		return
	}

	key, chunks, err := h.conversations.ChatStream(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	if err := conversation.WriteEvents(c.Writer, c.Writer.Flush, chunks); err != nil {
		logrus.WithError(err).WithField("session_key", key).Info("[AGENT] stream client went away")
	}
}

// History handles GET /api/agent/sessions/:key
func (h *AgentHandler) History(c *gin.Context) {
	key := c.Param("key")
	items, err := h.conversations.History(key)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_key": key,
		"messages":    items,
		"count":       len(items),
	})
}

// DeleteSession handles DELETE /api/agent/sessions/:key
func (h *AgentHandler) DeleteSession(c *gin.Context) {
	key := c.Param("key")
	c.JSON(http.StatusOK, gin.H{
		"session_key": key,
		"deleted":     h.conversations.Delete(key),
	})
}
