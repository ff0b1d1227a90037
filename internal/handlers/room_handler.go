package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"knowte-api/internal/middleware"
	"knowte-api/internal/models"
	"knowte-api/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultRoomLimit  = 20
	maxRoomLimit      = 100
	defaultMaxMembers = 8
)

// CreateRoomRequest represents the request payload for creating a room
type CreateRoomRequest struct {
	Name        string   `json:"name" binding:"required,max=150"`
	Tags        []string `json:"tags"`
	Description string   `json:"description"`
	IsPrivate   bool     `json:"is_private"`
	MaxMembers  *int     `json:"max_members" binding:"omitempty,min=1,max=100"`
}

// UpdateRoomRequest represents the request payload for updating a room
type UpdateRoomRequest struct {
	Name        *string   `json:"name" binding:"omitempty,min=1,max=150"`
	Tags        *[]string `json:"tags"`
	Description *string   `json:"description"`
	IsPrivate   *bool     `json:"is_private"`
	MaxMembers  *int      `json:"max_members" binding:"omitempty,min=1,max=100"`
}

// RoomListResponse is one page of rooms, newest first
type RoomListResponse struct {
	Items      []models.Room `json:"items"`
	NextCursor *string       `json:"next_cursor"`
}

type RoomHandler struct {
	db     *gorm.DB
	events realtime.Publisher
	now    func() time.Time
}

func NewRoomHandler(db *gorm.DB, events realtime.Publisher) *RoomHandler {
	return &RoomHandler{db: db, events: events, now: time.Now}
}

/*
List handles GET /api/rooms
Query params: limit (1..100, default 20), cursor (RFC3339, returns rooms
created strictly before it), owner_id.
*/
func (h *RoomHandler) List(c *gin.Context) {
	limit := defaultRoomLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxRoomLimit {
			badRequest(c, "limit must be between 1 and 100")
			return
		}
		limit = n
	}

	query := h.db.Model(&models.Room{})
	if raw := c.Query("cursor"); raw != "" {
		cursor, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			badRequest(c, "cursor must be an RFC3339 timestamp")
			return
		}
		query = query.Where("created_at < ?", cursor.UTC())
	}
	if owner := c.Query("owner_id"); owner != "" {
		query = query.Where("owner_id = ?", owner)
	}

	var rooms []models.Room
	if err := query.Order("created_at desc").Limit(limit + 1).Find(&rooms).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch rooms", "kind": "internal_error"})
		return
	}

	resp := RoomListResponse{Items: rooms}
	if len(rooms) > limit {
		resp.Items = rooms[:limit]
		next := resp.Items[limit-1].CreatedAt.UTC().Format(time.RFC3339Nano)
		resp.NextCursor = &next
	}
	c.JSON(http.StatusOK, resp)
}

// Get handles GET /api/rooms/:id
func (h *RoomHandler) Get(c *gin.Context) {
	var room models.Room
	if err := h.db.Where("id = ?", c.Param("id")).First(&room).Error; err != nil {
		h.lookupFailed(c, err)
		return
	}
	c.JSON(http.StatusOK, room)
}

// Create handles POST /api/rooms
func (h *RoomHandler) Create(c *gin.Context) {
	subjectID := c.GetString(middleware.SubjectIDKey)

	var req CreateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		badRequest(c, "name must not be blank")
		return
	}

	maxMembers := defaultMaxMembers
	if req.MaxMembers != nil {
		maxMembers = *req.MaxMembers
	}
	tags := req.Tags
	if tags == nil {
		tags = []string{}
	}

	now := h.now().UTC()
	room := models.Room{
		ID:          uuid.NewString(),
		Name:        strings.TrimSpace(req.Name),
		Tags:        tags,
		Description: req.Description,
		IsPrivate:   req.IsPrivate,
		MaxMembers:  maxMembers,
		OwnerID:     subjectID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := h.db.Create(&room).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create room", "kind": "internal_error"})
		return
	}

	h.publish(subjectID, realtime.RoomCreated, room)
	c.JSON(http.StatusCreated, room)
}

// Update handles PATCH /api/rooms/:id
// Only the owner may update a room.
func (h *RoomHandler) Update(c *gin.Context) {
	subjectID := c.GetString(middleware.SubjectIDKey)

	var req UpdateRoomRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}

	if req == (UpdateRoomRequest{}) {
		badRequest(c, "No fields provided for update.")
		return
	}

	var room models.Room
	if err := h.db.Where("id = ? AND owner_id = ?", c.Param("id"), subjectID).First(&room).Error; err != nil {
		h.lookupFailed(c, err)
		return
	}

	if req.Name != nil {
		room.Name = strings.TrimSpace(*req.Name)
	}
	if req.Tags != nil {
		room.Tags = *req.Tags
	}
	if req.Description != nil {
		room.Description = *req.Description
	}
	if req.IsPrivate != nil {
		room.IsPrivate = *req.IsPrivate
	}
	if req.MaxMembers != nil {
		room.MaxMembers = *req.MaxMembers
	}
	room.UpdatedAt = h.now().UTC()

	if err := h.db.Save(&room).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update room", "kind": "internal_error"})
		return
	}

	h.publish(subjectID, realtime.RoomUpdated, room)
	c.JSON(http.StatusOK, room)
}

// Delete handles DELETE /api/rooms/:id
// Only the owner may delete a room.
func (h *RoomHandler) Delete(c *gin.Context) {
	subjectID := c.GetString(middleware.SubjectIDKey)

	var room models.Room
	if err := h.db.Where("id = ? AND owner_id = ?", c.Param("id"), subjectID).First(&room).Error; err != nil {
		h.lookupFailed(c, err)
		return
	}
	if err := h.db.Delete(&room).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to delete room", "kind": "internal_error"})
		return
	}

	h.publish(subjectID, realtime.RoomDeleted, room)
	c.JSON(http.StatusOK, gin.H{"id": room.ID, "deleted": true})
}

func (h *RoomHandler) lookupFailed(c *gin.Context, err error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Room not found.", "kind": "not_found"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch room", "kind": "internal_error"})
}

func (h *RoomHandler) publish(subjectID, eventType string, room models.Room) {
	h.events.Publish(subjectID, realtime.Event{
		Type:    eventType,
		ID:      room.ID,
		Version: room.UpdatedAt.UnixMilli(),
	})
}
