package handlers

import (
	"net/http"
	"testing"
	"time"

	"knowte-api/internal/models"
	"knowte-api/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

type roomFixture struct {
	env    env
	r      *gin.Engine
	events *recordingPublisher
	now    time.Time
}

func newRoomFixture(t *testing.T) *roomFixture {
	t.Helper()
	f := &roomFixture{env: newEnv(t), events: &recordingPublisher{}, now: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)}
	h := NewRoomHandler(f.env.db, f.events)
	h.now = func() time.Time {
		f.now = f.now.Add(time.Second)
		return f.now
	}

	f.r = gin.New()
	g := f.env.protected(f.r)
	g.GET("/api/rooms", h.List)
	g.GET("/api/rooms/:id", h.Get)
	g.POST("/api/rooms", h.Create)
	g.PATCH("/api/rooms/:id", h.Update)
	g.DELETE("/api/rooms/:id", h.Delete)
	return f
}

func TestCreateRoom(t *testing.T) {
	f := newRoomFixture(t)
	ownerID, token := f.env.login(t, "owner@example.com")

	w := doJSON(f.r, http.MethodPost, "/api/rooms", token, map[string]any{
		"name": "  Biology study group ",
		"tags": []string{"bio", "exam"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	room := decode[models.Room](t, w)
	require.Equal(t, "Biology study group", room.Name)
	require.Equal(t, ownerID, room.OwnerID)
	require.Equal(t, 8, room.MaxMembers)
	require.Equal(t, []string{"bio", "exam"}, room.Tags)

	require.Len(t, f.events.events, 1)
	require.Equal(t, realtime.RoomCreated, f.events.events[0].Type)
	require.Equal(t, room.UpdatedAt.UnixMilli(), f.events.events[0].Version)

	w = doJSON(f.r, http.MethodGet, "/api/rooms/"+room.ID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, room.ID, decode[models.Room](t, w).ID)
}

func TestCreateRoom_Validation(t *testing.T) {
	f := newRoomFixture(t)
	_, token := f.env.login(t, "owner@example.com")

	w := doJSON(f.r, http.MethodPost, "/api/rooms", token, map[string]any{"name": "   "})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(f.r, http.MethodPost, "/api/rooms", token, map[string]any{"name": "x", "max_members": 500})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(f.r, http.MethodPost, "/api/rooms", "", map[string]any{"name": "x"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestListRooms_Pagination(t *testing.T) {
	f := newRoomFixture(t)
	_, token := f.env.login(t, "owner@example.com")
	for _, name := range []string{"one", "two", "three"} {
		w := doJSON(f.r, http.MethodPost, "/api/rooms", token, map[string]any{"name": name})
		require.Equal(t, http.StatusCreated, w.Code)
	}

	w := doJSON(f.r, http.MethodGet, "/api/rooms?limit=2", token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page := decode[RoomListResponse](t, w)
	require.Len(t, page.Items, 2)
	require.Equal(t, "three", page.Items[0].Name)
	require.Equal(t, "two", page.Items[1].Name)
	require.NotNil(t, page.NextCursor)

	w = doJSON(f.r, http.MethodGet, "/api/rooms?limit=2&cursor="+*page.NextCursor, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	page = decode[RoomListResponse](t, w)
	require.Len(t, page.Items, 1)
	require.Equal(t, "one", page.Items[0].Name)
	require.Nil(t, page.NextCursor)

	w = doJSON(f.r, http.MethodGet, "/api/rooms?limit=0", token, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	w = doJSON(f.r, http.MethodGet, "/api/rooms?cursor=yesterday", token, nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestUpdateRoom(t *testing.T) {
	f := newRoomFixture(t)
	_, token := f.env.login(t, "owner@example.com")
	_, otherToken := f.env.login(t, "other@example.com")
	room := decode[models.Room](t, doJSON(f.r, http.MethodPost, "/api/rooms", token, map[string]any{"name": "Chem"}))

	w := doJSON(f.r, http.MethodPatch, "/api/rooms/"+room.ID, token, map[string]any{})
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.Equal(t, "No fields provided for update.", decode[errorBody](t, w).Error)

	w = doJSON(f.r, http.MethodPatch, "/api/rooms/"+room.ID, otherToken, map[string]any{"name": "Hijacked"})
	require.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(f.r, http.MethodPatch, "/api/rooms/"+room.ID, token, map[string]any{"name": "Chemistry", "is_private": true})
	require.Equal(t, http.StatusOK, w.Code)
	updated := decode[models.Room](t, w)
	require.Equal(t, "Chemistry", updated.Name)
	require.True(t, updated.IsPrivate)
	require.True(t, updated.UpdatedAt.After(room.UpdatedAt))
	require.Equal(t, realtime.RoomUpdated, f.events.events[len(f.events.events)-1].Type)
}

func TestDeleteRoom(t *testing.T) {
	f := newRoomFixture(t)
	_, token := f.env.login(t, "owner@example.com")
	_, otherToken := f.env.login(t, "other@example.com")
	room := decode[models.Room](t, doJSON(f.r, http.MethodPost, "/api/rooms", token, map[string]any{"name": "Physics"}))

	w := doJSON(f.r, http.MethodDelete, "/api/rooms/"+room.ID, otherToken, nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	w = doJSON(f.r, http.MethodDelete, "/api/rooms/"+room.ID, token, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, realtime.RoomDeleted, f.events.events[len(f.events.events)-1].Type)

	w = doJSON(f.r, http.MethodGet, "/api/rooms/"+room.ID, token, nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}
