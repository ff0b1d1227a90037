package realtime

import (
	"encoding/json"
	"sync"

	"github.com/sirupsen/logrus"
)

// Event types pushed to subscribers.
const (
	RoomCreated        = "room_created"
	RoomUpdated        = "room_updated"
	RoomDeleted        = "room_deleted"
	DocumentRegistered = "document_registered"
	DocumentDeleted    = "document_deleted"
)

// Event is the JSON message sent to a subject's connections.
type Event struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	SubjectID string `json:"subject_id"`
	Version   int64  `json:"version"`
}

// Client represents a single websocket client connection.
// The network conn itself is managed in the ws handler.
type Client interface {
	Send(message []byte) bool
	Close()
}

// Publisher is the part of Hub that services and handlers depend on.
type Publisher interface {
	Publish(subjectID string, ev Event)
}

// Hub maintains active subject connections and fans events out to them.
// Construct one per process with NewHub.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]map[Client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: make(map[string]map[Client]struct{})}
}

// Register adds a client under a subject ID.
func (h *Hub) Register(subjectID string, client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[subjectID]; !ok {
		h.clients[subjectID] = make(map[Client]struct{})
	}
	h.clients[subjectID][client] = struct{}{}
}

// Unregister removes a client; if the subject has no more clients, cleans up map.
func (h *Hub) Unregister(subjectID string, client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if clients, ok := h.clients[subjectID]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.clients, subjectID)
		}
	}
}

// Connections reports how many clients a subject has open.
func (h *Hub) Connections(subjectID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[subjectID])
}

// Broadcast sends a raw message to all clients of a subject.
func (h *Hub) Broadcast(subjectID string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients[subjectID] {
		if !c.Send(message) {
			// The handler's reader loop unregisters dead clients.
			logrus.WithField("subject_id", subjectID).Debug("[REALTIME] send failed")
		}
	}
}

// Publish encodes ev and broadcasts it to ev's subject.
func (h *Hub) Publish(subjectID string, ev Event) {
	ev.SubjectID = subjectID
	msg, err := json.Marshal(ev)
	if err != nil {
		logrus.WithError(err).Warn("[REALTIME] could not encode event")
		return
	}
	h.Broadcast(subjectID, msg)
}
