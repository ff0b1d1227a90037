package llm

import (
	"context"
	"errors"
	"fmt"

	"knowte-api/internal/apperr"
)

// Message roles understood by the backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn sent to the backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Delta is one incremental piece of a streamed reply.
type Delta struct {
	Content string
	Done    bool
}

// Stream yields deltas until Recv returns io.EOF. Close must always be called.
type Stream interface {
	Recv() (Delta, error)
	Close() error
}

// Backend is the inference service used for chat generation.
type Backend interface {
	ChatOnce(ctx context.Context, model string, messages []Message) (string, error)
	ChatStream(ctx context.Context, model string, messages []Message) (Stream, error)
}

// Error is returned by backend implementations. Detail is the text reported
// by the backend, or the transport failure when it could not be reached.
type Error struct {
	StatusCode  int
	Detail      string
	Unreachable bool
	Err         error
}

func (e *Error) Error() string {
	if e.Unreachable {
		return fmt.Sprintf("cannot reach inference backend: %s", e.Detail)
	}
	return fmt.Sprintf("inference backend error (%d): %s", e.StatusCode, e.Detail)
}

func (e *Error) Unwrap() error { return e.Err }

// Upstream converts a backend failure into an upstream_error carrying the
// backend's own detail text.
func Upstream(err error) error {
	var be *Error
	if errors.As(err, &be) {
		if be.Unreachable {
			return apperr.Wrap(apperr.KindUpstream, err, "Cannot reach inference backend: %s", be.Detail)
		}
		return apperr.Wrap(apperr.KindUpstream, err, "Ollama error: %s", be.Detail)
	}
	return apperr.Wrap(apperr.KindUpstream, err, "Cannot reach inference backend: %v", err)
}
