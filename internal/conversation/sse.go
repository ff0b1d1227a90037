package conversation

import (
	"encoding/json"
	"fmt"
	"io"

	"knowte-api/internal/generation"
)

// Event is the JSON payload of one server-sent event.
type Event struct {
	SessionKey string `json:"session_key"`
	Delta      string `json:"delta"`
	Done       bool   `json:"done"`
}

// EncodeEvent frames a chunk as "data: <json>\n\n".
func EncodeEvent(ch generation.Chunk) ([]byte, error) {
	payload, err := json.Marshal(Event{SessionKey: ch.Key, Delta: ch.Delta, Done: ch.Done})
	if err != nil {
		return nil, err
	}
	return fmt.Appendf(nil, "data: %s\n\n", payload), nil
}

// WriteEvents writes chunks until the terminal one. flush runs after every
// event. It stops early when a write fails, which drops the stream without
// committing a reply.
func WriteEvents(w io.Writer, flush func(), chunks func(func(generation.Chunk) bool)) error {
	for ch := range chunks {
		b, err := EncodeEvent(ch)
		if err != nil {
			return err
		}
		if _, err := w.Write(b); err != nil {
			return err
		}
		if flush != nil {
			flush()
		}
		if ch.Done {
			return nil
		}
	}
	return nil
}
