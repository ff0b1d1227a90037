package generation

import (
	"context"
	"errors"
	"io"
	"iter"
	"strings"
	"sync/atomic"

	"knowte-api/internal/apperr"
	"knowte-api/internal/cache"
	"knowte-api/internal/llm"
	"knowte-api/internal/metrics"

	"github.com/sirupsen/logrus"
)

// Stream outcomes recorded in metrics.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Transcript is the slice of the cache the adapter needs. The adapter only
// takes the cache lock through these two calls and never across a backend call.
type Transcript interface {
	// Begin returns the live conversation for key with user appended, creating
	// it from seed when absent, as one step. It returns the key and history.
	Begin(key string, seed []cache.Item, user cache.Item) (string, []cache.Item)
	Append(key string, items ...cache.Item) error
}

// Turn is one user message addressed to a conversation. An empty Key starts
// a new conversation; Seed only applies when the conversation is created.
type Turn struct {
	Key          string
	Seed         []cache.Item
	UserText     string
	SystemPrompt string
}

// Chunk is one streamed event. The first chunk with Done set is the last one.
type Chunk struct {
	Key   string
	Delta string
	Done  bool
	// Err marks the terminal chunk of a failed stream; Delta holds the message.
	Err bool
}

type Options struct {
	Backend      llm.Backend
	Transcript   Transcript
	Model        string
	SystemPrompt string
}

// Adapter runs chat turns against the inference backend and folds the
// results back into the transcript.
type Adapter struct {
	backend      llm.Backend
	transcript   Transcript
	model        string
	systemPrompt string
}

func NewAdapter(opts Options) *Adapter {
	return &Adapter{
		backend:      opts.Backend,
		transcript:   opts.Transcript,
		model:        opts.Model,
		systemPrompt: opts.SystemPrompt,
	}
}

func (a *Adapter) Model() string { return a.model }

// CompleteTurn appends the user text, asks the backend for one reply and
// appends it. On an upstream failure the user item stays in the history.
// It returns the conversation key with the reply.
func (a *Adapter) CompleteTurn(ctx context.Context, t Turn) (string, string, error) {
	key, messages := a.begin(t)

	reply, err := a.backend.ChatOnce(ctx, a.model, messages)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues("chat").Inc()
		return key, "", llm.Upstream(err)
	}

	if err := a.transcript.Append(key, cache.Item{Role: llm.RoleAssistant, Content: reply}); err != nil {
		// Evicted or expired during the call; the caller still gets the reply.
		logrus.WithError(err).WithField("session_key", key).Warn("[GENERATION] could not commit reply")
	}
	return key, reply, nil
}

// StreamTurn appends the user text and returns the conversation key with a
// lazy, single-use sequence of chunks. The backend is contacted on the first
// pull. The assistant turn is committed once, before the terminal chunk is
// yielded, and only when the backend finished normally. Failures end the
// sequence with one error chunk. A consumer that stops early leaves the
// history without an assistant turn.
func (a *Adapter) StreamTurn(ctx context.Context, t Turn) (string, iter.Seq[Chunk]) {
	key, messages := a.begin(t)

	var used atomic.Bool
	return key, func(yield func(Chunk) bool) {
		if !used.CompareAndSwap(false, true) {
			return
		}
		outcome := a.stream(ctx, key, messages, yield)
		metrics.GenerationStreams.WithLabelValues(outcome).Inc()
		logrus.WithFields(logrus.Fields{
			"session_key": key,
			"outcome":     outcome,
		}).Debug("[GENERATION] stream finished")
	}
}

func (a *Adapter) stream(ctx context.Context, key string, messages []llm.Message, yield func(Chunk) bool) string {
	fail := func(err error) string {
		if ctx.Err() != nil {
			return OutcomeCancelled
		}
		metrics.UpstreamErrors.WithLabelValues("chat_stream").Inc()
		yield(Chunk{Key: key, Delta: "Error: " + apperr.DetailOf(llm.Upstream(err)), Done: true, Err: true})
		return OutcomeFailed
	}

	s, err := a.backend.ChatStream(ctx, a.model, messages)
	if err != nil {
		return fail(err)
	}
	defer s.Close()

	var reply strings.Builder
	var last string
	for {
		if ctx.Err() != nil {
			return OutcomeCancelled
		}
		d, err := s.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(err)
		}
		reply.WriteString(d.Content)
		if d.Done {
			last = d.Content
			break
		}
		if d.Content == "" {
			continue
		}
		if !yield(Chunk{Key: key, Delta: d.Content}) {
			return OutcomeCancelled
		}
	}

	if err := a.transcript.Append(key, cache.Item{Role: llm.RoleAssistant, Content: reply.String()}); err != nil {
		// Evicted or expired mid-stream; the reply still reaches the client.
		logrus.WithError(err).WithField("session_key", key).Warn("[GENERATION] could not commit streamed reply")
	}
	yield(Chunk{Key: key, Delta: last, Done: true})
	return OutcomeCompleted
}

// begin appends the user turn and builds [system] + history.
func (a *Adapter) begin(t Turn) (string, []llm.Message) {
	key, history := a.transcript.Begin(t.Key, t.Seed, cache.Item{Role: llm.RoleUser, Content: t.UserText})

	prompt := t.SystemPrompt
	if prompt == "" {
		prompt = a.systemPrompt
	}
	messages := make([]llm.Message, 0, len(history)+1)
	messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: prompt})
	for _, item := range history {
		messages = append(messages, llm.Message{Role: item.Role, Content: item.Content})
	}
	return key, messages
}
