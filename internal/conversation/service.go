package conversation

import (
	"context"
	"iter"
	"time"

	"knowte-api/internal/apperr"
	"knowte-api/internal/cache"
	"knowte-api/internal/generation"
	"knowte-api/internal/llm"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Meta is stored with every conversation.
type Meta struct {
	Model string `json:"model"`
}

// Cache holds conversations. Conversations own no sub-resources.
type Cache = cache.BoundedTTLCache[Meta, struct{}]

// MessageItem is a prior turn supplied by the client to seed a new conversation.
type MessageItem struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (m MessageItem) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.Role, validation.Required, validation.In(llm.RoleUser, llm.RoleAssistant, llm.RoleSystem)),
		validation.Field(&m.Content, validation.Required),
	)
}

// Request is one chat turn.
type Request struct {
	Message      string        `json:"message"`
	SessionKey   string        `json:"session_key"`
	History      []MessageItem `json:"history"`
	SystemPrompt string        `json:"system_prompt"`
}

func (r Request) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Message, validation.Required, validation.RuneLength(1, 4096)),
		validation.Field(&r.SessionKey, validation.RuneLength(0, 128)),
		validation.Field(&r.History),
	)
}

// Reply is the result of a non-streamed turn.
type Reply struct {
	SessionKey string `json:"session_key"`
	Reply      string `json:"reply"`
	Model      string `json:"model"`
}

type Config struct {
	Model        string
	SystemPrompt string
	MaxEntries   int
	MaxItems     int
	TTL          time.Duration
	Clock        func() time.Time
	Store        cache.Store[Meta]
}

// Service is the conversation-facing facade over the session cache.
// One instance lives for the whole process.
type Service struct {
	cache   *Cache
	adapter *generation.Adapter
	model   string
}

func NewService(backend llm.Backend, cfg Config) (*Service, error) {
	c, err := cache.New[Meta, struct{}](cache.Options[Meta]{
		Name:             "conversations",
		MaxEntries:       cfg.MaxEntries,
		MaxItemsPerEntry: cfg.MaxItems,
		TTL:              cfg.TTL,
		Clock:            cfg.Clock,
		Store:            cfg.Store,
		Rehydrate:        cfg.Store != nil,
	})
	if err != nil {
		return nil, err
	}
	return &Service{
		cache: c,
		adapter: generation.NewAdapter(generation.Options{
			Backend:      backend,
			Transcript:   transcript{cache: c, meta: Meta{Model: cfg.Model}},
			Model:        cfg.Model,
			SystemPrompt: cfg.SystemPrompt,
		}),
		model: cfg.Model,
	}, nil
}

// Chat runs one turn and waits for the full reply.
func (s *Service) Chat(ctx context.Context, req Request) (Reply, error) {
	turn, err := s.open(req)
	if err != nil {
		return Reply{}, err
	}
	key, text, err := s.adapter.CompleteTurn(ctx, turn)
	if err != nil {
		return Reply{}, err
	}
	return Reply{SessionKey: key, Reply: text, Model: s.model}, nil
}

// ChatStream runs one turn and returns the session key with the lazy chunk
// sequence. Nothing is sent to the backend until the sequence is pulled.
func (s *Service) ChatStream(ctx context.Context, req Request) (string, iter.Seq[generation.Chunk], error) {
	turn, err := s.open(req)
	if err != nil {
		return "", nil, err
	}
	key, seq := s.adapter.StreamTurn(ctx, turn)
	return key, seq, nil
}

// History returns a conversation's turns, oldest first.
func (s *Service) History(key string) ([]cache.Item, error) {
	items, err := s.cache.History(key)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindNotFound, err, "Conversation %s not found", key)
	}
	return items, nil
}

// Delete drops a conversation. Unknown keys report false.
func (s *Service) Delete(key string) bool {
	return s.cache.Delete(key)
}

// Len reports live conversations.
func (s *Service) Len() int { return s.cache.Len() }

// open validates the request and turns it into a generation turn. The
// client history only seeds a conversation that does not exist yet.
func (s *Service) open(req Request) (generation.Turn, error) {
	if err := req.Validate(); err != nil {
		return generation.Turn{}, apperr.InvalidInput("%s", err.Error())
	}
	turn := generation.Turn{
		Key:          req.SessionKey,
		UserText:     req.Message,
		SystemPrompt: req.SystemPrompt,
	}
	for _, m := range req.History {
		turn.Seed = append(turn.Seed, cache.Item{Role: m.Role, Content: m.Content})
	}
	return turn, nil
}

// transcript binds the cache to the adapter. Get-or-create and the user
// append happen under one cache lock, so a concurrent insert cannot evict
// the conversation between them.
type transcript struct {
	cache *Cache
	meta  Meta
}

func (t transcript) Begin(key string, seed []cache.Item, user cache.Item) (string, []cache.Item) {
	entry, _ := t.cache.GetOrCreateAppend(key, cache.Seed[Meta, struct{}]{Meta: t.meta, History: seed}, user)
	return entry.Key, entry.History
}

func (t transcript) Append(key string, items ...cache.Item) error {
	return t.cache.Append(key, items...)
}
