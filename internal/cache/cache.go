package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a key is absent or expired.
	ErrNotFound = errors.New("cache: entry not found")
	// ErrSubResourceNotFound is returned when an entry exists but the sub-resource does not.
	ErrSubResourceNotFound = errors.New("cache: sub-resource not found")
)

// Item is one element of an entry's ordered history.
type Item struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Entry is a keyed, timestamped resource. Values handed out by the cache are
// snapshots; mutating them does not affect the cached entry.
type Entry[M any] struct {
	Key       string    `json:"key"`
	CreatedAt time.Time `json:"created_at"`
	Meta      M         `json:"meta"`
	History   []Item    `json:"history"`
}

func (e *Entry[M]) snapshot() Entry[M] {
	out := *e
	out.History = append([]Item(nil), e.History...)
	return out
}

// Seed describes a new entry. SubResources are inserted atomically with it.
type Seed[M, S any] struct {
	History      []Item
	Meta         M
	SubResources map[int]S
}

// RemovalReason tells a CleanupFunc why an entry left the cache.
type RemovalReason string

const (
	RemovalDeleted RemovalReason = "deleted"
	RemovalExpired RemovalReason = "expired"
	RemovalEvicted RemovalReason = "evicted"
)

// CleanupFunc releases resources owned outside the cache (files on disk, for
// example). It runs after the cache lock has been released.
type CleanupFunc[M any] func(entry Entry[M], reason RemovalReason)

// Store mirrors entries to a backing store. Sub-resources are never mirrored.
type Store[M any] interface {
	Load(ctx context.Context, key string) (Entry[M], bool, error)
	Save(ctx context.Context, entry Entry[M]) error
	Delete(ctx context.Context, key string) error
}
