package store

import (
	"context"
	"testing"
	"time"

	"knowte-api/internal/cache"
	"knowte-api/internal/testutil"

	"github.com/stretchr/testify/require"
)

type meta struct {
	Model string `json:"model"`
}

func TestGormStoreRoundTrip(t *testing.T) {
	db, err := testutil.NewInMemoryDB()
	require.NoError(t, err)
	s := NewGormStore[meta](db, "conversations")
	other := NewGormStore[meta](db, "documents")
	ctx := context.Background()

	created := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	entry := cache.Entry[meta]{
		Key:       "k1",
		CreatedAt: created,
		Meta:      meta{Model: "llama3"},
		History:   []cache.Item{{Role: "user", Content: "hi", CreatedAt: created}},
	}
	require.NoError(t, s.Save(ctx, entry))

	entry.History = append(entry.History, cache.Item{Role: "assistant", Content: "hello", CreatedAt: created})
	require.NoError(t, s.Save(ctx, entry))

	got, ok, err := s.Load(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "llama3", got.Meta.Model)
	require.Len(t, got.History, 2)
	require.True(t, got.CreatedAt.Equal(created))

	_, ok, err = other.Load(ctx, "k1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Delete(ctx, "k1"))
	_, ok, err = s.Load(ctx, "k1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGormStoreRehydratesCache(t *testing.T) {
	db, err := testutil.NewInMemoryDB()
	require.NoError(t, err)
	clock := testutil.NewClock()
	s := NewGormStore[meta](db, "conversations")

	opts := cache.Options[meta]{
		Name:       "rehydrate",
		MaxEntries: 5,
		TTL:        time.Hour,
		Clock:      clock.Now,
		Store:      s,
		Rehydrate:  true,
	}
	first, err := cache.New[meta, struct{}](opts)
	require.NoError(t, err)
	first.GetOrCreate("k", cache.Seed[meta, struct{}]{Meta: meta{Model: "m"}})
	require.NoError(t, first.Append("k", cache.Item{Role: "user", Content: "remember me"}))

	// A fresh process picks the conversation back up.
	second, err := cache.New[meta, struct{}](opts)
	require.NoError(t, err)
	entry, created := second.GetOrCreate("k", cache.Seed[meta, struct{}]{})
	require.False(t, created)
	require.Equal(t, "m", entry.Meta.Model)
	require.Len(t, entry.History, 1)
	require.Equal(t, "remember me", entry.History[0].Content)

	// Deleting removes the mirrored row too.
	require.True(t, second.Delete("k"))
	_, ok, err := s.Load(context.Background(), "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGormStoreDeleteAfterRestart(t *testing.T) {
	db, err := testutil.NewInMemoryDB()
	require.NoError(t, err)
	clock := testutil.NewClock()
	s := NewGormStore[meta](db, "conversations")

	opts := cache.Options[meta]{
		Name:       "restart",
		MaxEntries: 5,
		TTL:        time.Hour,
		Clock:      clock.Now,
		Store:      s,
		Rehydrate:  true,
	}
	before, err := cache.New[meta, struct{}](opts)
	require.NoError(t, err)
	before.GetOrCreateAppend("k", cache.Seed[meta, struct{}]{Meta: meta{Model: "m"}}, cache.Item{Role: "user", Content: "keep"})

	// Reads after a restart see the stored conversation.
	reader, err := cache.New[meta, struct{}](opts)
	require.NoError(t, err)
	history, err := reader.History("k")
	require.NoError(t, err)
	require.Len(t, history, 1)

	// Deleting on a process that never touched the key still removes the row.
	after, err := cache.New[meta, struct{}](opts)
	require.NoError(t, err)
	require.True(t, after.Delete("k"))
	_, ok, err := s.Load(context.Background(), "k")
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, after.Delete("k"))

	entry, created := after.GetOrCreate("k", cache.Seed[meta, struct{}]{})
	require.True(t, created)
	require.Empty(t, entry.History)
}
