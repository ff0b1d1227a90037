package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	require.Equal(t, "8080", cfg.App.Port)
	require.Equal(t, 200, cfg.Conversation.MaxEntries)
	require.Equal(t, 50, cfg.Conversation.MaxItems)
	require.Equal(t, 24*time.Hour, cfg.Conversation.TTL)
	require.Equal(t, 20, cfg.Document.MaxEntries)
	require.EqualValues(t, 10*1024*1024, cfg.Document.MaxUploadBytes)
	require.Equal(t, 200000, cfg.Document.MaxTextChars)
	require.Equal(t, StoreNone, cfg.Store.Kind)
	require.NotEmpty(t, cfg.Conversation.SystemPrompt)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("APP_PORT", "9000")
	t.Setenv("OLLAMA_MODEL", "llama3")
	t.Setenv("CONVERSATION_TTL", "30m")
	t.Setenv("APP_CORS_ORIGINS", "http://a.test,http://b.test")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
	require.Equal(t, "9000", cfg.App.Port)
	require.Equal(t, "llama3", cfg.Ollama.Model)
	require.Equal(t, 30*time.Minute, cfg.Conversation.TTL)
	require.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.App.CORSOrigins)
}

func TestLoadDotEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("DOCUMENT_MAX_ENTRIES=3\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("DOCUMENT_MAX_ENTRIES") })

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 3, cfg.Document.MaxEntries)
}

func TestLoadRejectsBadSettings(t *testing.T) {
	t.Setenv("CACHE_STORE_KIND", "memcached")
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)

	t.Setenv("CACHE_STORE_KIND", "none")
	t.Setenv("CONVERSATION_MAX_ENTRIES", "0")
	_, err = Load(filepath.Join(t.TempDir(), "missing.env"))
	require.Error(t, err)
}
