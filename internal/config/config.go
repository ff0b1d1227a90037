package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const defaultSystemPrompt = "You are Knowte AI, a helpful study assistant. " +
	"Answer questions clearly and concisely. " +
	"When explaining concepts, use examples when helpful. " +
	"STRICTLY follow the instructions and do not add any extra information if not asked."

// Config is the whole service configuration, read from the environment.
type Config struct {
	App          App          `envPrefix:"APP_"`
	Auth         Auth         `envPrefix:"JWT_"`
	Ollama       Ollama       `envPrefix:"OLLAMA_"`
	Conversation Conversation `envPrefix:"CONVERSATION_"`
	Document     Document     `envPrefix:"DOCUMENT_"`
	Store        Store        `envPrefix:"CACHE_STORE_"`
}

type App struct {
	Port         string   `env:"PORT" envDefault:"8080"`
	Env          string   `env:"ENV" envDefault:"development"`
	LogLevel     string   `env:"LOG_LEVEL" envDefault:"info"`
	CORSOrigins  []string `env:"CORS_ORIGINS" envDefault:"*" envSeparator:","`
	DatabasePath string   `env:"DATABASE_PATH" envDefault:"knowte.db"`
}

type Auth struct {
	Secret   string        `env:"SECRET" envDefault:"development-insecure-secret-change-me"`
	Issuer   string        `env:"ISSUER" envDefault:"knowte-api"`
	Audience string        `env:"AUDIENCE" envDefault:"knowte-clients"`
	TokenTTL time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
}

type Ollama struct {
	BaseURL     string        `env:"BASE_URL" envDefault:"http://localhost:11434"`
	Model       string        `env:"MODEL" envDefault:"phi3"`
	VisionModel string        `env:"VISION_MODEL" envDefault:"llava"`
	APIKey      string        `env:"API_KEY"`
	Timeout     time.Duration `env:"TIMEOUT" envDefault:"120s"`
	RetryMax    int           `env:"RETRY_MAX" envDefault:"2"`
}

type Conversation struct {
	MaxEntries   int           `env:"MAX_ENTRIES" envDefault:"200"`
	MaxItems     int           `env:"MAX_ITEMS" envDefault:"50"`
	TTL          time.Duration `env:"TTL" envDefault:"24h"`
	SystemPrompt string        `env:"SYSTEM_PROMPT"`
}

type Document struct {
	MaxEntries     int           `env:"MAX_ENTRIES" envDefault:"20"`
	TTL            time.Duration `env:"TTL" envDefault:"24h"`
	MaxUploadBytes int64         `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`
	MaxTextChars   int           `env:"MAX_TEXT_CHARS" envDefault:"200000"`
	UploadDir      string        `env:"UPLOAD_DIR" envDefault:"uploads"`
	PdftoppmPath   string        `env:"PDFTOPPM" envDefault:"pdftoppm"`
	PdftotextPath  string        `env:"PDFTOTEXT" envDefault:"pdftotext"`
	DPI            int           `env:"DPI" envDefault:"144"`
}

// Store selects where conversation entries are mirrored.
type Store struct {
	Kind           string `env:"KIND" envDefault:"none"`
	ValkeyAddress  string `env:"VALKEY_ADDRESS" envDefault:"localhost:6379"`
	ValkeyPassword string `env:"VALKEY_PASSWORD"`
	ValkeyDB       int    `env:"VALKEY_DB" envDefault:"0"`
	KeyPrefix      string `env:"KEY_PREFIX" envDefault:"knowte"`
}

const (
	StoreNone   = "none"
	StoreSQLite = "sqlite"
	StoreValkey = "valkey"
)

// Load reads files (default ".env") into the environment, without
// overriding variables that are already set, then parses Config.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	if cfg.Conversation.SystemPrompt == "" {
		cfg.Conversation.SystemPrompt = defaultSystemPrompt
	}
	return cfg, cfg.Validate()
}

// Validate rejects settings the caches cannot run with.
func (c Config) Validate() error {
	switch {
	case c.Conversation.MaxEntries <= 0:
		return errors.New("CONVERSATION_MAX_ENTRIES must be positive")
	case c.Document.MaxEntries <= 0:
		return errors.New("DOCUMENT_MAX_ENTRIES must be positive")
	case c.Document.MaxUploadBytes <= 0:
		return errors.New("DOCUMENT_MAX_UPLOAD_BYTES must be positive")
	}
	switch c.Store.Kind {
	case StoreNone, StoreSQLite, StoreValkey:
	default:
		return fmt.Errorf("CACHE_STORE_KIND %q is not one of none, sqlite, valkey", c.Store.Kind)
	}
	return nil
}

// IsProduction reports whether logs should be JSON.
func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}
