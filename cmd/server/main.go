package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"knowte-api/internal/auth"
	"knowte-api/internal/cache"
	"knowte-api/internal/config"
	"knowte-api/internal/conversation"
	"knowte-api/internal/database"
	"knowte-api/internal/document"
	"knowte-api/internal/flashcard"
	"knowte-api/internal/llm"
	"knowte-api/internal/logging"
	"knowte-api/internal/realtime"
	"knowte-api/internal/routes"
	"knowte-api/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const shutdownTimeout = 15 * time.Second

var rootCmd = &cobra.Command{
	Use:   "knowte-api",
	Short: "Study assistant API: chat, document Q&A and flashcards over Ollama",
	RunE:  serve,
}

func init() {
	rootCmd.Flags().String("port", "", "Port to listen on (overrides APP_PORT)")
	rootCmd.Flags().String("env-file", ".env", "Optional dotenv file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serve(cmd *cobra.Command, _ []string) error {
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetString("port"); port != "" {
		cfg.App.Port = port
	}

	logging.Setup(cfg.App.LogLevel, cfg.IsProduction())
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	dbLevel := logger.Warn
	if cfg.IsProduction() {
		dbLevel = logger.Error
	}
	db, err := database.Open(cfg.App.DatabasePath, dbLevel)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	conversationStore, closeStore, err := openStore(cfg, db)
	if err != nil {
		return err
	}
	defer closeStore()

	clientOpts := llm.ClientOptions{
		BaseURL:  cfg.Ollama.BaseURL,
		APIKey:   cfg.Ollama.APIKey,
		Timeout:  cfg.Ollama.Timeout,
		RetryMax: cfg.Ollama.RetryMax,
	}
	backend := llm.NewOpenAIClient(clientOpts)
	vision := llm.NewVisionClient(llm.VisionOptions{ClientOptions: clientOpts, Model: cfg.Ollama.VisionModel})

	conversations, err := conversation.NewService(backend, conversation.Config{
		Model:        cfg.Ollama.Model,
		SystemPrompt: cfg.Conversation.SystemPrompt,
		MaxEntries:   cfg.Conversation.MaxEntries,
		MaxItems:     cfg.Conversation.MaxItems,
		TTL:          cfg.Conversation.TTL,
		Store:        conversationStore,
	})
	if err != nil {
		return fmt.Errorf("failed to create conversation cache: %w", err)
	}

	decoder := document.PopplerDecoder{
		PdftoppmPath:  cfg.Document.PdftoppmPath,
		PdftotextPath: cfg.Document.PdftotextPath,
		DPI:           cfg.Document.DPI,
	}
	documents, err := document.NewService(afero.NewOsFs(), decoder, vision, document.Config{
		MaxEntries:     cfg.Document.MaxEntries,
		TTL:            cfg.Document.TTL,
		MaxUploadBytes: cfg.Document.MaxUploadBytes,
		MaxTextChars:   cfg.Document.MaxTextChars,
		UploadDir:      cfg.Document.UploadDir,
	})
	if err != nil {
		return fmt.Errorf("failed to create document cache: %w", err)
	}

	tokens := auth.NewTokenIssuer(cfg.Auth.Secret, cfg.Auth.Issuer, cfg.Auth.Audience, cfg.Auth.TokenTTL)
	router := routes.SetupRoutes(routes.Deps{
		DB:             db,
		Identity:       auth.NewLocalIdentity(db, tokens),
		Conversations:  conversations,
		Documents:      documents,
		Flashcards:     flashcard.NewGenerator(documents, backend, cfg.Ollama.Model),
		Hub:            realtime.NewHub(),
		MaxUploadBytes: cfg.Document.MaxUploadBytes,
		CORSOrigins:    cfg.App.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.App.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logrus.WithFields(logrus.Fields{
			"port":  cfg.App.Port,
			"model": cfg.Ollama.Model,
			"store": cfg.Store.Kind,
		}).Info("Server starting")
		logrus.Info("API endpoints:")
		logrus.Info("  POST   /api/auth/register, /api/auth/login")
		logrus.Info("  POST   /api/agent/chat, /api/agent/chat/stream")
		logrus.Info("  POST   /api/document/upload, /api/document/:id/ask")
		logrus.Info("  POST   /api/flashcard/generate")
		logrus.Info("  GET    /api/rooms, /api/ws, /health, /metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
		logrus.Info("Shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore returns the conversation mirror chosen by CACHE_STORE_KIND, or
// nil when conversations live only in memory.
func openStore(cfg config.Config, db *gorm.DB) (cache.Store[conversation.Meta], func(), error) {
	switch cfg.Store.Kind {
	case config.StoreSQLite:
		logrus.Info("Mirroring conversations to SQLite")
		return store.NewGormStore[conversation.Meta](db, "conversations"), func() {}, nil
	case config.StoreValkey:
		client, err := store.NewValkeyClient(store.ValkeyConfig{
			Address:  cfg.Store.ValkeyAddress,
			Password: cfg.Store.ValkeyPassword,
			DB:       cfg.Store.ValkeyDB,
		})
		if err != nil {
			return nil, nil, err
		}
		logrus.WithField("address", cfg.Store.ValkeyAddress).Info("Mirroring conversations to Valkey")
		return store.NewValkeyStore[conversation.Meta](client, cfg.Store.KeyPrefix, "conversations", cfg.Conversation.TTL), client.Close, nil
	default:
		return nil, func() {}, nil
	}
}
