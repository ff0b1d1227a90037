package routes

import (
	"slices"

	"knowte-api/internal/auth"
	"knowte-api/internal/conversation"
	"knowte-api/internal/document"
	"knowte-api/internal/flashcard"
	"knowte-api/internal/handlers"
	"knowte-api/internal/middleware"
	"knowte-api/internal/realtime"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Deps are the long-lived services the routes are wired to.
type Deps struct {
	DB             *gorm.DB
	Identity       *auth.LocalIdentity
	Conversations  *conversation.Service
	Documents      *document.Service
	Flashcards     *flashcard.Generator
	Hub            *realtime.Hub
	MaxUploadBytes int64
	CORSOrigins    []string
}

func SetupRoutes(d Deps) *gin.Engine {
	ginRouter := gin.New()
	ginRouter.Use(gin.Recovery(), middleware.RequestLogger(), cors(d.CORSOrigins))
	ginRouter.MaxMultipartMemory = d.MaxUploadBytes

	// Health check endpoint
	ginRouter.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"message": "Knowte API is running",
		})
	})
	ginRouter.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authHandler := handlers.NewAuthHandler(d.Identity)
	agentHandler := handlers.NewAgentHandler(d.Conversations)
	documentHandler := handlers.NewDocumentHandler(d.Documents, d.Hub, d.MaxUploadBytes)
	flashcardHandler := handlers.NewFlashcardHandler(d.Flashcards)
	roomHandler := handlers.NewRoomHandler(d.DB, d.Hub)
	userHandler := handlers.NewUserHandler(d.DB)
	wsHandler := handlers.NewWSHandler(d.Hub)

	// Public routes (no authentication required)
	api := ginRouter.Group("/api")
	{
		api.POST("/auth/register", authHandler.Register)
		api.POST("/auth/login", authHandler.Login)
	}

	// Protected routes (authentication required)
	protectedRoutes := api.Group("")
	protectedRoutes.Use(middleware.JWTAuth(d.Identity))
	{
		protectedRoutes.GET("/auth/me", authHandler.Me)
		protectedRoutes.GET("/users", userHandler.List)

		protectedRoutes.POST("/agent/chat", agentHandler.Chat)
		protectedRoutes.POST("/agent/chat/stream", agentHandler.ChatStream)
		protectedRoutes.GET("/agent/sessions/:key", agentHandler.History)
		protectedRoutes.DELETE("/agent/sessions/:key", agentHandler.DeleteSession)

		protectedRoutes.POST("/document/upload", documentHandler.Upload)
		protectedRoutes.GET("/document/:id", documentHandler.Info)
		protectedRoutes.POST("/document/:id/ask", documentHandler.Ask)
		protectedRoutes.GET("/document/:id/text", documentHandler.Text)
		protectedRoutes.DELETE("/document/:id", documentHandler.Delete)

		protectedRoutes.POST("/flashcard/generate", flashcardHandler.Generate)

		protectedRoutes.GET("/rooms", roomHandler.List)
		protectedRoutes.GET("/rooms/:id", roomHandler.Get)
		protectedRoutes.POST("/rooms", roomHandler.Create)
		protectedRoutes.PATCH("/rooms/:id", roomHandler.Update)
		protectedRoutes.DELETE("/rooms/:id", roomHandler.Delete)

		protectedRoutes.GET("/ws", wsHandler.Serve)
	}

	return ginRouter
}

// cors allows the configured origins; "*" allows any.
func cors(origins []string) gin.HandlerFunc {
	anyOrigin := slices.Contains(origins, "*")
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && (anyOrigin || slices.Contains(origins, origin)) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Set("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
