package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/driftline/backend/internal/auth"
	"github.com/driftline/backend/internal/cache"
	"github.com/driftline/backend/internal/chat"
	"github.com/driftline/backend/internal/config"
	"github.com/driftline/backend/internal/database"
	"github.com/driftline/backend/internal/handlers"
	"github.com/driftline/backend/internal/logger"
	"github.com/driftline/backend/internal/metrics"
	"github.com/driftline/backend/internal/models"
	"github.com/driftline/backend/internal/websocket"
)

func main() {
	// Load environment variables before anything reads them
	if err := godotenv.Load(); err != nil {
		// .env is optional outside development
		os.Stderr.WriteString("no .env file found, using system environment\n")
	}

	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("configuration error: " + err.Error() + "\n")
		os.Exit(1)
	}

	if err := logger.Initialize(cfg.LogLevel, cfg.LogFile); err != nil {
		os.Stderr.WriteString("failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Close()

	logger.Log.Info("=== Driftline server starting ===",
		zap.String("environment", cfg.Environment),
		zap.String("port", cfg.Port))

	metrics.Initialize()

	// Database
	if err := database.Initialize(); err != nil {
		logger.Log.Fatal("Failed to initialize database", zap.Error(err))
	}
	if err := database.Migrate(); err != nil {
		logger.Log.Fatal("Failed to run migrations", zap.Error(err))
	}

	// Redis is optional: unread counts fall back to the database when
	// the cache is unavailable.
	var redisClient *cache.RedisClient
	if rc, err := cache.NewRedisClient(cfg.RedisHost, cfg.RedisPort, cfg.RedisPassword); err != nil {
		logger.Log.Warn("Redis unavailable, continuing without unread-count cache", zap.Error(err))
	} else {
		redisClient = rc
		defer redisClient.Close()
	}

	verifier := auth.NewVerifier(cfg.JWTSecret)
	chatService := chat.NewService(chat.NewStore(database.DB), redisClient)

	// WebSocket hub, chat session handlers, presence mirroring
	wsHub := websocket.NewHub()
	wsSession := websocket.NewSession(wsHub, chatService)
	wsSession.RegisterHandlers()
	wsHub.SetPresenceCallback(func(userID string, online bool) {
		err := database.DB.Model(&models.User{}).
			Where("id = ?", userID).
			Updates(map[string]interface{}{
				"is_online":      online,
				"last_active_at": time.Now().UTC(),
			}).Error
		if err != nil {
			logger.Log.Warn("Failed to mirror presence to database",
				logger.WithUserID(userID),
				zap.Error(err))
		}
	})
	wsHandler := websocket.NewHandler(wsHub, verifier)

	h := handlers.NewHandlers(chatService, verifier)

	// Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.Default()

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = []string{"*"} // Configure properly for production
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
	r.Use(cors.New(corsConfig))
	r.Use(gzip.Gzip(gzip.DefaultCompression))
	r.Use(handlers.MetricsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"timestamp": time.Now().UTC(),
			"service":   "driftline-backend",
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		conversations := api.Group("/conversations")
		{
			conversations.Use(h.AuthMiddleware())
			conversations.POST("", h.CreateConversation)
			conversations.GET("", h.ListConversations)
			conversations.GET("/:id/messages", h.GetMessages)
			conversations.POST("/:id/messages", h.SendMessage)
			conversations.PUT("/:id/read", h.MarkRead)
			conversations.GET("/:id/unread", h.GetUnreadCount)
		}

		ws := api.Group("/ws")
		{
			// WebSocket connection endpoint - auth via cookie,
			// Authorization header, or ?token=...
			ws.GET("", wsHandler.HandleWebSocket)
			ws.GET("/connect", wsHandler.HandleWebSocket)

			ws.POST("/online", h.AuthMiddleware(), wsHandler.HandleOnlineStatus)
			ws.GET("/stats", h.AuthMiddleware(), wsHandler.HandleStats)
		}
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		logger.Log.Info("Driftline backend listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Log.Info("Shutting down server...")

	// Give outstanding requests and socket teardown 30 seconds
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := wsHub.Shutdown(ctx); err != nil {
		logger.Log.Warn("WebSocket shutdown warning", zap.Error(err))
	}
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Log.Info("Server exited")
}
