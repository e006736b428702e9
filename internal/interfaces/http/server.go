package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/atelier-ai/atelier/internal/application/usecase"
	"github.com/atelier-ai/atelier/internal/domain/repository"
	domaintool "github.com/atelier-ai/atelier/internal/domain/tool"
	"github.com/atelier-ai/atelier/internal/infrastructure/config"
	"github.com/atelier-ai/atelier/internal/infrastructure/pty"
	"github.com/atelier-ai/atelier/internal/interfaces/http/handlers"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server is the HTTP/SSE surface.
type Server struct {
	server *http.Server
	logger *zap.Logger
}

// Config configures the listener.
type Config struct {
	Host string
	Port int
	Mode string // local, production
}

// Dependencies carries everything the handlers need.
type Dependencies struct {
	Runtime    *usecase.SessionRuntime
	Rollback   *usecase.RollbackUseCase
	Sessions   repository.SessionRepository
	Configs    repository.ConfigRepository
	Messages   repository.MessageRepository
	Broker     *domaintool.PermissionBroker
	PtyManager *pty.Manager
	ToolStore  *config.ToolStore
	Dispatcher *domaintool.Dispatcher
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(cfg Config, deps Dependencies, logger *zap.Logger) *Server {
	if cfg.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(ginLogger(logger))

	chatHandler := handlers.NewChatHandler(deps.Runtime, deps.Rollback, logger)
	sessionHandler := handlers.NewSessionHandler(deps.Sessions, deps.Messages, deps.PtyManager, logger)
	configHandler := handlers.NewConfigHandler(deps.Configs, deps.ToolStore, logger)
	permissionHandler := handlers.NewPermissionHandler(deps.Broker, logger)
	ptyHandler := handlers.NewPtyHandler(deps.PtyManager, logger)
	toolsHandler := handlers.NewToolsHandler(deps.Dispatcher)

	setupRoutes(router, chatHandler, sessionHandler, configHandler, permissionHandler, ptyHandler, toolsHandler)

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		server: &http.Server{Addr: addr, Handler: router},
		logger: logger,
	}
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server", zap.String("address", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping HTTP server")
	return s.server.Shutdown(ctx)
}

func setupRoutes(
	router *gin.Engine,
	chat *handlers.ChatHandler,
	sessions *handlers.SessionHandler,
	configs *handlers.ConfigHandler,
	permissions *handlers.PermissionHandler,
	ptys *handlers.PtyHandler,
	tools *handlers.ToolsHandler,
) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "time": time.Now().Unix()})
	})

	v1 := router.Group("/api/v1")
	{
		v1.POST("/chat", chat.Chat)
		v1.POST("/chat/stream", chat.ChatStream)
		v1.POST("/chat/stop", chat.Stop)
		v1.POST("/chat/rollback", chat.Rollback)

		v1.GET("/sessions", sessions.List)
		v1.GET("/sessions/:session_id/messages", sessions.Messages)
		v1.DELETE("/sessions/:session_id", sessions.Delete)

		v1.GET("/configs", configs.List)
		v1.POST("/configs", configs.Create)
		v1.PUT("/configs/:config_id", configs.Update)
		v1.DELETE("/configs/:config_id", configs.Delete)
		v1.GET("/tools/config", configs.GetToolsConfig)
		v1.PATCH("/tools/config", configs.PatchToolsConfig)
		v1.GET("/tools", tools.List)

		v1.GET("/permissions", permissions.List)
		v1.POST("/permissions/:request_id", permissions.Decide)

		v1.POST("/sessions/:session_id/pty", ptys.Create)
		v1.GET("/sessions/:session_id/pty/:pty_id", ptys.Read)
		v1.POST("/sessions/:session_id/pty/:pty_id/input", ptys.Write)
		v1.DELETE("/sessions/:session_id/pty/:pty_id", ptys.Close)
		v1.GET("/sessions/:session_id/pty/:pty_id/attach", ptys.Attach)
	}
}

func ginLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		logger.Info("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("ip", c.ClientIP()),
		)
	}
}
