package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/cadencehq/cadence/internal/config"
	"github.com/cadencehq/cadence/internal/publisher/linkedin"
	"github.com/cadencehq/cadence/internal/service"
	"github.com/cadencehq/cadence/internal/store"
)

type Server struct {
	Config *config.Config
	DB     *gorm.DB
	Router *gin.Engine
	Logger *zap.Logger
	Server *http.Server

	// Services
	Queue  *service.QueueService
	Daemon *service.Daemon
}

func NewServer(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	// Set gin mode
	gin.SetMode(cfg.Server.Mode)

	// Initialize database
	db, err := store.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize services
	st := store.NewStore(db)
	queue := service.NewQueueService(st, logger)
	client := linkedin.NewClient(&cfg.LinkedIn, logger)
	daemon, err := service.NewDaemon(&cfg.Daemon, logger, st, client)
	if err != nil {
		return nil, fmt.Errorf("failed to create publisher daemon: %w", err)
	}

	// Create router
	router := gin.New()

	// Create server
	srv := &Server{
		Config: cfg,
		DB:     db,
		Router: router,
		Logger: logger,
		Queue:  queue,
		Daemon: daemon,
	}

	// Setup middleware and routes
	srv.setupMiddleware()
	srv.setupRoutes()

	return srv, nil
}

func (s *Server) setupMiddleware() {
	// Recovery middleware
	s.Router.Use(gin.Recovery())

	// Logger middleware
	s.Router.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		Formatter: func(param gin.LogFormatterParams) string {
			return fmt.Sprintf("%s - [%s] \"%s %s %s %d %s \"%s\" %s\"\n",
				param.ClientIP,
				param.TimeStamp.Format(time.RFC3339),
				param.Method,
				param.Path,
				param.Request.Proto,
				param.StatusCode,
				param.Latency,
				param.Request.UserAgent(),
				param.ErrorMessage,
			)
		},
	}))

	// CORS middleware
	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})
}

func (s *Server) setupRoutes() {
	// Health check
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	// API routes
	api := s.Router.Group("/api/v1")
	{
		posts := api.Group("/posts")
		{
			posts.POST("", s.handleSchedulePost)
			posts.GET("", s.handleListPosts)
			posts.GET("/:id", s.handleGetPost)
			posts.PATCH("/:id", s.handleUpdatePost)
			posts.POST("/:id/reschedule", s.handleReschedulePost)
			posts.POST("/:id/cancel", s.handleCancelPost)
			posts.POST("/:id/retry", s.handleRetryPost)
			posts.GET("/:id/attempts", s.handleListAttempts)
		}

		api.GET("/queue/summary", s.handleQueueSummary)
	}
}

func (s *Server) Start(ctx context.Context) error {
	// Start publisher daemon
	if err := s.Daemon.Start(ctx); err != nil {
		return fmt.Errorf("failed to start publisher daemon: %w", err)
	}

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		return s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	}

	return s.Server.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Stop the daemon first so in-flight publishes drain before the process
	// goes away.
	if s.Config.Daemon.Enabled {
		s.Daemon.Stop()
	}

	if s.Server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	return s.Server.Shutdown(shutdownCtx)
}
