// Package http provides HTTP server adapter for the application layer.
// This is a thin adapter layer that translates HTTP requests to application service calls.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/feilong2k/codemaestro/internal/application/service"
	appwf "github.com/feilong2k/codemaestro/internal/application/workflow"
	"github.com/feilong2k/codemaestro/internal/infrastructure/worker"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// AgentStatusReader exposes the agent loop snapshot
type AgentStatusReader interface {
	Status() worker.AgentStatus
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:         "0.0.0.0",
		Port:         8080,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Dependencies groups what the handlers call into. Agents, Metrics and
// Websocket may be nil; their routes then answer 503 or are not mounted.
type Dependencies struct {
	Orchestrator service.OrchestratorService
	Engine       appwf.WorkflowEngine
	Evolution    service.EvolutionService
	Agents       AgentStatusReader
	Metrics      http.Handler
	Websocket    http.Handler
	Version      string
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	deps       Dependencies
	logger     Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(config ServerConfig, deps Dependencies, logger Logger) *Server {
	// Set gin mode based on environment
	if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	server := &Server{
		config: config,
		router: router,
		deps:   deps,
		logger: logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())
}

// loggingMiddleware creates a logging middleware
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		s.logger.Info("HTTP request",
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start).String(),
			"client_ip", c.ClientIP(),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	h := NewHandlers(s.deps, s.logger)

	s.router.GET("/health", h.HealthCheck)
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}
	if s.deps.Websocket != nil {
		s.router.GET("/ws", gin.WrapH(s.deps.Websocket))
	}

	api := s.router.Group("/api")
	{
		subtasks := api.Group("/subtasks")
		subtasks.POST("", h.CreateSubtask)
		subtasks.GET("", h.ListSubtasks)
		subtasks.GET("/:id", h.GetSubtask)
		subtasks.POST("/:id/start", h.StartSubtask)
		subtasks.POST("/:id/approve", h.ApproveSubtask)
		subtasks.POST("/:id/transition", h.TransitionSubtask)

		api.GET("/agents/status", h.AgentStatus)
		api.GET("/events", h.ListEvents)

		api.POST("/workflows/:name/transition", h.TransitionWorkflow)

		engine := api.Group("/engine")
		engine.POST("/pause", h.PauseEngine)
		engine.POST("/resume", h.ResumeEngine)
		engine.GET("/status", h.EngineStatus)

		evolution := api.Group("/evolution")
		evolution.GET("/patterns", h.AnalyzePatterns)
		evolution.GET("/proposal", h.ProposeOptimization)
		evolution.GET("/report", h.ExportReport)
		evolution.POST("/:workflow/apply", h.ApplyOptimization)
		evolution.GET("/:workflow/success-rate", h.SuccessRate)
	}
}

// Start starts the HTTP server and blocks until ctx is done or the listener fails
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", "address", addr)

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", "error", err)
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", "error", err)
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
