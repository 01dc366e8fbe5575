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
	"github.com/google/uuid"

	"github.com/happy-code-egg/ruidao-sub002/internal/application/bridge"
	"github.com/happy-code-egg/ruidao-sub002/internal/application/service"
	"github.com/happy-code-egg/ruidao-sub002/internal/application/workflow"
	"github.com/happy-code-egg/ruidao-sub002/internal/domain/entity"
)

const (
	// HeaderUserID carries the authenticated actor, set by the upstream gateway
	HeaderUserID = "X-User-ID"
	// HeaderRequestID correlates a request across logs
	HeaderRequestID = "X-Request-ID"
)

// Logger interface for logging operations
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// WorkflowService is the engine surface the API exposes
type WorkflowService interface {
	Start(ctx context.Context, req workflow.StartRequest) (*entity.WorkflowInstance, error)
	Cancel(ctx context.Context, instanceID int64, actorID string) (*entity.WorkflowInstance, error)
	Process(ctx context.Context, req workflow.ProcessRequest) (*entity.WorkflowProcess, error)
	Reassign(ctx context.Context, req workflow.ReassignRequest) (*entity.WorkflowProcess, error)
	GetInstance(ctx context.Context, instanceID int64) (*workflow.InstanceDetail, error)
	History(ctx context.Context, instanceID int64) ([]*entity.WorkflowProcess, error)
	Timeline(ctx context.Context, instanceID int64) ([]*entity.ProcessLog, error)
	GetBackableNodes(ctx context.Context, instanceID int64) ([]entity.BackableNode, error)
	GetPendingTasks(ctx context.Context, actorID string) ([]*entity.WorkflowProcess, error)
}

// TemplateReader lists and reads stored templates
type TemplateReader interface {
	Get(ctx context.Context, id int64) (*entity.WorkflowTemplate, error)
	List(ctx context.Context, activeOnly bool) ([]*entity.WorkflowTemplate, error)
}

// HealthChecker reports whether storage is reachable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Services are the application services behind the API
type Services struct {
	Workflow  WorkflowService
	Templates TemplateReader
	Status    bridge.StatusReader
	Export    service.ExportService
	Health    HealthChecker
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:            "0.0.0.0",
		Port:            8080,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	services   Services
	logger     Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(config ServerConfig, services Services, logger Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	server := &Server{
		config:   config,
		router:   gin.New(),
		services: services,
		logger:   logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

// requestIDMiddleware propagates or assigns X-Request-ID
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(HeaderRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
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
			"request_id", c.GetString(HeaderRequestID),
			"user_id", c.GetHeader(HeaderUserID),
		)
	}
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	handlers := NewHandlers(s.services, s.logger)

	s.router.GET("/health", handlers.HealthCheck)

	api := s.router.Group("/api/v1/workflows")
	{
		api.POST("/instances", handlers.StartInstance)
		api.GET("/instances/:id", handlers.GetInstance)
		api.POST("/instances/:id/cancel", handlers.CancelInstance)
		api.GET("/instances/:id/history", handlers.GetHistory)
		api.GET("/instances/:id/timeline", handlers.GetTimeline)
		api.GET("/instances/:id/backable-nodes", handlers.GetBackableNodes)
		api.GET("/instances/:id/export", handlers.ExportInstance)

		api.POST("/processes/:id/actions", handlers.ProcessAction)
		api.POST("/processes/:id/reassign", handlers.ReassignProcess)

		api.GET("/tasks/pending", handlers.GetPendingTasks)

		api.GET("/business-statuses/:type", handlers.GetBusinessStatuses)
		api.GET("/business/:type/:id/status", handlers.GetBusinessStatus)

		api.GET("/templates", handlers.ListTemplates)
		api.GET("/templates/:id", handlers.GetTemplate)
	}
}

// Start serves until ctx is cancelled, then shuts down gracefully
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

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
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
