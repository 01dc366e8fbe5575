package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/happy-code-egg/ruidao-sub002/internal/application/bridge"
	"github.com/happy-code-egg/ruidao-sub002/internal/application/dispatcher"
	"github.com/happy-code-egg/ruidao-sub002/internal/application/port"
	"github.com/happy-code-egg/ruidao-sub002/internal/application/service"
	"github.com/happy-code-egg/ruidao-sub002/internal/application/template"
	"github.com/happy-code-egg/ruidao-sub002/internal/application/workflow"
	"github.com/happy-code-egg/ruidao-sub002/internal/config"
	"github.com/happy-code-egg/ruidao-sub002/internal/infrastructure/worker"
	httpapi "github.com/happy-code-egg/ruidao-sub002/internal/interfaces/http"
	"github.com/happy-code-egg/ruidao-sub002/pkg/database"
)

var (
	// ErrClosed is returned when starting a container that was closed
	ErrClosed = errors.New("container has been closed")
	// ErrAlreadyStarted is returned when Start is called twice
	ErrAlreadyStarted = errors.New("container already started")
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *config.Config
	logger *zap.Logger

	// Infrastructure - Data
	db           *DatabaseBundle
	repositories *RepositoryBundle

	// Infrastructure - External
	directory port.UserDirectory
	notifier  port.Notifier

	// Application
	templates  *template.Store
	dispatcher dispatcher.Dispatcher
	engine     *workflow.Engine
	services   *ServiceBundle

	// Workers
	workers *worker.Manager

	// Interfaces
	server *httpapi.Server

	mu     sync.RWMutex
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Templates port.TemplateRepository
	Instances port.InstanceRepository
	Processes port.ProcessRepository
	Logs      port.ProcessLogRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Notification service.NotificationService
	Export       service.ExportService
	Status       *bridge.Bridge
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
func NewContainer(cfg *config.Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components.
// Components are initialized in dependency order:
// 1. Database and repositories
// 2. Directory and notifier
// 3. Template store
// 4. Event dispatcher and workflow engine
// 5. Application services
// 6. Background workers
// 7. HTTP server
//
// A failed step releases whatever earlier steps acquired.
func (c *Container) Start(ctx context.Context) (err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}
	if c.ready.Load() {
		return ErrAlreadyStarted
	}

	c.logger.Info("Starting container initialization")

	defer func() {
		if err != nil {
			err = multierr.Append(err, c.teardown())
		}
	}()

	if err := c.initDatabase(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	if err := c.initExternal(); err != nil {
		return fmt.Errorf("failed to initialize external clients: %w", err)
	}
	c.logger.Info("External clients initialized")

	if err := c.initTemplates(ctx); err != nil {
		return fmt.Errorf("failed to initialize templates: %w", err)
	}
	c.logger.Info("Template store initialized")

	c.initDispatcherAndWorkflow()
	c.logger.Info("Dispatcher and workflow engine initialized")

	c.initServices()
	c.logger.Info("Application services initialized")

	c.workers = ProvideWorkers(&c.config.Workflow.Reminder, c.repositories, c.notifier, c.logger)
	if err := c.workers.StartAll(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}
	c.logger.Info("Workers started", zap.Int("count", c.workers.Count()))

	c.server = ProvideHTTPServer(c.config.Server, c.engine, c.templates, c.services, c.db.Store, c.logger)

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return ErrClosed
	}

	c.logger.Info("Closing container")
	err := c.teardown()
	c.closed.Store(true)
	c.ready.Store(false)

	if err != nil {
		c.logger.Error("Container closed with errors",
			zap.Int("error_count", len(multierr.Errors(err))), zap.Error(err))
		return err
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// teardown releases acquired components in reverse order of Start.
func (c *Container) teardown() error {
	var err error

	if c.workers != nil {
		if werr := c.workers.StopAll(); werr != nil {
			err = multierr.Append(err, fmt.Errorf("stop workers: %w", werr))
		} else {
			c.logger.Info("Workers stopped")
		}
		c.workers = nil
	}

	// The dispatcher drains in-flight notifications before the database goes away.
	if c.dispatcher != nil {
		if cerr := c.dispatcher.Close(); cerr != nil && !errors.Is(cerr, dispatcher.ErrClosed) {
			c.logger.Error("Failed to close dispatcher", zap.Error(cerr))
			err = multierr.Append(err, fmt.Errorf("close dispatcher: %w", cerr))
		} else {
			c.logger.Info("Dispatcher closed")
		}
		c.dispatcher = nil
	}

	if c.db != nil {
		if cerr := c.db.DB.Close(); cerr != nil {
			c.logger.Error("Failed to close database", zap.Error(cerr))
			err = multierr.Append(err, fmt.Errorf("close database: %w", cerr))
		} else {
			c.logger.Info("Database closed")
		}
		c.db = nil
	}

	return err
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	check := func(name string, ok bool, message string) {
		status.Components[name] = ComponentHealth{Healthy: ok, Message: message}
		if !ok {
			status.Overall = false
		}
	}

	switch {
	case c.db == nil:
		check("database", false, "not initialized")
	default:
		if err := c.db.Store.Ping(ctx); err != nil {
			check("database", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			check("database", true, "")
		}
	}

	if c.dispatcher != nil {
		check("dispatcher", true, "")
	} else {
		check("dispatcher", false, "not initialized")
	}

	if c.workers != nil {
		check("workers", c.workers.Count() == 0 || c.workers.IsRunning(), fmt.Sprintf("worker count: %d", c.workers.Count()))
	} else {
		check("workers", false, "not initialized")
	}

	if c.templates != nil {
		check("templates", true, fmt.Sprintf("%d rules", len(c.config.Workflow.Rules)))
	} else {
		check("templates", false, "not initialized")
	}

	return status
}

func (c *Container) initDatabase(ctx context.Context) error {
	bundle, err := ProvideDatabase(ctx, &c.config.Database, c.logger.Named("database"))
	if err != nil {
		return err
	}
	c.db = bundle
	c.repositories = ProvideRepositories(bundle.Store, c.logger.Named("repository"))
	return nil
}

func (c *Container) initExternal() error {
	dir, err := ProvideDirectory(&c.config.Directory)
	if err != nil {
		return err
	}
	c.directory = dir
	c.notifier = ProvideNotifier(&c.config.Lark, c.logger)
	return nil
}

func (c *Container) initTemplates(ctx context.Context) error {
	store, err := ProvideTemplateStore(ctx, &TemplateDeps{
		Repo:      c.repositories.Templates,
		TxManager: c.db.Store,
		Config:    &c.config.Workflow,
		Logger:    c.logger.Named("template"),
	})
	if err != nil {
		return err
	}
	c.templates = store
	return nil
}

func (c *Container) initDispatcherAndWorkflow() {
	c.dispatcher = ProvideDispatcher(c.logger)
	c.engine = ProvideWorkflowEngine(&WorkflowDeps{
		Repos:      c.repositories,
		Templates:  c.templates,
		Directory:  c.directory,
		TxManager:  c.db.Store,
		Dispatcher: c.dispatcher,
		Config:     &c.config.Workflow,
		Logger:     c.logger,
	})
}

func (c *Container) initServices() {
	c.services = ProvideServices(&ServiceDeps{
		Repos:      c.repositories,
		Engine:     c.engine,
		Notifier:   c.notifier,
		Dispatcher: c.dispatcher,
		Logger:     c.logger,
	})
}

// Getters for accessing components

// Config returns the container configuration.
func (c *Container) Config() *config.Config {
	return c.config
}

// Logger returns the root logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Database returns the database connection.
func (c *Container) Database() *database.DB {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.db == nil {
		return nil
	}
	return c.db.DB
}

// Repositories returns the repository bundle.
func (c *Container) Repositories() *RepositoryBundle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.repositories
}

// Templates returns the template store.
func (c *Container) Templates() *template.Store {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.templates
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.dispatcher
}

// Engine returns the workflow engine.
func (c *Container) Engine() *workflow.Engine {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.engine
}

// Services returns the service bundle.
func (c *Container) Services() *ServiceBundle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.services
}

// Server returns the HTTP server.
func (c *Container) Server() *httpapi.Server {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.server
}
