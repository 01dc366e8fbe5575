package container

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/happy-code-egg/ruidao-sub002/internal/application/assignee"
	"github.com/happy-code-egg/ruidao-sub002/internal/application/bridge"
	"github.com/happy-code-egg/ruidao-sub002/internal/application/dispatcher"
	"github.com/happy-code-egg/ruidao-sub002/internal/application/port"
	"github.com/happy-code-egg/ruidao-sub002/internal/application/service"
	"github.com/happy-code-egg/ruidao-sub002/internal/application/template"
	"github.com/happy-code-egg/ruidao-sub002/internal/application/workflow"
	"github.com/happy-code-egg/ruidao-sub002/internal/config"
	"github.com/happy-code-egg/ruidao-sub002/internal/infrastructure/directory"
	"github.com/happy-code-egg/ruidao-sub002/internal/infrastructure/external/lark"
	"github.com/happy-code-egg/ruidao-sub002/internal/infrastructure/persistence/repository"
	"github.com/happy-code-egg/ruidao-sub002/internal/infrastructure/persistence/sqlstore"
	"github.com/happy-code-egg/ruidao-sub002/internal/infrastructure/worker"
	httpapi "github.com/happy-code-egg/ruidao-sub002/internal/interfaces/http"
	"github.com/happy-code-egg/ruidao-sub002/pkg/database"
	"github.com/happy-code-egg/ruidao-sub002/pkg/utils"
)

// DatabaseBundle groups the connection and the transaction-aware store over it.
type DatabaseBundle struct {
	DB    *database.DB
	Store *sqlstore.Store
}

// ProvideDatabase opens the database and, when configured, applies migrations.
func ProvideDatabase(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	db, err := database.New(ctx, cfg.Connection(), logger)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		if err := database.NewMigrator(db, logger).Up(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
	}

	return &DatabaseBundle{DB: db, Store: sqlstore.New(db, logger)}, nil
}

// ProvideRepositories creates all repositories over store.
func ProvideRepositories(store *sqlstore.Store, logger *zap.Logger) *RepositoryBundle {
	return &RepositoryBundle{
		Templates: repository.NewTemplateRepository(store, logger),
		Instances: repository.NewInstanceRepository(store, logger),
		Processes: repository.NewProcessRepository(store, logger),
		Logs:      repository.NewProcessLogRepository(store, logger),
	}
}

// ProvideDirectory creates the user directory from configuration.
func ProvideDirectory(cfg *directory.Config) (port.UserDirectory, error) {
	dir, err := directory.New(*cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid directory config: %w", err)
	}
	return dir, nil
}

// ProvideNotifier creates the Lark notifier, or a log-only one when Lark is disabled.
func ProvideNotifier(cfg *lark.Config, logger *zap.Logger) port.Notifier {
	return lark.NewNotifier(*cfg, logger.Named("lark"))
}

// TemplateDeps contains dependencies for the template store.
type TemplateDeps struct {
	Repo      port.TemplateRepository
	TxManager port.TransactionManager
	Config    *config.WorkflowConfig
	Logger    *zap.Logger
}

// ProvideTemplateStore creates the template store and imports the
// configured template directory.
func ProvideTemplateStore(ctx context.Context, deps *TemplateDeps) (*template.Store, error) {
	store, err := template.NewStore(deps.Repo, deps.TxManager, deps.Config.Rules, utils.NewKVLogger(deps.Logger))
	if err != nil {
		return nil, fmt.Errorf("invalid template rules: %w", err)
	}

	if !deps.Config.ImportOnStart || deps.Config.TemplatesDir == "" {
		return store, nil
	}
	if _, err := os.Stat(deps.Config.TemplatesDir); errors.Is(err, os.ErrNotExist) {
		deps.Logger.Warn("Template directory not found, skipping import",
			zap.String("dir", deps.Config.TemplatesDir))
		return store, nil
	}

	defs, err := template.LoadDir(deps.Config.TemplatesDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}
	results, err := store.Import(ctx, defs)
	if err != nil {
		return nil, fmt.Errorf("failed to import templates: %w", err)
	}
	for _, r := range results {
		deps.Logger.Info("Template imported",
			zap.String("code", r.Code),
			zap.Int("version", r.Version),
			zap.String("outcome", string(r.Outcome)))
	}

	return store, nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) dispatcher.Dispatcher {
	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(utils.NewKVLogger(logger.Named("dispatcher"))),
	)
}

// WorkflowDeps contains dependencies for the workflow engine.
type WorkflowDeps struct {
	Repos      *RepositoryBundle
	Templates  *template.Store
	Directory  port.UserDirectory
	TxManager  port.TransactionManager
	Dispatcher dispatcher.Dispatcher
	Config     *config.WorkflowConfig
	Logger     *zap.Logger
}

// ProvideWorkflowEngine creates the workflow engine.
func ProvideWorkflowEngine(deps *WorkflowDeps) *workflow.Engine {
	return workflow.NewEngine(
		deps.Templates,
		assignee.NewResolver(deps.Directory),
		workflow.Repositories{
			Instances: deps.Repos.Instances,
			Processes: deps.Repos.Processes,
			Logs:      deps.Repos.Logs,
		},
		deps.TxManager,
		utils.NewKVLogger(deps.Logger.Named("workflow")),
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithEnforceAssignee(deps.Config.EnforceAssignee),
	)
}

// ServiceDeps contains dependencies for application services.
type ServiceDeps struct {
	Repos      *RepositoryBundle
	Engine     *workflow.Engine
	Notifier   port.Notifier
	Dispatcher dispatcher.Dispatcher
	Logger     *zap.Logger
}

// ProvideServices creates the application services and subscribes the
// event-driven ones to the dispatcher.
func ProvideServices(deps *ServiceDeps) *ServiceBundle {
	kv := utils.NewKVLogger(deps.Logger.Named("service"))

	notification := service.NewNotificationService(deps.Repos.Instances, deps.Notifier, kv)
	notification.Register(deps.Dispatcher)

	return &ServiceBundle{
		Notification: notification,
		Export:       service.NewExportService(deps.Engine, kv),
		Status:       bridge.New(deps.Repos.Instances, deps.Repos.Processes),
	}
}

// ProvideWorkers creates the background worker manager. The reminder worker
// is registered only when reminders are enabled.
func ProvideWorkers(cfg *config.ReminderConfig, repos *RepositoryBundle, notifier port.Notifier, logger *zap.Logger) *worker.Manager {
	manager := worker.NewManager(logger.Named("worker"))
	if !cfg.Enabled {
		return manager
	}

	reminders := service.NewReminderService(
		repos.Processes,
		repos.Instances,
		notifier,
		service.ReminderConfig{After: cfg.After, Repeat: cfg.Repeat, BatchSize: cfg.BatchSize},
		utils.NewKVLogger(logger.Named("reminder")),
	)
	manager.Register(worker.NewReminderWorker(reminders, cfg.Interval, logger.Named("reminder")))
	return manager
}

// ProvideHTTPServer creates the HTTP server over the engine and services.
func ProvideHTTPServer(cfg httpapi.ServerConfig, engine *workflow.Engine, templates *template.Store, services *ServiceBundle, health httpapi.HealthChecker, logger *zap.Logger) *httpapi.Server {
	return httpapi.NewServer(cfg, httpapi.Services{
		Workflow:  engine,
		Templates: templates,
		Status:    services.Status,
		Export:    services.Export,
		Health:    health,
	}, utils.NewKVLogger(logger.Named("http")))
}
