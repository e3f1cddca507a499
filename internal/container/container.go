package container

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/feilong2k/codemaestro/internal/agent"
	"github.com/feilong2k/codemaestro/internal/application/dispatcher"
	"github.com/feilong2k/codemaestro/internal/application/port"
	"github.com/feilong2k/codemaestro/internal/application/service"
	"github.com/feilong2k/codemaestro/internal/application/workflow"
	domainwf "github.com/feilong2k/codemaestro/internal/domain/workflow"
	"github.com/feilong2k/codemaestro/internal/infrastructure/metrics"
	"github.com/feilong2k/codemaestro/internal/infrastructure/persistence/sqlite"
	"github.com/feilong2k/codemaestro/internal/infrastructure/worker"
	httpapi "github.com/feilong2k/codemaestro/internal/interfaces/http"
	"github.com/feilong2k/codemaestro/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// It follows Clean Architecture principles with ordered initialization
// and reverse-order teardown.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	db           *database.DB
	txManager    *sqlite.DB
	repositories *RepositoryBundle

	// Infrastructure - External
	metrics   *metrics.Prometheus
	notifiers *NotifierBundle
	roster    *agent.Roster

	// Infrastructure - Storage
	fileStorage port.FileStorage

	// Application
	dispatcher dispatcher.Dispatcher
	engine     workflow.WorkflowEngine
	services   *ServiceBundle

	// Workers
	workers   *worker.Manager
	agentLoop *worker.AgentLoop

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Subtask  port.SubtaskRepository
	History  port.HistoryRepository
	Workflow port.WorkflowRepository
	Outcome  port.OutcomeRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Orchestrator service.OrchestratorService
	Action       service.ActionService
	Evolution    service.EvolutionService
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
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
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

// Start initializes all components and begins processing.
// Components are initialized in dependency order:
// 1. Database and repositories
// 2. External clients (metrics, notifiers, agents)
// 3. Storage
// 4. Event dispatcher and workflow engine
// 5. Application services
// 6. Workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}

	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	// Step 1: Initialize database and repositories
	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	// Step 2: Initialize external clients
	if err := c.initExternalClients(); err != nil {
		return fmt.Errorf("failed to initialize external clients: %w", err)
	}
	c.logger.Info("External clients initialized")

	// Step 3: Initialize storage
	if err := os.MkdirAll(c.config.Storage.WorkspaceDir, 0o755); err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	c.fileStorage = ProvideStorage(&c.config.Storage, c.logger)
	c.logger.Info("Storage initialized", zap.String("workspace", c.config.Storage.WorkspaceDir))

	// Step 4: Initialize dispatcher and workflow engine
	c.initDispatcherAndWorkflow()
	c.logger.Info("Dispatcher and workflow engine initialized")

	// Step 5: Initialize application services
	if err := c.initServices(); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.logger.Info("Application services initialized")

	// Step 6: Initialize and start workers
	if err := c.initWorkers(); err != nil {
		return fmt.Errorf("failed to initialize workers: %w", err)
	}
	c.logger.Info("Workers initialized and started", zap.Bool("agent_loop", c.agentLoop != nil))

	c.ready.Store(true)
	c.logger.Info("Container started successfully")

	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")

	var errs []error

	// Cancel context to signal all goroutines
	if c.cancel != nil {
		c.cancel()
	}

	// Step 1: Stop workers (reverse of step 6)
	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			c.logger.Error("Failed to stop workers", zap.Error(err))
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		} else {
			c.logger.Info("Workers stopped")
		}
	}

	// Step 2: Close dispatcher (reverse of step 4)
	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	// Step 3: Disconnect websocket clients (reverse of step 2)
	if c.notifiers != nil {
		c.notifiers.Hub.Close()
		c.logger.Info("Websocket hub closed")
	}

	// Step 4: Close database (reverse of step 1)
	if c.db != nil {
		if err := c.db.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
	}

	c.closed.Store(true)
	c.ready.Store(false)

	if len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return errors.Join(errs...)
	}

	c.logger.Info("Container closed successfully")
	return nil
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health() *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}

	set := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	// Check database
	switch {
	case c.db == nil:
		set("database", false, "not initialized")
	default:
		if err := c.db.Ping(); err != nil {
			set("database", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("database", true, "")
		}
	}

	// Check workers
	if c.workers != nil {
		set("workers", c.workers.IsRunning(), fmt.Sprintf("worker count: %d", c.workers.WorkerCount()))
	} else {
		set("workers", false, "not initialized")
	}

	// Check dispatcher and engine
	set("dispatcher", c.dispatcher != nil, "")
	if c.engine != nil {
		msg := ""
		if c.engine.IsPaused() {
			msg = "paused"
		}
		set("engine", true, msg)
	} else {
		set("engine", false, "not initialized")
	}

	if c.notifiers != nil {
		set("websocket", true, fmt.Sprintf("clients: %d", c.notifiers.Hub.ClientCount()))
	}

	return status
}

// EnsureWorkflows seeds the workflow definitions when the subtask lifecycle
// has not been stored yet.
func (c *Container) EnsureWorkflows(ctx context.Context) error {
	record, err := c.repositories.Workflow.GetByName(ctx, domainwf.SubtaskLifecycleName)
	if err != nil {
		return err
	}
	if record != nil {
		return nil
	}
	_, err = SeedWorkflows(ctx, c.repositories.Workflow, c.config.Workflows.SeedDir, c.logger)
	return err
}

// SeedWorkflows stores the subtask lifecycle and the YAML definitions in
// seedDir. A missing seedDir seeds the lifecycle alone.
func SeedWorkflows(ctx context.Context, repo port.WorkflowRepository, seedDir string, logger *zap.Logger) (*workflow.SeedResult, error) {
	var fsys fs.FS
	if seedDir != "" {
		if info, err := os.Stat(seedDir); err == nil && info.IsDir() {
			fsys = os.DirFS(seedDir)
		} else {
			logger.Warn("Workflow seed directory not found", zap.String("dir", seedDir))
		}
	}

	result, err := workflow.Seed(ctx, repo, fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to seed workflows: %w", err)
	}
	logger.Info("Workflows seeded", zap.Strings("workflows", result.Workflows))
	return result, nil
}

// HTTPServer builds the HTTP server over the container's services.
func (c *Container) HTTPServer() *httpapi.Server {
	deps := httpapi.Dependencies{
		Orchestrator: c.services.Orchestrator,
		Engine:       c.engine,
		Evolution:    c.services.Evolution,
		Websocket:    c.notifiers.Hub,
		Version:      c.config.Version,
	}
	if c.agentLoop != nil {
		deps.Agents = c.agentLoop
	}
	if c.metrics != nil {
		deps.Metrics = c.metrics.Handler()
	}

	return httpapi.NewServer(httpapi.ServerConfig{
		Host:         c.config.Server.Host,
		Port:         c.config.Server.Port,
		ReadTimeout:  c.config.Server.ReadTimeout,
		WriteTimeout: c.config.Server.WriteTimeout,
	}, deps, &zapLoggerAdapter{logger: c.logger})
}

// initDatabase initializes the database and all repositories using providers.
func (c *Container) initDatabase() error {
	dbBundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return err
	}

	c.db = dbBundle.DB
	c.txManager = dbBundle.TransactionMgr

	repos, err := ProvideRepositories(c.db, c.logger)
	if err != nil {
		_ = c.db.Close()
		return err
	}

	c.repositories = repos
	return nil
}

// initExternalClients initializes metrics, notifiers and the agent roster.
func (c *Container) initExternalClients() error {
	c.metrics = ProvideMetrics(c.config.MetricsEnabled)

	if c.config.Agents.Enabled {
		roster, err := ProvideRoster(&c.config.Agents, &c.config.OpenAI, c.logger)
		if err != nil {
			return err
		}
		c.roster = roster
	}

	c.notifiers = ProvideNotifiers(&c.config.Lark, rosterOwner(c.roster), c.logger)
	return nil
}

// initDispatcherAndWorkflow initializes the event dispatcher and workflow engine.
func (c *Container) initDispatcherAndWorkflow() {
	c.dispatcher = ProvideDispatcher(c.logger)
	SubscribeEventHandlers(c.dispatcher, c.notifiers)

	c.engine = ProvideWorkflowEngine(&WorkflowDeps{
		Repos:      c.repositories,
		Dispatcher: c.dispatcher,
		Metrics:    c.portMetrics(),
		Notifier:   c.notifiers.Fanout,
		Config:     &c.config.Workflows,
		Logger:     c.logger,
	})
}

// initServices initializes all application services using providers.
func (c *Container) initServices() error {
	services, err := ProvideServices(&ServiceDeps{
		Repos:      c.repositories,
		TxManager:  c.txManager,
		Notifier:   c.notifiers.Fanout,
		Storage:    c.fileStorage,
		Dispatcher: c.dispatcher,
		Engine:     c.engine,
		Logger:     c.logger,
	})
	if err != nil {
		return err
	}

	c.services = services
	return nil
}

// initWorkers initializes and starts all background workers using providers.
func (c *Container) initWorkers() error {
	c.workers, c.agentLoop = ProvideWorkers(&WorkerDeps{
		Repos:    c.repositories,
		Roster:   c.roster,
		Services: c.services,
		Engine:   c.engine,
		Metrics:  c.portMetrics(),
		Config:   &c.config.Agents,
		Logger:   c.logger,
	})

	if err := c.workers.StartAll(c.ctx); err != nil {
		return fmt.Errorf("failed to start workers: %w", err)
	}

	return nil
}

// portMetrics keeps a disabled collector a nil interface
func (c *Container) portMetrics() port.Metrics {
	if c.metrics == nil {
		return nil
	}
	return c.metrics
}

// Getters for accessing container components

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.txManager
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// WorkflowEngine returns the workflow engine.
func (c *Container) WorkflowEngine() workflow.WorkflowEngine {
	return c.engine
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Workers returns the worker manager.
func (c *Container) Workers() *worker.Manager {
	return c.workers
}

// MetricsHandler returns the /metrics handler, nil when metrics are disabled.
func (c *Container) MetricsHandler() http.Handler {
	if c.metrics == nil {
		return nil
	}
	return c.metrics.Handler()
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}

// zapLoggerAdapter adapts zap.Logger to the Info/Error key-value loggers
// of the application and interface layers.
type zapLoggerAdapter struct {
	logger *zap.Logger
}

func (a *zapLoggerAdapter) Info(msg string, keysAndValues ...interface{}) {
	a.logger.Info(msg, convertToZapFields(keysAndValues...)...)
}

func (a *zapLoggerAdapter) Error(msg string, keysAndValues ...interface{}) {
	a.logger.Error(msg, convertToZapFields(keysAndValues...)...)
}

// convertToZapFields converts key-value pairs to zap fields.
func convertToZapFields(keysAndValues ...interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key, ok := keysAndValues[i].(string)
		if !ok {
			continue
		}
		if err, isErr := keysAndValues[i+1].(error); isErr {
			fields = append(fields, zap.NamedError(key, err))
			continue
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}
