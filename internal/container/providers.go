package container

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/feilong2k/codemaestro/internal/agent"
	"github.com/feilong2k/codemaestro/internal/application/dispatcher"
	"github.com/feilong2k/codemaestro/internal/application/port"
	"github.com/feilong2k/codemaestro/internal/application/service"
	"github.com/feilong2k/codemaestro/internal/application/workflow"
	"github.com/feilong2k/codemaestro/internal/domain/event"
	domainwf "github.com/feilong2k/codemaestro/internal/domain/workflow"
	infraLark "github.com/feilong2k/codemaestro/internal/infrastructure/external/lark"
	"github.com/feilong2k/codemaestro/internal/infrastructure/external/openai"
	"github.com/feilong2k/codemaestro/internal/infrastructure/metrics"
	"github.com/feilong2k/codemaestro/internal/infrastructure/notification"
	"github.com/feilong2k/codemaestro/internal/infrastructure/persistence/repository"
	"github.com/feilong2k/codemaestro/internal/infrastructure/persistence/sqlite"
	"github.com/feilong2k/codemaestro/internal/infrastructure/report"
	"github.com/feilong2k/codemaestro/internal/infrastructure/storage"
	"github.com/feilong2k/codemaestro/internal/infrastructure/worker"
	"github.com/feilong2k/codemaestro/internal/interfaces/websocket"
	"github.com/feilong2k/codemaestro/pkg/database"
)

// Workflow action ids bound by the container
const (
	actionNotifyOrchestrator = "notifyOrchestrator"
	actionNotifyTester       = "notifyTester"
	actionNotifyDeveloper    = "notifyDeveloper"
	actionRetryLastStep      = "retryLastStep"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	TransactionMgr *sqlite.DB
}

// NotifierBundle holds the channels state changes are announced on.
type NotifierBundle struct {
	Hub    *websocket.Hub
	Lark   *infraLark.Notifier
	Fanout *notification.Fanout
}

// ProvideDatabase opens the database and runs pending migrations.
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if _, err := database.NewMigrator(db, logger).RunMigrations(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{
		DB:             db,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(db *database.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	return &RepositoryBundle{
		Subtask:  repository.NewSubtaskRepository(db.DB, logger),
		History:  repository.NewHistoryRepository(db.DB, logger),
		Workflow: repository.NewWorkflowRepository(db.DB, logger),
		Outcome:  repository.NewOutcomeRepository(db.DB, logger),
	}, nil
}

// ProvideNotifiers creates the websocket hub, the optional Lark notifier and
// the fanout the orchestrator notifies through. owner names the agent that
// acts on a state and may be nil.
func ProvideNotifiers(cfg *LarkConfig, owner func(state string) string, logger *zap.Logger) *NotifierBundle {
	bundle := &NotifierBundle{Hub: websocket.NewHub(logger)}

	targets := []notification.Named{{Name: "websocket", Notifier: bundle.Hub}}
	if cfg.Enabled {
		client := infraLark.NewSDKClient(infraLark.Config{
			AppID:     cfg.AppID,
			AppSecret: cfg.AppSecret,
			ChatID:    cfg.ChatID,
			BaseURL:   cfg.BaseURL,
		}, logger)

		var opts []infraLark.NotifierOption
		if owner != nil {
			opts = append(opts, infraLark.WithOwner(owner))
		}
		bundle.Lark = infraLark.NewNotifier(infraLark.NewMessageAPI(client, logger), client.GetChatID(), logger, opts...)
		targets = append(targets, notification.Named{Name: "lark", Notifier: bundle.Lark})
	}

	bundle.Fanout = notification.NewFanout(logger, targets...)
	return bundle
}

// ProvideRoster creates the three role agents on the OpenAI client, each
// wrapped with the configured retry policy.
func ProvideRoster(cfg *AgentsConfig, oaCfg *OpenAIConfig, logger *zap.Logger) (*agent.Roster, error) {
	prompts, err := openai.LoadPrompts(cfg.PromptsPath)
	if err != nil {
		return nil, err
	}

	llm := openai.NewClient(openai.ClientConfig{
		APIKey:      oaCfg.APIKey,
		BaseURL:     oaCfg.BaseURL,
		Model:       oaCfg.Model,
		Temperature: oaCfg.Temperature,
		MaxTokens:   oaCfg.MaxTokens,
	}, logger)

	policy := agent.DefaultRetryPolicy()
	if cfg.RetryAttempts > 0 {
		policy.MaxAttempts = cfg.RetryAttempts
	}
	if cfg.RetryInitialBackoff > 0 {
		policy.BackoffBase = cfg.RetryInitialBackoff
	}
	if cfg.RetryMaxBackoff > 0 {
		policy.MaxBackoff = cfg.RetryMaxBackoff
	}

	orion, err := agent.NewOrion(llm, prompts)
	if err != nil {
		return nil, err
	}
	tara, err := agent.NewTara(llm, prompts)
	if err != nil {
		return nil, err
	}
	devon, err := agent.NewDevon(llm, prompts)
	if err != nil {
		return nil, err
	}

	return agent.NewRoster(
		agent.WithRetry(orion, policy),
		agent.WithRetry(tara, policy),
		agent.WithRetry(devon, policy),
	), nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) dispatcher.Dispatcher {
	return dispatcher.NewDispatcher(dispatcher.WithLogger(&zapLoggerAdapter{logger: logger}))
}

// WorkflowDeps holds dependencies for creating the workflow engine.
type WorkflowDeps struct {
	Repos      *RepositoryBundle
	Dispatcher dispatcher.Dispatcher
	Metrics    port.Metrics
	Notifier   port.AgentNotifier
	Config     *WorkflowsConfig
	Logger     *zap.Logger
}

// ProvideWorkflowEngine creates the workflow engine and binds the action
// handlers workflow definitions refer to.
func ProvideWorkflowEngine(deps *WorkflowDeps) workflow.WorkflowEngine {
	opts := []workflow.EngineOption{
		workflow.WithDispatcher(deps.Dispatcher),
		workflow.WithLogger(&zapLoggerAdapter{logger: deps.Logger}),
	}
	if deps.Metrics != nil {
		opts = append(opts, workflow.WithMetrics(deps.Metrics))
	}
	if deps.Config != nil && deps.Config.CacheExpiry > 0 {
		opts = append(opts, workflow.WithCacheExpiry(deps.Config.CacheExpiry))
	}

	engine := workflow.NewEngine(deps.Repos.Workflow, opts...)

	notify := func(ctx context.Context, req workflow.ActionRequest) error {
		subtaskID := req.Vars.GetString("subtaskId")
		if subtaskID == "" || deps.Notifier == nil {
			deps.Logger.Debug("Workflow notification without subtask",
				zap.String("workflow", req.Workflow),
				zap.String("action", req.ActionID),
				zap.String("state", req.To))
			return nil
		}
		return deps.Notifier.NotifyAgent(ctx, subtaskID, req.To)
	}
	engine.RegisterActionHandler(actionNotifyOrchestrator, notify)
	engine.RegisterActionHandler(actionNotifyTester, notify)
	engine.RegisterActionHandler(actionNotifyDeveloper, notify)
	engine.RegisterActionHandler(actionRetryLastStep, func(ctx context.Context, req workflow.ActionRequest) error {
		deps.Logger.Info("Workflow entered recovery, retrying last step",
			zap.String("workflow", req.Workflow),
			zap.String("from", req.From),
			zap.String("subtask_id", req.Vars.GetString("subtaskId")))
		return nil
	})

	return engine
}

// ServiceDeps holds dependencies for creating application services.
type ServiceDeps struct {
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Notifier   port.AgentNotifier
	Storage    port.FileStorage
	Dispatcher dispatcher.Dispatcher
	Engine     workflow.WorkflowEngine
	Logger     *zap.Logger
}

// ProvideServices creates all application services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	logger := &zapLoggerAdapter{logger: deps.Logger}

	orchestrator := service.NewOrchestratorService(logger,
		service.WithSubtaskRepository(deps.Repos.Subtask),
		service.WithHistory(deps.Repos.History),
		service.WithTransactions(deps.TxManager),
		service.WithNotifier(deps.Notifier),
		service.WithEventDispatcher(deps.Dispatcher),
	)

	return &ServiceBundle{
		Orchestrator: orchestrator,
		Action: service.NewActionService(
			orchestrator,
			deps.Engine,
			deps.Repos.Subtask,
			deps.Repos.History,
			deps.Storage,
			deps.Dispatcher,
			logger,
		),
		Evolution: service.NewEvolutionService(
			deps.Repos.Outcome,
			deps.Repos.Workflow,
			deps.TxManager,
			deps.Engine,
			report.NewExcelReport(deps.Logger),
			deps.Dispatcher,
			logger,
		),
	}, nil
}

// ProvideStorage creates the workspace file storage.
func ProvideStorage(cfg *StorageConfig, logger *zap.Logger) port.FileStorage {
	return storage.NewWorkspaceStorage(cfg.WorkspaceDir, logger)
}

// ProvideMetrics creates the Prometheus collectors, or nil when disabled.
func ProvideMetrics(enabled bool) *metrics.Prometheus {
	if !enabled {
		return nil
	}
	return metrics.NewPrometheus()
}

// WorkerDeps holds dependencies for creating workers.
type WorkerDeps struct {
	Repos    *RepositoryBundle
	Roster   *agent.Roster
	Services *ServiceBundle
	Engine   workflow.WorkflowEngine
	Metrics  port.Metrics
	Config   *AgentsConfig
	Logger   *zap.Logger
}

// ProvideWorkers creates the worker manager and, when a roster is given,
// the agent loop.
func ProvideWorkers(deps *WorkerDeps) (*worker.Manager, *worker.AgentLoop) {
	manager := worker.NewManager(deps.Logger)
	if deps.Roster == nil {
		return manager, nil
	}

	loop := worker.NewAgentLoop(
		worker.AgentLoopConfig{
			Interval:       deps.Config.Interval,
			BatchSize:      deps.Config.BatchSize,
			ExecuteTimeout: deps.Config.ExecuteTimeout,
		},
		deps.Repos.Subtask,
		deps.Services.Orchestrator,
		deps.Roster,
		deps.Services.Action,
		deps.Engine,
		deps.Metrics,
		deps.Logger,
	)
	manager.Register(loop)
	return manager, loop
}

// SubscribeEventHandlers forwards domain events to the websocket clients and
// agent escalations to Lark.
func SubscribeEventHandlers(d dispatcher.Dispatcher, notifiers *NotifierBundle) {
	d.SubscribeAll("websocket", notifiers.Hub.HandleEvent)
	if notifiers.Lark != nil {
		d.SubscribeNamed(event.TypeAgentQuestion, "lark", notifiers.Lark.HandleEvent)
		d.SubscribeNamed(event.TypeBlockerEscalated, "lark", notifiers.Lark.HandleEvent)
	}
}

// rosterOwner names the agent acting on a lifecycle state
func rosterOwner(roster *agent.Roster) func(state string) string {
	if roster == nil {
		return nil
	}
	return func(state string) string {
		s, ok := domainwf.ParseState(state)
		if !ok {
			return ""
		}
		if a, ok := roster.ForState(s); ok {
			return a.Name()
		}
		return ""
	}
}
