package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/feilong2k/codemaestro/internal/application/dispatcher"
	"github.com/feilong2k/codemaestro/internal/application/port"
	"github.com/feilong2k/codemaestro/internal/domain/entity"
	"github.com/feilong2k/codemaestro/internal/domain/event"
	domainwf "github.com/feilong2k/codemaestro/internal/domain/workflow"
)

// Planning states picked by strategy routing
const (
	StateStrategicPlanning = "strategic_planning"
	StateStandardPlanning  = "standard_planning"

	StrategyThreeTier = "three-tier"
	StrategyStandard  = "standard"
)

type cachedDefinition struct {
	def      *domainwf.Definition
	loadedAt time.Time
}

type engineImpl struct {
	workflowRepo port.WorkflowRepository
	guards       *domainwf.GuardRegistry
	dispatcher   dispatcher.Dispatcher
	metrics      port.Metrics
	logger       Logger

	paused atomic.Bool

	mu          sync.RWMutex
	definitions map[string]cachedDefinition
	cacheExpiry time.Duration

	handlersMu sync.RWMutex
	handlers   map[string]ActionHandler
}

// EngineOption configures the workflow engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the event dispatcher for emitting events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// WithCacheExpiry sets how long a loaded definition is reused
func WithCacheExpiry(expiry time.Duration) EngineOption {
	return func(e *engineImpl) {
		e.cacheExpiry = expiry
	}
}

// WithGuards replaces the built-in guard registry
func WithGuards(guards *domainwf.GuardRegistry) EngineOption {
	return func(e *engineImpl) {
		e.guards = guards
	}
}

// WithMetrics records transition outcomes
func WithMetrics(m port.Metrics) EngineOption {
	return func(e *engineImpl) {
		e.metrics = m
	}
}

// WithLogger sets the engine logger
func WithLogger(logger Logger) EngineOption {
	return func(e *engineImpl) {
		e.logger = logger
	}
}

// NewEngine creates a new workflow engine
func NewEngine(workflowRepo port.WorkflowRepository, opts ...EngineOption) WorkflowEngine {
	e := &engineImpl{
		workflowRepo: workflowRepo,
		guards:       domainwf.NewGuardRegistry(),
		definitions:  make(map[string]cachedDefinition),
		cacheExpiry:  30 * time.Minute,
		handlers:     make(map[string]ActionHandler),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

func (e *engineImpl) LoadWorkflow(ctx context.Context, name string) (*domainwf.Definition, error) {
	def, err := e.definition(ctx, name)
	if err != nil {
		return nil, err
	}
	return def.Clone(), nil
}

func (e *engineImpl) Transition(ctx context.Context, workflowName, currentState, evt string, vars domainwf.Vars) (next string, err error) {
	if e.paused.Load() {
		return "", domainwf.ErrPaused
	}

	start := time.Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.ObserveTransition(workflowName, currentState, next, err, time.Since(start))
		}
	}()

	def, err := e.definition(ctx, workflowName)
	if err != nil {
		if errors.Is(err, domainwf.ErrInvalidDefinition) {
			return "", fmt.Errorf("%w: %w", domainwf.ErrInvalidTransition, err)
		}
		return "", err
	}

	spec, err := def.Lookup(currentState, evt)
	if err != nil {
		e.info("Transition rejected: event not defined",
			"workflow", workflowName, "state", currentState, "event", evt)
		return "", err
	}

	vars = vars.Clone()

	if spec.Guard != "" {
		passed, known := e.guards.Evaluate(spec.Guard, vars)
		if !passed {
			e.info("Transition rejected: guard failed",
				"workflow", workflowName, "state", currentState, "event", evt,
				"guard", spec.Guard, "known_guard", known)
			return "", fmt.Errorf("%w: %w: %s: %s --%s--> %s (guard %s)",
				domainwf.ErrInvalidTransition, domainwf.ErrGuardFailed,
				workflowName, currentState, evt, spec.Target, spec.Guard)
		}
	}

	target := spec.Target
	if isPlanningState(target) {
		routed, err := routeStrategy(vars)
		if err != nil {
			return "", err
		}
		if routed != "" {
			if !def.HasState(routed) {
				return "", fmt.Errorf("%w: %s: planning state %q is not declared", domainwf.ErrInvalidTransition, workflowName, routed)
			}
			target = routed
		}
	}

	req := ActionRequest{Workflow: workflowName, From: currentState, To: target, Event: evt, Vars: vars}
	if err := e.runActions(ctx, req, def.States[currentState].Exit); err != nil {
		return "", err
	}
	if err := e.runActions(ctx, req, def.States[target].Entry); err != nil {
		return "", err
	}
	if auto, ok := def.Metadata.AutoActions[target]; ok {
		if err := e.runActions(ctx, req, []string{auto}); err != nil {
			return "", err
		}
	}

	if e.dispatcher != nil {
		e.dispatcher.DispatchAsync(ctx, event.NewEvent(event.TypeWorkflowTransitioned, vars.GetString("subtaskId"), map[string]any{
			"workflow":       workflowName,
			"previous_state": currentState,
			"new_state":      target,
			"event":          evt,
		}))
	}

	return target, nil
}

func (e *engineImpl) ValidateState(ctx context.Context, workflowName, state string) (bool, error) {
	def, err := e.definition(ctx, workflowName)
	if err != nil {
		return false, err
	}
	return def.HasState(state), nil
}

func (e *engineImpl) RegisterActionHandler(actionID string, handler ActionHandler) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	e.handlers[actionID] = handler
}

func (e *engineImpl) RegisterGuard(name string, guard domainwf.Guard) {
	e.guards.Register(name, guard)
}

func (e *engineImpl) InvalidateWorkflow(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.definitions, name)
}

func (e *engineImpl) Pause() {
	if e.paused.CompareAndSwap(false, true) {
		e.onPauseChanged(true, event.TypeEnginePaused)
	}
}

func (e *engineImpl) Resume() {
	if e.paused.CompareAndSwap(true, false) {
		e.onPauseChanged(false, event.TypeEngineResumed)
	}
}

func (e *engineImpl) IsPaused() bool {
	return e.paused.Load()
}

func (e *engineImpl) onPauseChanged(paused bool, eventType event.Type) {
	e.info("Workflow engine pause state changed", "paused", paused)
	if e.metrics != nil {
		e.metrics.SetPaused(paused)
	}
	if e.dispatcher != nil {
		e.dispatcher.DispatchAsync(context.Background(), event.NewEvent(eventType, "", nil))
	}
}

// definition returns the cached definition; callers must not mutate it
func (e *engineImpl) definition(ctx context.Context, name string) (*domainwf.Definition, error) {
	e.mu.RLock()
	cached, ok := e.definitions[name]
	e.mu.RUnlock()
	if ok && time.Since(cached.loadedAt) < e.cacheExpiry {
		return cached.def, nil
	}

	record, err := e.workflowRepo.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow %s: %w", name, err)
	}
	if record == nil {
		return nil, fmt.Errorf("%w: workflow %s", domainwf.ErrNotFound, name)
	}

	def, err := DecodeRecord(record)
	if err != nil {
		e.error("Workflow definition rejected", "workflow", name, "error", err)
		return nil, err
	}

	e.mu.Lock()
	e.definitions[name] = cachedDefinition{def: def, loadedAt: time.Now()}
	e.mu.Unlock()

	return def, nil
}

func (e *engineImpl) runActions(ctx context.Context, req ActionRequest, actionIDs []string) error {
	for _, id := range actionIDs {
		e.handlersMu.RLock()
		handler, ok := e.handlers[id]
		e.handlersMu.RUnlock()
		if !ok {
			continue
		}

		req.ActionID = id
		if err := handler(ctx, req); err != nil {
			e.error("Action handler failed", "workflow", req.Workflow, "action", id, "error", err)
			return fmt.Errorf("action %s on %s --%s--> %s: %w", id, req.From, req.Event, req.To, err)
		}
	}
	return nil
}

func (e *engineImpl) info(msg string, keysAndValues ...interface{}) {
	if e.logger != nil {
		e.logger.Info(msg, keysAndValues...)
	}
}

func (e *engineImpl) error(msg string, keysAndValues ...interface{}) {
	if e.logger != nil {
		e.logger.Error(msg, keysAndValues...)
	}
}

func isPlanningState(state string) bool {
	return state == StateStrategicPlanning || state == StateStandardPlanning
}

// routeStrategy picks the planning state. Bug escalation overrides the strategy.
// An empty result keeps the target declared by the definition.
func routeStrategy(vars domainwf.Vars) (string, error) {
	if vars.GetBool("isBugEscalation") {
		return StateStrategicPlanning, nil
	}

	switch strategy := vars.GetString("strategy"); strategy {
	case "":
		return "", nil
	case StrategyThreeTier:
		return StateStrategicPlanning, nil
	case StrategyStandard:
		return StateStandardPlanning, nil
	default:
		return "", fmt.Errorf("%w: %q", domainwf.ErrUnknownStrategy, strategy)
	}
}

// DecodeRecord turns a stored workflow row into a validated definition
func DecodeRecord(record *entity.WorkflowRecord) (*domainwf.Definition, error) {
	var def domainwf.Definition
	if err := json.Unmarshal(record.Definition, &def); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domainwf.ErrInvalidDefinition, record.Name, err)
	}
	if len(record.Metadata) > 0 && string(record.Metadata) != "null" {
		var meta domainwf.Metadata
		if err := json.Unmarshal(record.Metadata, &meta); err != nil {
			return nil, fmt.Errorf("%w: %s: metadata: %v", domainwf.ErrInvalidDefinition, record.Name, err)
		}
		def.Metadata = meta
	}
	if def.Name == "" {
		def.Name = record.Name
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// EncodeDefinition splits a definition into the stored definition and metadata columns
func EncodeDefinition(def *domainwf.Definition) (*entity.WorkflowRecord, error) {
	body := *def
	body.Metadata = domainwf.Metadata{}

	definition, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode definition %s: %w", def.Name, err)
	}
	metadata, err := json.Marshal(def.Metadata)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata %s: %w", def.Name, err)
	}

	return &entity.WorkflowRecord{
		Name:       def.Name,
		Definition: definition,
		Metadata:   metadata,
	}, nil
}
