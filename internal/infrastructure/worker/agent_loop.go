package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/feilong2k/codemaestro/internal/agent"
	"github.com/feilong2k/codemaestro/internal/application/port"
	"github.com/feilong2k/codemaestro/internal/application/service"
	"github.com/feilong2k/codemaestro/internal/domain/action"
	"github.com/feilong2k/codemaestro/internal/domain/entity"
	"github.com/feilong2k/codemaestro/internal/domain/workflow"
)

// Phase is the step of the agent loop a subtask is in
type Phase string

const (
	PhaseObserve Phase = "observe"
	PhaseThink   Phase = "think"
	PhaseAct     Phase = "act"
	PhaseWait    Phase = "wait"
	PhaseVerify  Phase = "verify"
	PhaseError   Phase = "error"
)

// activeStates are the states some agent can advance
var activeStates = []string{
	workflow.StatePending.String(),
	workflow.StateInProgress.String(),
	workflow.StateRed.String(),
	workflow.StateGreen.String(),
	workflow.StateRefactor.String(),
	workflow.StateIntegrationRed.String(),
	workflow.StateIntegrationGreen.String(),
	workflow.StateVerification.String(),
	workflow.StateBlocked.String(),
}

// AgentLoopConfig holds configuration for the agent loop
type AgentLoopConfig struct {
	Interval       time.Duration
	BatchSize      int
	ExecuteTimeout time.Duration
}

// DefaultAgentLoopConfig returns default configuration
func DefaultAgentLoopConfig() AgentLoopConfig {
	return AgentLoopConfig{
		Interval:       15 * time.Second,
		BatchSize:      5,
		ExecuteTimeout: 2 * time.Minute,
	}
}

// SubtaskLister finds subtasks an agent can work on
type SubtaskLister interface {
	ListByStates(ctx context.Context, states []string, limit int) ([]*entity.Subtask, error)
}

// StateReader reads the persisted lifecycle state
type StateReader interface {
	GetSubtaskState(ctx context.Context, id string) (string, error)
}

// PauseChecker reports whether workflow execution is paused
type PauseChecker interface {
	IsPaused() bool
}

// AgentStatus is a snapshot of the loop for operators
type AgentStatus struct {
	Running        bool      `json:"running"`
	Phase          Phase     `json:"phase"`
	Agents         []string  `json:"agents"`
	ProcessedCount int       `json:"processed_count"`
	FailedCount    int       `json:"failed_count"`
	LastRun        time.Time `json:"last_run"`
	LastError      string    `json:"last_error,omitempty"`
}

// StepResult describes one observe-think-act-verify pass over a subtask
type StepResult struct {
	SubtaskID string
	Agent     string
	From      string
	To        string
	Actions   int
	Phase     Phase
	Err       error
}

// AgentLoop periodically picks up active subtasks, runs the agent that owns
// the current state, dispatches the proposed actions and verifies the
// persisted state afterwards
type AgentLoop struct {
	config   AgentLoopConfig
	subtasks SubtaskLister
	states   StateReader
	roster   *agent.Roster
	actions  service.ActionService
	pause    PauseChecker
	metrics  port.Metrics
	logger   *zap.Logger

	mu             sync.RWMutex
	cancel         context.CancelFunc
	done           chan struct{}
	isRunning      bool
	phase          Phase
	processedCount int
	failedCount    int
	lastRun        time.Time
	lastError      error
}

// NewAgentLoop creates a new agent loop. pause and metrics may be nil.
func NewAgentLoop(
	config AgentLoopConfig,
	subtasks SubtaskLister,
	states StateReader,
	roster *agent.Roster,
	actions service.ActionService,
	pause PauseChecker,
	metrics port.Metrics,
	logger *zap.Logger,
) *AgentLoop {
	if config.Interval <= 0 {
		config.Interval = DefaultAgentLoopConfig().Interval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultAgentLoopConfig().BatchSize
	}
	if config.ExecuteTimeout <= 0 {
		config.ExecuteTimeout = DefaultAgentLoopConfig().ExecuteTimeout
	}

	return &AgentLoop{
		config:   config,
		subtasks: subtasks,
		states:   states,
		roster:   roster,
		actions:  actions,
		pause:    pause,
		metrics:  metrics,
		logger:   logger,
		phase:    PhaseWait,
	}
}

// Name returns the worker name for identification
func (l *AgentLoop) Name() string {
	return "AgentLoop"
}

// Start begins the loop in a background goroutine
func (l *AgentLoop) Start(ctx context.Context) error {
	l.mu.Lock()
	if l.isRunning {
		l.mu.Unlock()
		return fmt.Errorf("agent loop already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.isRunning = true
	l.mu.Unlock()

	l.logger.Info("AgentLoop started",
		zap.Duration("interval", l.config.Interval),
		zap.Int("batch_size", l.config.BatchSize),
		zap.Strings("agents", l.roster.Names()))

	go l.loop(runCtx)
	return nil
}

// Stop cancels the loop and waits for the current pass to finish
func (l *AgentLoop) Stop() error {
	l.mu.Lock()
	if !l.isRunning {
		l.mu.Unlock()
		return nil
	}
	l.isRunning = false
	cancel, done := l.cancel, l.done
	l.mu.Unlock()

	cancel()
	<-done

	status := l.Status()
	l.logger.Info("AgentLoop stopped",
		zap.Int("processed_count", status.ProcessedCount),
		zap.Int("failed_count", status.FailedCount))
	return nil
}

// Status returns a snapshot of the loop
func (l *AgentLoop) Status() AgentStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()

	status := AgentStatus{
		Running:        l.isRunning,
		Phase:          l.phase,
		Agents:         l.roster.Names(),
		ProcessedCount: l.processedCount,
		FailedCount:    l.failedCount,
		LastRun:        l.lastRun,
	}
	if l.lastError != nil {
		status.LastError = l.lastError.Error()
	}
	return status
}

func (l *AgentLoop) loop(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := l.RunOnce(ctx); err != nil && ctx.Err() == nil {
			l.logger.Error("Agent loop pass failed", zap.Error(err))
		}

		l.setPhase(PhaseWait)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce performs one pass over the active subtasks
func (l *AgentLoop) RunOnce(ctx context.Context) ([]StepResult, error) {
	if l.pause != nil && l.pause.IsPaused() {
		l.logger.Debug("Workflow execution paused, skipping pass")
		return nil, nil
	}

	l.setPhase(PhaseObserve)
	subtasks, err := l.subtasks.ListByStates(ctx, activeStates, l.config.BatchSize)
	if err != nil {
		l.recordError(err)
		return nil, fmt.Errorf("observe subtasks: %w", err)
	}

	results := make([]StepResult, 0, len(subtasks))
	for _, subtask := range subtasks {
		if ctx.Err() != nil {
			break
		}
		res := l.Step(ctx, subtask)
		results = append(results, res)
	}

	l.mu.Lock()
	l.lastRun = time.Now()
	l.mu.Unlock()

	return results, nil
}

// Step runs the owning agent on one subtask. At verification the tester
// reports first and a failed report is handed to the owner as a rejection.
func (l *AgentLoop) Step(ctx context.Context, subtask *entity.Subtask) StepResult {
	res := StepResult{SubtaskID: subtask.ID, From: subtask.State, To: subtask.State}

	state, ok := workflow.ParseState(subtask.State)
	if !ok {
		return l.fail(res, PhaseObserve, fmt.Errorf("%w: %q", workflow.ErrInvalidState, subtask.State))
	}
	owner, ok := l.roster.ForState(state)
	if !ok {
		res.Phase = PhaseWait
		return res
	}

	actx := &agent.Context{
		CurrentTask:     subtask,
		AvailableAgents: l.roster.Names(),
		ReadyForReview:  state == workflow.StateVerification,
	}

	runOwner := true
	if verifier, ok := l.roster.VerifierFor(state); ok {
		res.Agent = verifier.Name()
		report, err := l.runAgent(ctx, verifier, &agent.Context{
			CurrentTask:     subtask,
			AvailableAgents: actx.AvailableAgents,
		}, &res)
		if err != nil {
			return l.fail(res, PhaseThink, err)
		}
		if !agent.VerificationPassed(report) {
			actx.TestsFailing = true
			actx.RejectionReason = "verification failed"
		}

		// the report may have moved the subtask; the owner only reviews what it saw
		current, err := l.states.GetSubtaskState(ctx, subtask.ID)
		if err != nil {
			return l.fail(res, PhaseVerify, errors.Join(res.Err, err))
		}
		runOwner = current == subtask.State
	}

	if runOwner {
		res.Agent = owner.Name()
		if _, err := l.runAgent(ctx, owner, actx, &res); err != nil {
			return l.fail(res, PhaseThink, err)
		}
	}

	l.setPhase(PhaseVerify)
	after, err := l.states.GetSubtaskState(ctx, subtask.ID)
	if err != nil {
		return l.fail(res, PhaseVerify, errors.Join(res.Err, err))
	}
	res.To = after
	res.Phase = PhaseVerify

	l.mu.Lock()
	l.processedCount++
	if res.Err != nil {
		l.failedCount++
		l.lastError = res.Err
	}
	l.mu.Unlock()

	l.logger.Info("Agent step completed",
		zap.String("subtask_id", subtask.ID),
		zap.String("agent", res.Agent),
		zap.String("from", res.From),
		zap.String("to", res.To),
		zap.Int("actions", res.Actions))

	return res
}

// runAgent executes a and dispatches its actions. Only an execution error is
// returned; dispatch failures are joined into res.Err so the step still verifies.
func (l *AgentLoop) runAgent(ctx context.Context, a agent.Agent, actx *agent.Context, res *StepResult) ([]action.Action, error) {
	l.setPhase(PhaseThink)
	execCtx, cancel := context.WithTimeout(ctx, l.config.ExecuteTimeout)
	started := time.Now()
	result, err := a.Execute(execCtx, actx)
	cancel()

	actionCount := 0
	if result != nil {
		actionCount = len(result.Actions)
	}
	if l.metrics != nil {
		l.metrics.ObserveAgentExecution(a.Name(), actionCount, err, time.Since(started))
	}
	if err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}
	res.Actions += actionCount

	l.setPhase(PhaseAct)
	if _, err := l.actions.Dispatch(ctx, res.SubtaskID, a.Name(), result.Actions); err != nil {
		l.logger.Error("Some agent actions failed",
			zap.String("subtask_id", res.SubtaskID),
			zap.String("agent", a.Name()),
			zap.Error(err))
		res.Err = errors.Join(res.Err, err)
	}
	return result.Actions, nil
}

func (l *AgentLoop) fail(res StepResult, phase Phase, err error) StepResult {
	l.setPhase(PhaseError)
	res.Phase = PhaseError
	res.Err = err
	l.recordError(err)

	fields := []zap.Field{
		zap.String("subtask_id", res.SubtaskID),
		zap.String("agent", res.Agent),
		zap.String("failed_phase", string(phase)),
		zap.Error(err),
	}
	if errors.Is(err, agent.ErrUnauthorized) {
		l.logger.Error("Agent is not authorized against the LLM, check credentials", fields...)
	} else {
		l.logger.Error("Agent step failed", fields...)
	}
	return res
}

func (l *AgentLoop) recordError(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failedCount++
	l.lastError = err
}

func (l *AgentLoop) setPhase(p Phase) {
	l.mu.Lock()
	l.phase = p
	l.mu.Unlock()
}
