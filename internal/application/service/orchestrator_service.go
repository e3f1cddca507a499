package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/feilong2k/codemaestro/internal/application/dispatcher"
	"github.com/feilong2k/codemaestro/internal/application/port"
	appwf "github.com/feilong2k/codemaestro/internal/application/workflow"
	"github.com/feilong2k/codemaestro/internal/domain/entity"
	"github.com/feilong2k/codemaestro/internal/domain/event"
	"github.com/feilong2k/codemaestro/internal/domain/workflow"
)

// OrchestratorService drives subtasks through the fixed lifecycle.
// Every state change is validated against the lifecycle graph, persisted,
// then announced to the notifier. A notifier failure is returned to the
// caller but the persisted state is kept.
type OrchestratorService interface {
	CreateSubtask(ctx context.Context, subtask *entity.Subtask) (*entity.Subtask, error)
	GetSubtask(ctx context.Context, id string) (*entity.Subtask, error)
	ListSubtasks(ctx context.Context, limit, offset int) ([]*entity.Subtask, error)

	StartSubtask(ctx context.Context, id string) error
	TransitionToRed(ctx context.Context, id string) error
	TransitionToGreen(ctx context.Context, id string) error
	TransitionToRefactor(ctx context.Context, id string) error
	TransitionToIntegrationRed(ctx context.Context, id string) error
	TransitionToIntegrationGreen(ctx context.Context, id string) error
	TransitionToVerification(ctx context.Context, id string) error
	CompleteSubtask(ctx context.Context, id string) error
	BlockSubtask(ctx context.Context, id string) error
	UnblockSubtask(ctx context.Context, id string) error
	FailSubtask(ctx context.Context, id string) error

	// TransitionTo moves the subtask to target along a single lifecycle edge
	TransitionTo(ctx context.Context, id string, target workflow.State, actor string) error

	GetSubtaskState(ctx context.Context, id string) (string, error)
	SaveSubtaskState(ctx context.Context, id, state string) error

	// RecentTransitions returns the latest transition history entries
	RecentTransitions(ctx context.Context, limit int) ([]*entity.TransitionHistory, error)
}

// subtaskStore is the part of the subtask repository the lifecycle needs
type subtaskStore interface {
	GetState(ctx context.Context, id string) (string, error)
	SaveState(ctx context.Context, id, state string) error
	UpdateState(ctx context.Context, id, state string) error
}

type orchestratorServiceImpl struct {
	subtaskRepo port.SubtaskRepository
	states      subtaskStore
	historyRepo port.HistoryRepository
	txManager   port.TransactionManager
	notifier    port.AgentNotifier
	dispatcher  dispatcher.Dispatcher
	logger      Logger
}

// OrchestratorOption configures the orchestrator service
type OrchestratorOption func(*orchestratorServiceImpl)

// WithSubtaskRepository persists subtask state. Without it states live in memory.
func WithSubtaskRepository(repo port.SubtaskRepository) OrchestratorOption {
	return func(s *orchestratorServiceImpl) {
		if repo != nil {
			s.subtaskRepo = repo
			s.states = repo
		}
	}
}

// WithHistory records every transition
func WithHistory(repo port.HistoryRepository) OrchestratorOption {
	return func(s *orchestratorServiceImpl) {
		s.historyRepo = repo
	}
}

// WithTransactions writes state and history atomically
func WithTransactions(tx port.TransactionManager) OrchestratorOption {
	return func(s *orchestratorServiceImpl) {
		s.txManager = tx
	}
}

// WithNotifier announces state changes to agents
func WithNotifier(n port.AgentNotifier) OrchestratorOption {
	return func(s *orchestratorServiceImpl) {
		s.notifier = n
	}
}

// WithEventDispatcher publishes subtask events
func WithEventDispatcher(d dispatcher.Dispatcher) OrchestratorOption {
	return func(s *orchestratorServiceImpl) {
		s.dispatcher = d
	}
}

// NewOrchestratorService creates a new OrchestratorService
func NewOrchestratorService(logger Logger, opts ...OrchestratorOption) OrchestratorService {
	s := &orchestratorServiceImpl{
		states: newMemoryStates(),
		logger: logger,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

func (s *orchestratorServiceImpl) CreateSubtask(ctx context.Context, subtask *entity.Subtask) (*entity.Subtask, error) {
	if subtask.ID == "" {
		subtask.ID = uuid.NewString()
	}
	if subtask.State == "" {
		subtask.State = workflow.StatePending.String()
	}
	if _, ok := workflow.ParseState(subtask.State); !ok {
		return nil, fmt.Errorf("%w: %q", workflow.ErrInvalidState, subtask.State)
	}
	now := time.Now()
	subtask.CreatedAt = now
	subtask.UpdatedAt = now

	if s.subtaskRepo != nil {
		if err := s.subtaskRepo.Create(ctx, subtask); err != nil {
			s.logger.Error("Failed to create subtask", "error", err, "subtask_id", subtask.ID)
			return nil, fmt.Errorf("create subtask: %w", err)
		}
	} else if err := s.states.SaveState(ctx, subtask.ID, subtask.State); err != nil {
		return nil, err
	}

	s.publish(ctx, event.TypeSubtaskCreated, subtask.ID, map[string]any{
		"title": subtask.Title,
		"state": subtask.State,
	})
	s.logger.Info("Subtask created", "subtask_id", subtask.ID, "state", subtask.State)
	return subtask, nil
}

func (s *orchestratorServiceImpl) GetSubtask(ctx context.Context, id string) (*entity.Subtask, error) {
	if s.subtaskRepo == nil {
		state, err := s.states.GetState(ctx, id)
		if err != nil {
			return nil, err
		}
		if state == "" {
			return nil, fmt.Errorf("%w: subtask %s", workflow.ErrNotFound, id)
		}
		return &entity.Subtask{ID: id, State: state}, nil
	}

	subtask, err := s.subtaskRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if subtask == nil {
		return nil, fmt.Errorf("%w: subtask %s", workflow.ErrNotFound, id)
	}
	return subtask, nil
}

func (s *orchestratorServiceImpl) ListSubtasks(ctx context.Context, limit, offset int) ([]*entity.Subtask, error) {
	if s.subtaskRepo == nil {
		return []*entity.Subtask{}, nil
	}
	return s.subtaskRepo.List(ctx, limit, offset)
}

func (s *orchestratorServiceImpl) StartSubtask(ctx context.Context, id string) error {
	return s.TransitionTo(ctx, id, workflow.StateInProgress, "")
}

func (s *orchestratorServiceImpl) TransitionToRed(ctx context.Context, id string) error {
	return s.TransitionTo(ctx, id, workflow.StateRed, "")
}

func (s *orchestratorServiceImpl) TransitionToGreen(ctx context.Context, id string) error {
	return s.TransitionTo(ctx, id, workflow.StateGreen, "")
}

func (s *orchestratorServiceImpl) TransitionToRefactor(ctx context.Context, id string) error {
	return s.TransitionTo(ctx, id, workflow.StateRefactor, "")
}

func (s *orchestratorServiceImpl) TransitionToIntegrationRed(ctx context.Context, id string) error {
	return s.TransitionTo(ctx, id, workflow.StateIntegrationRed, "")
}

func (s *orchestratorServiceImpl) TransitionToIntegrationGreen(ctx context.Context, id string) error {
	return s.TransitionTo(ctx, id, workflow.StateIntegrationGreen, "")
}

func (s *orchestratorServiceImpl) TransitionToVerification(ctx context.Context, id string) error {
	return s.TransitionTo(ctx, id, workflow.StateVerification, "")
}

func (s *orchestratorServiceImpl) CompleteSubtask(ctx context.Context, id string) error {
	return s.TransitionTo(ctx, id, workflow.StateCompleted, "")
}

func (s *orchestratorServiceImpl) BlockSubtask(ctx context.Context, id string) error {
	return s.TransitionTo(ctx, id, workflow.StateBlocked, "")
}

func (s *orchestratorServiceImpl) UnblockSubtask(ctx context.Context, id string) error {
	return s.TransitionTo(ctx, id, workflow.StateInProgress, "")
}

func (s *orchestratorServiceImpl) FailSubtask(ctx context.Context, id string) error {
	return s.TransitionTo(ctx, id, workflow.StateFailed, "")
}

func (s *orchestratorServiceImpl) TransitionTo(ctx context.Context, id string, target workflow.State, actor string) error {
	if actor == "" {
		actor = "system"
	}

	current, err := s.states.GetState(ctx, id)
	if err != nil {
		return fmt.Errorf("read state of subtask %s: %w", id, err)
	}
	if current == "" {
		return fmt.Errorf("%w: subtask %s", workflow.ErrNotFound, id)
	}

	from, ok := workflow.ParseState(current)
	if !ok {
		return fmt.Errorf("%w: subtask %s is in %q", workflow.ErrInvalidState, id, current)
	}

	machine, err := appwf.BuildSubtaskStateMachine(from)
	if err != nil {
		return err
	}
	trigger, ok := machine.CanReach(target)
	if !ok {
		return fmt.Errorf("%w: %s -> %s (subtask %s)", workflow.ErrInvalidTransition, from, target, id)
	}
	if err := machine.Fire(trigger); err != nil {
		return err
	}

	err = s.persist(ctx, &entity.TransitionHistory{
		SubtaskID:     id,
		WorkflowName:  workflow.SubtaskLifecycleName,
		PreviousState: from.String(),
		NewState:      target.String(),
		Event:         trigger.String(),
		Actor:         actor,
		CreatedAt:     time.Now(),
	})
	if err != nil {
		s.logger.Error("Failed to persist subtask state", "error", err, "subtask_id", id, "target", target)
		return err
	}

	s.logger.Info("Subtask state changed", "subtask_id", id, "from", from, "to", target, "trigger", trigger, "actor", actor)
	s.publish(ctx, event.TypeSubtaskStateChanged, id, map[string]any{
		"previous_state": from.String(),
		"new_state":      target.String(),
		"trigger":        trigger.String(),
		"actor":          actor,
	})

	if s.notifier != nil {
		if err := s.notifier.NotifyAgent(ctx, id, target.String()); err != nil {
			s.logger.Error("Failed to notify agents", "error", err, "subtask_id", id, "state", target)
			return fmt.Errorf("notify agents of subtask %s: %w", id, err)
		}
	}

	return nil
}

func (s *orchestratorServiceImpl) persist(ctx context.Context, history *entity.TransitionHistory) error {
	write := func(ctx context.Context) error {
		if err := s.states.UpdateState(ctx, history.SubtaskID, history.NewState); err != nil {
			return fmt.Errorf("update subtask state: %w", err)
		}
		if s.historyRepo != nil {
			if err := s.historyRepo.Create(ctx, history); err != nil {
				return fmt.Errorf("create history: %w", err)
			}
		}
		return nil
	}

	if s.txManager != nil {
		return s.txManager.WithTransaction(ctx, write)
	}
	return write(ctx)
}

func (s *orchestratorServiceImpl) GetSubtaskState(ctx context.Context, id string) (string, error) {
	return s.states.GetState(ctx, id)
}

func (s *orchestratorServiceImpl) SaveSubtaskState(ctx context.Context, id, state string) error {
	if _, ok := workflow.ParseState(state); !ok {
		return fmt.Errorf("%w: %q", workflow.ErrInvalidState, state)
	}
	return s.states.SaveState(ctx, id, state)
}

func (s *orchestratorServiceImpl) RecentTransitions(ctx context.Context, limit int) ([]*entity.TransitionHistory, error) {
	if s.historyRepo == nil {
		return []*entity.TransitionHistory{}, nil
	}
	return s.historyRepo.ListRecent(ctx, limit)
}

func (s *orchestratorServiceImpl) publish(ctx context.Context, eventType event.Type, subtaskID string, payload map[string]any) {
	if s.dispatcher != nil {
		s.dispatcher.DispatchAsync(ctx, event.NewEvent(eventType, subtaskID, payload))
	}
}

// memoryStates keeps subtask states in process when no repository is configured
type memoryStates struct {
	mu     sync.RWMutex
	states map[string]string
}

func newMemoryStates() *memoryStates {
	return &memoryStates{states: make(map[string]string)}
}

func (m *memoryStates) GetState(ctx context.Context, id string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[id], nil
}

func (m *memoryStates) SaveState(ctx context.Context, id, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[id] = state
	return nil
}

func (m *memoryStates) UpdateState(ctx context.Context, id, state string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.states[id]; !ok {
		return fmt.Errorf("%w: subtask %s", workflow.ErrNotFound, id)
	}
	m.states[id] = state
	return nil
}
