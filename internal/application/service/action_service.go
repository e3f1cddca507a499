package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/feilong2k/codemaestro/internal/application/dispatcher"
	"github.com/feilong2k/codemaestro/internal/application/port"
	appwf "github.com/feilong2k/codemaestro/internal/application/workflow"
	"github.com/feilong2k/codemaestro/internal/domain/action"
	"github.com/feilong2k/codemaestro/internal/domain/entity"
	"github.com/feilong2k/codemaestro/internal/domain/event"
	"github.com/feilong2k/codemaestro/internal/domain/workflow"
)

// Dispatch outcomes
const (
	DispatchApplied  = "applied"
	DispatchRecorded = "recorded"
	DispatchSkipped  = "skipped"
	DispatchFailed   = "failed"
)

// ErrMissingPayload is returned when an action lacks a required payload field
var ErrMissingPayload = errors.New("action payload missing field")

// DispatchResult reports what happened to one action
type DispatchResult struct {
	Type   action.Type `json:"type"`
	Status string      `json:"status"`
	Error  string      `json:"error,omitempty"`
}

// ActionService turns agent actions into lifecycle transitions, file writes,
// notifications and history entries
type ActionService interface {
	// Dispatch applies every action in order. All actions are attempted;
	// the returned error joins the individual failures.
	Dispatch(ctx context.Context, subtaskID, agentName string, actions []action.Action) ([]DispatchResult, error)
}

// TransitionEngine validates a lifecycle event against the stored workflow
// definition. A paused engine rejects every event.
type TransitionEngine interface {
	Transition(ctx context.Context, workflowName, currentState, event string, vars workflow.Vars) (string, error)
}

var _ TransitionEngine = (appwf.WorkflowEngine)(nil)

type actionServiceImpl struct {
	orchestrator OrchestratorService
	engine       TransitionEngine
	subtaskRepo  port.SubtaskRepository
	historyRepo  port.HistoryRepository
	storage      port.FileStorage
	dispatcher   dispatcher.Dispatcher
	logger       Logger
}

// NewActionService creates a new ActionService. Transitions go through engine
// before the orchestrator persists them; a nil engine leaves validation to the
// orchestrator alone. storage, subtaskRepo, historyRepo and d may be nil; the
// matching actions are then skipped.
func NewActionService(
	orchestrator OrchestratorService,
	engine TransitionEngine,
	subtaskRepo port.SubtaskRepository,
	historyRepo port.HistoryRepository,
	storage port.FileStorage,
	d dispatcher.Dispatcher,
	logger Logger,
) ActionService {
	return &actionServiceImpl{
		orchestrator: orchestrator,
		engine:       engine,
		subtaskRepo:  subtaskRepo,
		historyRepo:  historyRepo,
		storage:      storage,
		dispatcher:   d,
		logger:       logger,
	}
}

func (s *actionServiceImpl) Dispatch(ctx context.Context, subtaskID, agentName string, actions []action.Action) ([]DispatchResult, error) {
	results := make([]DispatchResult, 0, len(actions))
	var errs []error

	for _, a := range actions {
		status, err := s.apply(ctx, subtaskID, agentName, a)
		result := DispatchResult{Type: a.Type, Status: status}
		if err != nil {
			result.Status = DispatchFailed
			result.Error = err.Error()
			errs = append(errs, fmt.Errorf("%s: %w", a.Type, err))
			s.logger.Error("Action dispatch failed", "subtask_id", subtaskID, "agent", agentName, "action", a.Type, "error", err)
		}
		results = append(results, result)
	}

	return results, errors.Join(errs...)
}

func (s *actionServiceImpl) apply(ctx context.Context, subtaskID, agentName string, a action.Action) (string, error) {
	switch a.Type {
	case action.TypeTriggerTransition:
		return s.transition(ctx, subtaskID, agentName, a.Get("from"), a.Get("to"))

	case action.TypeUpdateStatus:
		return s.transition(ctx, subtaskID, agentName, "", a.Get("status"))

	case action.TypeCreateFile, action.TypeWriteTestFile, action.TypeWriteImplementationFile:
		return s.writeFile(ctx, a)

	case action.TypeAssignTask:
		agent := a.Get("agent")
		if agent == "" {
			return "", fmt.Errorf("%w: agent", ErrMissingPayload)
		}
		if s.subtaskRepo == nil {
			return DispatchSkipped, nil
		}
		if err := s.subtaskRepo.AssignAgent(ctx, subtaskID, agent); err != nil {
			return "", err
		}
		return DispatchApplied, nil

	case action.TypeAskQuestion:
		return s.publish(ctx, event.TypeAgentQuestion, subtaskID, agentName, a)

	case action.TypeEscalateBlocker:
		return s.publish(ctx, event.TypeBlockerEscalated, subtaskID, agentName, a)

	default:
		return s.record(ctx, subtaskID, agentName, a)
	}
}

// transition moves the subtask to target. A non-empty from must match the
// stored state, otherwise the action was computed against a stale view.
func (s *actionServiceImpl) transition(ctx context.Context, subtaskID, agentName, from, target string) (string, error) {
	state, ok := workflow.ParseState(workflow.NormalizeStatus(target))
	if !ok {
		return "", fmt.Errorf("%w: %q", workflow.ErrInvalidState, target)
	}

	current, err := s.orchestrator.GetSubtaskState(ctx, subtaskID)
	if err != nil {
		return "", err
	}
	if from != "" && workflow.NormalizeStatus(from) != current {
		return "", fmt.Errorf("%w: action expects %s but subtask %s is %s",
			workflow.ErrInvalidTransition, from, subtaskID, current)
	}
	if current == state.String() {
		return DispatchSkipped, nil
	}

	if s.engine != nil {
		trigger, ok := workflow.LifecycleTrigger(workflow.State(current), state)
		if !ok {
			return "", fmt.Errorf("%w: %s -> %s", workflow.ErrInvalidTransition, current, state)
		}
		next, err := s.engine.Transition(ctx, workflow.SubtaskLifecycleName, current, trigger.String(), workflow.Vars{
			"subtaskId": subtaskID,
			"agent":     agentName,
			"from":      current,
			"to":        state.String(),
		})
		if err != nil {
			return "", err
		}
		if state, ok = workflow.ParseState(next); !ok {
			return "", fmt.Errorf("%w: engine returned %q", workflow.ErrInvalidState, next)
		}
	}

	if err := s.orchestrator.TransitionTo(ctx, subtaskID, state, agentName); err != nil {
		return "", err
	}
	return DispatchApplied, nil
}

func (s *actionServiceImpl) writeFile(ctx context.Context, a action.Action) (string, error) {
	path := a.Get("path")
	if path == "" {
		return "", fmt.Errorf("%w: path", ErrMissingPayload)
	}
	if s.storage == nil {
		return DispatchSkipped, nil
	}

	content, _ := a.Payload["content"].(string)
	if err := s.storage.Save(ctx, path, []byte(content)); err != nil {
		return "", err
	}
	return DispatchApplied, nil
}

func (s *actionServiceImpl) publish(ctx context.Context, eventType event.Type, subtaskID, agentName string, a action.Action) (string, error) {
	if s.dispatcher == nil {
		return DispatchSkipped, nil
	}

	payload := make(map[string]any, len(a.Payload)+1)
	for k, v := range a.Payload {
		payload[k] = v
	}
	payload["agent"] = agentName

	if err := s.dispatcher.Dispatch(ctx, event.NewEvent(eventType, subtaskID, payload)); err != nil {
		return "", err
	}
	return DispatchApplied, nil
}

// record keeps informational actions in the transition history without a state change
func (s *actionServiceImpl) record(ctx context.Context, subtaskID, agentName string, a action.Action) (string, error) {
	if s.historyRepo == nil {
		return DispatchSkipped, nil
	}

	state, err := s.orchestrator.GetSubtaskState(ctx, subtaskID)
	if err != nil {
		return "", err
	}

	err = s.historyRepo.Create(ctx, &entity.TransitionHistory{
		SubtaskID:     subtaskID,
		WorkflowName:  workflow.SubtaskLifecycleName,
		PreviousState: state,
		NewState:      state,
		Event:         "action:" + a.Type.String(),
		Actor:         agentName,
		CreatedAt:     time.Now(),
	})
	if err != nil {
		return "", err
	}
	return DispatchRecorded, nil
}
