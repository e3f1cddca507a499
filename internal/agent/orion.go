package agent

import (
	"context"

	"github.com/feilong2k/codemaestro/internal/application/port"
	"github.com/feilong2k/codemaestro/internal/domain/action"
	"github.com/feilong2k/codemaestro/internal/domain/workflow"
)

// StatusReadyForReview is how the orchestrator names a subtask awaiting approval
const StatusReadyForReview = workflow.StatusReadyForReview

var orionActions = map[action.Type]bool{
	action.TypeAssignTask:        true,
	action.TypeApproveCompletion: true,
	action.TypeRejectCompletion:  true,
	action.TypeEscalateBlocker:   true,
	action.TypeTriggerTransition: true,
	action.TypeUpdateStatus:      true,
	action.TypeAskQuestion:       true,
	action.TypeGeneric:           true,
}

// Orion is the orchestrator: assigns work, approves or rejects it and escalates blockers
type Orion struct {
	*BaseAgent
}

var _ Agent = (*Orion)(nil)

// NewOrion creates the orchestrator agent
func NewOrion(llm port.LLMClient, prompts port.PromptStore) (*Orion, error) {
	base, err := newBaseAgent(NameOrion, RoleOrchestrator, llm, prompts)
	if err != nil {
		return nil, err
	}
	return &Orion{BaseAgent: base}, nil
}

// Execute proposes orchestration actions for the current task
func (o *Orion) Execute(ctx context.Context, actx *Context) (*Result, error) {
	if actx == nil || actx.CurrentTask == nil {
		return o.emptyResult(), nil
	}

	res, err := o.think(ctx, actx)
	if err != nil {
		return nil, err
	}

	task := actx.CurrentTask
	actions := keep(res.Actions, orionActions, "")

	if task.State == workflow.StatePending.String() && len(actx.AvailableAgents) > 0 && !hasType(actions, action.TypeAssignTask) {
		assignee := chooseAssignee(actx.AvailableAgents)
		actions = append(actions,
			action.New(action.TypeAssignTask, map[string]any{"subtaskId": task.ID, "agent": assignee}),
			action.Transition(workflow.StatePending.String(), workflow.StateInProgress.String(), "assigned to "+assignee),
		)
	}

	if actx.ReadyForReview {
		if actx.RejectionReason != "" {
			actions = append(actions, action.New(action.TypeRejectCompletion, map[string]any{
				"subtaskId": task.ID,
				"reason":    actx.RejectionReason,
			}))
		} else {
			actions = append(actions,
				action.New(action.TypeApproveCompletion, map[string]any{"subtaskId": task.ID}),
				action.Transition(StatusReadyForReview, workflow.StateCompleted.String(), "approved"),
			)
		}
	}

	if actx.Blocker != "" {
		actions = append(actions, action.New(action.TypeEscalateBlocker, map[string]any{
			"subtaskId": task.ID,
			"blocker":   actx.Blocker,
		}))
	}

	res.Actions = dropGenericNoise(actions)
	return res, nil
}

// chooseAssignee prefers the tester so a subtask starts with failing tests
func chooseAssignee(available []string) string {
	for _, name := range available {
		if name == NameTara {
			return name
		}
	}
	return available[0]
}

// dropGenericNoise removes generic fallbacks once concrete actions exist
func dropGenericNoise(actions []action.Action) []action.Action {
	concrete := make([]action.Action, 0, len(actions))
	for _, a := range actions {
		if a.Type != action.TypeGeneric {
			concrete = append(concrete, a)
		}
	}
	if len(concrete) == 0 {
		return actions
	}
	return concrete
}
