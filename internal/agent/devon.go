package agent

import (
	"context"

	"github.com/feilong2k/codemaestro/internal/application/port"
	"github.com/feilong2k/codemaestro/internal/domain/action"
	"github.com/feilong2k/codemaestro/internal/domain/workflow"
)

var devonActions = map[action.Type]bool{
	action.TypeImplementCode:           true,
	action.TypeRefactorCode:            true,
	action.TypeFixFailingTests:         true,
	action.TypeWriteImplementationFile: true,
	action.TypeUpdateStatus:            true,
	action.TypeAskQuestion:             true,
	action.TypeGeneric:                 true,
}

// Devon is the developer: makes failing tests pass and refactors
type Devon struct {
	*BaseAgent
}

var _ Agent = (*Devon)(nil)

// NewDevon creates the developer agent
func NewDevon(llm port.LLMClient, prompts port.PromptStore) (*Devon, error) {
	base, err := newBaseAgent(NameDevon, RoleDeveloper, llm, prompts)
	if err != nil {
		return nil, err
	}
	return &Devon{BaseAgent: base}, nil
}

// Execute proposes implementation actions for the current task
func (d *Devon) Execute(ctx context.Context, actx *Context) (*Result, error) {
	if actx == nil || actx.CurrentTask == nil {
		return d.emptyResult(), nil
	}

	res, err := d.think(ctx, actx)
	if err != nil {
		return nil, err
	}

	task := actx.CurrentTask
	actions := keep(res.Actions, devonActions, action.TypeWriteImplementationFile)
	wroteCode := hasType(actions, action.TypeWriteImplementationFile)
	payload := map[string]any{"subtaskId": task.ID}

	switch workflow.State(task.State) {
	case workflow.StateRed, workflow.StateIntegrationRed:
		actions = append(actions, action.New(action.TypeImplementCode, payload))
		if actx.TestsFailing {
			actions = append(actions, action.New(action.TypeFixFailingTests, payload))
		} else if wroteCode {
			next := workflow.StateGreen
			if task.State == workflow.StateIntegrationRed.String() {
				next = workflow.StateIntegrationGreen
			}
			actions = append(actions, statusUpdate(next))
		}
	case workflow.StateGreen:
		actions = append(actions, action.New(action.TypeRefactorCode, payload))
		if wroteCode {
			actions = append(actions, statusUpdate(workflow.StateRefactor))
		}
	}

	res.Actions = dropGenericNoise(actions)
	return res, nil
}
