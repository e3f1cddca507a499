// Package workflow executes data-driven workflow definitions loaded from storage.
package workflow

import (
	"context"

	domainwf "github.com/feilong2k/codemaestro/internal/domain/workflow"
)

// ActionRequest describes the transition an action handler runs for
type ActionRequest struct {
	Workflow string
	ActionID string
	From     string
	To       string
	Event    string
	Vars     domainwf.Vars
}

// ActionHandler is a side-effecting callback bound to an action identifier
type ActionHandler func(ctx context.Context, req ActionRequest) error

// WorkflowEngine loads workflow definitions and executes transitions on them
type WorkflowEngine interface {
	// LoadWorkflow returns a copy of the named definition, loading it on first use
	LoadWorkflow(ctx context.Context, name string) (*domainwf.Definition, error)

	// Transition validates (state, event, guard, vars) and returns the next state
	Transition(ctx context.Context, workflowName, currentState, event string, vars domainwf.Vars) (string, error)

	// ValidateState reports whether state is declared by the named workflow
	ValidateState(ctx context.Context, workflowName, state string) (bool, error)

	// RegisterActionHandler binds a handler to an action id. Last registration wins.
	RegisterActionHandler(actionID string, handler ActionHandler)

	// RegisterGuard adds or replaces a named guard
	RegisterGuard(name string, guard domainwf.Guard)

	// InvalidateWorkflow drops the cached definition so the next call reloads it
	InvalidateWorkflow(name string)

	Pause()
	Resume()
	IsPaused() bool
}

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}
