package workflow

import (
	domainwf "github.com/feilong2k/codemaestro/internal/domain/workflow"
)

// BuildSubtaskStateMachine creates a state machine over the subtask lifecycle graph.
// completed and failed are terminal; blocked only leaves through UNBLOCK.
func BuildSubtaskStateMachine(initialState domainwf.State) (domainwf.StateMachine, error) {
	return domainwf.NewMachine(domainwf.LifecycleEdges, initialState)
}
