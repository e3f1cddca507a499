package event

// Type identifies the type of domain event
type Type string

const (
	TypeSubtaskCreated       Type = "subtask.created"
	TypeSubtaskStateChanged  Type = "subtask.state_changed"
	TypeWorkflowTransitioned Type = "workflow.transitioned"
	TypeEnginePaused         Type = "engine.paused"
	TypeEngineResumed        Type = "engine.resumed"
	TypeAgentExecuted        Type = "agent.executed"
	TypeAgentQuestion        Type = "agent.question"
	TypeBlockerEscalated     Type = "agent.blocker_escalated"
	TypeOptimizationApplied  Type = "evolution.optimization_applied"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeSubtaskCreated,
		TypeSubtaskStateChanged,
		TypeWorkflowTransitioned,
		TypeEnginePaused,
		TypeEngineResumed,
		TypeAgentExecuted,
		TypeAgentQuestion,
		TypeBlockerEscalated,
		TypeOptimizationApplied:
		return true
	default:
		return false
	}
}
