package workflow

// State is a subtask lifecycle state
type State string

const (
	StatePending          State = "pending"
	StateInProgress       State = "in_progress"
	StateRed              State = "red"
	StateGreen            State = "green"
	StateRefactor         State = "refactor"
	StateIntegrationRed   State = "integration_red"
	StateIntegrationGreen State = "integration_green"
	StateVerification     State = "verification"
	StateCompleted        State = "completed"
	StateBlocked          State = "blocked"
	StateFailed           State = "failed"
)

// AllStates lists the lifecycle states in forward order
var AllStates = []State{
	StatePending,
	StateInProgress,
	StateRed,
	StateGreen,
	StateRefactor,
	StateIntegrationRed,
	StateIntegrationGreen,
	StateVerification,
	StateCompleted,
	StateBlocked,
	StateFailed,
}

var validStates = func() map[State]bool {
	m := make(map[State]bool, len(AllStates))
	for _, s := range AllStates {
		m[s] = true
	}
	return m
}()

var terminalStates = map[State]bool{
	StateCompleted: true,
	StateFailed:    true,
}

// IsTerminal returns true if no forward transition leaves the state
func (s State) IsTerminal() bool {
	return terminalStates[s]
}

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsValid returns true if the state belongs to the lifecycle
func (s State) IsValid() bool {
	return validStates[s]
}

// StatusReadyForReview is the orchestrator's name for a subtask awaiting
// approval. The lifecycle models it as the verification state.
const StatusReadyForReview = "ready_for_review"

// NormalizeStatus maps status aliases onto lifecycle state names
func NormalizeStatus(raw string) string {
	if raw == StatusReadyForReview {
		return StateVerification.String()
	}
	return raw
}

// ParseState converts a raw status string into a lifecycle state
func ParseState(raw string) (State, bool) {
	s := State(raw)
	return s, s.IsValid()
}
