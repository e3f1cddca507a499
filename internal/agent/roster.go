package agent

import (
	"github.com/feilong2k/codemaestro/internal/domain/workflow"
)

// Roster maps lifecycle states to the agent responsible for advancing them
type Roster struct {
	orchestrator Agent
	tester       Agent
	developer    Agent
}

// NewRoster creates a roster from the three role agents
func NewRoster(orchestrator, tester, developer Agent) *Roster {
	return &Roster{orchestrator: orchestrator, tester: tester, developer: developer}
}

// ForState returns the agent that acts on a subtask in the given state.
// Terminal states have no owner.
func (r *Roster) ForState(state workflow.State) (Agent, bool) {
	switch state {
	case workflow.StatePending, workflow.StateBlocked, workflow.StateVerification:
		return r.orchestrator, r.orchestrator != nil
	case workflow.StateInProgress, workflow.StateRefactor, workflow.StateIntegrationGreen:
		return r.tester, r.tester != nil
	case workflow.StateRed, workflow.StateGreen, workflow.StateIntegrationRed:
		return r.developer, r.developer != nil
	default:
		return nil, false
	}
}

// VerifierFor returns the agent that checks a subtask before its owner acts.
// Only verification has one: the tester reports before the orchestrator reviews.
func (r *Roster) VerifierFor(state workflow.State) (Agent, bool) {
	if state == workflow.StateVerification {
		return r.tester, r.tester != nil
	}
	return nil, false
}

// Agents returns the roster members in role order
func (r *Roster) Agents() []Agent {
	var out []Agent
	for _, a := range []Agent{r.orchestrator, r.tester, r.developer} {
		if a != nil {
			out = append(out, a)
		}
	}
	return out
}

// Names returns the names of the roster members
func (r *Roster) Names() []string {
	agents := r.Agents()
	names := make([]string, 0, len(agents))
	for _, a := range agents {
		names = append(names, a.Name())
	}
	return names
}
