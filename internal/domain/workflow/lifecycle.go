package workflow

// SubtaskLifecycleName is the workflow name under which the subtask lifecycle is stored
const SubtaskLifecycleName = "subtask_lifecycle"

// Edge is one legal lifecycle transition
type Edge struct {
	From    State
	Trigger Trigger
	To      State
}

// LifecycleEdges is the hardcoded subtask lifecycle graph
var LifecycleEdges = []Edge{
	{StatePending, TriggerStart, StateInProgress},
	{StateInProgress, TriggerWriteTests, StateRed},
	{StateRed, TriggerPassTests, StateGreen},
	{StateGreen, TriggerRefactor, StateRefactor},
	{StateRefactor, TriggerWriteIntegrationTest, StateIntegrationRed},
	{StateIntegrationRed, TriggerPassIntegrationTest, StateIntegrationGreen},
	{StateIntegrationGreen, TriggerVerify, StateVerification},
	{StateVerification, TriggerComplete, StateCompleted},
	{StateInProgress, TriggerBlock, StateBlocked},
	{StateBlocked, TriggerUnblock, StateInProgress},
	{StateInProgress, TriggerFail, StateFailed},
}

// LifecycleTrigger returns the trigger of the lifecycle edge from -> to
func LifecycleTrigger(from, to State) (Trigger, bool) {
	for _, e := range LifecycleEdges {
		if e.From == from && e.To == to {
			return e.Trigger, true
		}
	}
	return "", false
}

// SubtaskLifecycleDefinition renders the lifecycle graph as a data-driven definition
func SubtaskLifecycleDefinition() *Definition {
	states := make(map[string]StateSpec, len(AllStates))
	for _, s := range AllStates {
		spec := StateSpec{}
		if s.IsTerminal() {
			spec.Type = StateTypeFinal
		}
		states[s.String()] = spec
	}

	for _, e := range LifecycleEdges {
		spec := states[e.From.String()]
		if spec.On == nil {
			spec.On = make(map[string]TransitionSpec)
		}
		spec.On[e.Trigger.String()] = TransitionSpec{Target: e.To.String()}
		states[e.From.String()] = spec
	}

	return &Definition{
		Name:    SubtaskLifecycleName,
		Initial: StatePending.String(),
		States:  states,
		Metadata: Metadata{
			Version:     "1",
			AutoActions: map[string]string{},
		},
	}
}
