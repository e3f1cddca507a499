package workflow

import (
	"errors"
	"testing"
)

func TestState_IsTerminal(t *testing.T) {
	tests := []struct {
		state    State
		expected bool
	}{
		{StatePending, false},
		{StateInProgress, false},
		{StateRed, false},
		{StateGreen, false},
		{StateRefactor, false},
		{StateIntegrationRed, false},
		{StateIntegrationGreen, false},
		{StateVerification, false},
		{StateBlocked, false},
		{StateCompleted, true},
		{StateFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			if got := tt.state.IsTerminal(); got != tt.expected {
				t.Errorf("State.IsTerminal() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_IsValid(t *testing.T) {
	tests := []struct {
		name     string
		state    State
		expected bool
	}{
		{"valid state", StatePending, true},
		{"valid state", StateIntegrationGreen, true},
		{"invalid state", State("banana"), false},
		{"wrong case", State("PENDING"), false},
		{"empty state", State(""), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.state.IsValid(); got != tt.expected {
				t.Errorf("State.IsValid() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseState(t *testing.T) {
	if s, ok := ParseState("red"); !ok || s != StateRed {
		t.Errorf("ParseState(red) = %v, %v", s, ok)
	}
	if _, ok := ParseState("ready_for_review"); ok {
		t.Error("ParseState should reject states outside the lifecycle")
	}
}

func TestNormalizeStatus(t *testing.T) {
	if got := NormalizeStatus(StatusReadyForReview); got != "verification" {
		t.Errorf("NormalizeStatus(ready_for_review) = %q", got)
	}
	if got := NormalizeStatus("red"); got != "red" {
		t.Errorf("NormalizeStatus(red) = %q", got)
	}
}

func TestNewMachine_RejectsInvalidStates(t *testing.T) {
	if _, err := NewMachine(LifecycleEdges, State("INVALID")); !errors.Is(err, ErrInvalidState) {
		t.Errorf("invalid initial state error = %v", err)
	}

	edges := []Edge{{StatePending, TriggerStart, State("nowhere")}}
	if _, err := NewMachine(edges, StatePending); !errors.Is(err, ErrInvalidState) {
		t.Errorf("invalid edge error = %v", err)
	}
}

func TestStateMachine_Fire_NoEdge(t *testing.T) {
	machine, err := NewMachine(LifecycleEdges, StateCompleted)
	if err != nil {
		t.Fatal(err)
	}

	err = machine.Fire(TriggerStart)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("Fire() error = %v, want %v", err, ErrInvalidTransition)
	}
	if machine.State() != StateCompleted {
		t.Errorf("state moved to %v after a rejected Fire()", machine.State())
	}
}

func TestStateMachine_CanReach(t *testing.T) {
	machine, err := NewMachine(LifecycleEdges, StateInProgress)
	if err != nil {
		t.Fatal(err)
	}

	trigger, ok := machine.CanReach(StateBlocked)
	if !ok || trigger != TriggerBlock {
		t.Errorf("CanReach(blocked) = %v, %v", trigger, ok)
	}
	if _, ok := machine.CanReach(StateCompleted); ok {
		t.Error("CanReach(completed) should be false from in_progress")
	}
}

func TestStateMachine_Independence(t *testing.T) {
	edges := []Edge{{StatePending, TriggerStart, StateInProgress}}

	machine1, _ := NewMachine(edges, StatePending)
	machine2, _ := NewMachine(edges, StatePending)

	if err := machine1.Fire(TriggerStart); err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if machine2.State() != StatePending {
		t.Errorf("machine2 state = %v, want %v (machines should be independent)", machine2.State(), StatePending)
	}

	// changing the caller's table after construction must not leak into the machine
	edges[0] = Edge{StatePending, TriggerFail, StateFailed}
	if _, ok := machine2.CanReach(StateFailed); ok {
		t.Error("machine should not observe later edge changes")
	}
}

func TestLifecycleTrigger(t *testing.T) {
	if trigger, ok := LifecycleTrigger(StateIntegrationGreen, StateVerification); !ok || trigger != TriggerVerify {
		t.Errorf("integration_green -> verification = %v, %v", trigger, ok)
	}
	if _, ok := LifecycleTrigger(StateBlocked, StateRed); ok {
		t.Error("blocked -> red is not a lifecycle edge")
	}
}

func TestLifecycleEdges_FullPath(t *testing.T) {
	machine, err := NewMachine(LifecycleEdges, StatePending)
	if err != nil {
		t.Fatal(err)
	}

	steps := []struct {
		trigger Trigger
		want    State
	}{
		{TriggerStart, StateInProgress},
		{TriggerBlock, StateBlocked},
		{TriggerUnblock, StateInProgress},
		{TriggerWriteTests, StateRed},
		{TriggerPassTests, StateGreen},
		{TriggerRefactor, StateRefactor},
		{TriggerWriteIntegrationTest, StateIntegrationRed},
		{TriggerPassIntegrationTest, StateIntegrationGreen},
		{TriggerVerify, StateVerification},
		{TriggerComplete, StateCompleted},
	}

	for i, step := range steps {
		if err := machine.Fire(step.trigger); err != nil {
			t.Fatalf("step %d: Fire(%v) failed: %v", i, step.trigger, err)
		}
		if machine.State() != step.want {
			t.Fatalf("step %d: state = %v, want %v", i, machine.State(), step.want)
		}
	}

	for _, s := range AllStates {
		if _, ok := machine.CanReach(s); ok {
			t.Errorf("completed should have no outgoing transitions, reaches %v", s)
		}
	}
}
