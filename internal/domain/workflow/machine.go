package workflow

import "fmt"

// StateMachine walks the lifecycle graph from a current state
type StateMachine interface {
	// State returns the current state
	State() State

	// CanReach returns the trigger of the edge from the current state to target, if any
	CanReach(target State) (Trigger, bool)

	// Fire moves along the edge labelled trigger
	Fire(trigger Trigger) error
}

type stateMachine struct {
	current State
	edges   []Edge
}

// NewMachine creates a machine over edges starting at initial.
// Edges are matched in order, so the first edge for a (state, trigger) pair wins.
func NewMachine(edges []Edge, initial State) (StateMachine, error) {
	if !initial.IsValid() {
		return nil, fmt.Errorf("%w: initial state %q", ErrInvalidState, initial)
	}
	for _, e := range edges {
		if !e.From.IsValid() || !e.To.IsValid() {
			return nil, fmt.Errorf("%w: edge %s --%s--> %s", ErrInvalidState, e.From, e.Trigger, e.To)
		}
	}

	return &stateMachine{
		current: initial,
		edges:   append([]Edge(nil), edges...),
	}, nil
}

func (m *stateMachine) State() State {
	return m.current
}

func (m *stateMachine) CanReach(target State) (Trigger, bool) {
	for _, e := range m.edges {
		if e.From == m.current && e.To == target {
			return e.Trigger, true
		}
	}
	return "", false
}

func (m *stateMachine) Fire(trigger Trigger) error {
	for _, e := range m.edges {
		if e.From == m.current && e.Trigger == trigger {
			m.current = e.To
			return nil
		}
	}
	return fmt.Errorf("%w: cannot fire %s from %s", ErrInvalidTransition, trigger, m.current)
}
