package workflow

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"
)

// StateTypeFinal marks a state with no outgoing transitions
const StateTypeFinal = "final"

// Definition is a named, data-driven state machine description.
// Definitions are values: the engine caches its own copy and hands out clones.
type Definition struct {
	Name     string               `json:"name" yaml:"name"`
	Initial  string               `json:"initial" yaml:"initial"`
	States   map[string]StateSpec `json:"states" yaml:"states"`
	Metadata Metadata             `json:"metadata" yaml:"metadata"`
}

// StateSpec describes a single state
type StateSpec struct {
	On    map[string]TransitionSpec `json:"on,omitempty" yaml:"on,omitempty"`
	Entry []string                  `json:"entry,omitempty" yaml:"entry,omitempty"`
	Exit  []string                  `json:"exit,omitempty" yaml:"exit,omitempty"`
	Type  string                    `json:"type,omitempty" yaml:"type,omitempty"`
}

// Metadata carries versioning info and auto-action bindings
type Metadata struct {
	Version     string            `json:"version,omitempty" yaml:"version,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
	AutoActions map[string]string `json:"autoActions,omitempty" yaml:"autoActions,omitempty"`
}

// TransitionSpec is either a bare target or a guarded {target, guard} pair
type TransitionSpec struct {
	Target string `json:"target" yaml:"target"`
	Guard  string `json:"guard,omitempty" yaml:"guard,omitempty"`
}

type transitionSpecAlias TransitionSpec

// UnmarshalJSON accepts "target" or {"target": ..., "guard": ...}
func (t *TransitionSpec) UnmarshalJSON(data []byte) error {
	var target string
	if err := json.Unmarshal(data, &target); err == nil {
		*t = TransitionSpec{Target: target}
		return nil
	}

	var alias transitionSpecAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return fmt.Errorf("transition must be a string or {target, guard}: %w", err)
	}
	*t = TransitionSpec(alias)
	return nil
}

// MarshalJSON writes unguarded transitions in their short form
func (t TransitionSpec) MarshalJSON() ([]byte, error) {
	if t.Guard == "" {
		return json.Marshal(t.Target)
	}
	return json.Marshal(transitionSpecAlias(t))
}

// UnmarshalYAML accepts the same two shapes as UnmarshalJSON
func (t *TransitionSpec) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*t = TransitionSpec{Target: value.Value}
		return nil
	}

	var alias transitionSpecAlias
	if err := value.Decode(&alias); err != nil {
		return fmt.Errorf("transition must be a string or {target, guard}: %w", err)
	}
	*t = TransitionSpec(alias)
	return nil
}

// IsFinal reports whether the state is marked final
func (s StateSpec) IsFinal() bool {
	return s.Type == StateTypeFinal
}

// Validate checks the structural invariants of the definition
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidDefinition)
	}
	if _, ok := d.States[d.Initial]; !ok {
		return fmt.Errorf("%w: %s: initial state %q is not declared", ErrInvalidDefinition, d.Name, d.Initial)
	}

	for _, name := range d.StateNames() {
		spec := d.States[name]
		if spec.IsFinal() && len(spec.On) > 0 {
			return fmt.Errorf("%w: %s: final state %q has outgoing transitions", ErrInvalidDefinition, d.Name, name)
		}
		for event, t := range spec.On {
			if _, ok := d.States[t.Target]; !ok {
				return fmt.Errorf("%w: %s: %s --%s--> unknown state %q", ErrInvalidDefinition, d.Name, name, event, t.Target)
			}
		}
	}

	for state := range d.Metadata.AutoActions {
		if _, ok := d.States[state]; !ok {
			return fmt.Errorf("%w: %s: auto action bound to unknown state %q", ErrInvalidDefinition, d.Name, state)
		}
	}

	return nil
}

// HasState reports whether the state is declared
func (d *Definition) HasState(state string) bool {
	_, ok := d.States[state]
	return ok
}

// Lookup returns the transition for (state, event)
func (d *Definition) Lookup(state, event string) (TransitionSpec, error) {
	spec, ok := d.States[state]
	if !ok {
		return TransitionSpec{}, fmt.Errorf("%w: %s: unknown state %q", ErrInvalidTransition, d.Name, state)
	}
	t, ok := spec.On[event]
	if !ok {
		return TransitionSpec{}, fmt.Errorf("%w: %s: event %s is not defined for state %s", ErrInvalidTransition, d.Name, event, state)
	}
	return t, nil
}

// StateNames returns the declared state names in sorted order
func (d *Definition) StateNames() []string {
	names := make([]string, 0, len(d.States))
	for name := range d.States {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of the definition
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}

	states := make(map[string]StateSpec, len(d.States))
	for name, spec := range d.States {
		var on map[string]TransitionSpec
		if spec.On != nil {
			on = make(map[string]TransitionSpec, len(spec.On))
			for event, t := range spec.On {
				on[event] = t
			}
		}
		states[name] = StateSpec{
			On:    on,
			Entry: append([]string(nil), spec.Entry...),
			Exit:  append([]string(nil), spec.Exit...),
			Type:  spec.Type,
		}
	}

	var auto map[string]string
	if d.Metadata.AutoActions != nil {
		auto = make(map[string]string, len(d.Metadata.AutoActions))
		for k, v := range d.Metadata.AutoActions {
			auto[k] = v
		}
	}

	return &Definition{
		Name:    d.Name,
		Initial: d.Initial,
		States:  states,
		Metadata: Metadata{
			Version:     d.Metadata.Version,
			Description: d.Metadata.Description,
			AutoActions: auto,
		},
	}
}

// ParseDefinitionYAML decodes and validates a YAML workflow definition
func ParseDefinitionYAML(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}
