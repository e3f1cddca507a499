package workflow

import "sync"

// Vars is the caller-supplied context of a data-driven transition
type Vars map[string]any

// Guard is a named predicate over transition vars
type Guard func(vars Vars) bool

// GetBool reads a boolean var, false when absent or not a bool
func (v Vars) GetBool(key string) bool {
	b, ok := v[key].(bool)
	return ok && b
}

// GetString reads a string var, empty when absent or not a string
func (v Vars) GetString(key string) string {
	s, _ := v[key].(string)
	return s
}

// Clone returns a shallow copy so handlers cannot mutate the caller's map
func (v Vars) Clone() Vars {
	out := make(Vars, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// GuardRegistry resolves guard names referenced by definitions
type GuardRegistry struct {
	mu     sync.RWMutex
	guards map[string]Guard
}

// NewGuardRegistry returns a registry preloaded with the built-in guards
func NewGuardRegistry() *GuardRegistry {
	r := &GuardRegistry{guards: make(map[string]Guard)}
	r.Register("hasTests", func(v Vars) bool { return v.GetBool("testsExist") })
	r.Register("testsPass", func(v Vars) bool { return v.GetBool("testsPass") })
	r.Register("testsFail", func(v Vars) bool { return !v.GetBool("testsPass") })
	r.Register("isBugEscalation", func(v Vars) bool { return v.GetBool("isBugEscalation") })
	r.Register("hasImplementation", func(v Vars) bool { return v.GetBool("implementationExists") })
	return r
}

// Register adds or replaces a guard
func (r *GuardRegistry) Register(name string, guard Guard) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guards[name] = guard
}

// Evaluate runs the named guard. Unknown guards reject.
func (r *GuardRegistry) Evaluate(name string, vars Vars) (passed bool, known bool) {
	r.mu.RLock()
	guard, ok := r.guards[name]
	r.mu.RUnlock()
	if !ok {
		return false, false
	}
	return guard(vars), true
}
