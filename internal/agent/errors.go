package agent

import (
	"errors"
	"fmt"
)

// LLM failure kinds. Only ErrRateLimited is retried.
var (
	ErrRateLimited  = errors.New("llm rate limited")
	ErrUnauthorized = errors.New("llm unauthorized")
	ErrTimeout      = errors.New("llm request timed out")
	ErrUpstream     = errors.New("llm upstream failure")
)

// ExecutionError wraps an LLM failure with the agent that hit it
type ExecutionError struct {
	Agent string
	Kind  error
	Err   error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("agent %s: %v: %v", e.Agent, e.Kind, e.Err)
}

// Unwrap exposes both the failure kind and the underlying cause to errors.Is
func (e *ExecutionError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// IsTransient returns true if the error should be retried
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// classify maps an LLM client error onto a failure kind
func classify(err error) error {
	switch {
	case errors.Is(err, ErrRateLimited):
		return ErrRateLimited
	case errors.Is(err, ErrUnauthorized):
		return ErrUnauthorized
	case errors.Is(err, ErrTimeout):
		return ErrTimeout
	default:
		return ErrUpstream
	}
}
