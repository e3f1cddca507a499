package workflow

import "errors"

var (
	// ErrInvalidTransition is returned when a transition is not allowed
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrInvalidState is returned when a state is not valid
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when a guard condition fails
	ErrGuardFailed = errors.New("guard condition failed")

	// ErrNotFound is returned when a workflow or subtask does not exist
	ErrNotFound = errors.New("not found")

	// ErrPaused is returned while the engine is paused
	ErrPaused = errors.New("workflow execution is paused")

	// ErrUnknownStrategy is returned for unrecognised planning strategies
	ErrUnknownStrategy = errors.New("unknown planning strategy")

	// ErrInvalidDefinition is returned when a definition fails validation
	ErrInvalidDefinition = errors.New("invalid workflow definition")
)
