package entity

import "time"

// Subtask is the unit of work whose lifecycle the orchestrator drives
type Subtask struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	State         string    `json:"state"`
	AssignedAgent string    `json:"assigned_agent,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// TransitionHistory is the audit trail entry of a state change
type TransitionHistory struct {
	ID            int64     `json:"id"`
	SubtaskID     string    `json:"subtask_id,omitempty"`
	WorkflowName  string    `json:"workflow_name"`
	PreviousState string    `json:"previous_state"`
	NewState      string    `json:"new_state"`
	Event         string    `json:"event"`
	Actor         string    `json:"actor"`
	CreatedAt     time.Time `json:"created_at"`
}
