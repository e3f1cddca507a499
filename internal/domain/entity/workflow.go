package entity

import (
	"encoding/json"
	"time"
)

// WorkflowRecord is the stored form of a workflow definition
type WorkflowRecord struct {
	Name       string          `json:"name"`
	Definition json.RawMessage `json:"definition"`
	Metadata   json.RawMessage `json:"metadata"`
	Version    int             `json:"version"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// WorkflowOutcome is one logged workflow execution result
type WorkflowOutcome struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	Success    bool           `json:"success"`
	Metrics    map[string]any `json:"metrics"`
	CreatedAt  time.Time      `json:"created_at"`
}
