package port

import (
	"context"
	"io"
	"time"
)

// Chat roles understood by LLMClient
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat message sent to the LLM
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption of a chat call
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ChatResponse is the result of a chat call
type ChatResponse struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// LLMClient is the chat capability agents decide with
type LLMClient interface {
	Chat(ctx context.Context, messages []Message) (*ChatResponse, error)
}

// PromptStore loads the system prompt of an agent role
type PromptStore interface {
	ReadPrompt(role string) (string, error)
}

// AgentNotifier tells listeners that a subtask changed state
type AgentNotifier interface {
	NotifyAgent(ctx context.Context, subtaskID, newState string) error
}

// WorkflowStats aggregates the outcomes of one workflow
type WorkflowStats struct {
	WorkflowID  string
	Total       int
	Successes   int
	Failures    int
	SuccessRate float64
	LastOutcome time.Time
	TopFailures []string
}

// ReportWriter renders outcome statistics for operators
type ReportWriter interface {
	WriteOutcomeReport(w io.Writer, stats []WorkflowStats) error
}

// Metrics records engine and agent measurements
type Metrics interface {
	ObserveTransition(workflow, from, to string, err error, elapsed time.Duration)
	ObserveAgentExecution(agent string, actions int, err error, elapsed time.Duration)
	SetPaused(paused bool)
}
