// Package agent implements the role agents that turn a subtask context into
// proposed actions, using an LLM as the decision backend.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/feilong2k/codemaestro/internal/application/port"
	"github.com/feilong2k/codemaestro/internal/domain/action"
	"github.com/feilong2k/codemaestro/internal/domain/entity"
	"github.com/feilong2k/codemaestro/internal/parser"
)

// Agent names
const (
	NameOrion = "Orion"
	NameTara  = "Tara"
	NameDevon = "Devon"
)

// Agent roles, also used as prompt store keys
const (
	RoleOrchestrator = "orchestrator"
	RoleTester       = "tester"
	RoleDeveloper    = "developer"
)

// Agent turns a context into proposed actions
type Agent interface {
	Name() string
	Role() string
	Prompt() string
	Execute(ctx context.Context, actx *Context) (*Result, error)
}

// Context is what an agent observes before deciding
type Context struct {
	CurrentTask     *entity.Subtask
	AvailableAgents []string
	ReadyForReview  bool
	RejectionReason string
	Blocker         string
	TestsFailing    bool
	History         []port.Message
}

// Result carries the actions an agent proposes
type Result struct {
	Agent   string          `json:"agent"`
	Actions []action.Action `json:"actions"`
	Content string          `json:"content,omitempty"`
	Usage   port.Usage      `json:"usage"`
}

// ErrEmptyPrompt is returned when a role has no prompt text
var ErrEmptyPrompt = errors.New("agent prompt is empty")

// BaseAgent holds what every role shares: identity, prompt, LLM and parser
type BaseAgent struct {
	name   string
	role   string
	prompt string
	llm    port.LLMClient
	parser parser.ActionParser
}

func newBaseAgent(name, role string, llm port.LLMClient, prompts port.PromptStore) (*BaseAgent, error) {
	prompt, err := prompts.ReadPrompt(role)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s prompt: %w", role, err)
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: %s", ErrEmptyPrompt, role)
	}

	return &BaseAgent{
		name:   name,
		role:   role,
		prompt: prompt,
		llm:    llm,
		parser: parser.NewTextParser(),
	}, nil
}

// Name returns the agent name
func (b *BaseAgent) Name() string { return b.name }

// Role returns the agent role
func (b *BaseAgent) Role() string { return b.role }

// Prompt returns the system prompt loaded at construction
func (b *BaseAgent) Prompt() string { return b.prompt }

// think asks the LLM about the current task and parses its reply
func (b *BaseAgent) think(ctx context.Context, actx *Context) (*Result, error) {
	messages := make([]port.Message, 0, len(actx.History)+2)
	messages = append(messages, port.Message{Role: port.RoleSystem, Content: b.prompt})
	messages = append(messages, actx.History...)
	messages = append(messages, port.Message{Role: port.RoleUser, Content: describeTask(actx)})

	resp, err := b.llm.Chat(ctx, messages)
	if err != nil {
		return nil, &ExecutionError{Agent: b.name, Kind: classify(err), Err: err}
	}

	return &Result{
		Agent:   b.name,
		Actions: b.parser.ParseStructured(resp.Content),
		Content: resp.Content,
		Usage:   resp.Usage,
	}, nil
}

func (b *BaseAgent) emptyResult() *Result {
	return &Result{Agent: b.name, Actions: []action.Action{}}
}

// describeTask renders the observed context as the user turn
func describeTask(actx *Context) string {
	task := actx.CurrentTask
	var sb strings.Builder

	fmt.Fprintf(&sb, "Subtask %s: %s\n", task.ID, task.Title)
	fmt.Fprintf(&sb, "Current state: %s\n", task.State)
	if task.Description != "" {
		fmt.Fprintf(&sb, "Description:\n%s\n", task.Description)
	}
	if len(actx.AvailableAgents) > 0 {
		fmt.Fprintf(&sb, "Available agents: %s\n", strings.Join(actx.AvailableAgents, ", "))
	}
	if actx.TestsFailing {
		sb.WriteString("The test suite is currently failing.\n")
	}
	if actx.Blocker != "" {
		fmt.Fprintf(&sb, "Blocker: %s\n", actx.Blocker)
	}
	if actx.ReadyForReview {
		sb.WriteString("The subtask is ready for review.\n")
	}

	return sb.String()
}

// keep returns the actions whose type is in allowed, renaming create_file to fileType
func keep(actions []action.Action, allowed map[action.Type]bool, fileType action.Type) []action.Action {
	out := make([]action.Action, 0, len(actions))
	for _, a := range actions {
		if a.Type == action.TypeCreateFile && fileType != "" {
			a.Type = fileType
		}
		if allowed[a.Type] {
			out = append(out, a)
		}
	}
	return out
}

func hasType(actions []action.Action, t action.Type) bool {
	for _, a := range actions {
		if a.Type == t {
			return true
		}
	}
	return false
}
