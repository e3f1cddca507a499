package openai

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/feilong2k/codemaestro/internal/application/port"
)

// AgentPrompt is the system prompt of one agent role
type AgentPrompt struct {
	System string `yaml:"system"`
}

// PromptConfig holds the agent prompts and the values they are rendered with
type PromptConfig struct {
	Vars   map[string]string      `yaml:"vars"`
	Agents map[string]AgentPrompt `yaml:"agents"`
}

// PromptStore implements port.PromptStore over a prompts.yaml file
type PromptStore struct {
	prompts *PromptConfig
}

// LoadPrompts loads prompt configuration from YAML file
func LoadPrompts(promptsPath string) (*PromptStore, error) {
	data, err := os.ReadFile(promptsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompts file: %w", err)
	}
	return ParsePrompts(data)
}

// ParsePrompts decodes prompt configuration from YAML
func ParsePrompts(data []byte) (*PromptStore, error) {
	var prompts PromptConfig
	if err := yaml.Unmarshal(data, &prompts); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prompts: %w", err)
	}
	return &PromptStore{prompts: &prompts}, nil
}

// ReadPrompt renders the system prompt of the role. Unknown roles yield "".
func (s *PromptStore) ReadPrompt(role string) (string, error) {
	p, ok := s.prompts.Agents[role]
	if !ok {
		return "", nil
	}
	rendered, err := renderTemplate(p.System, s.prompts.Vars)
	if err != nil {
		return "", fmt.Errorf("prompt %s: %w", role, err)
	}
	return strings.TrimSpace(rendered), nil
}

// Roles lists the configured agent roles
func (s *PromptStore) Roles() []string {
	roles := make([]string, 0, len(s.prompts.Agents))
	for role := range s.prompts.Agents {
		roles = append(roles, role)
	}
	return roles
}

// renderTemplate renders a template with provided data
func renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("prompt").Option("missingkey=zero").Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("failed to parse template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute template: %w", err)
	}

	return buf.String(), nil
}

// Verify interface compliance
var _ port.PromptStore = (*PromptStore)(nil)
