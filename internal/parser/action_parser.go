// Package parser turns free-form agent output into typed actions.
//
// The patterns here are heuristics. Only the recognised action categories and
// the closed-set validation of status values are relied upon by callers.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/feilong2k/codemaestro/internal/domain/action"
	"github.com/feilong2k/codemaestro/internal/domain/workflow"
)

// ActionParser extracts structured actions from agent output
type ActionParser interface {
	Parse(text string) []action.Action
	ParseWithCode(text string) []action.Action
	ParseStructured(text string) []action.Action
}

// TextParser is the regex-driven ActionParser
type TextParser struct{}

var _ ActionParser = (*TextParser)(nil)

// NewTextParser creates a TextParser
func NewTextParser() *TextParser {
	return &TextParser{}
}

var (
	filePattern = regexp.MustCompile(
		"(?i)\\b(?:create|write|implement)\\s+(?:(?:a|an|the|new)\\s+)*file\\s+[`'\"]?([\\w./-]+\\.[A-Za-z0-9]+)[`'\"]?" +
			"(?:\\s+(?:with|containing)\\s+([^\\n]+))?")

	statusPattern = regexp.MustCompile(
		"(?i)\\b(?:update|change|set)\\s+(?:the\\s+)?status\\s+(?:to|as)\\s+[`'\"]?([A-Za-z_]+)")

	questionPrefixPattern = regexp.MustCompile(`(?im)^\s*question:\s*(.+?)\s*$`)

	interrogativePattern = regexp.MustCompile(
		`(?i)\b((?:what|how|should|can|could|would|which|why)\b[^.!?\n]*\?+)`)

	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Parse extracts actions from text. Empty input yields no actions; any other
// input yields at least one action.
func (p *TextParser) Parse(text string) []action.Action {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return []action.Action{}
	}

	var actions []action.Action
	actions = append(actions, parseFileActions(trimmed)...)
	actions = append(actions, parseStatusActions(trimmed)...)
	actions = append(actions, parseQuestions(trimmed)...)

	if len(actions) == 0 {
		actions = append(actions, action.New(action.TypeGeneric, map[string]any{
			"text": normalizeWhitespace(trimmed),
		}))
	}

	return actions
}

// ParseWithCode parses text and fills file actions with fenced code content.
// Every file action receives the first code block.
func (p *TextParser) ParseWithCode(text string) []action.Action {
	actions := p.Parse(text)
	blocks := ExtractCodeBlocks(text)
	if len(blocks) == 0 {
		return actions
	}

	for i := range actions {
		if actions[i].Type == action.TypeCreateFile {
			actions[i].Payload["content"] = blocks[0].Content
			if blocks[0].Language != defaultLanguage {
				actions[i].Payload["language"] = blocks[0].Language
			}
		}
	}
	return actions
}

func parseFileActions(text string) []action.Action {
	var actions []action.Action
	seen := make(map[string]bool)

	for _, m := range filePattern.FindAllStringSubmatch(text, -1) {
		path := m[1]
		if seen[path] {
			continue
		}
		seen[path] = true

		content := strings.TrimSpace(m[2])
		if content == "" {
			content = placeholderContent(path)
		}

		actions = append(actions, action.New(action.TypeCreateFile, map[string]any{
			"path":        path,
			"content":     content,
			"description": strings.TrimSpace(m[0]),
		}))
	}
	return actions
}

func parseStatusActions(text string) []action.Action {
	var actions []action.Action
	seen := make(map[workflow.State]bool)

	for _, m := range statusPattern.FindAllStringSubmatch(text, -1) {
		state, ok := workflow.ParseState(strings.ToLower(m[1]))
		if !ok || seen[state] {
			continue
		}
		seen[state] = true
		actions = append(actions, action.New(action.TypeUpdateStatus, map[string]any{
			"status": state.String(),
		}))
	}
	return actions
}

func parseQuestions(text string) []action.Action {
	var candidates []string
	for _, m := range questionPrefixPattern.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, m[1])
	}
	for _, m := range interrogativePattern.FindAllStringSubmatch(text, -1) {
		candidates = append(candidates, m[1])
	}

	var actions []action.Action
	seen := make(map[string]bool)
	for _, c := range candidates {
		q := normalizeQuestion(c)
		if q == "?" {
			continue
		}
		key := strings.ToLower(q)
		if seen[key] {
			continue
		}
		seen[key] = true
		actions = append(actions, action.New(action.TypeAskQuestion, map[string]any{
			"question": q,
		}))
	}
	return actions
}

// normalizeQuestion collapses whitespace and ends the question with exactly one "?"
func normalizeQuestion(q string) string {
	q = normalizeWhitespace(q)
	q = strings.TrimRight(q, "? ")
	return q + "?"
}

func normalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}

func placeholderContent(path string) string {
	return fmt.Sprintf("// Placeholder content for %s\n", path)
}
