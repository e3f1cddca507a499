package parser

import (
	"encoding/json"
	"strings"

	"github.com/feilong2k/codemaestro/internal/domain/action"
)

type structuredAction struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type structuredEnvelope struct {
	Actions []structuredAction `json:"actions"`
}

// ParseStructured decodes JSON-mode agent output ({"actions": [...]}, a bare
// array, or either inside a ```json fence). Unknown action types are dropped.
// When nothing structured is found it falls back to ParseWithCode.
func (p *TextParser) ParseStructured(text string) []action.Action {
	if actions, ok := decodeStructured(text); ok {
		return actions
	}
	return p.ParseWithCode(text)
}

func decodeStructured(text string) ([]action.Action, bool) {
	for _, candidate := range structuredCandidates(text) {
		raw, ok := decodeActionList(candidate)
		if !ok {
			continue
		}

		actions := make([]action.Action, 0, len(raw))
		for _, r := range raw {
			t := action.Type(r.Type)
			if !t.IsValid() {
				continue
			}
			actions = append(actions, action.New(t, r.Payload))
		}
		if len(actions) > 0 {
			return actions, true
		}
	}
	return nil, false
}

func structuredCandidates(text string) []string {
	var candidates []string
	for _, block := range ExtractCodeBlocks(text) {
		if block.Language == "json" {
			candidates = append(candidates, block.Content)
		}
	}
	if trimmed := strings.TrimSpace(text); trimmed != "" {
		candidates = append(candidates, trimmed)
	}
	return candidates
}

func decodeActionList(candidate string) ([]structuredAction, bool) {
	candidate = strings.TrimSpace(candidate)
	switch {
	case strings.HasPrefix(candidate, "["):
		var list []structuredAction
		if err := json.Unmarshal([]byte(candidate), &list); err != nil {
			return nil, false
		}
		return list, true
	case strings.HasPrefix(candidate, "{"):
		var env structuredEnvelope
		if err := json.Unmarshal([]byte(candidate), &env); err != nil {
			return nil, false
		}
		return env.Actions, len(env.Actions) > 0
	default:
		return nil, false
	}
}
