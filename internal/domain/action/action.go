// Package action defines the typed instructions agents hand to the dispatch layer.
package action

import "strings"

// Type identifies an action kind
type Type string

const (
	TypeCreateFile              Type = "create_file"
	TypeUpdateStatus            Type = "update_status"
	TypeAskQuestion             Type = "ask_question"
	TypeAssignTask              Type = "assignTask"
	TypeApproveCompletion       Type = "approveCompletion"
	TypeRejectCompletion        Type = "rejectCompletion"
	TypeEscalateBlocker         Type = "escalateBlocker"
	TypeTriggerTransition       Type = "triggerTransition"
	TypeGenerateUnitTests       Type = "generateUnitTests"
	TypeGenerateIntegrationTest Type = "generateIntegrationTests"
	TypeRunCoverageCheck        Type = "runCoverageCheck"
	TypeReportVerification      Type = "reportVerificationStatus"
	TypeWriteTestFile           Type = "writeTestFile"
	TypeWriteImplementationFile Type = "writeImplementationFile"
	TypeImplementCode           Type = "implementCode"
	TypeRefactorCode            Type = "refactorCode"
	TypeFixFailingTests         Type = "fixFailingTests"
	TypeGeneric                 Type = "generic"
)

var knownTypes = map[Type]bool{
	TypeCreateFile:              true,
	TypeUpdateStatus:            true,
	TypeAskQuestion:             true,
	TypeAssignTask:              true,
	TypeApproveCompletion:       true,
	TypeRejectCompletion:        true,
	TypeEscalateBlocker:         true,
	TypeTriggerTransition:       true,
	TypeGenerateUnitTests:       true,
	TypeGenerateIntegrationTest: true,
	TypeRunCoverageCheck:        true,
	TypeReportVerification:      true,
	TypeWriteTestFile:           true,
	TypeWriteImplementationFile: true,
	TypeImplementCode:           true,
	TypeRefactorCode:            true,
	TypeFixFailingTests:         true,
	TypeGeneric:                 true,
}

// IsValid reports whether the type belongs to the closed action set
func (t Type) IsValid() bool {
	return knownTypes[t]
}

// String returns the string representation of the type
func (t Type) String() string {
	return string(t)
}

// WritesFile reports whether the action carries {path, content}
func (t Type) WritesFile() bool {
	return t == TypeCreateFile || t == TypeWriteTestFile || t == TypeWriteImplementationFile
}

// Action is a structured instruction derived from agent output
type Action struct {
	Type    Type           `json:"type"`
	Payload map[string]any `json:"payload"`
}

// New builds an action with the given payload
func New(t Type, payload map[string]any) Action {
	if payload == nil {
		payload = map[string]any{}
	}
	return Action{Type: t, Payload: payload}
}

// Get reads a string payload value
func (a Action) Get(key string) string {
	s, _ := a.Payload[key].(string)
	return strings.TrimSpace(s)
}

// Transition builds a triggerTransition action
func Transition(from, to, reason string) Action {
	return New(TypeTriggerTransition, map[string]any{"from": from, "to": to, "reason": reason})
}
