package event

import (
	"time"

	"github.com/google/uuid"
)

// Event is a domain event published after something observable happened
type Event struct {
	ID            string         `json:"id"`
	Type          Type           `json:"type"`
	SubtaskID     string         `json:"subtask_id,omitempty"`
	Payload       map[string]any `json:"payload"`
	Timestamp     time.Time      `json:"timestamp"`
	CorrelationID string         `json:"correlation_id"`
}

// NewEvent creates a domain event with generated ID and timestamp
func NewEvent(eventType Type, subtaskID string, payload map[string]any) *Event {
	id := uuid.NewString()
	return &Event{
		ID:            id,
		Type:          eventType,
		SubtaskID:     subtaskID,
		Payload:       payload,
		Timestamp:     time.Now(),
		CorrelationID: id,
	}
}

// NewEventWithCorrelation creates an event linked to an existing correlation chain
func NewEventWithCorrelation(eventType Type, subtaskID string, payload map[string]any, correlationID string) *Event {
	evt := NewEvent(eventType, subtaskID, payload)
	evt.CorrelationID = correlationID
	return evt
}

// WithPayload returns a copy of the event with one more payload entry
func (e *Event) WithPayload(key string, value any) *Event {
	payload := make(map[string]any, len(e.Payload)+1)
	for k, v := range e.Payload {
		payload[k] = v
	}
	payload[key] = value

	cp := *e
	cp.Payload = payload
	return &cp
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if s, ok := e.Payload[key].(string); ok {
		return s
	}
	return ""
}

// GetPayloadBool retrieves a bool value from the payload
func (e *Event) GetPayloadBool(key string) bool {
	if b, ok := e.Payload[key].(bool); ok {
		return b
	}
	return false
}
