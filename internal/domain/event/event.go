package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
)

// Event is a notification about something that already happened to an entity
type Event struct {
	ID         string                  `json:"id"`
	Type       Type                    `json:"type"`
	EntityType statemachine.EntityType `json:"entity_type"`
	EntityID   int64                   `json:"entity_id"`
	From       statemachine.State      `json:"from,omitempty"`
	To         statemachine.State      `json:"to,omitempty"`
	Action     statemachine.Action     `json:"action,omitempty"`
	Actor      string                  `json:"actor,omitempty"`
	Revision   int64                   `json:"revision,omitempty"`
	Payload    map[string]interface{}  `json:"payload,omitempty"`
	Timestamp  time.Time               `json:"timestamp"`
}

// NewEvent creates an event for the given entity with a fresh id
func NewEvent(eventType Type, entityType statemachine.EntityType, entityID int64, payload map[string]interface{}) *Event {
	return &Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    payload,
		Timestamp:  time.Now().UTC(),
	}
}

// TransitionAccepted describes one committed transition
type TransitionAccepted struct {
	EntityType statemachine.EntityType
	EntityID   int64
	From       statemachine.State
	To         statemachine.State
	Action     statemachine.Action
	Actor      string
	Revision   int64
}

// NewTransitionAccepted creates the event emitted after a transition commits
func NewTransitionAccepted(t TransitionAccepted) *Event {
	evt := NewEvent(TypeTransitionAccepted, t.EntityType, t.EntityID, nil)
	evt.From = t.From
	evt.To = t.To
	evt.Action = t.Action
	evt.Actor = t.Actor
	evt.Revision = t.Revision
	return evt
}

// WithPayload returns a copy of the event with one more payload entry
func (e *Event) WithPayload(key string, value interface{}) *Event {
	payload := make(map[string]interface{}, len(e.Payload)+1)
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
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an integer value from the payload
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}

// Subject is the routing key used by message brokers, e.g. purchase_order.transition.accepted
func (e *Event) Subject() string {
	if e.EntityType == "" {
		return e.Type.String()
	}
	return e.EntityType.String() + "." + e.Type.String()
}
