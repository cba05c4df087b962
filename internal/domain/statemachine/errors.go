package statemachine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition is returned when no edge connects the current state to the requested one
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrInvalidState is returned when a state is not part of a table
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardFailed is returned when an edge exists but its guard rejects the subject
	ErrGuardFailed = errors.New("guard condition failed")

	// ErrConcurrentModification is returned when the caller's revision is stale
	ErrConcurrentModification = errors.New("concurrent modification")
)

// TransitionError carries the details of a rejected transition.
// It unwraps to one of the sentinel errors above.
type TransitionError struct {
	EntityType EntityType
	EntityID   int64
	From       State
	To         State
	Action     Action
	Reason     string
	Err        error
}

func (e *TransitionError) Error() string {
	target := e.To.String()
	if target == "" {
		target = "?"
	}
	msg := fmt.Sprintf("%v: %s %d %s -[%s]-> %s", e.Err, e.EntityType, e.EntityID, e.From, e.Action, target)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

// NewConcurrentModificationError reports a revision mismatch on an entity
func NewConcurrentModificationError(entityType EntityType, id int64, expected, actual int64) error {
	return &TransitionError{
		EntityType: entityType,
		EntityID:   id,
		Reason:     fmt.Sprintf("expected revision %d, stored revision %d", expected, actual),
		Err:        ErrConcurrentModification,
	}
}
