package statemachine

// State is a lifecycle status of a stateful entity
type State string

// String returns the string representation of the state
func (s State) String() string {
	return string(s)
}

// IsZero reports whether the state is unset, which is the "from" state of a creation
func (s State) IsZero() bool {
	return s == ""
}

// Action names an edge in a transition table
type Action string

// String returns the string representation of the action
func (a Action) String() string {
	return string(a)
}

// EntityType identifies which transition table governs an entity
type EntityType string

// String returns the string representation of the entity type
func (t EntityType) String() string {
	return string(t)
}

// Subject is an entity whose status is driven by a transition table.
// Guards receive the subject and may type-assert it to the concrete entity.
type Subject interface {
	SubjectID() int64
	SubjectState() State
	SubjectRevision() int64
}
