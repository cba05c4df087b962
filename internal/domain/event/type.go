package event

// Type identifies the type of domain event
type Type string

const (
	// TypeTransitionAccepted is emitted once per committed state transition
	TypeTransitionAccepted Type = "transition.accepted"
	// TypeApprovalRequired is emitted when a workflow step becomes active
	TypeApprovalRequired Type = "approval.required"
	// TypeApprovalEscalated is emitted when an active step passes its SLA
	TypeApprovalEscalated Type = "approval.escalated"
)

// String returns the string representation of the event type
func (t Type) String() string {
	return string(t)
}

// IsValid checks if the event type is one of the defined constants
func (t Type) IsValid() bool {
	switch t {
	case TypeTransitionAccepted, TypeApprovalRequired, TypeApprovalEscalated:
		return true
	default:
		return false
	}
}
