package workflow

import (
	"context"

	"github.com/aerotrace/material-lifecycle/internal/application/port"
	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
)

// Engine is the single write path for entity status. Every accepted transition updates the
// entity with a revision check, appends one ledger entry and emits one event after commit.
type Engine interface {
	// Register binds an entity type's table to the store holding its rows
	Register(table *statemachine.Table, store port.StateStore)

	// Transition applies one action, or one target state, to an entity
	Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error)

	// RecordCreation ledgers the creation of an entity in one of its initial states
	RecordCreation(ctx context.Context, req CreationRecord) error

	// Load returns the current row of a registered entity
	Load(ctx context.Context, ref entity.Ref) (statemachine.Subject, error)

	// PermittedActions lists the actions declared from the entity's current state
	PermittedActions(ctx context.Context, ref entity.Ref) ([]statemachine.Action, error)

	// Table returns the registered table for an entity type
	Table(entityType statemachine.EntityType) (*statemachine.Table, bool)
}

// TransitionRequest asks for one transition. Exactly one of Action or ToState is required;
// when both are given the action must lead to ToState.
type TransitionRequest struct {
	Entity           entity.Ref             `json:"entity"`
	Action           statemachine.Action    `json:"action,omitempty"`
	ToState          statemachine.State     `json:"to_state,omitempty"`
	FromState        statemachine.State     `json:"from_state,omitempty"`
	Actor            string                 `json:"actor"`
	ExpectedRevision int64                  `json:"expected_revision"`
	Comment          string                 `json:"comment,omitempty"`
	Metadata         map[string]interface{} `json:"metadata,omitempty"`
}

// TransitionResult describes an accepted transition
type TransitionResult struct {
	Entity   entity.Ref          `json:"entity"`
	From     statemachine.State  `json:"from"`
	To       statemachine.State  `json:"to"`
	Action   statemachine.Action `json:"action"`
	Revision int64               `json:"revision"`
	Entry    *entity.LedgerEntry `json:"ledger_entry"`

	// Replayed is set when the request repeated an already committed transition
	Replayed bool `json:"replayed"`
}

// CreationRecord describes a newly inserted entity
type CreationRecord struct {
	Entity   entity.Ref
	State    statemachine.State
	Action   statemachine.Action
	Actor    string
	Comment  string
	Metadata map[string]interface{}
}
