package service

import (
	"context"
	"errors"

	"github.com/aerotrace/material-lifecycle/internal/application/workflow"
	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
)

var (
	// ErrNotCurrentApprover is returned when the actor's role is not the one the current step needs
	ErrNotCurrentApprover = errors.New("actor is not the current approver")

	// ErrSelfApproval is returned when the submitter tries to decide their own request
	ErrSelfApproval = errors.New("submitter cannot decide their own request")

	// ErrOverAllocation is returned when a quantity exceeds what is available
	ErrOverAllocation = errors.New("quantity exceeds available")

	// ErrInvalidParentState is returned when a parent barcode cannot feed a child
	ErrInvalidParentState = errors.New("parent material is not consumable")

	// ErrTraceDepthExceeded is returned when a genealogy walk passes the configured depth
	ErrTraceDepthExceeded = errors.New("traceability depth exceeded")
)

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}

// checkRevision lets a request through when expected matches the stored revision. On a mismatch
// the engine decides whether the request repeats the transition that produced the stored
// revision; replayed is then true and nothing must be written.
func checkRevision(ctx context.Context, engine workflow.Engine, req workflow.TransitionRequest, stored int64) (replayed bool, err error) {
	if req.ExpectedRevision == stored {
		return false, nil
	}
	if req.ExpectedRevision <= 0 {
		return false, entity.NewValidationError("revision", "must be positive")
	}

	result, err := engine.Transition(ctx, req)
	if err != nil {
		return false, err
	}
	if !result.Replayed {
		// revisions only grow, so a stale request never applies
		return false, statemachine.NewConcurrentModificationError(req.Entity.Type, req.Entity.ID, req.ExpectedRevision, stored)
	}
	return true, nil
}

func notDraft(ref entity.Ref, status statemachine.State) error {
	return &statemachine.TransitionError{
		EntityType: ref.Type,
		EntityID:   ref.ID,
		From:       status,
		Reason:     "only draft purchase orders can be edited",
		Err:        statemachine.ErrInvalidTransition,
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, entity.ErrNotFound)
}
