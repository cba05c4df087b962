package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/aerotrace/material-lifecycle/internal/application/dispatcher"
	"github.com/aerotrace/material-lifecycle/internal/application/port"
	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/internal/domain/event"
	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
)

type registration struct {
	table *statemachine.Table
	store port.StateStore
}

type engineImpl struct {
	ledger     port.LedgerRepository
	txManager  port.TransactionManager
	dispatcher dispatcher.Dispatcher

	mu       sync.RWMutex
	registry map[statemachine.EntityType]registration
}

// EngineOption configures the engine
type EngineOption func(*engineImpl)

// WithDispatcher sets the dispatcher that receives committed events
func WithDispatcher(d dispatcher.Dispatcher) EngineOption {
	return func(e *engineImpl) {
		e.dispatcher = d
	}
}

// NewEngine creates an engine with no registered tables
func NewEngine(ledger port.LedgerRepository, txManager port.TransactionManager, opts ...EngineOption) Engine {
	e := &engineImpl{
		ledger:    ledger,
		txManager: txManager,
		registry:  make(map[statemachine.EntityType]registration),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *engineImpl) Register(table *statemachine.Table, store port.StateStore) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.registry[table.EntityType()] = registration{table: table, store: store}
}

func (e *engineImpl) Table(entityType statemachine.EntityType) (*statemachine.Table, bool) {
	reg, ok := e.lookup(entityType)
	return reg.table, ok
}

func (e *engineImpl) lookup(entityType statemachine.EntityType) (registration, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	reg, ok := e.registry[entityType]
	return reg, ok
}

func (e *engineImpl) Transition(ctx context.Context, req TransitionRequest) (*TransitionResult, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}
	reg, ok := e.lookup(req.Entity.Type)
	if !ok {
		return nil, entity.NewValidationError("entity.type", "unknown entity type %q", req.Entity.Type)
	}

	var result *TransitionResult
	err := e.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		subject, err := reg.store.Load(ctx, req.Entity.ID)
		if err != nil {
			return err
		}

		if subject.SubjectRevision() != req.ExpectedRevision {
			replay, err := e.replay(ctx, req, subject)
			if err != nil {
				return err
			}
			if replay == nil {
				return statemachine.NewConcurrentModificationError(
					req.Entity.Type, req.Entity.ID, req.ExpectedRevision, subject.SubjectRevision())
			}
			result = replay
			return nil
		}

		from := subject.SubjectState()
		if !req.FromState.IsZero() && req.FromState != from {
			return &statemachine.TransitionError{
				EntityType: req.Entity.Type,
				EntityID:   req.Entity.ID,
				From:       req.FromState,
				To:         req.ToState,
				Action:     req.Action,
				Reason:     fmt.Sprintf("stored state is %s", from),
				Err:        statemachine.ErrInvalidTransition,
			}
		}

		action, to, err := resolve(ctx, reg.table, subject, req)
		if err != nil {
			return err
		}

		if err := reg.store.UpdateState(ctx, req.Entity.ID, to, req.ExpectedRevision); err != nil {
			return err
		}

		entry := &entity.LedgerEntry{
			EntityType: req.Entity.Type,
			EntityID:   req.Entity.ID,
			Actor:      req.Actor,
			FromState:  from,
			ToState:    to,
			Action:     action,
			Comment:    req.Comment,
			Revision:   req.ExpectedRevision + 1,
		}
		if entry.Metadata, err = encodeMetadata(req.Metadata); err != nil {
			return err
		}
		if err := e.ledger.Append(ctx, entry); err != nil {
			return fmt.Errorf("append ledger entry: %w", err)
		}

		result = &TransitionResult{
			Entity:   req.Entity,
			From:     from,
			To:       to,
			Action:   action,
			Revision: entry.Revision,
			Entry:    entry,
		}
		e.emitAfterCommit(ctx, entry)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// replay recognises a retry of the transition that produced the stored revision
func (e *engineImpl) replay(ctx context.Context, req TransitionRequest, subject statemachine.Subject) (*TransitionResult, error) {
	if subject.SubjectRevision() != req.ExpectedRevision+1 {
		return nil, nil
	}

	latest, err := e.ledger.Latest(ctx, req.Entity)
	if err != nil {
		return nil, fmt.Errorf("load latest ledger entry: %w", err)
	}
	if latest == nil || latest.Revision != subject.SubjectRevision() || latest.Actor != req.Actor {
		return nil, nil
	}
	if req.Action != "" && latest.Action != req.Action {
		return nil, nil
	}
	if !req.ToState.IsZero() && latest.ToState != req.ToState {
		return nil, nil
	}
	if !req.FromState.IsZero() && latest.FromState != req.FromState {
		return nil, nil
	}

	return &TransitionResult{
		Entity:   req.Entity,
		From:     latest.FromState,
		To:       latest.ToState,
		Action:   latest.Action,
		Revision: latest.Revision,
		Entry:    latest,
		Replayed: true,
	}, nil
}

func resolve(ctx context.Context, table *statemachine.Table, subject statemachine.Subject, req TransitionRequest) (statemachine.Action, statemachine.State, error) {
	if req.Action == "" {
		action, err := table.Validate(ctx, subject, req.ToState)
		return action, req.ToState, err
	}

	to, err := table.Resolve(ctx, subject, req.Action)
	if err != nil {
		return "", "", err
	}
	if !req.ToState.IsZero() && to != req.ToState {
		return "", "", &statemachine.TransitionError{
			EntityType: req.Entity.Type,
			EntityID:   req.Entity.ID,
			From:       subject.SubjectState(),
			To:         req.ToState,
			Action:     req.Action,
			Reason:     fmt.Sprintf("action leads to %s", to),
			Err:        statemachine.ErrInvalidTransition,
		}
	}
	return req.Action, to, nil
}

func (e *engineImpl) RecordCreation(ctx context.Context, rec CreationRecord) error {
	reg, ok := e.lookup(rec.Entity.Type)
	if !ok {
		return entity.NewValidationError("entity.type", "unknown entity type %q", rec.Entity.Type)
	}
	if !reg.table.IsInitial(rec.State) {
		return &statemachine.TransitionError{
			EntityType: rec.Entity.Type,
			EntityID:   rec.Entity.ID,
			To:         rec.State,
			Action:     rec.Action,
			Reason:     "not an initial state",
			Err:        statemachine.ErrInvalidState,
		}
	}
	if rec.Actor == "" {
		return entity.NewValidationError("actor", "is required")
	}

	action := rec.Action
	if action == "" {
		action = ActionCreate
	}

	entry := &entity.LedgerEntry{
		EntityType: rec.Entity.Type,
		EntityID:   rec.Entity.ID,
		Actor:      rec.Actor,
		ToState:    rec.State,
		Action:     action,
		Comment:    rec.Comment,
		Revision:   1,
	}
	var err error
	if entry.Metadata, err = encodeMetadata(rec.Metadata); err != nil {
		return err
	}

	return e.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if err := e.ledger.Append(ctx, entry); err != nil {
			return fmt.Errorf("append creation entry: %w", err)
		}
		e.emitAfterCommit(ctx, entry)
		return nil
	})
}

func (e *engineImpl) Load(ctx context.Context, ref entity.Ref) (statemachine.Subject, error) {
	reg, ok := e.lookup(ref.Type)
	if !ok {
		return nil, entity.NewValidationError("entity.type", "unknown entity type %q", ref.Type)
	}
	return reg.store.Load(ctx, ref.ID)
}

func (e *engineImpl) PermittedActions(ctx context.Context, ref entity.Ref) ([]statemachine.Action, error) {
	subject, err := e.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	reg, _ := e.lookup(ref.Type)
	return reg.table.PermittedActions(subject.SubjectState()), nil
}

func (e *engineImpl) emitAfterCommit(ctx context.Context, entry *entity.LedgerEntry) {
	if e.dispatcher == nil {
		return
	}
	evt := event.NewTransitionAccepted(event.TransitionAccepted{
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		From:       entry.FromState,
		To:         entry.ToState,
		Action:     entry.Action,
		Actor:      entry.Actor,
		Revision:   entry.Revision,
	})
	e.txManager.AfterCommit(ctx, func(ctx context.Context) {
		e.dispatcher.DispatchAsync(ctx, evt)
	})
}

func validateRequest(req TransitionRequest) error {
	switch {
	case req.Entity.Type == "":
		return entity.NewValidationError("entity.type", "is required")
	case req.Entity.ID <= 0:
		return entity.NewValidationError("entity.id", "must be positive")
	case req.Action == "" && req.ToState.IsZero():
		return entity.NewValidationError("action", "action or to_state is required")
	case req.Actor == "":
		return entity.NewValidationError("actor", "is required")
	case req.ExpectedRevision <= 0:
		return entity.NewValidationError("expected_revision", "must be positive")
	}
	return nil
}

func encodeMetadata(m map[string]interface{}) (string, error) {
	if len(m) == 0 {
		return "", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", entity.NewValidationError("metadata", "not serializable: %v", err)
	}
	return string(b), nil
}
