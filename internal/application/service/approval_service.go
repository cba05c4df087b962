package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aerotrace/material-lifecycle/internal/application/dispatcher"
	"github.com/aerotrace/material-lifecycle/internal/application/port"
	"github.com/aerotrace/material-lifecycle/internal/application/workflow"
	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/internal/domain/event"
	"github.com/aerotrace/material-lifecycle/internal/domain/policy"
	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
)

// SubmitRequest asks for approval of a reference entity
type SubmitRequest struct {
	Reference       entity.Ref
	ReferenceNumber string
	Amount          decimal.Decimal
	SubmittedBy     string
	Comment         string

	// Revision is the expected revision of the reference entity
	Revision int64
}

// SubmitResult reports how a submission was routed
type SubmitResult struct {
	AutoApproved bool                       `json:"auto_approved"`
	Workflow     *entity.WorkflowInstance   `json:"workflow,omitempty"`
	Reference    *workflow.TransitionResult `json:"reference"`
}

// DecideRequest records an approver's decision on the current step
type DecideRequest struct {
	WorkflowInstanceID int64
	Actor              string
	Decision           entity.Decision
	Comment            string

	// Revision is the expected revision of the workflow instance
	Revision int64
}

// DecideResult is the workflow after a decision
type DecideResult struct {
	Workflow  *entity.WorkflowInstance   `json:"workflow"`
	Reference *workflow.TransitionResult `json:"reference,omitempty"`
	Replayed  bool                       `json:"replayed"`
}

// ApprovalService drives amount-based approval chains for reference entities
type ApprovalService interface {
	SubmitForApproval(ctx context.Context, req SubmitRequest, p policy.ApprovalPolicy) (*SubmitResult, error)
	Decide(ctx context.Context, req DecideRequest) (*DecideResult, error)
	Cancel(ctx context.Context, workflowID int64, actor, comment string) (*entity.WorkflowInstance, error)

	// CancelForReference cancels the pending workflow of a reference, if there is one
	CancelForReference(ctx context.Context, ref entity.Ref, actor, comment string) error

	// EscalateOverdue flags every active step past its due time and returns how many were flagged
	EscalateOverdue(ctx context.Context, now time.Time) (int, error)

	GetInstance(ctx context.Context, id int64) (*entity.WorkflowInstance, error)
	ListPendingForRole(ctx context.Context, role entity.Role) ([]*entity.WorkflowInstance, error)
	ListPendingForActor(ctx context.Context, actor string) ([]*entity.WorkflowInstance, error)
}

type approvalServiceImpl struct {
	engine     workflow.Engine
	workflows  port.WorkflowRepository
	ledger     port.LedgerRepository
	authz      port.Authorizer
	txManager  port.TransactionManager
	dispatcher dispatcher.Dispatcher
	logger     Logger
	now        func() time.Time
}

// NewApprovalService creates a new ApprovalService
func NewApprovalService(
	engine workflow.Engine,
	workflows port.WorkflowRepository,
	ledger port.LedgerRepository,
	authz port.Authorizer,
	txManager port.TransactionManager,
	d dispatcher.Dispatcher,
	logger Logger,
) ApprovalService {
	return &approvalServiceImpl{
		engine:     engine,
		workflows:  workflows,
		ledger:     ledger,
		authz:      authz,
		txManager:  txManager,
		dispatcher: d,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// SubmitForApproval routes the reference through auto-approval or creates a workflow for it
func (s *approvalServiceImpl) SubmitForApproval(ctx context.Context, req SubmitRequest, p policy.ApprovalPolicy) (*SubmitResult, error) {
	if err := p.Validate(); err != nil {
		return nil, entity.NewValidationError("policy", "%v", err)
	}
	if p.ReferenceType != req.Reference.Type {
		return nil, entity.NewValidationError("policy", "policy %s governs %s, not %s", p.Code, p.ReferenceType, req.Reference.Type)
	}
	if req.Amount.IsNegative() {
		return nil, entity.NewValidationError("amount", "must not be negative")
	}
	if req.SubmittedBy == "" {
		return nil, entity.NewValidationError("submitted_by", "is required")
	}

	metadata := map[string]interface{}{
		"amount": req.Amount.String(),
		"policy": p.Code,
	}

	var result *SubmitResult
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if p.IsAutoApproved(req.Amount) {
			res, err := s.engine.Transition(txCtx, workflow.TransitionRequest{
				Entity:           req.Reference,
				Action:           workflow.ActionAutoApprove,
				Actor:            req.SubmittedBy,
				ExpectedRevision: req.Revision,
				Comment:          req.Comment,
				Metadata:         metadata,
			})
			if err != nil {
				return err
			}
			result = &SubmitResult{AutoApproved: true, Reference: res}
			return nil
		}

		res, err := s.engine.Transition(txCtx, workflow.TransitionRequest{
			Entity:           req.Reference,
			Action:           workflow.ActionSubmit,
			Actor:            req.SubmittedBy,
			ExpectedRevision: req.Revision,
			Comment:          req.Comment,
			Metadata:         metadata,
		})
		if err != nil {
			return err
		}
		if res.Replayed {
			w, err := s.workflows.GetPendingByReference(txCtx, req.Reference)
			if err != nil {
				return fmt.Errorf("get pending workflow: %w", err)
			}
			result = &SubmitResult{Workflow: w, Reference: res}
			return nil
		}

		w := s.newWorkflow(req, p)
		if err := s.workflows.Create(txCtx, w); err != nil {
			return fmt.Errorf("create workflow: %w", err)
		}
		if err := s.engine.RecordCreation(txCtx, workflow.CreationRecord{
			Entity:   entity.Ref{Type: entity.EntityWorkflowInstance, ID: w.ID},
			State:    statemachine.State(entity.WorkflowPending),
			Actor:    req.SubmittedBy,
			Metadata: map[string]interface{}{"reference": req.Reference.String(), "amount": req.Amount.String()},
		}); err != nil {
			return err
		}

		s.notifyApprovalRequired(txCtx, w)
		result = &SubmitResult{Workflow: w, Reference: res}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to submit for approval", "error", err, "reference", req.Reference.String())
		return nil, err
	}

	s.logger.Info("Submitted for approval",
		"reference", req.Reference.String(),
		"amount", req.Amount.String(),
		"auto_approved", result.AutoApproved)
	return result, nil
}

func (s *approvalServiceImpl) newWorkflow(req SubmitRequest, p policy.ApprovalPolicy) *entity.WorkflowInstance {
	steps := p.RequiredSteps(req.Amount)
	now := s.now()

	w := &entity.WorkflowInstance{
		TemplateCode:    p.Code,
		ReferenceType:   req.Reference.Type,
		ReferenceID:     req.Reference.ID,
		ReferenceNumber: req.ReferenceNumber,
		Amount:          req.Amount,
		Status:          entity.WorkflowPending,
		CurrentStep:     1,
		TotalSteps:      len(steps),
		RequestedBy:     req.SubmittedBy,
	}

	for _, step := range steps {
		a := &entity.WorkflowApproval{
			StepNumber:   step.Number,
			ApproverRole: step.Role,
			Status:       entity.ApprovalPending,
		}
		if step.Number == 1 {
			activate(a, now, p.SLA)
			w.DueAt = a.DueAt
		}
		w.Approvals = append(w.Approvals, a)
	}
	return w
}

func activate(a *entity.WorkflowApproval, now time.Time, sla time.Duration) {
	a.ActivatedAt = &now
	if sla > 0 {
		due := now.Add(sla)
		a.DueAt = &due
	}
}

// Decide applies an approver's decision to the current step
func (s *approvalServiceImpl) Decide(ctx context.Context, req DecideRequest) (*DecideResult, error) {
	if !req.Decision.IsValid() {
		return nil, entity.NewValidationError("decision", "unknown decision %q", req.Decision)
	}
	if req.Actor == "" {
		return nil, entity.NewValidationError("actor", "is required")
	}
	if req.Revision <= 0 {
		return nil, entity.NewValidationError("revision", "must be positive")
	}

	var result *DecideResult
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		w, err := s.workflows.GetByID(txCtx, req.WorkflowInstanceID)
		if err != nil {
			return err
		}
		ref := entity.Ref{Type: entity.EntityWorkflowInstance, ID: w.ID}

		if w.Revision != req.Revision {
			replayed, err := s.isReplayedDecision(txCtx, w, req)
			if err != nil {
				return err
			}
			if !replayed {
				return statemachine.NewConcurrentModificationError(ref.Type, ref.ID, req.Revision, w.Revision)
			}
			result = &DecideResult{Workflow: w, Replayed: true}
			return nil
		}

		if w.Status != entity.WorkflowPending {
			return &statemachine.TransitionError{
				EntityType: ref.Type,
				EntityID:   ref.ID,
				From:       w.SubjectState(),
				Reason:     "workflow is no longer pending",
				Err:        statemachine.ErrInvalidTransition,
			}
		}

		current := w.CurrentApproval()
		if current == nil {
			return fmt.Errorf("workflow %d has no approval row for step %d", w.ID, w.CurrentStep)
		}
		if err := s.checkApprover(txCtx, w, current, req.Actor); err != nil {
			return err
		}

		now := s.now()
		current.ApproverID = req.Actor
		current.Comments = req.Comment
		current.DecisionAt = &now
		current.Status = approvalStatusFor(req.Decision)
		if err := s.workflows.UpdateApproval(txCtx, current); err != nil {
			return err
		}

		result, err = s.applyDecision(txCtx, w, current, req, now)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to record decision", "error", err,
			"workflow_id", req.WorkflowInstanceID, "actor", req.Actor, "decision", req.Decision)
		return nil, err
	}

	s.logger.Info("Decision recorded",
		"workflow_id", req.WorkflowInstanceID,
		"actor", req.Actor,
		"decision", req.Decision,
		"status", result.Workflow.Status)
	return result, nil
}

// checkApprover tests self-approval before the role so a submitter holding the role is still refused
func (s *approvalServiceImpl) checkApprover(ctx context.Context, w *entity.WorkflowInstance, current *entity.WorkflowApproval, actor string) error {
	if actor == w.RequestedBy {
		return fmt.Errorf("%w: %s submitted workflow %d", ErrSelfApproval, actor, w.ID)
	}

	role, err := s.authz.RoleOf(ctx, actor)
	if errors.Is(err, entity.ErrNotFound) || errors.Is(err, entity.ErrForbidden) {
		return fmt.Errorf("%w: step %d requires %s, actor %s has no role",
			ErrNotCurrentApprover, current.StepNumber, current.ApproverRole, actor)
	}
	if err != nil {
		return fmt.Errorf("resolve role: %w", err)
	}
	if role != current.ApproverRole {
		return fmt.Errorf("%w: step %d requires %s, actor %s is %s",
			ErrNotCurrentApprover, current.StepNumber, current.ApproverRole, actor, role)
	}
	return nil
}

func (s *approvalServiceImpl) applyDecision(ctx context.Context, w *entity.WorkflowInstance, current *entity.WorkflowApproval, req DecideRequest, now time.Time) (*DecideResult, error) {
	wfRef := entity.Ref{Type: entity.EntityWorkflowInstance, ID: w.ID}
	transition := func(action statemachine.Action) error {
		_, err := s.engine.Transition(ctx, workflow.TransitionRequest{
			Entity:           wfRef,
			Action:           action,
			Actor:            req.Actor,
			ExpectedRevision: req.Revision,
			Comment:          req.Comment,
			Metadata:         map[string]interface{}{"step": current.StepNumber},
		})
		return err
	}

	if req.Decision == entity.DecisionApproved && !w.IsLastStep() {
		if err := transition(workflow.ActionAdvance); err != nil {
			return nil, err
		}

		w.CurrentStep++
		next := w.CurrentApproval()
		activate(next, now, stepSLA(current))
		w.DueAt = next.DueAt
		if err := s.workflows.UpdateApproval(ctx, next); err != nil {
			return nil, err
		}
		if err := s.workflows.UpdateProgress(ctx, w); err != nil {
			return nil, err
		}

		s.notifyApprovalRequired(ctx, w)
		return s.reload(ctx, w.ID, nil)
	}

	action := decisionActions[req.Decision][len(decisionActions[req.Decision])-1]
	if err := transition(action); err != nil {
		return nil, err
	}

	w.CompletedAt = &now
	w.DueAt = nil
	if err := s.workflows.UpdateProgress(ctx, w); err != nil {
		return nil, err
	}
	if err := s.closeRemainingSteps(ctx, w); err != nil {
		return nil, err
	}

	refResult, err := s.transitionReference(ctx, w.Reference(), action, req.Actor, req.Comment)
	if err != nil {
		return nil, err
	}
	return s.reload(ctx, w.ID, refResult)
}

// transitionReference moves the gated entity at its current revision
func (s *approvalServiceImpl) transitionReference(ctx context.Context, ref entity.Ref, action statemachine.Action, actor, comment string) (*workflow.TransitionResult, error) {
	subject, err := s.engine.Load(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load reference: %w", err)
	}
	return s.engine.Transition(ctx, workflow.TransitionRequest{
		Entity:           ref,
		Action:           action,
		Actor:            actor,
		ExpectedRevision: subject.SubjectRevision(),
		Comment:          comment,
	})
}

func (s *approvalServiceImpl) reload(ctx context.Context, id int64, ref *workflow.TransitionResult) (*DecideResult, error) {
	w, err := s.workflows.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return &DecideResult{Workflow: w, Reference: ref}, nil
}

// stepSLA carries the first step's window over to later steps
func stepSLA(a *entity.WorkflowApproval) time.Duration {
	if a.ActivatedAt == nil || a.DueAt == nil {
		return 0
	}
	return a.DueAt.Sub(*a.ActivatedAt)
}

var decisionActions = map[entity.Decision][]statemachine.Action{
	entity.DecisionApproved: {workflow.ActionAdvance, workflow.ActionApprove},
	entity.DecisionRejected: {workflow.ActionReject},
	entity.DecisionReturned: {workflow.ActionReturn},
}

func approvalStatusFor(d entity.Decision) entity.ApprovalStatus {
	switch d {
	case entity.DecisionApproved:
		return entity.ApprovalApproved
	case entity.DecisionRejected:
		return entity.ApprovalRejected
	default:
		return entity.ApprovalReturned
	}
}

// isReplayedDecision reports whether the stored revision was produced by this same decision
func (s *approvalServiceImpl) isReplayedDecision(ctx context.Context, w *entity.WorkflowInstance, req DecideRequest) (bool, error) {
	if w.Revision != req.Revision+1 {
		return false, nil
	}
	latest, err := s.ledger.Latest(ctx, entity.Ref{Type: entity.EntityWorkflowInstance, ID: w.ID})
	if err != nil {
		return false, err
	}
	if latest == nil || latest.Revision != w.Revision || latest.Actor != req.Actor {
		return false, nil
	}
	for _, action := range decisionActions[req.Decision] {
		if latest.Action == action {
			return true, nil
		}
	}
	return false, nil
}

func (s *approvalServiceImpl) closeRemainingSteps(ctx context.Context, w *entity.WorkflowInstance) error {
	for _, a := range w.Approvals {
		if a.Status != entity.ApprovalPending {
			continue
		}
		a.Status = entity.ApprovalCancelled
		if err := s.workflows.UpdateApproval(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// Cancel withdraws a pending workflow without touching its reference
func (s *approvalServiceImpl) Cancel(ctx context.Context, workflowID int64, actor, comment string) (*entity.WorkflowInstance, error) {
	var w *entity.WorkflowInstance
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		if w, err = s.workflows.GetByID(txCtx, workflowID); err != nil {
			return err
		}
		if err := s.cancel(txCtx, w, actor, comment); err != nil {
			return err
		}
		w, err = s.workflows.GetByID(txCtx, workflowID)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to cancel workflow", "error", err, "workflow_id", workflowID)
		return nil, err
	}

	s.logger.Info("Workflow cancelled", "workflow_id", workflowID, "actor", actor)
	return w, nil
}

// CancelForReference cancels the pending workflow gating ref, if any
func (s *approvalServiceImpl) CancelForReference(ctx context.Context, ref entity.Ref, actor, comment string) error {
	return s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		w, err := s.workflows.GetPendingByReference(txCtx, ref)
		if isNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		return s.cancel(txCtx, w, actor, comment)
	})
}

func (s *approvalServiceImpl) cancel(ctx context.Context, w *entity.WorkflowInstance, actor, comment string) error {
	if _, err := s.engine.Transition(ctx, workflow.TransitionRequest{
		Entity:           entity.Ref{Type: entity.EntityWorkflowInstance, ID: w.ID},
		Action:           workflow.ActionCancel,
		Actor:            actor,
		ExpectedRevision: w.Revision,
		Comment:          comment,
	}); err != nil {
		return err
	}

	now := s.now()
	w.CompletedAt = &now
	w.DueAt = nil
	if err := s.workflows.UpdateProgress(ctx, w); err != nil {
		return err
	}
	return s.closeRemainingSteps(ctx, w)
}

// EscalateOverdue flags overdue steps. It changes no status and writes no ledger entry.
func (s *approvalServiceImpl) EscalateOverdue(ctx context.Context, now time.Time) (int, error) {
	now = now.UTC()
	count := 0
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		overdue, err := s.workflows.ListOverdueApprovals(txCtx, now)
		if err != nil {
			return err
		}

		for _, a := range overdue {
			a.IsEscalated = true
			a.EscalatedAt = &now
			if err := s.workflows.UpdateApproval(txCtx, a); err != nil {
				return err
			}

			evt := event.NewEvent(event.TypeApprovalEscalated, entity.EntityWorkflowInstance, a.WorkflowInstanceID, map[string]interface{}{
				"step":   a.StepNumber,
				"role":   string(a.ApproverRole),
				"due_at": a.DueAt.Format(time.RFC3339),
			})
			s.emit(txCtx, evt)
			count++
		}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to escalate overdue approvals", "error", err)
		return 0, err
	}

	if count > 0 {
		s.logger.Info("Escalated overdue approvals", "count", count)
	}
	return count, nil
}

// GetInstance retrieves a workflow with its steps
func (s *approvalServiceImpl) GetInstance(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	w, err := s.workflows.GetByID(ctx, id)
	if err != nil {
		s.logger.Error("Failed to get workflow", "error", err, "id", id)
		return nil, err
	}
	return w, nil
}

// ListPendingForRole returns the workflows waiting on the role
func (s *approvalServiceImpl) ListPendingForRole(ctx context.Context, role entity.Role) ([]*entity.WorkflowInstance, error) {
	if !role.IsValid() {
		return nil, entity.NewValidationError("role", "unknown role %q", role)
	}
	return s.workflows.ListPendingForRole(ctx, role)
}

// ListPendingForActor returns the inbox of the actor's role, without the actor's own requests
func (s *approvalServiceImpl) ListPendingForActor(ctx context.Context, actor string) ([]*entity.WorkflowInstance, error) {
	role, err := s.authz.RoleOf(ctx, actor)
	if err != nil {
		return nil, fmt.Errorf("resolve role: %w", err)
	}
	all, err := s.ListPendingForRole(ctx, role)
	if err != nil {
		return nil, err
	}

	inbox := make([]*entity.WorkflowInstance, 0, len(all))
	for _, w := range all {
		if w.RequestedBy != actor {
			inbox = append(inbox, w)
		}
	}
	return inbox, nil
}

func (s *approvalServiceImpl) notifyApprovalRequired(ctx context.Context, w *entity.WorkflowInstance) {
	current := w.CurrentApproval()
	if current == nil {
		return
	}
	payload := map[string]interface{}{
		"step":      current.StepNumber,
		"role":      string(current.ApproverRole),
		"reference": w.Reference().String(),
		"amount":    w.Amount.String(),
	}
	if current.DueAt != nil {
		payload["due_at"] = current.DueAt.Format(time.RFC3339)
	}
	s.emit(ctx, event.NewEvent(event.TypeApprovalRequired, entity.EntityWorkflowInstance, w.ID, payload))
}

func (s *approvalServiceImpl) emit(ctx context.Context, evt *event.Event) {
	if s.dispatcher == nil {
		return
	}
	s.txManager.AfterCommit(ctx, func(ctx context.Context) {
		s.dispatcher.DispatchAsync(ctx, evt)
	})
}
