package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aerotrace/material-lifecycle/internal/application/port"
	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
	"github.com/aerotrace/material-lifecycle/internal/infrastructure/persistence/sqlite"
)

// WorkflowRepository implements port.WorkflowRepository
type WorkflowRepository struct {
	base
}

// NewWorkflowRepository creates a new workflow repository
func NewWorkflowRepository(db *sqlite.DB, logger *zap.Logger) port.WorkflowRepository {
	return &WorkflowRepository{base: newBase(db, logger)}
}

const workflowColumns = `id, template_code, reference_type, reference_id, reference_number, amount, status,
	current_step, total_steps, requested_by, due_at, completed_at, revision, created_at, updated_at`

const approvalColumns = `id, workflow_instance_id, step_number, approver_role, approver_id, status, comments,
	activated_at, due_at, decision_at, is_escalated, escalated_at`

// Create inserts the instance and its approval rows
func (r *WorkflowRepository) Create(ctx context.Context, w *entity.WorkflowInstance) error {
	now := r.now()
	if w.Revision == 0 {
		w.Revision = 1
	}
	w.CreatedAt, w.UpdatedAt = now, now

	result, err := r.exec(ctx).ExecContext(ctx, `
		INSERT INTO workflow_instances (
			template_code, reference_type, reference_id, reference_number, amount, status,
			current_step, total_steps, requested_by, due_at, completed_at, revision, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.TemplateCode, w.ReferenceType, w.ReferenceID, w.ReferenceNumber, w.Amount, w.Status,
		w.CurrentStep, w.TotalSteps, w.RequestedBy, nullTime(w.DueAt), nullTime(w.CompletedAt),
		w.Revision, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		r.logger.Error("Failed to create workflow instance",
			zap.String("reference", w.Reference().String()), zap.Error(err))
		return fmt.Errorf("failed to create workflow instance: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	w.ID = id

	for _, a := range w.Approvals {
		a.WorkflowInstanceID = id
		res, err := r.exec(ctx).ExecContext(ctx, `
			INSERT INTO workflow_approvals (
				workflow_instance_id, step_number, approver_role, approver_id, status, comments,
				activated_at, due_at, decision_at, is_escalated, escalated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			a.WorkflowInstanceID, a.StepNumber, a.ApproverRole, a.ApproverID, a.Status, a.Comments,
			nullTime(a.ActivatedAt), nullTime(a.DueAt), nullTime(a.DecisionAt), a.IsEscalated, nullTime(a.EscalatedAt),
		)
		if err != nil {
			r.logger.Error("Failed to create workflow approval", zap.Int64("workflow_id", id), zap.Error(err))
			return fmt.Errorf("failed to create workflow approval: %w", err)
		}
		if a.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
	}
	return nil
}

// GetByID returns the instance with its approval rows
func (r *WorkflowRepository) GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error) {
	row := r.exec(ctx).QueryRowContext(ctx, `SELECT `+workflowColumns+` FROM workflow_instances WHERE id = ?`, id)
	w, err := scanWorkflow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, entity.NotFoundError("workflow instance", id)
	}
	if err != nil {
		r.logger.Error("Failed to get workflow instance", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get workflow instance: %w", err)
	}
	if err := r.attachApprovals(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (r *WorkflowRepository) attachApprovals(ctx context.Context, w *entity.WorkflowInstance) error {
	rows, err := r.exec(ctx).QueryContext(ctx,
		`SELECT `+approvalColumns+` FROM workflow_approvals WHERE workflow_instance_id = ? ORDER BY step_number`, w.ID)
	if err != nil {
		return fmt.Errorf("failed to list workflow approvals: %w", err)
	}
	defer rows.Close()

	w.Approvals = nil
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return fmt.Errorf("failed to scan workflow approval: %w", err)
		}
		w.Approvals = append(w.Approvals, a)
	}
	return rows.Err()
}

// GetPendingByReference returns the pending workflow gating the reference
func (r *WorkflowRepository) GetPendingByReference(ctx context.Context, ref entity.Ref) (*entity.WorkflowInstance, error) {
	var id int64
	err := r.exec(ctx).QueryRowContext(ctx, `
		SELECT id FROM workflow_instances
		WHERE reference_type = ? AND reference_id = ? AND status = ?
		ORDER BY id DESC LIMIT 1`,
		ref.Type, ref.ID, entity.WorkflowPending).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("pending workflow for %s: %w", ref, entity.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find pending workflow: %w", err)
	}
	return r.GetByID(ctx, id)
}

// ListPendingForRole returns pending workflows whose current step belongs to the role
func (r *WorkflowRepository) ListPendingForRole(ctx context.Context, role entity.Role) ([]*entity.WorkflowInstance, error) {
	rows, err := r.exec(ctx).QueryContext(ctx, `
		SELECT w.id, w.template_code, w.reference_type, w.reference_id, w.reference_number, w.amount, w.status,
			w.current_step, w.total_steps, w.requested_by, w.due_at, w.completed_at, w.revision,
			w.created_at, w.updated_at
		FROM workflow_instances w
		JOIN workflow_approvals a ON a.workflow_instance_id = w.id AND a.step_number = w.current_step
		WHERE w.status = ? AND a.approver_role = ?
		ORDER BY w.due_at, w.id`,
		entity.WorkflowPending, role)
	if err != nil {
		r.logger.Error("Failed to list pending workflows", zap.String("role", string(role)), zap.Error(err))
		return nil, fmt.Errorf("failed to list pending workflows: %w", err)
	}

	var out []*entity.WorkflowInstance
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan workflow instance: %w", err)
		}
		out = append(out, w)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, w := range out {
		if err := r.attachApprovals(ctx, w); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Load implements port.StateStore
func (r *WorkflowRepository) Load(ctx context.Context, id int64) (statemachine.Subject, error) {
	w, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return w, nil
}

// UpdateState implements port.StateStore
func (r *WorkflowRepository) UpdateState(ctx context.Context, id int64, to statemachine.State, expectedRevision int64) error {
	return r.updateState(ctx, "workflow_instances", entity.EntityWorkflowInstance, id, to, expectedRevision)
}

// UpdateProgress stores the current step and timing columns
func (r *WorkflowRepository) UpdateProgress(ctx context.Context, w *entity.WorkflowInstance) error {
	_, err := r.exec(ctx).ExecContext(ctx, `
		UPDATE workflow_instances SET current_step = ?, due_at = ?, completed_at = ?, updated_at = ? WHERE id = ?`,
		w.CurrentStep, nullTime(w.DueAt), nullTime(w.CompletedAt), r.now(), w.ID)
	if err != nil {
		r.logger.Error("Failed to update workflow progress", zap.Int64("id", w.ID), zap.Error(err))
		return fmt.Errorf("failed to update workflow progress: %w", err)
	}
	return nil
}

// UpdateApproval stores the decision and escalation columns of one step
func (r *WorkflowRepository) UpdateApproval(ctx context.Context, a *entity.WorkflowApproval) error {
	_, err := r.exec(ctx).ExecContext(ctx, `
		UPDATE workflow_approvals
		SET approver_id = ?, status = ?, comments = ?, activated_at = ?, due_at = ?, decision_at = ?,
			is_escalated = ?, escalated_at = ?
		WHERE id = ?`,
		a.ApproverID, a.Status, a.Comments, nullTime(a.ActivatedAt), nullTime(a.DueAt), nullTime(a.DecisionAt),
		a.IsEscalated, nullTime(a.EscalatedAt), a.ID)
	if err != nil {
		r.logger.Error("Failed to update workflow approval", zap.Int64("id", a.ID), zap.Error(err))
		return fmt.Errorf("failed to update workflow approval: %w", err)
	}
	return nil
}

// ListOverdueApprovals returns active, undecided, unescalated steps due before now
func (r *WorkflowRepository) ListOverdueApprovals(ctx context.Context, now time.Time) ([]*entity.WorkflowApproval, error) {
	rows, err := r.exec(ctx).QueryContext(ctx, `
		SELECT a.id, a.workflow_instance_id, a.step_number, a.approver_role, a.approver_id, a.status, a.comments,
			a.activated_at, a.due_at, a.decision_at, a.is_escalated, a.escalated_at
		FROM workflow_approvals a
		JOIN workflow_instances w ON w.id = a.workflow_instance_id
		WHERE w.status = ? AND a.step_number = w.current_step AND a.status = ?
			AND a.is_escalated = 0 AND a.due_at IS NOT NULL AND a.due_at < ?
		ORDER BY a.due_at, a.id`,
		entity.WorkflowPending, entity.ApprovalPending, now.UTC())
	if err != nil {
		r.logger.Error("Failed to list overdue approvals", zap.Error(err))
		return nil, fmt.Errorf("failed to list overdue approvals: %w", err)
	}
	defer rows.Close()

	var out []*entity.WorkflowApproval
	for rows.Next() {
		a, err := scanApproval(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workflow approval: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanWorkflow(s rowScanner) (*entity.WorkflowInstance, error) {
	var w entity.WorkflowInstance
	var dueAt, completedAt sql.NullTime
	err := s.Scan(
		&w.ID, &w.TemplateCode, &w.ReferenceType, &w.ReferenceID, &w.ReferenceNumber, &w.Amount, &w.Status,
		&w.CurrentStep, &w.TotalSteps, &w.RequestedBy, &dueAt, &completedAt, &w.Revision,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	w.DueAt = timePtr(dueAt)
	w.CompletedAt = timePtr(completedAt)
	return &w, nil
}

func scanApproval(s rowScanner) (*entity.WorkflowApproval, error) {
	var a entity.WorkflowApproval
	var activatedAt, dueAt, decisionAt, escalatedAt sql.NullTime
	err := s.Scan(
		&a.ID, &a.WorkflowInstanceID, &a.StepNumber, &a.ApproverRole, &a.ApproverID, &a.Status, &a.Comments,
		&activatedAt, &dueAt, &decisionAt, &a.IsEscalated, &escalatedAt,
	)
	if err != nil {
		return nil, err
	}
	a.ActivatedAt = timePtr(activatedAt)
	a.DueAt = timePtr(dueAt)
	a.DecisionAt = timePtr(decisionAt)
	a.EscalatedAt = timePtr(escalatedAt)
	return &a, nil
}
