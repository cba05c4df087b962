package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
)

// WorkflowStatus is the status of a running approval chain
type WorkflowStatus string

const (
	WorkflowPending   WorkflowStatus = "pending"
	WorkflowApproved  WorkflowStatus = "approved"
	WorkflowRejected  WorkflowStatus = "rejected"
	WorkflowReturned  WorkflowStatus = "returned"
	WorkflowCancelled WorkflowStatus = "cancelled"
)

// WorkflowStatuses lists every workflow status
var WorkflowStatuses = []WorkflowStatus{
	WorkflowPending, WorkflowApproved, WorkflowRejected, WorkflowReturned, WorkflowCancelled,
}

// Decision is an approver's verdict on the current step
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionReturned Decision = "returned"
)

// IsValid reports whether the decision is one an approver may record
func (d Decision) IsValid() bool {
	return d == DecisionApproved || d == DecisionRejected || d == DecisionReturned
}

// ApprovalStatus is the status of one step of a workflow
type ApprovalStatus string

const (
	ApprovalPending   ApprovalStatus = "pending"
	ApprovalApproved  ApprovalStatus = "approved"
	ApprovalRejected  ApprovalStatus = "rejected"
	ApprovalReturned  ApprovalStatus = "returned"
	ApprovalCancelled ApprovalStatus = "cancelled"
)

// WorkflowInstance is a running approval chain for one reference entity
type WorkflowInstance struct {
	ID              int64                   `json:"id"`
	TemplateCode    string                  `json:"template_code"`
	ReferenceType   statemachine.EntityType `json:"reference_type"`
	ReferenceID     int64                   `json:"reference_id"`
	ReferenceNumber string                  `json:"reference_number,omitempty"`
	Amount          decimal.Decimal         `json:"amount"`
	Status          WorkflowStatus          `json:"status"`
	CurrentStep     int                     `json:"current_step"`
	TotalSteps      int                     `json:"total_steps"`
	RequestedBy     string                  `json:"requested_by"`
	DueAt           *time.Time              `json:"due_at,omitempty"`
	CompletedAt     *time.Time              `json:"completed_at,omitempty"`
	Revision        int64                   `json:"revision"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
	Approvals       []*WorkflowApproval     `json:"approvals,omitempty"`
}

// Reference returns the entity the workflow gates
func (w *WorkflowInstance) Reference() Ref {
	return Ref{Type: w.ReferenceType, ID: w.ReferenceID}
}

// CurrentApproval returns the approval row of the current step
func (w *WorkflowInstance) CurrentApproval() *WorkflowApproval {
	return w.ApprovalForStep(w.CurrentStep)
}

// ApprovalForStep returns the approval row of the given step
func (w *WorkflowInstance) ApprovalForStep(step int) *WorkflowApproval {
	for _, a := range w.Approvals {
		if a.StepNumber == step {
			return a
		}
	}
	return nil
}

// IsLastStep reports whether the current step is the final one
func (w *WorkflowInstance) IsLastStep() bool {
	return w.CurrentStep >= w.TotalSteps
}

func (w *WorkflowInstance) SubjectID() int64 { return w.ID }
func (w *WorkflowInstance) SubjectState() statemachine.State { return statemachine.State(w.Status) }
func (w *WorkflowInstance) SubjectRevision() int64 { return w.Revision }

// WorkflowApproval is the record of one step of a workflow
type WorkflowApproval struct {
	ID                 int64          `json:"id"`
	WorkflowInstanceID int64          `json:"workflow_instance_id"`
	StepNumber         int            `json:"step_number"`
	ApproverRole       Role           `json:"approver_role"`
	ApproverID         string         `json:"approver_id,omitempty"`
	Status             ApprovalStatus `json:"status"`
	Comments           string         `json:"comments,omitempty"`
	ActivatedAt        *time.Time     `json:"activated_at,omitempty"`
	DueAt              *time.Time     `json:"due_at,omitempty"`
	DecisionAt         *time.Time     `json:"decision_at,omitempty"`
	IsEscalated        bool           `json:"is_escalated"`
	EscalatedAt        *time.Time     `json:"escalated_at,omitempty"`
}

// IsOverdue reports whether an active, undecided step has passed its due time
func (a *WorkflowApproval) IsOverdue(now time.Time) bool {
	return a.Status == ApprovalPending && a.DueAt != nil && now.After(*a.DueAt)
}
