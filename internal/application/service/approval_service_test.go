package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerotrace/material-lifecycle/internal/application/workflow"
	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/internal/domain/event"
	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
)

func submit(t *testing.T, f *fixture, po *entity.PurchaseOrder) *SubmitResult {
	t.Helper()
	res, err := f.procurement.SubmitPurchaseOrder(context.Background(), po.ID, buyer, po.Revision)
	require.NoError(t, err)
	return res
}

func TestApprovalService_AutoApprovesBelowThreshold(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	po := f.createPO(t, 100, 10, true)

	res := submit(t, f, po)
	assert.True(t, res.AutoApproved)
	assert.Nil(t, res.Workflow)
	assert.Equal(t, statemachine.State(entity.POStatusApproved), res.Reference.To)

	_, err := f.workflows.GetPendingByReference(ctx, entity.Ref{Type: entity.EntityPurchaseOrder, ID: po.ID})
	assert.True(t, errors.Is(err, entity.ErrNotFound))

	latest, err := f.ledger.Latest(ctx, poRef(po.ID))
	require.NoError(t, err)
	assert.Equal(t, workflow.ActionAutoApprove, latest.Action)
	assert.Empty(t, f.dispatcher.OfType(event.TypeApprovalRequired))
}

func TestApprovalService_TwoStepChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	po := f.createPO(t, 3000, 10, true)

	res := submit(t, f, po)
	require.False(t, res.AutoApproved)
	w := res.Workflow
	require.NotNil(t, w)
	assert.Equal(t, 2, w.TotalSteps)
	assert.Equal(t, 1, w.CurrentStep)
	assert.Equal(t, entity.RoleHeadOfOperations, w.CurrentApproval().ApproverRole)
	require.NotNil(t, w.DueAt)

	required := f.dispatcher.OfType(event.TypeApprovalRequired)
	require.Len(t, required, 1)
	assert.Equal(t, string(entity.RoleHeadOfOperations), required[0].GetPayloadString("role"))

	stored, err := f.procurement.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.POStatusPendingApproval, stored.Status)

	step1, err := f.approvals.Decide(ctx, DecideRequest{
		WorkflowInstanceID: w.ID, Actor: hoo, Decision: entity.DecisionApproved, Revision: w.Revision,
	})
	require.NoError(t, err)
	assert.Nil(t, step1.Reference)
	assert.Equal(t, entity.WorkflowPending, step1.Workflow.Status)
	assert.Equal(t, 2, step1.Workflow.CurrentStep)
	assert.Equal(t, entity.ApprovalApproved, step1.Workflow.ApprovalForStep(1).Status)
	assert.Equal(t, hoo, step1.Workflow.ApprovalForStep(1).ApproverID)
	next := step1.Workflow.CurrentApproval()
	require.NotNil(t, next.ActivatedAt)
	require.NotNil(t, next.DueAt)
	assert.Equal(t, 48*time.Hour, next.DueAt.Sub(*next.ActivatedAt))
	assert.Len(t, f.dispatcher.OfType(event.TypeApprovalRequired), 2)

	step2, err := f.approvals.Decide(ctx, DecideRequest{
		WorkflowInstanceID: w.ID, Actor: director, Decision: entity.DecisionApproved, Revision: step1.Workflow.Revision,
	})
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowApproved, step2.Workflow.Status)
	assert.NotNil(t, step2.Workflow.CompletedAt)
	require.NotNil(t, step2.Reference)
	assert.Equal(t, statemachine.State(entity.POStatusApproved), step2.Reference.To)

	history, err := f.ledger.ListByEntity(ctx, poRef(po.ID))
	require.NoError(t, err)
	var actions []statemachine.Action
	for _, e := range history {
		actions = append(actions, e.Action)
	}
	assert.Equal(t, []statemachine.Action{workflow.ActionCreate, workflow.ActionSubmit, workflow.ActionApprove}, actions)
	assert.Equal(t, director, history[2].Actor)
}

func TestApprovalService_ApproverChecks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.authz.roles[buyer] = entity.RoleHeadOfOperations
	po := f.createPO(t, 1000, 10, true)
	w := submit(t, f, po).Workflow

	t.Run("submitter holding the role", func(t *testing.T) {
		_, err := f.approvals.Decide(ctx, DecideRequest{
			WorkflowInstanceID: w.ID, Actor: buyer, Decision: entity.DecisionApproved, Revision: w.Revision,
		})
		assert.True(t, errors.Is(err, ErrSelfApproval))
	})

	t.Run("wrong role", func(t *testing.T) {
		_, err := f.approvals.Decide(ctx, DecideRequest{
			WorkflowInstanceID: w.ID, Actor: director, Decision: entity.DecisionApproved, Revision: w.Revision,
		})
		assert.True(t, errors.Is(err, ErrNotCurrentApprover))
	})

	t.Run("actor outside the directory", func(t *testing.T) {
		_, err := f.approvals.Decide(ctx, DecideRequest{
			WorkflowInstanceID: w.ID, Actor: "u-contractor", Decision: entity.DecisionApproved, Revision: w.Revision,
		})
		assert.True(t, errors.Is(err, ErrNotCurrentApprover), "got %v", err)
		assert.False(t, errors.Is(err, entity.ErrNotFound))
	})

	t.Run("unknown decision", func(t *testing.T) {
		_, err := f.approvals.Decide(ctx, DecideRequest{
			WorkflowInstanceID: w.ID, Actor: hoo, Decision: "maybe", Revision: w.Revision,
		})
		assert.True(t, errors.Is(err, entity.ErrValidation))
	})

	stored, err := f.approvals.GetInstance(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.Revision, stored.Revision)
	assert.Equal(t, entity.ApprovalPending, stored.CurrentApproval().Status)
}

func TestApprovalService_RejectAndReturn(t *testing.T) {
	tests := []struct {
		name       string
		decision   entity.Decision
		workflow   entity.WorkflowStatus
		po         entity.POStatus
		stepStatus entity.ApprovalStatus
	}{
		{"reject", entity.DecisionRejected, entity.WorkflowRejected, entity.POStatusRejected, entity.ApprovalRejected},
		{"return", entity.DecisionReturned, entity.WorkflowReturned, entity.POStatusDraft, entity.ApprovalReturned},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			po := f.createPO(t, 3000, 10, true)
			w := submit(t, f, po).Workflow

			res, err := f.approvals.Decide(ctx, DecideRequest{
				WorkflowInstanceID: w.ID, Actor: hoo, Decision: tt.decision, Comment: "price too high", Revision: w.Revision,
			})
			require.NoError(t, err)
			assert.Equal(t, tt.workflow, res.Workflow.Status)
			assert.Equal(t, tt.stepStatus, res.Workflow.ApprovalForStep(1).Status)
			assert.Equal(t, entity.ApprovalCancelled, res.Workflow.ApprovalForStep(2).Status)
			assert.Equal(t, "price too high", res.Workflow.ApprovalForStep(1).Comments)

			stored, err := f.procurement.GetPurchaseOrder(ctx, po.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.po, stored.Status)
		})
	}
}

func TestApprovalService_ReturnedOrderCanBeResubmitted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	po := f.createPO(t, 1000, 10, true)
	w := submit(t, f, po).Workflow

	_, err := f.approvals.Decide(ctx, DecideRequest{
		WorkflowInstanceID: w.ID, Actor: hoo, Decision: entity.DecisionReturned, Revision: w.Revision,
	})
	require.NoError(t, err)

	po, err = f.procurement.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	again := submit(t, f, po)
	require.NotNil(t, again.Workflow)
	assert.NotEqual(t, w.ID, again.Workflow.ID)
}

func TestApprovalService_DecisionReplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	po := f.createPO(t, 1000, 10, true)
	w := submit(t, f, po).Workflow

	req := DecideRequest{WorkflowInstanceID: w.ID, Actor: hoo, Decision: entity.DecisionApproved, Revision: w.Revision}
	first, err := f.approvals.Decide(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Replayed)

	second, err := f.approvals.Decide(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)
	assert.Equal(t, first.Workflow.Revision, second.Workflow.Revision)

	history, err := f.ledger.ListByEntity(ctx, entity.Ref{Type: entity.EntityWorkflowInstance, ID: w.ID})
	require.NoError(t, err)
	assert.Len(t, history, 2)

	req.Decision = entity.DecisionRejected
	_, err = f.approvals.Decide(ctx, req)
	assert.True(t, errors.Is(err, statemachine.ErrConcurrentModification))
}

func TestApprovalService_DecideOnClosedWorkflow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	po := f.createPO(t, 1000, 10, true)
	w := submit(t, f, po).Workflow

	cancelled, err := f.approvals.Cancel(ctx, w.ID, buyer, "no longer needed")
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowCancelled, cancelled.Status)

	_, err = f.approvals.Decide(ctx, DecideRequest{
		WorkflowInstanceID: w.ID, Actor: hoo, Decision: entity.DecisionApproved, Revision: cancelled.Revision,
	})
	assert.True(t, errors.Is(err, statemachine.ErrInvalidTransition))
}

func TestApprovalService_EscalateOverdue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	po := f.createPO(t, 1000, 10, true)
	w := submit(t, f, po).Workflow

	count, err := f.approvals.EscalateOverdue(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)

	count, err = f.approvals.EscalateOverdue(ctx, time.Now().Add(49*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	escalated := f.dispatcher.OfType(event.TypeApprovalEscalated)
	require.Len(t, escalated, 1)
	assert.Equal(t, w.ID, escalated[0].EntityID)

	stored, err := f.approvals.GetInstance(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, stored.CurrentApproval().IsEscalated)
	assert.Equal(t, w.Revision, stored.Revision)
	assert.Equal(t, entity.WorkflowPending, stored.Status)

	count, err = f.approvals.EscalateOverdue(ctx, time.Now().Add(50*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestApprovalService_Inbox(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.authz.roles["u-hoo-2"] = entity.RoleHeadOfOperations
	po := f.createPO(t, 1000, 10, true)

	_, err := f.procurement.SubmitPurchaseOrder(ctx, po.ID, "u-hoo-2", po.Revision)
	require.NoError(t, err)

	inbox, err := f.approvals.ListPendingForActor(ctx, hoo)
	require.NoError(t, err)
	assert.Len(t, inbox, 1)

	own, err := f.approvals.ListPendingForActor(ctx, "u-hoo-2")
	require.NoError(t, err)
	assert.Empty(t, own)

	none, err := f.approvals.ListPendingForActor(ctx, director)
	require.NoError(t, err)
	assert.Empty(t, none)

	_, err = f.approvals.ListPendingForRole(ctx, entity.Role("ceo"))
	assert.True(t, errors.Is(err, entity.ErrValidation))
}
