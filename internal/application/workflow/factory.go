package workflow

import (
	"context"
	"fmt"

	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	sm "github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
)

// Actions shared by the transition tables
const (
	ActionCreate              sm.Action = "create"
	ActionSubmit              sm.Action = "submit"
	ActionAutoApprove         sm.Action = "auto_approve"
	ActionApprove             sm.Action = "approve"
	ActionReject              sm.Action = "reject"
	ActionReturn              sm.Action = "return"
	ActionAdvance             sm.Action = "advance"
	ActionPlaceOrder          sm.Action = "place_order"
	ActionReceive             sm.Action = "receive"
	ActionClose               sm.Action = "close"
	ActionCancel              sm.Action = "cancel"
	ActionSubmitForInspection sm.Action = "submit_for_inspection"
	ActionRecordInspection    sm.Action = "record_inspection"
	ActionAccept              sm.Action = "accept"
	ActionStartInspection     sm.Action = "start_inspection"
	ActionPassInspection      sm.Action = "pass_inspection"
	ActionFailInspection      sm.Action = "fail_inspection"
	ActionReserve             sm.Action = "reserve"
	ActionIssue               sm.Action = "issue"
	ActionReturnStock         sm.Action = "return_stock"
	ActionRelease             sm.Action = "release"
	ActionStartProduction     sm.Action = "start_production"
	ActionConsume             sm.Action = "consume"
	ActionReturnToSupplier    sm.Action = "return_to_supplier"
	ActionScrap               sm.Action = "scrap"
	ActionVoid                sm.Action = "void"
)

// BuildTables returns the transition table of every stateful entity type
func BuildTables() []*sm.Table {
	return []*sm.Table{
		BuildPurchaseOrderTable(),
		BuildGoodsReceiptTable(),
		BuildMaterialInstanceTable(),
		BuildAllocationTable(),
		BuildWorkflowInstanceTable(),
		BuildBarcodeTable(),
	}
}

func states[S ~string](values []S) []sm.State {
	out := make([]sm.State, len(values))
	for i, v := range values {
		out[i] = sm.State(v)
	}
	return out
}

// BuildPurchaseOrderTable creates the purchase order lifecycle
func BuildPurchaseOrderTable() *sm.Table {
	var (
		draft     = sm.State(entity.POStatusDraft)
		pending   = sm.State(entity.POStatusPendingApproval)
		approved  = sm.State(entity.POStatusApproved)
		rejected  = sm.State(entity.POStatusRejected)
		ordered   = sm.State(entity.POStatusOrdered)
		partial   = sm.State(entity.POStatusPartiallyReceived)
		received  = sm.State(entity.POStatusReceived)
		closed    = sm.State(entity.POStatusClosed)
		cancelled = sm.State(entity.POStatusCancelled)
	)

	t := sm.NewTable(entity.EntityPurchaseOrder, states(entity.POStatuses)).
		Initial(draft).
		Terminal(closed, rejected, cancelled)

	t.Configure(draft).
		PermitIf(ActionSubmit, pending, poHasLines).
		PermitIf(ActionAutoApprove, approved, poHasLines).
		Permit(ActionCancel, cancelled)

	t.Configure(pending).
		Permit(ActionApprove, approved).
		Permit(ActionReject, rejected).
		Permit(ActionReturn, draft).
		Permit(ActionCancel, cancelled)

	t.Configure(approved).
		PermitIf(ActionPlaceOrder, ordered, poHasLines).
		Permit(ActionCancel, cancelled)

	for _, from := range []sm.State{ordered, partial} {
		t.Configure(from).
			PermitIf(ActionReceive, received, poFullyReceived).
			Permit(ActionReceive, partial).
			Permit(ActionCancel, cancelled)
	}

	t.Configure(received).
		Permit(ActionClose, closed)

	return t
}

func poHasLines(ctx context.Context, subject sm.Subject) error {
	po := subject.(*entity.PurchaseOrder)
	if len(po.LineItems) == 0 {
		return fmt.Errorf("purchase order has no line items")
	}
	return nil
}

func poFullyReceived(ctx context.Context, subject sm.Subject) error {
	if !subject.(*entity.PurchaseOrder).IsFullyReceived() {
		return fmt.Errorf("not every line is fully received")
	}
	return nil
}

// BuildGoodsReceiptTable creates the goods receipt lifecycle
func BuildGoodsReceiptTable() *sm.Table {
	var (
		draft    = sm.State(entity.GRNStatusDraft)
		pending  = sm.State(entity.GRNStatusPendingInspection)
		passed   = sm.State(entity.GRNStatusInspectionPassed)
		failed   = sm.State(entity.GRNStatusInspectionFailed)
		partial  = sm.State(entity.GRNStatusPartial)
		accepted = sm.State(entity.GRNStatusAccepted)
		rejected = sm.State(entity.GRNStatusRejected)
	)

	t := sm.NewTable(entity.EntityGoodsReceipt, states(entity.GRNStatuses)).
		Initial(draft).
		Terminal(accepted, rejected)

	t.Configure(draft).
		Permit(ActionSubmitForInspection, pending).
		PermitIf(ActionAccept, accepted, grnInspectionPassed)

	t.Configure(pending).
		PermitIf(ActionRecordInspection, passed, grnAllAccepted).
		PermitIf(ActionRecordInspection, failed, grnNoneAccepted).
		Permit(ActionRecordInspection, partial)

	t.Configure(passed).
		PermitIf(ActionAccept, accepted, grnInspectionPassed)

	t.Configure(partial).
		PermitIf(ActionAccept, accepted, grnInspectionPassed).
		Permit(ActionReject, rejected)

	t.Configure(failed).
		Permit(ActionReject, rejected)

	return t
}

func grnInspectionPassed(ctx context.Context, subject sm.Subject) error {
	if !subject.(*entity.GoodsReceiptNote).InspectionPassed {
		return fmt.Errorf("inspection has not passed")
	}
	return nil
}

func grnAllAccepted(ctx context.Context, subject sm.Subject) error {
	accepted, rejected := subject.(*entity.GoodsReceiptNote).InspectionTotals()
	if !rejected.IsZero() || !accepted.IsPositive() {
		return fmt.Errorf("accepted %s, rejected %s", accepted, rejected)
	}
	return nil
}

func grnNoneAccepted(ctx context.Context, subject sm.Subject) error {
	accepted, _ := subject.(*entity.GoodsReceiptNote).InspectionTotals()
	if !accepted.IsZero() {
		return fmt.Errorf("accepted %s", accepted)
	}
	return nil
}

// BuildMaterialInstanceTable creates the material instance lifecycle. Quantity-dependent edges
// read the quantities already written in the same transaction.
func BuildMaterialInstanceTable() *sm.Table {
	var (
		ordered      = sm.State(entity.InstanceOrdered)
		received     = sm.State(entity.InstanceReceived)
		inInspection = sm.State(entity.InstanceInInspection)
		inStorage    = sm.State(entity.InstanceInStorage)
		reserved     = sm.State(entity.InstanceReserved)
		issued       = sm.State(entity.InstanceIssued)
		inProduction = sm.State(entity.InstanceInProduction)
		completed    = sm.State(entity.InstanceCompleted)
		rejected     = sm.State(entity.InstanceRejected)
		scrapped     = sm.State(entity.InstanceScrapped)
		returned     = sm.State(entity.InstanceReturned)
	)

	t := sm.NewTable(entity.EntityMaterialInstance, states(entity.InstanceStatuses)).
		Initial(ordered, received, inStorage).
		Terminal(completed, rejected, scrapped, returned)

	t.Configure(ordered).
		Permit(ActionReceive, received)

	t.Configure(received).
		Permit(ActionStartInspection, inInspection).
		Permit(ActionPassInspection, inStorage).
		Permit(ActionFailInspection, rejected)

	t.Configure(inInspection).
		Permit(ActionPassInspection, inStorage).
		Permit(ActionFailInspection, rejected)

	t.Configure(inStorage).
		Permit(ActionReserve, reserved).
		Permit(ActionConsume, completed).
		Permit(ActionReturnToSupplier, returned).
		Permit(ActionScrap, scrapped)

	t.Configure(reserved).
		Permit(ActionReserve, reserved).
		Permit(ActionIssue, issued).
		PermitIf(ActionRelease, reserved, instanceHasReserved).
		Permit(ActionRelease, inStorage)

	t.Configure(issued).
		Permit(ActionReserve, issued).
		Permit(ActionIssue, issued).
		Permit(ActionRelease, issued).
		PermitIf(ActionReturnStock, issued, instanceHasIssued).
		PermitIf(ActionReturnStock, reserved, instanceHasReserved).
		Permit(ActionReturnStock, inStorage).
		Permit(ActionStartProduction, inProduction).
		Permit(ActionConsume, completed).
		Permit(ActionScrap, scrapped)

	t.Configure(inProduction).
		Permit(ActionConsume, completed).
		Permit(ActionScrap, scrapped)

	return t
}

func instanceHasIssued(ctx context.Context, subject sm.Subject) error {
	if !subject.(*entity.MaterialInstance).IssuedQuantity.IsPositive() {
		return fmt.Errorf("no issued quantity remains")
	}
	return nil
}

func instanceHasReserved(ctx context.Context, subject sm.Subject) error {
	if !subject.(*entity.MaterialInstance).ReservedQuantity.IsPositive() {
		return fmt.Errorf("no reserved quantity remains")
	}
	return nil
}

// BuildAllocationTable creates the allocation lifecycle
func BuildAllocationTable() *sm.Table {
	var (
		reserved  = sm.State(entity.AllocationReserved)
		issued    = sm.State(entity.AllocationIssued)
		returned  = sm.State(entity.AllocationReturned)
		cancelled = sm.State(entity.AllocationCancelled)
	)

	t := sm.NewTable(entity.EntityMaterialAllocation, states(entity.AllocationStatuses)).
		Initial(reserved).
		Terminal(returned, cancelled)

	t.Configure(reserved).
		Permit(ActionIssue, issued).
		Permit(ActionCancel, cancelled)

	t.Configure(issued).
		Permit(ActionIssue, issued).
		PermitIf(ActionReturn, returned, allocationSettled).
		Permit(ActionReturn, issued)

	return t
}

func allocationSettled(ctx context.Context, subject sm.Subject) error {
	a := subject.(*entity.MaterialAllocation)
	if !a.Outstanding().IsZero() || a.RemainingToIssue().IsPositive() {
		return fmt.Errorf("outstanding %s, remaining to issue %s", a.Outstanding(), a.RemainingToIssue())
	}
	return nil
}

// BuildWorkflowInstanceTable creates the approval chain lifecycle
func BuildWorkflowInstanceTable() *sm.Table {
	pending := sm.State(entity.WorkflowPending)

	t := sm.NewTable(entity.EntityWorkflowInstance, states(entity.WorkflowStatuses)).
		Initial(pending).
		Terminal(
			sm.State(entity.WorkflowApproved),
			sm.State(entity.WorkflowRejected),
			sm.State(entity.WorkflowReturned),
			sm.State(entity.WorkflowCancelled),
		)

	t.Configure(pending).
		PermitIf(ActionAdvance, pending, workflowHasNextStep).
		Permit(ActionApprove, sm.State(entity.WorkflowApproved)).
		Permit(ActionReject, sm.State(entity.WorkflowRejected)).
		Permit(ActionReturn, sm.State(entity.WorkflowReturned)).
		Permit(ActionCancel, sm.State(entity.WorkflowCancelled))

	return t
}

func workflowHasNextStep(ctx context.Context, subject sm.Subject) error {
	if subject.(*entity.WorkflowInstance).IsLastStep() {
		return fmt.Errorf("current step is the last step")
	}
	return nil
}

// BuildBarcodeTable creates the barcode node lifecycle
func BuildBarcodeTable() *sm.Table {
	var (
		active   = sm.State(entity.BarcodeActive)
		consumed = sm.State(entity.BarcodeConsumed)
		void     = sm.State(entity.BarcodeVoid)
	)

	t := sm.NewTable(entity.EntityBarcodeLabel, states(entity.BarcodeStatuses)).
		Initial(active).
		Terminal(consumed, void)

	t.Configure(active).
		PermitIf(ActionConsume, active, barcodeHasRemaining).
		Permit(ActionConsume, consumed).
		Permit(ActionVoid, void)

	return t
}

func barcodeHasRemaining(ctx context.Context, subject sm.Subject) error {
	if !subject.(*entity.BarcodeLabel).RemainingQuantity.IsPositive() {
		return fmt.Errorf("no remaining quantity")
	}
	return nil
}
