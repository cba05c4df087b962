package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
)

// inspectedReceipt runs a receipt through goods-receipt inspection and returns the received, uninspected instance
func (f *fixture) inspectedReceipt(t *testing.T, quantity int64) *ReceiveResult {
	t.Helper()
	ctx := context.Background()
	po := f.orderedPO(t, quantity, true)

	grn, err := f.procurement.CreateGoodsReceipt(ctx, GoodsReceiptRequest{
		PurchaseOrderID: po.ID,
		Revision:        po.Revision,
		ReceivedBy:      storeman,
		Lines:           []ReceiptLine{{POLineItemID: po.LineItems[0].ID, Quantity: dec(quantity)}},
	})
	require.NoError(t, err)
	_, err = f.procurement.SubmitGoodsReceiptForInspection(ctx, grn.ID, storeman, grn.Revision)
	require.NoError(t, err)
	grn, err = f.procurement.GetGoodsReceipt(ctx, grn.ID)
	require.NoError(t, err)
	grn, err = f.procurement.RecordGoodsReceiptInspection(ctx, InspectionRequest{
		GRNID: grn.ID, Revision: grn.Revision, Actor: qa,
		Lines: []InspectionLine{{GRNLineItemID: grn.Lines[0].ID, Accepted: dec(quantity)}},
	})
	require.NoError(t, err)
	require.Equal(t, entity.GRNStatusInspectionPassed, grn.Status)

	accepted, err := f.procurement.AcceptGoodsReceipt(ctx, grn.ID, storeman, grn.Revision)
	require.NoError(t, err)
	require.Len(t, accepted.Received, 1)
	return accepted.Received[0]
}

func TestMaterialService_ReceiveIsIdempotentPerLine(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	received := f.inspectedReceipt(t, 5)

	again, err := f.materials.Receive(ctx, ReceiveRequest{GRNLineItemID: *received.Instance.GRNLineItemID, Actor: storeman})
	require.NoError(t, err)
	assert.Equal(t, received.Instance.ID, again.Instance.ID)
	assert.Equal(t, received.Barcode.ID, again.Barcode.ID)

	history, err := f.ledger.ListByEntity(ctx, instanceRef(received.Instance.ID))
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, statemachine.State(entity.InstanceReceived), history[0].ToState)
	assert.Equal(t, statemachine.State(""), history[0].FromState)
}

func TestMaterialService_Inspect(t *testing.T) {
	ctx := context.Background()

	t.Run("pass moves to storage", func(t *testing.T) {
		f := newFixture(t)
		received := f.inspectedReceipt(t, 5)

		inst, err := f.materials.Inspect(ctx, InspectRequest{
			InstanceID: received.Instance.ID, Passed: true, Actor: qa, Revision: received.Instance.Revision,
		})
		require.NoError(t, err)
		assert.Equal(t, entity.InstanceInStorage, inst.Status)
		require.NotNil(t, inst.InspectionPassed)
		assert.True(t, *inst.InspectionPassed)
	})

	t.Run("fail rejects and voids the barcode", func(t *testing.T) {
		f := newFixture(t)
		received := f.inspectedReceipt(t, 5)

		inst, err := f.materials.Inspect(ctx, InspectRequest{
			InstanceID: received.Instance.ID, Passed: false, Notes: "porosity", Actor: qa, Revision: received.Instance.Revision,
		})
		require.NoError(t, err)
		assert.Equal(t, entity.InstanceRejected, inst.Status)
		assert.Equal(t, "porosity", inst.InspectionNotes)

		b, err := f.barcodes.GetByID(ctx, received.Barcode.ID)
		require.NoError(t, err)
		assert.Equal(t, entity.BarcodeVoid, b.Status)
	})

	t.Run("repeat with the old revision is a no-op", func(t *testing.T) {
		f := newFixture(t)
		received := f.inspectedReceipt(t, 5)
		req := InspectRequest{InstanceID: received.Instance.ID, Passed: true, Actor: qa, Revision: received.Instance.Revision}

		first, err := f.materials.Inspect(ctx, req)
		require.NoError(t, err)
		second, err := f.materials.Inspect(ctx, req)
		require.NoError(t, err)
		assert.Equal(t, first.Revision, second.Revision)

		req.Passed = false
		_, err = f.materials.Inspect(ctx, req)
		assert.True(t, errors.Is(err, statemachine.ErrConcurrentModification))
	})
}

func TestMaterialService_AllocateIssueReturn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	stocked := f.stockedInstance(t, 10)
	instanceID := stocked.Instance.ID

	a, err := f.materials.Allocate(ctx, AllocateRequest{
		InstanceID: instanceID, ProjectRef: "WO-1001", Quantity: dec(6), Actor: storeman, Revision: stocked.Instance.Revision,
	})
	require.NoError(t, err)
	assert.Equal(t, entity.AllocationReserved, a.Status)
	assert.Regexp(t, `^AL-[0-9A-F]{8}$`, a.AllocationNumber)

	inst, err := f.materials.GetInstance(ctx, instanceID)
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceReserved, inst.Status)
	assert.True(t, inst.Available().Equal(dec(4)))

	_, err = f.materials.Allocate(ctx, AllocateRequest{
		InstanceID: instanceID, ProjectRef: "WO-1002", Quantity: dec(5), Actor: storeman, Revision: inst.Revision,
	})
	assert.True(t, errors.Is(err, ErrOverAllocation))

	a, err = f.materials.Issue(ctx, AllocationQuantityRequest{AllocationID: a.ID, Quantity: dec(4), Actor: storeman, Revision: a.Revision})
	require.NoError(t, err)
	assert.Equal(t, entity.AllocationIssued, a.Status)
	inst, err = f.materials.GetInstance(ctx, instanceID)
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceIssued, inst.Status)
	assert.True(t, inst.ReservedQuantity.Equal(dec(2)))
	assert.True(t, inst.IssuedQuantity.Equal(dec(4)))

	_, err = f.materials.Issue(ctx, AllocationQuantityRequest{AllocationID: a.ID, Quantity: dec(3), Actor: storeman, Revision: a.Revision})
	assert.True(t, errors.Is(err, ErrOverAllocation))

	a, err = f.materials.Return(ctx, AllocationQuantityRequest{AllocationID: a.ID, Quantity: dec(4), Actor: storeman, Revision: a.Revision})
	require.NoError(t, err)
	assert.Equal(t, entity.AllocationIssued, a.Status, "two units are still to be issued")
	inst, err = f.materials.GetInstance(ctx, instanceID)
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceReserved, inst.Status)

	a, err = f.materials.Issue(ctx, AllocationQuantityRequest{AllocationID: a.ID, Quantity: dec(2), Actor: storeman, Revision: a.Revision})
	require.NoError(t, err)
	a, err = f.materials.Return(ctx, AllocationQuantityRequest{AllocationID: a.ID, Quantity: dec(2), Actor: storeman, Revision: a.Revision})
	require.NoError(t, err)
	assert.Equal(t, entity.AllocationReturned, a.Status)

	inst, err = f.materials.GetInstance(ctx, instanceID)
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceInStorage, inst.Status)
	assert.True(t, inst.Available().Equal(dec(10)))

	_, err = f.materials.Return(ctx, AllocationQuantityRequest{AllocationID: a.ID, Quantity: dec(1), Actor: storeman, Revision: a.Revision})
	assert.Error(t, err)
}

func TestMaterialService_AllocateReplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	stocked := f.stockedInstance(t, 10)

	req := AllocateRequest{
		InstanceID: stocked.Instance.ID, ProjectRef: "WO-1", Quantity: dec(3), Actor: storeman, Revision: stocked.Instance.Revision,
	}
	first, err := f.materials.Allocate(ctx, req)
	require.NoError(t, err)
	second, err := f.materials.Allocate(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	allocations, err := f.materials.ListAllocations(ctx, stocked.Instance.ID)
	require.NoError(t, err)
	assert.Len(t, allocations, 1)

	inst, err := f.materials.GetInstance(ctx, stocked.Instance.ID)
	require.NoError(t, err)
	assert.True(t, inst.ReservedQuantity.Equal(dec(3)))
}

func TestMaterialService_Release(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	stocked := f.stockedInstance(t, 10)

	first, err := f.materials.Allocate(ctx, AllocateRequest{
		InstanceID: stocked.Instance.ID, ProjectRef: "WO-1", Quantity: dec(3), Actor: storeman, Revision: stocked.Instance.Revision,
	})
	require.NoError(t, err)
	inst, err := f.materials.GetInstance(ctx, stocked.Instance.ID)
	require.NoError(t, err)
	second, err := f.materials.Allocate(ctx, AllocateRequest{
		InstanceID: inst.ID, ProjectRef: "WO-2", Quantity: dec(2), Actor: storeman, Revision: inst.Revision,
	})
	require.NoError(t, err)

	released, err := f.materials.Release(ctx, first.ID, storeman, first.Revision)
	require.NoError(t, err)
	assert.Equal(t, entity.AllocationCancelled, released.Status)
	inst, err = f.materials.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceReserved, inst.Status)
	assert.True(t, inst.ReservedQuantity.Equal(dec(2)))

	_, err = f.materials.Release(ctx, first.ID, storeman, first.Revision)
	require.NoError(t, err, "repeating a release is a no-op")

	_, err = f.materials.Release(ctx, second.ID, storeman, second.Revision)
	require.NoError(t, err)
	inst, err = f.materials.GetInstance(ctx, inst.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceInStorage, inst.Status)
	assert.True(t, inst.ReservedQuantity.IsZero())
}

func TestMaterialService_Scrap(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	stocked := f.stockedInstance(t, 4)

	a, err := f.materials.Allocate(ctx, AllocateRequest{
		InstanceID: stocked.Instance.ID, ProjectRef: "WO-1", Quantity: dec(1), Actor: storeman, Revision: stocked.Instance.Revision,
	})
	require.NoError(t, err)
	inst, err := f.materials.GetInstance(ctx, stocked.Instance.ID)
	require.NoError(t, err)

	_, err = f.materials.Scrap(ctx, InstanceActionRequest{InstanceID: inst.ID, Actor: qa, Revision: inst.Revision})
	assert.True(t, errors.Is(err, entity.ErrValidation))

	_, err = f.materials.Release(ctx, a.ID, storeman, a.Revision)
	require.NoError(t, err)
	inst, err = f.materials.GetInstance(ctx, inst.ID)
	require.NoError(t, err)

	scrapped, err := f.materials.Scrap(ctx, InstanceActionRequest{InstanceID: inst.ID, Actor: qa, Comment: "corrosion", Revision: inst.Revision})
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceScrapped, scrapped.Status)
	assert.Equal(t, entity.StageScrapped, scrapped.Stage)

	b, err := f.barcodes.GetByID(ctx, stocked.Barcode.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BarcodeVoid, b.Status)

	_, err = f.materials.Allocate(ctx, AllocateRequest{
		InstanceID: inst.ID, ProjectRef: "WO-2", Quantity: dec(1), Actor: storeman, Revision: scrapped.Revision,
	})
	assert.True(t, errors.Is(err, statemachine.ErrInvalidTransition))
}

func TestMaterialService_StartProduction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	stocked := f.stockedInstance(t, 4)

	_, err := f.materials.StartProduction(ctx, InstanceActionRequest{
		InstanceID: stocked.Instance.ID, Actor: engineer, Revision: stocked.Instance.Revision,
	})
	assert.True(t, errors.Is(err, statemachine.ErrInvalidTransition), "stock must be issued first")

	a, err := f.materials.Allocate(ctx, AllocateRequest{
		InstanceID: stocked.Instance.ID, ProjectRef: "WO-1", Quantity: dec(4), Actor: storeman, Revision: stocked.Instance.Revision,
	})
	require.NoError(t, err)
	_, err = f.materials.Issue(ctx, AllocationQuantityRequest{AllocationID: a.ID, Quantity: dec(4), Actor: storeman, Revision: a.Revision})
	require.NoError(t, err)
	inst, err := f.materials.GetInstance(ctx, stocked.Instance.ID)
	require.NoError(t, err)

	inst, err = f.materials.StartProduction(ctx, InstanceActionRequest{InstanceID: inst.ID, Actor: engineer, Revision: inst.Revision})
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceInProduction, inst.Status)
	assert.Equal(t, entity.StageWIP, inst.Stage)
}
