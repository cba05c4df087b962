package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
)

func TestTraceabilityService_CreateChildConsumesParentsInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bar := f.stockedInstance(t, 10)
	sheet := f.stockedInstance(t, 5)

	child, err := f.traceability.CreateChildBarcode(ctx, ChildBarcodeRequest{
		ParentIDs: []int64{bar.Barcode.ID, sheet.Barcode.ID},
		Quantity:  dec(12),
		Stage:     entity.StageWIP,
		Actor:     engineer,
	})
	require.NoError(t, err)
	assert.Regexp(t, `^WIP-`, child.BarcodeValue)
	assert.Equal(t, []int64{bar.Barcode.ID, sheet.Barcode.ID}, child.ParentIDs)

	first, err := f.traceability.GetBarcode(ctx, bar.Barcode.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BarcodeConsumed, first.Status)
	assert.True(t, first.RemainingQuantity.IsZero())

	second, err := f.traceability.GetBarcode(ctx, sheet.Barcode.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.BarcodeActive, second.Status)
	assert.True(t, second.RemainingQuantity.Equal(dec(3)))

	consumed, err := f.materials.GetInstance(ctx, bar.Instance.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceCompleted, consumed.Status)
	assert.Equal(t, entity.StageConsumed, consumed.Stage)

	edges, err := f.barcodes.ListEdges(ctx, child.ID)
	require.NoError(t, err)
	require.Len(t, edges, 2)
	quantities := map[int64]string{}
	for _, e := range edges {
		quantities[e.ParentID] = e.Quantity.String()
	}
	assert.Equal(t, map[int64]string{bar.Barcode.ID: "10", sheet.Barcode.ID: "2"}, quantities)

	childInstance, err := f.materials.GetInstance(ctx, child.InstanceID)
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceInStorage, childInstance.Status)
	assert.Equal(t, int64(100), childInstance.MaterialID)
}

func TestTraceabilityService_UnusedParentGetsNoEdge(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.stockedInstance(t, 10)
	b := f.stockedInstance(t, 10)

	child, err := f.traceability.CreateChildBarcode(ctx, ChildBarcodeRequest{
		ParentIDs: []int64{a.Barcode.ID, b.Barcode.ID},
		Quantity:  dec(4),
		Stage:     entity.StageFinishedGoods,
		Actor:     engineer,
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{a.Barcode.ID}, child.ParentIDs)

	untouched, err := f.traceability.GetBarcode(ctx, b.Barcode.ID)
	require.NoError(t, err)
	assert.True(t, untouched.RemainingQuantity.Equal(dec(10)))
	assert.Equal(t, int64(1), untouched.Revision)
}

func TestTraceabilityService_CreateChildRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.stockedInstance(t, 3)
	b := f.stockedInstance(t, 3)

	_, err := f.traceability.CreateChildBarcode(ctx, ChildBarcodeRequest{
		ParentIDs: []int64{a.Barcode.ID}, Quantity: dec(3), Stage: entity.StageWIP, Actor: engineer,
	})
	require.NoError(t, err)

	instancesBefore := f.countRows(t, "material_instances")
	barcodesBefore := f.countRows(t, "barcode_labels")
	edgesBefore := f.countRows(t, "barcode_edges")
	ledgerBefore := f.countRows(t, "transition_ledger")

	tests := []struct {
		name string
		req  ChildBarcodeRequest
		want error
	}{
		{
			name: "quantity above remaining",
			req:  ChildBarcodeRequest{ParentIDs: []int64{b.Barcode.ID}, Quantity: dec(4), Stage: entity.StageWIP, Actor: engineer},
			want: ErrOverAllocation,
		},
		{
			name: "consumed parent",
			req:  ChildBarcodeRequest{ParentIDs: []int64{a.Barcode.ID}, Quantity: dec(1), Stage: entity.StageWIP, Actor: engineer},
			want: ErrInvalidParentState,
		},
		{
			name: "missing parent",
			req:  ChildBarcodeRequest{ParentIDs: []int64{9999}, Quantity: dec(1), Stage: entity.StageWIP, Actor: engineer},
			want: entity.ErrNotFound,
		},
		{
			name: "duplicate parent",
			req:  ChildBarcodeRequest{ParentIDs: []int64{b.Barcode.ID, b.Barcode.ID}, Quantity: dec(1), Stage: entity.StageWIP, Actor: engineer},
			want: entity.ErrValidation,
		},
		{
			name: "unlabelled stage",
			req:  ChildBarcodeRequest{ParentIDs: []int64{b.Barcode.ID}, Quantity: dec(1), Stage: entity.StageConsumed, Actor: engineer},
			want: entity.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.traceability.CreateChildBarcode(ctx, tt.req)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}

	intact, err := f.traceability.GetBarcode(ctx, b.Barcode.ID)
	require.NoError(t, err)
	assert.True(t, intact.RemainingQuantity.Equal(dec(3)))
	assert.Equal(t, b.Barcode.Revision, intact.Revision)
	assert.Empty(t, intact.ChildIDs)

	lot, err := f.materials.GetInstance(ctx, b.Instance.ID)
	require.NoError(t, err)
	assert.True(t, lot.Quantity.Equal(dec(3)))
	assert.Equal(t, entity.InstanceInStorage, lot.Status)
	assert.Equal(t, b.Instance.Revision, lot.Revision)

	assert.Equal(t, instancesBefore, f.countRows(t, "material_instances"))
	assert.Equal(t, barcodesBefore, f.countRows(t, "barcode_labels"))
	assert.Equal(t, edgesBefore, f.countRows(t, "barcode_edges"))
	assert.Equal(t, ledgerBefore, f.countRows(t, "transition_ledger"))
}

func TestTraceabilityService_ConsumedQuantityCannotBeAllocated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	plate := f.stockedInstance(t, 50)

	_, err := f.traceability.CreateChildBarcode(ctx, ChildBarcodeRequest{
		ParentIDs: []int64{plate.Barcode.ID}, Quantity: dec(30), Stage: entity.StageWIP, Actor: engineer,
	})
	require.NoError(t, err)

	lot, err := f.materials.GetInstance(ctx, plate.Instance.ID)
	require.NoError(t, err)
	assert.True(t, lot.Quantity.Equal(dec(20)), lot.Quantity.String())
	assert.True(t, lot.Available().Equal(dec(20)))
	assert.Equal(t, entity.InstanceInStorage, lot.Status)

	_, err = f.materials.Allocate(ctx, AllocateRequest{
		InstanceID: lot.ID, ProjectRef: "WO-2001", Quantity: dec(50), Actor: storeman, Revision: lot.Revision,
	})
	assert.True(t, errors.Is(err, ErrOverAllocation), "got %v", err)

	a, err := f.materials.Allocate(ctx, AllocateRequest{
		InstanceID: lot.ID, ProjectRef: "WO-2001", Quantity: dec(20), Actor: storeman, Revision: lot.Revision,
	})
	require.NoError(t, err)
	assert.True(t, a.QuantityAllocated.Equal(dec(20)))
}

func TestTraceabilityService_ConsumptionSparesReservations(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	bar := f.stockedInstance(t, 10)

	a, err := f.materials.Allocate(ctx, AllocateRequest{
		InstanceID: bar.Instance.ID, ProjectRef: "WO-3001", Quantity: dec(6), Actor: storeman, Revision: bar.Instance.Revision,
	})
	require.NoError(t, err)
	a, err = f.materials.Issue(ctx, AllocationQuantityRequest{AllocationID: a.ID, Quantity: dec(4), Actor: storeman, Revision: a.Revision})
	require.NoError(t, err)

	// 4 free and 4 issued may be consumed; the 2 still reserved may not
	_, err = f.traceability.CreateChildBarcode(ctx, ChildBarcodeRequest{
		ParentIDs: []int64{bar.Barcode.ID}, Quantity: dec(9), Stage: entity.StageWIP, Actor: engineer,
	})
	assert.True(t, errors.Is(err, ErrOverAllocation), "got %v", err)

	_, err = f.traceability.CreateChildBarcode(ctx, ChildBarcodeRequest{
		ParentIDs: []int64{bar.Barcode.ID}, Quantity: dec(6), Stage: entity.StageWIP, Actor: engineer,
	})
	require.NoError(t, err)

	lot, err := f.materials.GetInstance(ctx, bar.Instance.ID)
	require.NoError(t, err)
	assert.True(t, lot.Quantity.Equal(dec(4)), lot.Quantity.String())
	assert.True(t, lot.ReservedQuantity.Equal(dec(2)))
	assert.True(t, lot.IssuedQuantity.Equal(dec(2)))
	assert.True(t, lot.Available().IsZero())
	assert.Equal(t, entity.InstanceIssued, lot.Status)

	label, err := f.traceability.GetBarcode(ctx, bar.Barcode.ID)
	require.NoError(t, err)
	assert.True(t, label.RemainingQuantity.Equal(dec(4)))

	a, err = f.materials.Issue(ctx, AllocationQuantityRequest{AllocationID: a.ID, Quantity: dec(2), Actor: storeman, Revision: a.Revision})
	require.NoError(t, err)

	_, err = f.traceability.CreateChildBarcode(ctx, ChildBarcodeRequest{
		ParentIDs: []int64{bar.Barcode.ID}, Quantity: dec(4), Stage: entity.StageWIP, Actor: engineer,
	})
	require.NoError(t, err)

	lot, err = f.materials.GetInstance(ctx, bar.Instance.ID)
	require.NoError(t, err)
	assert.Equal(t, entity.InstanceCompleted, lot.Status)
	assert.True(t, lot.Quantity.IsZero())
	assert.True(t, lot.IssuedQuantity.IsZero())
}

func TestTraceabilityService_ParentMustBeInStock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	received := f.inspectedReceipt(t, 5)

	_, err := f.traceability.CreateChildBarcode(ctx, ChildBarcodeRequest{
		ParentIDs: []int64{received.Barcode.ID}, Quantity: dec(1), Stage: entity.StageWIP, Actor: engineer,
	})
	assert.True(t, errors.Is(err, ErrInvalidParentState))
}

func TestTraceabilityService_GetTraceabilityChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.stockedInstance(t, 10)
	b := f.stockedInstance(t, 10)

	wip, err := f.traceability.CreateChildBarcode(ctx, ChildBarcodeRequest{
		ParentIDs: []int64{a.Barcode.ID, b.Barcode.ID}, Quantity: dec(15), Stage: entity.StageWIP, Actor: engineer,
	})
	require.NoError(t, err)
	fg, err := f.traceability.CreateChildBarcode(ctx, ChildBarcodeRequest{
		ParentIDs: []int64{wip.ID}, Quantity: dec(15), Stage: entity.StageFinishedGoods, Actor: engineer,
	})
	require.NoError(t, err)

	chain, err := f.traceability.GetTraceabilityChain(ctx, fg.ID)
	require.NoError(t, err)
	require.Len(t, chain.Nodes, 4)

	var ids []int64
	for _, n := range chain.Nodes {
		ids = append(ids, n.Barcode.ID)
		require.NotNil(t, n.Instance)
	}
	assert.Equal(t, []int64{a.Barcode.ID, b.Barcode.ID, wip.ID, fg.ID}, ids)
	assert.Equal(t, 2, chain.Nodes[0].Depth)
	assert.Equal(t, 0, chain.Nodes[3].Depth)
	assert.Len(t, chain.Edges, 3)

	root, err := f.traceability.GetTraceabilityChain(ctx, a.Barcode.ID)
	require.NoError(t, err)
	require.Len(t, root.Nodes, 1)
	assert.Empty(t, root.Edges)

	shallow := NewTraceabilityService(f.engine, f.barcodes, f.instances, f.tx, nopLogger{}, 1)
	_, err = shallow.GetTraceabilityChain(ctx, fg.ID)
	assert.True(t, errors.Is(err, ErrTraceDepthExceeded))

	_, err = f.traceability.GetTraceabilityChain(ctx, 9999)
	assert.True(t, errors.Is(err, entity.ErrNotFound))
}
