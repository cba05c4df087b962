package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aerotrace/material-lifecycle/internal/application/dispatcher"
	"github.com/aerotrace/material-lifecycle/internal/application/port"
	"github.com/aerotrace/material-lifecycle/internal/application/workflow"
	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/internal/domain/event"
	"github.com/aerotrace/material-lifecycle/internal/domain/policy"
	"github.com/aerotrace/material-lifecycle/internal/infrastructure/persistence/repository"
	"github.com/aerotrace/material-lifecycle/internal/infrastructure/persistence/sqlite"
	"github.com/aerotrace/material-lifecycle/internal/testutil"
)

type nopLogger struct{}

func (nopLogger) Info(msg string, keysAndValues ...interface{})  {}
func (nopLogger) Error(msg string, keysAndValues ...interface{}) {}

// mockAuthorizer resolves roles from a fixed map
type mockAuthorizer struct {
	roles map[string]entity.Role
}

func (m *mockAuthorizer) RoleOf(ctx context.Context, userID string) (entity.Role, error) {
	role, ok := m.roles[userID]
	if !ok {
		return "", fmt.Errorf("user %s: %w", userID, entity.ErrNotFound)
	}
	return role, nil
}

func (m *mockAuthorizer) Authorize(ctx context.Context, userID string, capability entity.Capability) error {
	role, err := m.RoleOf(ctx, userID)
	if err != nil {
		return err
	}
	if !role.Can(capability) {
		return fmt.Errorf("%s lacks %s: %w", userID, capability, entity.ErrForbidden)
	}
	return nil
}

type mockDispatcher struct {
	mu     sync.Mutex
	events []*event.Event
}

func (m *mockDispatcher) SubscribeNamed(eventType event.Type, name string, handler dispatcher.Handler) {}

func (m *mockDispatcher) Unsubscribe(eventType event.Type, name string) {}

func (m *mockDispatcher) Dispatch(ctx context.Context, evt *event.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockDispatcher) DispatchAsync(ctx context.Context, evt *event.Event) {
	_ = m.Dispatch(ctx, evt)
}

func (m *mockDispatcher) ListHandlers(eventType event.Type) []dispatcher.HandlerInfo { return nil }

func (m *mockDispatcher) Close() error { return nil }

func (m *mockDispatcher) OfType(t event.Type) []*event.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*event.Event
	for _, evt := range m.events {
		if evt.Type == t {
			out = append(out, evt)
		}
	}
	return out
}

const (
	buyer    = "u-buyer"
	hoo      = "u-hoo"
	director = "u-director"
	storeman = "u-store"
	qa       = "u-qa"
	engineer = "u-engineer"
)

func testPolicy() policy.ApprovalPolicy {
	return policy.ApprovalPolicy{
		Code:                 "PO_APPROVAL",
		ReferenceType:        entity.EntityPurchaseOrder,
		AutoApproveThreshold: decimal.NewFromInt(5000),
		SLA:                  48 * time.Hour,
		Steps: []policy.StepRule{
			{Order: 1, Role: entity.RoleHeadOfOperations, AmountThreshold: decimal.NewFromInt(5000)},
			{Order: 2, Role: entity.RoleDirector, AmountThreshold: decimal.NewFromInt(25000)},
		},
	}
}

type fixture struct {
	db          *sqlite.DB
	tx          port.TransactionManager
	engine      workflow.Engine
	dispatcher  *mockDispatcher
	authz       *mockAuthorizer
	ledger      port.LedgerRepository
	orders      port.PurchaseOrderRepository
	receipts    port.GoodsReceiptRepository
	instances   port.MaterialInstanceRepository
	allocations port.AllocationRepository
	barcodes    port.BarcodeRepository
	workflows   port.WorkflowRepository

	approvals    ApprovalService
	materials    MaterialService
	traceability TraceabilityService
	procurement  ProcurementService
	audit        AuditService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.NewDB(t)
	zl := zap.NewNop()

	f := &fixture{
		db:          db,
		tx:          db,
		dispatcher:  &mockDispatcher{},
		ledger:      repository.NewLedgerRepository(db, zl),
		orders:      repository.NewPurchaseOrderRepository(db, zl),
		receipts:    repository.NewGoodsReceiptRepository(db, zl),
		instances:   repository.NewMaterialInstanceRepository(db, zl),
		allocations: repository.NewAllocationRepository(db, zl),
		barcodes:    repository.NewBarcodeRepository(db, zl),
		workflows:   repository.NewWorkflowRepository(db, zl),
		authz: &mockAuthorizer{roles: map[string]entity.Role{
			buyer:    entity.RolePurchase,
			hoo:      entity.RoleHeadOfOperations,
			director: entity.RoleDirector,
			storeman: entity.RoleStore,
			qa:       entity.RoleQA,
			engineer: entity.RoleEngineer,
		}},
	}

	f.engine = workflow.NewEngine(f.ledger, db, workflow.WithDispatcher(f.dispatcher))
	stores := map[string]port.StateStore{
		string(entity.EntityPurchaseOrder):      f.orders,
		string(entity.EntityGoodsReceipt):       f.receipts,
		string(entity.EntityMaterialInstance):   f.instances,
		string(entity.EntityMaterialAllocation): f.allocations,
		string(entity.EntityWorkflowInstance):   f.workflows,
		string(entity.EntityBarcodeLabel):       f.barcodes,
	}
	for _, table := range workflow.BuildTables() {
		f.engine.Register(table, stores[string(table.EntityType())])
	}

	registry, err := policy.NewRegistry(testPolicy())
	require.NoError(t, err)

	logger := nopLogger{}
	f.approvals = NewApprovalService(f.engine, f.workflows, f.ledger, f.authz, db, f.dispatcher, logger)
	f.materials = NewMaterialService(f.engine, f.instances, f.allocations, f.barcodes, f.receipts, f.orders, db, logger)
	f.traceability = NewTraceabilityService(f.engine, f.barcodes, f.instances, db, logger, 0)
	f.procurement = NewProcurementService(f.engine, f.approvals, f.materials, f.orders, f.receipts, registry, db,
		ProcurementConfig{ReceiptTolerancePercent: decimal.NewFromInt(5)}, logger)
	f.audit = NewAuditService(f.ledger, logger)
	return f
}

// createPO creates a draft order with one line of quantity x unitPrice
func (f *fixture) createPO(t *testing.T, quantity, unitPrice int64, requiresInspection bool) *entity.PurchaseOrder {
	t.Helper()
	po, err := f.procurement.CreatePurchaseOrder(context.Background(), CreatePurchaseOrderRequest{
		SupplierID:         7,
		RequiresInspection: &requiresInspection,
		CreatedBy:          buyer,
		Lines: []LineRequest{{
			MaterialID:  100,
			Description: "Ti-6Al-4V bar stock",
			Quantity:    decimal.NewFromInt(quantity),
			UnitPrice:   decimal.NewFromInt(unitPrice),
		}},
	})
	require.NoError(t, err)
	return po
}

// orderedPO creates an auto-approved order and places it
func (f *fixture) orderedPO(t *testing.T, quantity int64, requiresInspection bool) *entity.PurchaseOrder {
	t.Helper()
	ctx := context.Background()
	po := f.createPO(t, quantity, 10, requiresInspection)

	res, err := f.procurement.SubmitPurchaseOrder(ctx, po.ID, buyer, po.Revision)
	require.NoError(t, err)
	require.True(t, res.AutoApproved)

	_, err = f.procurement.PlaceOrder(ctx, po.ID, buyer, res.Reference.Revision)
	require.NoError(t, err)

	po, err = f.procurement.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, entity.POStatusOrdered, po.Status)
	return po
}

// stockedInstance receives quantity without inspection and returns the in-storage instance and its barcode
func (f *fixture) stockedInstance(t *testing.T, quantity int64) *ReceiveResult {
	t.Helper()
	ctx := context.Background()
	po := f.orderedPO(t, quantity, false)

	grn, err := f.procurement.CreateGoodsReceipt(ctx, GoodsReceiptRequest{
		PurchaseOrderID: po.ID,
		Revision:        po.Revision,
		ReceivedBy:      storeman,
		Lines: []ReceiptLine{{
			POLineItemID: po.LineItems[0].ID,
			Quantity:     decimal.NewFromInt(quantity),
			Lot:          entity.LotInfo{LotNumber: "LOT-1", HeatNumber: "H-42"},
		}},
	})
	require.NoError(t, err)

	accepted, err := f.procurement.AcceptGoodsReceipt(ctx, grn.ID, storeman, grn.Revision)
	require.NoError(t, err)
	require.Len(t, accepted.Received, 1)
	require.Equal(t, entity.InstanceInStorage, accepted.Received[0].Instance.Status)
	return accepted.Received[0]
}

// countRows returns the number of rows in table
func (f *fixture) countRows(t *testing.T, table string) int {
	t.Helper()
	var n int
	ctx := context.Background()
	require.NoError(t, f.db.Executor(ctx).QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func dec(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}
