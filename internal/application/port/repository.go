package port

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
)

// TransactionManager handles database transactions
type TransactionManager interface {
	// WithTransaction runs fn in a transaction, joining the one already carried by ctx if any
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	// AfterCommit schedules fn to run once the outermost transaction in ctx commits.
	// Scheduled functions are dropped on rollback. Outside a transaction fn runs immediately.
	AfterCommit(ctx context.Context, fn func(ctx context.Context))
}

// StateStore loads a stateful entity and moves its status with an optimistic revision check
type StateStore interface {
	Load(ctx context.Context, id int64) (statemachine.Subject, error)

	// UpdateState sets the status and increments the revision when the stored revision
	// equals expectedRevision. Otherwise it fails with statemachine.ErrConcurrentModification.
	UpdateState(ctx context.Context, id int64, to statemachine.State, expectedRevision int64) error
}

// LedgerRepository is the append-only audit trail of transitions
type LedgerRepository interface {
	Append(ctx context.Context, entry *entity.LedgerEntry) error
	Latest(ctx context.Context, ref entity.Ref) (*entity.LedgerEntry, error)
	ListByEntity(ctx context.Context, ref entity.Ref) ([]*entity.LedgerEntry, error)
	Query(ctx context.Context, filter entity.LedgerFilter) ([]*entity.LedgerEntry, error)
}

// PurchaseOrderRepository defines persistence operations for purchase orders and their lines
type PurchaseOrderRepository interface {
	StateStore

	// Create inserts the order and its lines
	Create(ctx context.Context, po *entity.PurchaseOrder) error

	// GetByID returns the order with its lines
	GetByID(ctx context.Context, id int64) (*entity.PurchaseOrder, error)

	List(ctx context.Context, status entity.POStatus, limit, offset int) ([]*entity.PurchaseOrder, error)

	// Touch increments the revision of a draft edit when expectedRevision matches
	Touch(ctx context.Context, id int64, expectedRevision int64) error

	UpdateTotals(ctx context.Context, po *entity.PurchaseOrder) error
	AddLine(ctx context.Context, line *entity.POLineItem) error
	RemoveLine(ctx context.Context, poID, lineID int64) error
	UpdateLine(ctx context.Context, line *entity.POLineItem) error
	GetLine(ctx context.Context, lineID int64) (*entity.POLineItem, error)
}

// GoodsReceiptRepository defines persistence operations for goods receipt notes
type GoodsReceiptRepository interface {
	StateStore

	Create(ctx context.Context, grn *entity.GoodsReceiptNote) error
	GetByID(ctx context.Context, id int64) (*entity.GoodsReceiptNote, error)
	ListByPurchaseOrder(ctx context.Context, poID int64) ([]*entity.GoodsReceiptNote, error)
	GetLine(ctx context.Context, lineID int64) (*entity.GRNLineItem, error)
	UpdateLine(ctx context.Context, line *entity.GRNLineItem) error
	UpdateInspection(ctx context.Context, grn *entity.GoodsReceiptNote) error
}

// MaterialInstanceRepository defines persistence operations for material instances
type MaterialInstanceRepository interface {
	StateStore

	Create(ctx context.Context, m *entity.MaterialInstance) error
	GetByID(ctx context.Context, id int64) (*entity.MaterialInstance, error)
	GetByIDs(ctx context.Context, ids []int64) (map[int64]*entity.MaterialInstance, error)
	UpdateQuantities(ctx context.Context, m *entity.MaterialInstance) error
	UpdateInspection(ctx context.Context, m *entity.MaterialInstance) error
}

// AllocationRepository defines persistence operations for material allocations
type AllocationRepository interface {
	StateStore

	Create(ctx context.Context, a *entity.MaterialAllocation) error
	GetByID(ctx context.Context, id int64) (*entity.MaterialAllocation, error)
	ListByInstance(ctx context.Context, instanceID int64) ([]*entity.MaterialAllocation, error)
	UpdateQuantities(ctx context.Context, a *entity.MaterialAllocation) error
}

// BarcodeRepository defines persistence operations for the barcode graph
type BarcodeRepository interface {
	StateStore

	Create(ctx context.Context, b *entity.BarcodeLabel) error

	// GetByID returns the node with its parent and child ids
	GetByID(ctx context.Context, id int64) (*entity.BarcodeLabel, error)

	// GetByIDs returns the nodes found; missing ids are absent from the map
	GetByIDs(ctx context.Context, ids []int64) (map[int64]*entity.BarcodeLabel, error)

	GetByInstanceID(ctx context.Context, instanceID int64) (*entity.BarcodeLabel, error)
	UpdateRemaining(ctx context.Context, id int64, remaining decimal.Decimal) error
	AddEdge(ctx context.Context, edge *entity.ConsumptionEdge) error
	ListEdges(ctx context.Context, childID int64) ([]*entity.ConsumptionEdge, error)
}

// WorkflowRepository defines persistence operations for approval workflows
type WorkflowRepository interface {
	StateStore

	// Create inserts the instance and its approval rows
	Create(ctx context.Context, w *entity.WorkflowInstance) error

	// GetByID returns the instance with its approval rows
	GetByID(ctx context.Context, id int64) (*entity.WorkflowInstance, error)

	GetPendingByReference(ctx context.Context, ref entity.Ref) (*entity.WorkflowInstance, error)
	ListPendingForRole(ctx context.Context, role entity.Role) ([]*entity.WorkflowInstance, error)
	UpdateProgress(ctx context.Context, w *entity.WorkflowInstance) error
	UpdateApproval(ctx context.Context, a *entity.WorkflowApproval) error

	// ListOverdueApprovals returns active, undecided, unescalated rows due before now
	ListOverdueApprovals(ctx context.Context, now time.Time) ([]*entity.WorkflowApproval, error)
}
