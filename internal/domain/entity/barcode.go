package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
)

// BarcodeStatus is the lifecycle status of a barcode node
type BarcodeStatus string

const (
	BarcodeActive   BarcodeStatus = "active"
	BarcodeConsumed BarcodeStatus = "consumed"
	BarcodeVoid     BarcodeStatus = "void"
)

// BarcodeStatuses lists every barcode status
var BarcodeStatuses = []BarcodeStatus{BarcodeActive, BarcodeConsumed, BarcodeVoid}

// BarcodeLabel is a node of the traceability graph. Each node labels one material instance.
type BarcodeLabel struct {
	ID                int64           `json:"id"`
	BarcodeValue      string          `json:"barcode_value"`
	EntityType        MaterialStage   `json:"entity_type"`
	InstanceID        int64           `json:"instance_id"`
	Quantity          decimal.Decimal `json:"quantity"`
	RemainingQuantity decimal.Decimal `json:"remaining_quantity"`
	Status            BarcodeStatus   `json:"status"`
	ParentIDs         []int64         `json:"parent_ids"`
	ChildIDs          []int64         `json:"child_ids"`
	CreatedBy         string          `json:"created_by"`
	Revision          int64           `json:"revision"`
	CreatedAt         time.Time       `json:"created_at"`
}

// IsRoot reports whether the node has no ancestors
func (b *BarcodeLabel) IsRoot() bool {
	return len(b.ParentIDs) == 0
}

func (b *BarcodeLabel) SubjectID() int64 { return b.ID }
func (b *BarcodeLabel) SubjectState() statemachine.State { return statemachine.State(b.Status) }
func (b *BarcodeLabel) SubjectRevision() int64 { return b.Revision }

// ConsumptionEdge records how much of a parent node went into a child node
type ConsumptionEdge struct {
	ParentID  int64           `json:"parent_id"`
	ChildID   int64           `json:"child_id"`
	Quantity  decimal.Decimal `json:"quantity"`
	CreatedAt time.Time       `json:"created_at"`
}

// TraceNode is one element of a traceability chain
type TraceNode struct {
	Barcode  *BarcodeLabel     `json:"barcode"`
	Instance *MaterialInstance `json:"instance,omitempty"`
	Depth    int               `json:"depth"`
}
