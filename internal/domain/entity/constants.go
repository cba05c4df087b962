package entity

import (
	"strconv"

	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
)

// Entity types governed by a transition table
const (
	EntityPurchaseOrder      statemachine.EntityType = "purchase_order"
	EntityGoodsReceipt       statemachine.EntityType = "goods_receipt_note"
	EntityMaterialInstance   statemachine.EntityType = "material_instance"
	EntityMaterialAllocation statemachine.EntityType = "material_allocation"
	EntityWorkflowInstance   statemachine.EntityType = "workflow_instance"
	EntityBarcodeLabel       statemachine.EntityType = "barcode_label"
)

// Ref points at one stateful entity
type Ref struct {
	Type statemachine.EntityType `json:"type"`
	ID   int64                   `json:"id"`
}

// String returns "type:id"
func (r Ref) String() string {
	return r.Type.String() + ":" + strconv.FormatInt(r.ID, 10)
}

// MaterialStage tracks where the goods of a PO line or barcode sit in production
type MaterialStage string

const (
	StageOnOrder       MaterialStage = "on_order"
	StageInInspection  MaterialStage = "in_inspection"
	StageRawMaterial   MaterialStage = "raw_material"
	StageWIP           MaterialStage = "wip"
	StageFinishedGoods MaterialStage = "finished_goods"
	StageConsumed      MaterialStage = "consumed"
	StageScrapped      MaterialStage = "scrapped"
)

// IsBarcodeStage reports whether a barcode node may be created at this stage
func (s MaterialStage) IsBarcodeStage() bool {
	switch s {
	case StageRawMaterial, StageWIP, StageFinishedGoods:
		return true
	default:
		return false
	}
}
