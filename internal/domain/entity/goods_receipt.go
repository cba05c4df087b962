package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
)

// GRNStatus is the lifecycle status of a goods receipt note
type GRNStatus string

const (
	GRNStatusDraft             GRNStatus = "draft"
	GRNStatusPendingInspection GRNStatus = "pending_inspection"
	GRNStatusInspectionPassed  GRNStatus = "inspection_passed"
	GRNStatusInspectionFailed  GRNStatus = "inspection_failed"
	GRNStatusAccepted          GRNStatus = "accepted"
	GRNStatusRejected          GRNStatus = "rejected"
	GRNStatusPartial           GRNStatus = "partial"
)

// GRNStatuses lists every goods receipt status
var GRNStatuses = []GRNStatus{
	GRNStatusDraft, GRNStatusPendingInspection, GRNStatusInspectionPassed, GRNStatusInspectionFailed,
	GRNStatusAccepted, GRNStatusRejected, GRNStatusPartial,
}

// GoodsReceiptNote records a physical delivery against a purchase order
type GoodsReceiptNote struct {
	ID               int64          `json:"id"`
	GRNNumber        string         `json:"grn_number"`
	PurchaseOrderID  int64          `json:"purchase_order_id"`
	Status           GRNStatus      `json:"status"`
	ReceivedBy       string         `json:"received_by"`
	DeliveryNote     string         `json:"delivery_note,omitempty"`
	CarrierName      string         `json:"carrier_name,omitempty"`
	InspectionPassed bool           `json:"inspection_passed"`
	InspectionNotes  string         `json:"inspection_notes,omitempty"`
	InspectedBy      string         `json:"inspected_by,omitempty"`
	InspectedAt      *time.Time     `json:"inspected_at,omitempty"`
	Revision         int64          `json:"revision"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	Lines            []*GRNLineItem `json:"lines,omitempty"`
}

// GRNLineItem is the receipt of one PO line
type GRNLineItem struct {
	ID                 int64           `json:"id"`
	GRNID              int64           `json:"grn_id"`
	POLineItemID       int64           `json:"po_line_item_id"`
	QuantityReceived   decimal.Decimal `json:"quantity_received"`
	QuantityAccepted   decimal.Decimal `json:"quantity_accepted"`
	QuantityRejected   decimal.Decimal `json:"quantity_rejected"`
	LotNumber          string          `json:"lot_number,omitempty"`
	BatchNumber        string          `json:"batch_number,omitempty"`
	HeatNumber         string          `json:"heat_number,omitempty"`
	SerialNumber       string          `json:"serial_number,omitempty"`
	RejectionReason    string          `json:"rejection_reason,omitempty"`
	MaterialInstanceID *int64          `json:"material_instance_id,omitempty"`
}

// LotInfo identifies the physical lot of a received line
type LotInfo struct {
	LotNumber    string `json:"lot_number,omitempty"`
	BatchNumber  string `json:"batch_number,omitempty"`
	HeatNumber   string `json:"heat_number,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`
}

// Lot returns the lot identifiers recorded on the line
func (l *GRNLineItem) Lot() LotInfo {
	return LotInfo{
		LotNumber:    l.LotNumber,
		BatchNumber:  l.BatchNumber,
		HeatNumber:   l.HeatNumber,
		SerialNumber: l.SerialNumber,
	}
}

// InspectionTotals sums accepted and rejected quantities over all lines
func (g *GoodsReceiptNote) InspectionTotals() (accepted, rejected decimal.Decimal) {
	accepted, rejected = decimal.Zero, decimal.Zero
	for _, line := range g.Lines {
		accepted = accepted.Add(line.QuantityAccepted)
		rejected = rejected.Add(line.QuantityRejected)
	}
	return accepted, rejected
}

// FindLine returns the line with the given id
func (g *GoodsReceiptNote) FindLine(lineID int64) *GRNLineItem {
	for _, line := range g.Lines {
		if line.ID == lineID {
			return line
		}
	}
	return nil
}

func (g *GoodsReceiptNote) SubjectID() int64 { return g.ID }
func (g *GoodsReceiptNote) SubjectState() statemachine.State { return statemachine.State(g.Status) }
func (g *GoodsReceiptNote) SubjectRevision() int64 { return g.Revision }
