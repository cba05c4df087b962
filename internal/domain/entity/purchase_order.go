package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
)

// POStatus is the lifecycle status of a purchase order
type POStatus string

const (
	POStatusDraft             POStatus = "draft"
	POStatusPendingApproval   POStatus = "pending_approval"
	POStatusApproved          POStatus = "approved"
	POStatusRejected          POStatus = "rejected"
	POStatusOrdered           POStatus = "ordered"
	POStatusPartiallyReceived POStatus = "partially_received"
	POStatusReceived          POStatus = "received"
	POStatusClosed            POStatus = "closed"
	POStatusCancelled         POStatus = "cancelled"
)

// POStatuses lists every purchase order status
var POStatuses = []POStatus{
	POStatusDraft, POStatusPendingApproval, POStatusApproved, POStatusRejected, POStatusOrdered,
	POStatusPartiallyReceived, POStatusReceived, POStatusClosed, POStatusCancelled,
}

// IsValid reports whether the status is a known purchase order status
func (s POStatus) IsValid() bool {
	for _, v := range POStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// POPriority ranks purchase order urgency
type POPriority string

const (
	PriorityLow      POPriority = "low"
	PriorityNormal   POPriority = "normal"
	PriorityHigh     POPriority = "high"
	PriorityCritical POPriority = "critical"
	PriorityAOG      POPriority = "aog" // aircraft on ground
)

// IsValid reports whether the priority is known
func (p POPriority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityCritical, PriorityAOG:
		return true
	default:
		return false
	}
}

// PurchaseOrder authorizes a material purchase from a supplier
type PurchaseOrder struct {
	ID                 int64           `json:"id"`
	PONumber           string          `json:"po_number"`
	SupplierID         int64           `json:"supplier_id"`
	Priority           POPriority      `json:"priority"`
	Status             POStatus        `json:"status"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	TaxAmount          decimal.Decimal `json:"tax_amount"`
	ShippingAmount     decimal.Decimal `json:"shipping_amount"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	Currency           string          `json:"currency"`
	RequiresInspection bool            `json:"requires_inspection"`
	CreatedBy          string          `json:"created_by"`
	Notes              string          `json:"notes,omitempty"`
	Revision           int64           `json:"revision"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
	LineItems          []*POLineItem   `json:"line_items,omitempty"`
}

// POLineItem is one ordered material on a purchase order
type POLineItem struct {
	ID               int64           `json:"id"`
	PurchaseOrderID  int64           `json:"purchase_order_id"`
	LineNumber       int             `json:"line_number"`
	MaterialID       int64           `json:"material_id"`
	Description      string          `json:"description,omitempty"`
	QuantityOrdered  decimal.Decimal `json:"quantity_ordered"`
	QuantityReceived decimal.Decimal `json:"quantity_received"`
	QuantityAccepted decimal.Decimal `json:"quantity_accepted"`
	UnitPrice        decimal.Decimal `json:"unit_price"`
	DiscountPercent  decimal.Decimal `json:"discount_percent"`
	LineTotal        decimal.Decimal `json:"line_total"`
	MaterialStage    MaterialStage   `json:"material_stage"`
}

var hundred = decimal.NewFromInt(100)

// CalculateTotal sets LineTotal = quantity * unit price * (1 - discount%)
func (l *POLineItem) CalculateTotal() decimal.Decimal {
	factor := decimal.NewFromInt(1).Sub(l.DiscountPercent.Div(hundred))
	l.LineTotal = l.QuantityOrdered.Mul(l.UnitPrice).Mul(factor).Round(2)
	return l.LineTotal
}

// ReceiptLimit is the most that may be received against the line under the tolerance percent
func (l *POLineItem) ReceiptLimit(tolerancePercent decimal.Decimal) decimal.Decimal {
	return l.QuantityOrdered.Add(l.QuantityOrdered.Mul(tolerancePercent).Div(hundred))
}

// IsFullyReceived reports whether the ordered quantity has arrived
func (l *POLineItem) IsFullyReceived() bool {
	return l.QuantityReceived.GreaterThanOrEqual(l.QuantityOrdered)
}

// CalculateTotals recomputes subtotal and total from the line items
func (po *PurchaseOrder) CalculateTotals() {
	subtotal := decimal.Zero
	for _, line := range po.LineItems {
		subtotal = subtotal.Add(line.CalculateTotal())
	}
	po.Subtotal = subtotal
	po.TotalAmount = subtotal.Sub(po.DiscountAmount).Add(po.TaxAmount).Add(po.ShippingAmount)
}

// FindLine returns the line with the given id
func (po *PurchaseOrder) FindLine(lineID int64) *POLineItem {
	for _, line := range po.LineItems {
		if line.ID == lineID {
			return line
		}
	}
	return nil
}

// IsFullyReceived reports whether every line has been received in full
func (po *PurchaseOrder) IsFullyReceived() bool {
	if len(po.LineItems) == 0 {
		return false
	}
	for _, line := range po.LineItems {
		if !line.IsFullyReceived() {
			return false
		}
	}
	return true
}

func (po *PurchaseOrder) SubjectID() int64 { return po.ID }
func (po *PurchaseOrder) SubjectState() statemachine.State { return statemachine.State(po.Status) }
func (po *PurchaseOrder) SubjectRevision() int64 { return po.Revision }
