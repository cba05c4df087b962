package entity

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
)

// InstanceStatus is the lifecycle status of a tracked material lot
type InstanceStatus string

const (
	InstanceOrdered      InstanceStatus = "ordered"
	InstanceReceived     InstanceStatus = "received"
	InstanceInInspection InstanceStatus = "in_inspection"
	InstanceInStorage    InstanceStatus = "in_storage"
	InstanceReserved     InstanceStatus = "reserved"
	InstanceIssued       InstanceStatus = "issued"
	InstanceInProduction InstanceStatus = "in_production"
	InstanceCompleted    InstanceStatus = "completed"
	InstanceRejected     InstanceStatus = "rejected"
	InstanceScrapped     InstanceStatus = "scrapped"
	InstanceReturned     InstanceStatus = "returned"
)

// InstanceStatuses lists every material instance status
var InstanceStatuses = []InstanceStatus{
	InstanceOrdered, InstanceReceived, InstanceInInspection, InstanceInStorage, InstanceReserved,
	InstanceIssued, InstanceInProduction, InstanceCompleted, InstanceRejected, InstanceScrapped,
	InstanceReturned,
}

// IsConsumable reports whether material in this status may feed a child barcode
func (s InstanceStatus) IsConsumable() bool {
	return s == InstanceInStorage || s == InstanceIssued
}

// MaterialInstance is a tracked physical lot or unit
type MaterialInstance struct {
	ID               int64           `json:"id"`
	ItemNumber       string          `json:"item_number"`
	MaterialID       int64           `json:"material_id"`
	Stage            MaterialStage   `json:"stage"`
	Quantity         decimal.Decimal `json:"quantity"`
	ReservedQuantity decimal.Decimal `json:"reserved_quantity"`
	IssuedQuantity   decimal.Decimal `json:"issued_quantity"`
	Status           InstanceStatus  `json:"status"`
	PurchaseOrderID  *int64          `json:"purchase_order_id,omitempty"`
	POLineItemID     *int64          `json:"po_line_item_id,omitempty"`
	GRNID            *int64          `json:"grn_id,omitempty"`
	GRNLineItemID    *int64          `json:"grn_line_item_id,omitempty"`
	LotNumber        string          `json:"lot_number,omitempty"`
	BatchNumber      string          `json:"batch_number,omitempty"`
	HeatNumber       string          `json:"heat_number,omitempty"`
	SerialNumber     string          `json:"serial_number,omitempty"`
	InspectionPassed *bool           `json:"inspection_passed,omitempty"`
	InspectionNotes  string          `json:"inspection_notes,omitempty"`
	Revision         int64           `json:"revision"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Available is the quantity neither reserved nor issued
func (m *MaterialInstance) Available() decimal.Decimal {
	return m.Quantity.Sub(m.ReservedQuantity).Sub(m.IssuedQuantity)
}

// Consumable is the quantity that may feed a child lot: free stock plus issued stock.
// Reserved quantity belongs to a project until it is issued or released.
func (m *MaterialInstance) Consumable() decimal.Decimal {
	return m.Quantity.Sub(m.ReservedQuantity)
}

func (m *MaterialInstance) SubjectID() int64 { return m.ID }
func (m *MaterialInstance) SubjectState() statemachine.State { return statemachine.State(m.Status) }
func (m *MaterialInstance) SubjectRevision() int64 { return m.Revision }

// AllocationStatus is the lifecycle status of a material reservation
type AllocationStatus string

const (
	AllocationReserved  AllocationStatus = "reserved"
	AllocationIssued    AllocationStatus = "issued"
	AllocationReturned  AllocationStatus = "returned"
	AllocationCancelled AllocationStatus = "cancelled"
)

// AllocationStatuses lists every allocation status
var AllocationStatuses = []AllocationStatus{
	AllocationReserved, AllocationIssued, AllocationReturned, AllocationCancelled,
}

// MaterialAllocation reserves part of an instance for a project
type MaterialAllocation struct {
	ID                int64            `json:"id"`
	AllocationNumber  string           `json:"allocation_number"`
	InstanceID        int64            `json:"instance_id"`
	ProjectRef        string           `json:"project_ref"`
	QuantityAllocated decimal.Decimal  `json:"quantity_allocated"`
	QuantityIssued    decimal.Decimal  `json:"quantity_issued"`
	QuantityReturned  decimal.Decimal  `json:"quantity_returned"`
	Status            AllocationStatus `json:"status"`
	AllocatedBy       string           `json:"allocated_by"`
	Revision          int64            `json:"revision"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

// RemainingToIssue is the reserved quantity not yet issued
func (a *MaterialAllocation) RemainingToIssue() decimal.Decimal {
	return a.QuantityAllocated.Sub(a.QuantityIssued)
}

// Outstanding is the issued quantity not yet returned
func (a *MaterialAllocation) Outstanding() decimal.Decimal {
	return a.QuantityIssued.Sub(a.QuantityReturned)
}

func (a *MaterialAllocation) SubjectID() int64 { return a.ID }
func (a *MaterialAllocation) SubjectState() statemachine.State { return statemachine.State(a.Status) }
func (a *MaterialAllocation) SubjectRevision() int64 { return a.Revision }
