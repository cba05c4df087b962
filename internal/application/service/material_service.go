package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aerotrace/material-lifecycle/internal/application/port"
	"github.com/aerotrace/material-lifecycle/internal/application/workflow"
	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
)

// ReceiveRequest turns an accepted goods receipt line into a tracked instance
type ReceiveRequest struct {
	GRNLineItemID int64
	Lot           entity.LotInfo
	Actor         string
}

// ReceiveResult is the new instance and its root barcode
type ReceiveResult struct {
	Instance *entity.MaterialInstance `json:"instance"`
	Barcode  *entity.BarcodeLabel     `json:"barcode"`
}

// InspectRequest records the quality verdict on a received instance
type InspectRequest struct {
	InstanceID int64
	Passed     bool
	Notes      string
	Actor      string
	Revision   int64
}

// AllocateRequest reserves part of an instance for a project
type AllocateRequest struct {
	InstanceID int64
	ProjectRef string
	Quantity   decimal.Decimal
	Actor      string
	Revision   int64
}

// AllocationQuantityRequest issues or returns quantity on an allocation
type AllocationQuantityRequest struct {
	AllocationID int64
	Quantity     decimal.Decimal
	Actor        string
	Revision     int64
}

// InstanceActionRequest applies a quantity-free action to an instance
type InstanceActionRequest struct {
	InstanceID int64
	Actor      string
	Comment    string
	Revision   int64
}

// MaterialService manages the lifecycle of tracked material
type MaterialService interface {
	Receive(ctx context.Context, req ReceiveRequest) (*ReceiveResult, error)
	Inspect(ctx context.Context, req InspectRequest) (*entity.MaterialInstance, error)
	Allocate(ctx context.Context, req AllocateRequest) (*entity.MaterialAllocation, error)
	Issue(ctx context.Context, req AllocationQuantityRequest) (*entity.MaterialAllocation, error)
	Return(ctx context.Context, req AllocationQuantityRequest) (*entity.MaterialAllocation, error)
	Release(ctx context.Context, allocationID int64, actor string, revision int64) (*entity.MaterialAllocation, error)
	Scrap(ctx context.Context, req InstanceActionRequest) (*entity.MaterialInstance, error)
	StartProduction(ctx context.Context, req InstanceActionRequest) (*entity.MaterialInstance, error)

	GetInstance(ctx context.Context, id int64) (*entity.MaterialInstance, error)
	GetAllocation(ctx context.Context, id int64) (*entity.MaterialAllocation, error)
	ListAllocations(ctx context.Context, instanceID int64) ([]*entity.MaterialAllocation, error)
}

type materialServiceImpl struct {
	engine      workflow.Engine
	instances   port.MaterialInstanceRepository
	allocations port.AllocationRepository
	barcodes    port.BarcodeRepository
	receipts    port.GoodsReceiptRepository
	orders      port.PurchaseOrderRepository
	txManager   port.TransactionManager
	logger      Logger
	now         func() time.Time
}

// NewMaterialService creates a new MaterialService
func NewMaterialService(
	engine workflow.Engine,
	instances port.MaterialInstanceRepository,
	allocations port.AllocationRepository,
	barcodes port.BarcodeRepository,
	receipts port.GoodsReceiptRepository,
	orders port.PurchaseOrderRepository,
	txManager port.TransactionManager,
	logger Logger,
) MaterialService {
	return &materialServiceImpl{
		engine:      engine,
		instances:   instances,
		allocations: allocations,
		barcodes:    barcodes,
		receipts:    receipts,
		orders:      orders,
		txManager:   txManager,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func instanceRef(id int64) entity.Ref {
	return entity.Ref{Type: entity.EntityMaterialInstance, ID: id}
}

func allocationRef(id int64) entity.Ref {
	return entity.Ref{Type: entity.EntityMaterialAllocation, ID: id}
}

func barcodeRef(id int64) entity.Ref {
	return entity.Ref{Type: entity.EntityBarcodeLabel, ID: id}
}

// Receive creates the instance and root raw-material barcode for a goods receipt line.
// A line that already produced an instance returns it unchanged.
func (s *materialServiceImpl) Receive(ctx context.Context, req ReceiveRequest) (*ReceiveResult, error) {
	if req.Actor == "" {
		return nil, entity.NewValidationError("actor", "is required")
	}

	var result *ReceiveResult
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		line, err := s.receipts.GetLine(txCtx, req.GRNLineItemID)
		if err != nil {
			return err
		}
		if !line.QuantityAccepted.IsPositive() {
			return entity.NewValidationError("quantity_accepted", "goods receipt line %d has no accepted quantity", line.ID)
		}

		if line.MaterialInstanceID != nil {
			result, err = s.existingReceipt(txCtx, *line.MaterialInstanceID)
			return err
		}

		grn, err := s.receipts.GetByID(txCtx, line.GRNID)
		if err != nil {
			return err
		}
		poLine, err := s.orders.GetLine(txCtx, line.POLineItemID)
		if err != nil {
			return err
		}

		lot := mergeLot(line.Lot(), req.Lot)
		inst := &entity.MaterialInstance{
			ItemNumber:       itemNumber(),
			MaterialID:       poLine.MaterialID,
			Stage:            entity.StageRawMaterial,
			Quantity:         line.QuantityAccepted,
			ReservedQuantity: decimal.Zero,
			IssuedQuantity:   decimal.Zero,
			Status:           entity.InstanceReceived,
			PurchaseOrderID:  &grn.PurchaseOrderID,
			POLineItemID:     &line.POLineItemID,
			GRNID:            &grn.ID,
			GRNLineItemID:    &line.ID,
			LotNumber:        lot.LotNumber,
			BatchNumber:      lot.BatchNumber,
			HeatNumber:       lot.HeatNumber,
			SerialNumber:     lot.SerialNumber,
		}
		if err := s.instances.Create(txCtx, inst); err != nil {
			return fmt.Errorf("create instance: %w", err)
		}
		if err := s.engine.RecordCreation(txCtx, workflow.CreationRecord{
			Entity:   instanceRef(inst.ID),
			State:    statemachine.State(entity.InstanceReceived),
			Action:   workflow.ActionReceive,
			Actor:    req.Actor,
			Metadata: map[string]interface{}{"grn_line_item_id": line.ID, "quantity": inst.Quantity.String()},
		}); err != nil {
			return err
		}

		line.MaterialInstanceID = &inst.ID
		if err := s.receipts.UpdateLine(txCtx, line); err != nil {
			return err
		}

		barcode, err := s.createBarcode(txCtx, inst, req.Actor)
		if err != nil {
			return err
		}
		result = &ReceiveResult{Instance: inst, Barcode: barcode}
		return nil
	})
	if err != nil {
		s.logger.Error("Failed to receive material", "error", err, "grn_line_item_id", req.GRNLineItemID)
		return nil, err
	}

	s.logger.Info("Material received",
		"instance_id", result.Instance.ID,
		"item_number", result.Instance.ItemNumber,
		"barcode", result.Barcode.BarcodeValue)
	return result, nil
}

func (s *materialServiceImpl) existingReceipt(ctx context.Context, instanceID int64) (*ReceiveResult, error) {
	inst, err := s.instances.GetByID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	barcode, err := s.barcodes.GetByInstanceID(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return &ReceiveResult{Instance: inst, Barcode: barcode}, nil
}

func (s *materialServiceImpl) createBarcode(ctx context.Context, inst *entity.MaterialInstance, actor string) (*entity.BarcodeLabel, error) {
	b := &entity.BarcodeLabel{
		BarcodeValue:      barcodeValue(inst.Stage),
		EntityType:        inst.Stage,
		InstanceID:        inst.ID,
		Quantity:          inst.Quantity,
		RemainingQuantity: inst.Quantity,
		Status:            entity.BarcodeActive,
		CreatedBy:         actor,
	}
	if err := s.barcodes.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("create barcode: %w", err)
	}
	if err := s.engine.RecordCreation(ctx, workflow.CreationRecord{
		Entity:   barcodeRef(b.ID),
		State:    statemachine.State(entity.BarcodeActive),
		Actor:    actor,
		Metadata: map[string]interface{}{"barcode_value": b.BarcodeValue, "instance_id": inst.ID},
	}); err != nil {
		return nil, err
	}
	return b, nil
}

func mergeLot(base, override entity.LotInfo) entity.LotInfo {
	if override.LotNumber != "" {
		base.LotNumber = override.LotNumber
	}
	if override.BatchNumber != "" {
		base.BatchNumber = override.BatchNumber
	}
	if override.HeatNumber != "" {
		base.HeatNumber = override.HeatNumber
	}
	if override.SerialNumber != "" {
		base.SerialNumber = override.SerialNumber
	}
	return base
}

// Inspect passes or fails a received instance. A failed instance has its barcode voided.
func (s *materialServiceImpl) Inspect(ctx context.Context, req InspectRequest) (*entity.MaterialInstance, error) {
	action := workflow.ActionFailInspection
	if req.Passed {
		action = workflow.ActionPassInspection
	}

	return s.onInstance(ctx, req.InstanceID, req.Revision, req.Actor, action, req.Notes, func(txCtx context.Context, m *entity.MaterialInstance) error {
		passed := req.Passed
		m.InspectionPassed = &passed
		m.InspectionNotes = req.Notes
		if err := s.instances.UpdateInspection(txCtx, m); err != nil {
			return err
		}
		if _, err := s.transition(txCtx, instanceRef(m.ID), action, req.Actor, m.Revision, req.Notes); err != nil {
			return err
		}
		if !req.Passed {
			return s.voidBarcode(txCtx, m.ID, req.Actor, "failed inspection")
		}
		return nil
	})
}

// Allocate reserves quantity of an instance and creates the allocation
func (s *materialServiceImpl) Allocate(ctx context.Context, req AllocateRequest) (*entity.MaterialAllocation, error) {
	if !req.Quantity.IsPositive() {
		return nil, entity.NewValidationError("quantity", "must be positive")
	}
	if req.ProjectRef == "" {
		return nil, entity.NewValidationError("project_ref", "is required")
	}
	if req.Actor == "" {
		return nil, entity.NewValidationError("actor", "is required")
	}

	var allocation *entity.MaterialAllocation
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		m, err := s.instances.GetByID(txCtx, req.InstanceID)
		if err != nil {
			return err
		}

		replayed, err := checkRevision(txCtx, s.engine, workflow.TransitionRequest{
			Entity: instanceRef(m.ID), Action: workflow.ActionReserve, Actor: req.Actor, ExpectedRevision: req.Revision,
		}, m.Revision)
		if err != nil {
			return err
		}
		if replayed {
			allocation, err = s.latestAllocation(txCtx, m.ID, req.Actor)
			return err
		}

		if req.Quantity.GreaterThan(m.Available()) {
			return fmt.Errorf("%w: requested %s, available %s on instance %s",
				ErrOverAllocation, req.Quantity, m.Available(), m.ItemNumber)
		}

		m.ReservedQuantity = m.ReservedQuantity.Add(req.Quantity)
		if err := s.instances.UpdateQuantities(txCtx, m); err != nil {
			return err
		}
		if _, err := s.transition(txCtx, instanceRef(m.ID), workflow.ActionReserve, req.Actor, m.Revision, req.ProjectRef); err != nil {
			return err
		}

		allocation = &entity.MaterialAllocation{
			AllocationNumber:  allocationNumber(),
			InstanceID:        m.ID,
			ProjectRef:        req.ProjectRef,
			QuantityAllocated: req.Quantity,
			QuantityIssued:    decimal.Zero,
			QuantityReturned:  decimal.Zero,
			Status:            entity.AllocationReserved,
			AllocatedBy:       req.Actor,
		}
		if err := s.allocations.Create(txCtx, allocation); err != nil {
			return fmt.Errorf("create allocation: %w", err)
		}
		return s.engine.RecordCreation(txCtx, workflow.CreationRecord{
			Entity:   allocationRef(allocation.ID),
			State:    statemachine.State(entity.AllocationReserved),
			Action:   workflow.ActionReserve,
			Actor:    req.Actor,
			Metadata: map[string]interface{}{"instance_id": m.ID, "quantity": req.Quantity.String()},
		})
	})
	if err != nil {
		s.logger.Error("Failed to allocate material", "error", err, "instance_id", req.InstanceID)
		return nil, err
	}

	s.logger.Info("Material allocated",
		"instance_id", req.InstanceID,
		"allocation", allocation.AllocationNumber,
		"quantity", req.Quantity.String())
	return allocation, nil
}

func (s *materialServiceImpl) latestAllocation(ctx context.Context, instanceID int64, actor string) (*entity.MaterialAllocation, error) {
	allocations, err := s.allocations.ListByInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	for i := len(allocations) - 1; i >= 0; i-- {
		if allocations[i].AllocatedBy == actor {
			return allocations[i], nil
		}
	}
	return nil, fmt.Errorf("allocation by %s on instance %d: %w", actor, instanceID, entity.ErrNotFound)
}

// Issue hands out reserved quantity
func (s *materialServiceImpl) Issue(ctx context.Context, req AllocationQuantityRequest) (*entity.MaterialAllocation, error) {
	if !req.Quantity.IsPositive() {
		return nil, entity.NewValidationError("quantity", "must be positive")
	}

	return s.onAllocation(ctx, req.AllocationID, req.Revision, req.Actor, workflow.ActionIssue, func(txCtx context.Context, a *entity.MaterialAllocation) error {
		if req.Quantity.GreaterThan(a.RemainingToIssue()) {
			return fmt.Errorf("%w: issuing %s, %s left on allocation %s",
				ErrOverAllocation, req.Quantity, a.RemainingToIssue(), a.AllocationNumber)
		}

		a.QuantityIssued = a.QuantityIssued.Add(req.Quantity)
		if err := s.allocations.UpdateQuantities(txCtx, a); err != nil {
			return err
		}
		if _, err := s.transition(txCtx, allocationRef(a.ID), workflow.ActionIssue, req.Actor, a.Revision, ""); err != nil {
			return err
		}

		return s.adjustInstance(txCtx, a.InstanceID, workflow.ActionIssue, req.Actor, func(m *entity.MaterialInstance) {
			m.ReservedQuantity = m.ReservedQuantity.Sub(req.Quantity)
			m.IssuedQuantity = m.IssuedQuantity.Add(req.Quantity)
		})
	})
}

// Return brings issued quantity back to stock
func (s *materialServiceImpl) Return(ctx context.Context, req AllocationQuantityRequest) (*entity.MaterialAllocation, error) {
	if !req.Quantity.IsPositive() {
		return nil, entity.NewValidationError("quantity", "must be positive")
	}

	return s.onAllocation(ctx, req.AllocationID, req.Revision, req.Actor, workflow.ActionReturn, func(txCtx context.Context, a *entity.MaterialAllocation) error {
		if req.Quantity.GreaterThan(a.Outstanding()) {
			return fmt.Errorf("%w: returning %s, %s outstanding on allocation %s",
				ErrOverAllocation, req.Quantity, a.Outstanding(), a.AllocationNumber)
		}

		a.QuantityReturned = a.QuantityReturned.Add(req.Quantity)
		if err := s.allocations.UpdateQuantities(txCtx, a); err != nil {
			return err
		}
		if _, err := s.transition(txCtx, allocationRef(a.ID), workflow.ActionReturn, req.Actor, a.Revision, ""); err != nil {
			return err
		}

		return s.adjustInstance(txCtx, a.InstanceID, workflow.ActionReturnStock, req.Actor, func(m *entity.MaterialInstance) {
			m.IssuedQuantity = m.IssuedQuantity.Sub(req.Quantity)
		})
	})
}

// Release cancels a reserved allocation and frees its quantity
func (s *materialServiceImpl) Release(ctx context.Context, allocationID int64, actor string, revision int64) (*entity.MaterialAllocation, error) {
	return s.onAllocation(ctx, allocationID, revision, actor, workflow.ActionCancel, func(txCtx context.Context, a *entity.MaterialAllocation) error {
		remaining := a.RemainingToIssue()
		if _, err := s.transition(txCtx, allocationRef(a.ID), workflow.ActionCancel, actor, a.Revision, ""); err != nil {
			return err
		}

		return s.adjustInstance(txCtx, a.InstanceID, workflow.ActionRelease, actor, func(m *entity.MaterialInstance) {
			m.ReservedQuantity = m.ReservedQuantity.Sub(remaining)
		})
	})
}

// Scrap writes off an instance and voids its barcode
func (s *materialServiceImpl) Scrap(ctx context.Context, req InstanceActionRequest) (*entity.MaterialInstance, error) {
	return s.onInstance(ctx, req.InstanceID, req.Revision, req.Actor, workflow.ActionScrap, req.Comment, func(txCtx context.Context, m *entity.MaterialInstance) error {
		if m.ReservedQuantity.IsPositive() {
			return entity.NewValidationError("reserved_quantity", "release the %s reserved on %s before scrapping", m.ReservedQuantity, m.ItemNumber)
		}
		m.Stage = entity.StageScrapped
		if err := s.instances.UpdateQuantities(txCtx, m); err != nil {
			return err
		}
		if _, err := s.transition(txCtx, instanceRef(m.ID), workflow.ActionScrap, req.Actor, m.Revision, req.Comment); err != nil {
			return err
		}
		return s.voidBarcode(txCtx, m.ID, req.Actor, req.Comment)
	})
}

// StartProduction moves issued material onto the shop floor
func (s *materialServiceImpl) StartProduction(ctx context.Context, req InstanceActionRequest) (*entity.MaterialInstance, error) {
	return s.onInstance(ctx, req.InstanceID, req.Revision, req.Actor, workflow.ActionStartProduction, req.Comment, func(txCtx context.Context, m *entity.MaterialInstance) error {
		m.Stage = entity.StageWIP
		if err := s.instances.UpdateQuantities(txCtx, m); err != nil {
			return err
		}
		_, err := s.transition(txCtx, instanceRef(m.ID), workflow.ActionStartProduction, req.Actor, m.Revision, req.Comment)
		return err
	})
}

func (s *materialServiceImpl) GetInstance(ctx context.Context, id int64) (*entity.MaterialInstance, error) {
	return s.instances.GetByID(ctx, id)
}

func (s *materialServiceImpl) GetAllocation(ctx context.Context, id int64) (*entity.MaterialAllocation, error) {
	return s.allocations.GetByID(ctx, id)
}

func (s *materialServiceImpl) ListAllocations(ctx context.Context, instanceID int64) ([]*entity.MaterialAllocation, error) {
	return s.allocations.ListByInstance(ctx, instanceID)
}

// onInstance runs fn on a revision-checked instance inside a transaction and returns the stored result
func (s *materialServiceImpl) onInstance(ctx context.Context, id, revision int64, actor string, action statemachine.Action, comment string,
	fn func(ctx context.Context, m *entity.MaterialInstance) error) (*entity.MaterialInstance, error) {
	if actor == "" {
		return nil, entity.NewValidationError("actor", "is required")
	}

	var out *entity.MaterialInstance
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		m, err := s.instances.GetByID(txCtx, id)
		if err != nil {
			return err
		}
		replayed, err := checkRevision(txCtx, s.engine, workflow.TransitionRequest{
			Entity: instanceRef(id), Action: action, Actor: actor, ExpectedRevision: revision, Comment: comment,
		}, m.Revision)
		if err != nil {
			return err
		}
		if !replayed {
			if err := fn(txCtx, m); err != nil {
				return err
			}
		}
		out, err = s.instances.GetByID(txCtx, id)
		return err
	})
	if err != nil {
		s.logger.Error("Material instance action failed", "error", err, "instance_id", id, "action", action)
		return nil, err
	}

	s.logger.Info("Material instance updated", "instance_id", id, "action", action, "status", out.Status)
	return out, nil
}

// onAllocation runs fn on a revision-checked allocation inside a transaction
func (s *materialServiceImpl) onAllocation(ctx context.Context, id, revision int64, actor string, action statemachine.Action,
	fn func(ctx context.Context, a *entity.MaterialAllocation) error) (*entity.MaterialAllocation, error) {
	if actor == "" {
		return nil, entity.NewValidationError("actor", "is required")
	}

	var out *entity.MaterialAllocation
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		a, err := s.allocations.GetByID(txCtx, id)
		if err != nil {
			return err
		}
		replayed, err := checkRevision(txCtx, s.engine, workflow.TransitionRequest{
			Entity: allocationRef(id), Action: action, Actor: actor, ExpectedRevision: revision,
		}, a.Revision)
		if err != nil {
			return err
		}
		if !replayed {
			if err := fn(txCtx, a); err != nil {
				return err
			}
		}
		out, err = s.allocations.GetByID(txCtx, id)
		return err
	})
	if err != nil {
		s.logger.Error("Allocation action failed", "error", err, "allocation_id", id, "action", action)
		return nil, err
	}

	s.logger.Info("Allocation updated", "allocation_id", id, "action", action, "status", out.Status)
	return out, nil
}

// adjustInstance applies a quantity change to the instance behind an allocation and fires action
// at the instance's current revision so guards see the new quantities
func (s *materialServiceImpl) adjustInstance(ctx context.Context, instanceID int64, action statemachine.Action, actor string, apply func(m *entity.MaterialInstance)) error {
	m, err := s.instances.GetByID(ctx, instanceID)
	if err != nil {
		return err
	}
	apply(m)
	if m.ReservedQuantity.IsNegative() || m.IssuedQuantity.IsNegative() || m.Available().IsNegative() {
		return fmt.Errorf("%w: instance %s would hold reserved %s, issued %s of %s",
			ErrOverAllocation, m.ItemNumber, m.ReservedQuantity, m.IssuedQuantity, m.Quantity)
	}
	if err := s.instances.UpdateQuantities(ctx, m); err != nil {
		return err
	}
	_, err = s.transition(ctx, instanceRef(m.ID), action, actor, m.Revision, "")
	return err
}

func (s *materialServiceImpl) voidBarcode(ctx context.Context, instanceID int64, actor, comment string) error {
	b, err := s.barcodes.GetByInstanceID(ctx, instanceID)
	if isNotFound(err) {
		return nil
	}
	if err != nil {
		return err
	}
	if b.Status != entity.BarcodeActive {
		return nil
	}
	_, err = s.transition(ctx, barcodeRef(b.ID), workflow.ActionVoid, actor, b.Revision, comment)
	return err
}

func (s *materialServiceImpl) transition(ctx context.Context, ref entity.Ref, action statemachine.Action, actor string, revision int64, comment string) (*workflow.TransitionResult, error) {
	return s.engine.Transition(ctx, workflow.TransitionRequest{
		Entity:           ref,
		Action:           action,
		Actor:            actor,
		ExpectedRevision: revision,
		Comment:          comment,
	})
}
