package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aerotrace/material-lifecycle/internal/application/port"
	"github.com/aerotrace/material-lifecycle/internal/application/workflow"
	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/internal/domain/policy"
	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
)

// LineRequest describes one ordered material
type LineRequest struct {
	MaterialID      int64           `json:"material_id"`
	Description     string          `json:"description"`
	Quantity        decimal.Decimal `json:"quantity"`
	UnitPrice       decimal.Decimal `json:"unit_price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

// CreatePurchaseOrderRequest describes a new draft purchase order. Inspection is required unless
// RequiresInspection is explicitly false.
type CreatePurchaseOrderRequest struct {
	SupplierID         int64             `json:"supplier_id"`
	Priority           entity.POPriority `json:"priority"`
	Currency           string            `json:"currency"`
	RequiresInspection *bool             `json:"requires_inspection"`
	DiscountAmount     decimal.Decimal   `json:"discount_amount"`
	TaxAmount          decimal.Decimal   `json:"tax_amount"`
	ShippingAmount     decimal.Decimal   `json:"shipping_amount"`
	Notes              string            `json:"notes"`
	Lines              []LineRequest     `json:"lines"`
	CreatedBy          string            `json:"-"`
}

// ReceiptLine is the delivered quantity of one PO line
type ReceiptLine struct {
	POLineItemID int64           `json:"po_line_item_id"`
	Quantity     decimal.Decimal `json:"quantity"`
	Lot          entity.LotInfo  `json:"lot"`
}

// GoodsReceiptRequest records a delivery against a purchase order
type GoodsReceiptRequest struct {
	PurchaseOrderID int64         `json:"-"`
	Revision        int64         `json:"revision"`
	DeliveryNote    string        `json:"delivery_note"`
	CarrierName     string        `json:"carrier_name"`
	Lines           []ReceiptLine `json:"lines"`
	ReceivedBy      string        `json:"-"`
}

// InspectionLine is the verdict on one goods receipt line
type InspectionLine struct {
	GRNLineItemID   int64           `json:"grn_line_item_id"`
	Accepted        decimal.Decimal `json:"accepted"`
	Rejected        decimal.Decimal `json:"rejected"`
	RejectionReason string          `json:"rejection_reason"`
}

// InspectionRequest records the inspection of a goods receipt
type InspectionRequest struct {
	GRNID    int64            `json:"-"`
	Revision int64            `json:"revision"`
	Notes    string           `json:"notes"`
	Lines    []InspectionLine `json:"lines"`
	Actor    string           `json:"-"`
}

// AcceptResult is the accepted receipt and the material it produced
type AcceptResult struct {
	GoodsReceipt *entity.GoodsReceiptNote `json:"goods_receipt"`
	Received     []*ReceiveResult         `json:"received"`
}

// ProcurementService orchestrates purchase orders and goods receipts
type ProcurementService interface {
	CreatePurchaseOrder(ctx context.Context, req CreatePurchaseOrderRequest) (*entity.PurchaseOrder, error)
	AddLineItem(ctx context.Context, poID int64, line LineRequest, actor string, revision int64) (*entity.PurchaseOrder, error)
	RemoveLineItem(ctx context.Context, poID, lineID int64, actor string, revision int64) (*entity.PurchaseOrder, error)
	GetPurchaseOrder(ctx context.Context, id int64) (*entity.PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context, status entity.POStatus, limit, offset int) ([]*entity.PurchaseOrder, error)

	SubmitPurchaseOrder(ctx context.Context, poID int64, actor string, revision int64) (*SubmitResult, error)
	PlaceOrder(ctx context.Context, poID int64, actor string, revision int64) (*workflow.TransitionResult, error)
	ClosePurchaseOrder(ctx context.Context, poID int64, actor string, revision int64) (*workflow.TransitionResult, error)
	CancelPurchaseOrder(ctx context.Context, poID int64, actor, reason string, revision int64) (*workflow.TransitionResult, error)

	CreateGoodsReceipt(ctx context.Context, req GoodsReceiptRequest) (*entity.GoodsReceiptNote, error)
	SubmitGoodsReceiptForInspection(ctx context.Context, grnID int64, actor string, revision int64) (*workflow.TransitionResult, error)
	RecordGoodsReceiptInspection(ctx context.Context, req InspectionRequest) (*entity.GoodsReceiptNote, error)
	AcceptGoodsReceipt(ctx context.Context, grnID int64, actor string, revision int64) (*AcceptResult, error)
	RejectGoodsReceipt(ctx context.Context, grnID int64, actor, reason string, revision int64) (*workflow.TransitionResult, error)
	GetGoodsReceipt(ctx context.Context, id int64) (*entity.GoodsReceiptNote, error)
	ListGoodsReceipts(ctx context.Context, poID int64) ([]*entity.GoodsReceiptNote, error)
}

// ProcurementConfig holds the procurement rules taken from configuration
type ProcurementConfig struct {
	ReceiptTolerancePercent decimal.Decimal
	DefaultCurrency         string
}

type procurementServiceImpl struct {
	engine    workflow.Engine
	approvals ApprovalService
	materials MaterialService
	orders    port.PurchaseOrderRepository
	receipts  port.GoodsReceiptRepository
	policies  *policy.Registry
	txManager port.TransactionManager
	cfg       ProcurementConfig
	logger    Logger
	now       func() time.Time
}

// NewProcurementService creates a new ProcurementService
func NewProcurementService(
	engine workflow.Engine,
	approvals ApprovalService,
	materials MaterialService,
	orders port.PurchaseOrderRepository,
	receipts port.GoodsReceiptRepository,
	policies *policy.Registry,
	txManager port.TransactionManager,
	cfg ProcurementConfig,
	logger Logger,
) ProcurementService {
	if cfg.DefaultCurrency == "" {
		cfg.DefaultCurrency = "USD"
	}
	return &procurementServiceImpl{
		engine:    engine,
		approvals: approvals,
		materials: materials,
		orders:    orders,
		receipts:  receipts,
		policies:  policies,
		txManager: txManager,
		cfg:       cfg,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func poRef(id int64) entity.Ref {
	return entity.Ref{Type: entity.EntityPurchaseOrder, ID: id}
}

func grnRef(id int64) entity.Ref {
	return entity.Ref{Type: entity.EntityGoodsReceipt, ID: id}
}

var hundred = decimal.NewFromInt(100)

func (l LineRequest) validate(field string) error {
	switch {
	case l.MaterialID <= 0:
		return entity.NewValidationError(field+".material_id", "is required")
	case !l.Quantity.IsPositive():
		return entity.NewValidationError(field+".quantity", "must be positive")
	case l.UnitPrice.IsNegative():
		return entity.NewValidationError(field+".unit_price", "must not be negative")
	case l.DiscountPercent.IsNegative() || l.DiscountPercent.GreaterThan(hundred):
		return entity.NewValidationError(field+".discount_percent", "must be between 0 and 100")
	}
	return nil
}

func (l LineRequest) toEntity(number int) *entity.POLineItem {
	line := &entity.POLineItem{
		LineNumber:       number,
		MaterialID:       l.MaterialID,
		Description:      l.Description,
		QuantityOrdered:  l.Quantity,
		QuantityReceived: decimal.Zero,
		QuantityAccepted: decimal.Zero,
		UnitPrice:        l.UnitPrice,
		DiscountPercent:  l.DiscountPercent,
		MaterialStage:    entity.StageOnOrder,
	}
	line.CalculateTotal()
	return line
}

// CreatePurchaseOrder creates a draft order with its lines and totals
func (s *procurementServiceImpl) CreatePurchaseOrder(ctx context.Context, req CreatePurchaseOrderRequest) (*entity.PurchaseOrder, error) {
	if req.SupplierID <= 0 {
		return nil, entity.NewValidationError("supplier_id", "is required")
	}
	if req.CreatedBy == "" {
		return nil, entity.NewValidationError("created_by", "is required")
	}
	if req.Priority == "" {
		req.Priority = entity.PriorityNormal
	}
	if !req.Priority.IsValid() {
		return nil, entity.NewValidationError("priority", "unknown priority %q", req.Priority)
	}
	if req.Currency == "" {
		req.Currency = s.cfg.DefaultCurrency
	}
	requiresInspection := true
	if req.RequiresInspection != nil {
		requiresInspection = *req.RequiresInspection
	}
	for name, amount := range map[string]decimal.Decimal{
		"discount_amount": req.DiscountAmount,
		"tax_amount":      req.TaxAmount,
		"shipping_amount": req.ShippingAmount,
	} {
		if amount.IsNegative() {
			return nil, entity.NewValidationError(name, "must not be negative")
		}
	}

	po := &entity.PurchaseOrder{
		PONumber:           documentNumber("PO", s.now()),
		SupplierID:         req.SupplierID,
		Priority:           req.Priority,
		Status:             entity.POStatusDraft,
		DiscountAmount:     req.DiscountAmount,
		TaxAmount:          req.TaxAmount,
		ShippingAmount:     req.ShippingAmount,
		Currency:           req.Currency,
		RequiresInspection: requiresInspection,
		CreatedBy:          req.CreatedBy,
		Notes:              req.Notes,
	}
	for i, l := range req.Lines {
		if err := l.validate(fmt.Sprintf("lines[%d]", i)); err != nil {
			return nil, err
		}
		po.LineItems = append(po.LineItems, l.toEntity(i+1))
	}
	po.CalculateTotals()

	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := s.orders.Create(txCtx, po); err != nil {
			return fmt.Errorf("create purchase order: %w", err)
		}
		return s.engine.RecordCreation(txCtx, workflow.CreationRecord{
			Entity:   poRef(po.ID),
			State:    statemachine.State(entity.POStatusDraft),
			Actor:    req.CreatedBy,
			Metadata: map[string]interface{}{"po_number": po.PONumber, "total_amount": po.TotalAmount.String()},
		})
	})
	if err != nil {
		s.logger.Error("Failed to create purchase order", "error", err, "supplier_id", req.SupplierID)
		return nil, err
	}

	s.logger.Info("Purchase order created", "id", po.ID, "po_number", po.PONumber, "total", po.TotalAmount.String())
	return po, nil
}

// editDraft runs fn on a draft order at the expected revision, then bumps the revision
func (s *procurementServiceImpl) editDraft(ctx context.Context, poID int64, revision int64, fn func(ctx context.Context, po *entity.PurchaseOrder) error) (*entity.PurchaseOrder, error) {
	var out *entity.PurchaseOrder
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		po, err := s.orders.GetByID(txCtx, poID)
		if err != nil {
			return err
		}
		if po.Revision != revision {
			return statemachine.NewConcurrentModificationError(entity.EntityPurchaseOrder, poID, revision, po.Revision)
		}
		if po.Status != entity.POStatusDraft {
			return notDraft(poRef(poID), po.SubjectState())
		}

		if err := fn(txCtx, po); err != nil {
			return err
		}
		po.CalculateTotals()
		if err := s.orders.UpdateTotals(txCtx, po); err != nil {
			return err
		}
		if err := s.orders.Touch(txCtx, poID, revision); err != nil {
			return err
		}
		out, err = s.orders.GetByID(txCtx, poID)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to edit purchase order", "error", err, "id", poID)
		return nil, err
	}
	return out, nil
}

// AddLineItem appends a line to a draft order
func (s *procurementServiceImpl) AddLineItem(ctx context.Context, poID int64, line LineRequest, actor string, revision int64) (*entity.PurchaseOrder, error) {
	if err := line.validate("line"); err != nil {
		return nil, err
	}
	return s.editDraft(ctx, poID, revision, func(txCtx context.Context, po *entity.PurchaseOrder) error {
		number := 1
		for _, l := range po.LineItems {
			if l.LineNumber >= number {
				number = l.LineNumber + 1
			}
		}
		item := line.toEntity(number)
		item.PurchaseOrderID = po.ID
		if err := s.orders.AddLine(txCtx, item); err != nil {
			return err
		}
		po.LineItems = append(po.LineItems, item)
		s.logger.Info("Purchase order line added", "id", po.ID, "line", number, "actor", actor)
		return nil
	})
}

// RemoveLineItem deletes a line from a draft order
func (s *procurementServiceImpl) RemoveLineItem(ctx context.Context, poID, lineID int64, actor string, revision int64) (*entity.PurchaseOrder, error) {
	return s.editDraft(ctx, poID, revision, func(txCtx context.Context, po *entity.PurchaseOrder) error {
		if po.FindLine(lineID) == nil {
			return entity.NotFoundError("purchase order line", lineID)
		}
		if err := s.orders.RemoveLine(txCtx, poID, lineID); err != nil {
			return err
		}
		kept := po.LineItems[:0]
		for _, l := range po.LineItems {
			if l.ID != lineID {
				kept = append(kept, l)
			}
		}
		po.LineItems = kept
		s.logger.Info("Purchase order line removed", "id", po.ID, "line_id", lineID, "actor", actor)
		return nil
	})
}

func (s *procurementServiceImpl) GetPurchaseOrder(ctx context.Context, id int64) (*entity.PurchaseOrder, error) {
	return s.orders.GetByID(ctx, id)
}

// ListPurchaseOrders lists orders, optionally filtered by status
func (s *procurementServiceImpl) ListPurchaseOrders(ctx context.Context, status entity.POStatus, limit, offset int) ([]*entity.PurchaseOrder, error) {
	if status != "" && !status.IsValid() {
		return nil, entity.NewValidationError("status", "unknown status %q", status)
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.orders.List(ctx, status, limit, offset)
}

// SubmitPurchaseOrder sends a draft order through its approval policy
func (s *procurementServiceImpl) SubmitPurchaseOrder(ctx context.Context, poID int64, actor string, revision int64) (*SubmitResult, error) {
	p, err := s.policies.For(entity.EntityPurchaseOrder)
	if err != nil {
		return nil, err
	}

	var result *SubmitResult
	err = s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		po, err := s.orders.GetByID(txCtx, poID)
		if err != nil {
			return err
		}
		if len(po.LineItems) == 0 {
			return entity.NewValidationError("line_items", "purchase order %s has no lines", po.PONumber)
		}

		result, err = s.approvals.SubmitForApproval(txCtx, SubmitRequest{
			Reference:       poRef(po.ID),
			ReferenceNumber: po.PONumber,
			Amount:          po.TotalAmount,
			SubmittedBy:     actor,
			Revision:        revision,
		}, p)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// PlaceOrder sends an approved order to the supplier
func (s *procurementServiceImpl) PlaceOrder(ctx context.Context, poID int64, actor string, revision int64) (*workflow.TransitionResult, error) {
	return s.transition(ctx, poRef(poID), workflow.ActionPlaceOrder, actor, revision, "")
}

// ClosePurchaseOrder closes a fully received order
func (s *procurementServiceImpl) ClosePurchaseOrder(ctx context.Context, poID int64, actor string, revision int64) (*workflow.TransitionResult, error) {
	return s.transition(ctx, poRef(poID), workflow.ActionClose, actor, revision, "")
}

// CancelPurchaseOrder cancels the order and any approval still pending on it
func (s *procurementServiceImpl) CancelPurchaseOrder(ctx context.Context, poID int64, actor, reason string, revision int64) (*workflow.TransitionResult, error) {
	var result *workflow.TransitionResult
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		var err error
		result, err = s.engine.Transition(txCtx, workflow.TransitionRequest{
			Entity:           poRef(poID),
			Action:           workflow.ActionCancel,
			Actor:            actor,
			ExpectedRevision: revision,
			Comment:          reason,
		})
		if err != nil || result.Replayed {
			return err
		}
		return s.approvals.CancelForReference(txCtx, poRef(poID), actor, reason)
	})
	if err != nil {
		s.logger.Error("Failed to cancel purchase order", "error", err, "id", poID)
		return nil, err
	}

	s.logger.Info("Purchase order cancelled", "id", poID, "actor", actor)
	return result, nil
}

// CreateGoodsReceipt records a delivery, bumps received quantities and moves the order
// to received or partially_received
func (s *procurementServiceImpl) CreateGoodsReceipt(ctx context.Context, req GoodsReceiptRequest) (*entity.GoodsReceiptNote, error) {
	if req.ReceivedBy == "" {
		return nil, entity.NewValidationError("received_by", "is required")
	}
	if len(req.Lines) == 0 {
		return nil, entity.NewValidationError("lines", "at least one line is required")
	}
	seen := make(map[int64]bool, len(req.Lines))
	for i, l := range req.Lines {
		if seen[l.POLineItemID] {
			return nil, entity.NewValidationError(fmt.Sprintf("lines[%d]", i), "duplicate purchase order line %d", l.POLineItemID)
		}
		seen[l.POLineItemID] = true
		if !l.Quantity.IsPositive() {
			return nil, entity.NewValidationError(fmt.Sprintf("lines[%d].quantity", i), "must be positive")
		}
	}

	var grn *entity.GoodsReceiptNote
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		po, err := s.orders.GetByID(txCtx, req.PurchaseOrderID)
		if err != nil {
			return err
		}
		if po.Revision != req.Revision {
			return statemachine.NewConcurrentModificationError(entity.EntityPurchaseOrder, po.ID, req.Revision, po.Revision)
		}
		if po.Status != entity.POStatusOrdered && po.Status != entity.POStatusPartiallyReceived {
			return &statemachine.TransitionError{
				EntityType: entity.EntityPurchaseOrder,
				EntityID:   po.ID,
				From:       po.SubjectState(),
				Action:     workflow.ActionReceive,
				Reason:     "goods can only be received against an ordered purchase order",
				Err:        statemachine.ErrInvalidTransition,
			}
		}

		grn = &entity.GoodsReceiptNote{
			GRNNumber:        documentNumber("GRN", s.now()),
			PurchaseOrderID:  po.ID,
			Status:           entity.GRNStatusDraft,
			ReceivedBy:       req.ReceivedBy,
			DeliveryNote:     req.DeliveryNote,
			CarrierName:      req.CarrierName,
			InspectionPassed: !po.RequiresInspection,
		}

		for i, l := range req.Lines {
			line := po.FindLine(l.POLineItemID)
			if line == nil {
				return entity.NewValidationError(fmt.Sprintf("lines[%d].po_line_item_id", i),
					"line %d is not on purchase order %s", l.POLineItemID, po.PONumber)
			}
			received := line.QuantityReceived.Add(l.Quantity)
			if limit := line.ReceiptLimit(s.cfg.ReceiptTolerancePercent); received.GreaterThan(limit) {
				return entity.NewValidationError(fmt.Sprintf("lines[%d].quantity", i),
					"receiving %s would bring line %d to %s, above the limit of %s",
					l.Quantity, line.LineNumber, received, limit)
			}

			line.QuantityReceived = received
			line.MaterialStage = entity.StageInInspection
			if err := s.orders.UpdateLine(txCtx, line); err != nil {
				return err
			}

			grnLine := &entity.GRNLineItem{
				POLineItemID:     line.ID,
				QuantityReceived: l.Quantity,
				QuantityAccepted: decimal.Zero,
				QuantityRejected: decimal.Zero,
				LotNumber:        l.Lot.LotNumber,
				BatchNumber:      l.Lot.BatchNumber,
				HeatNumber:       l.Lot.HeatNumber,
				SerialNumber:     l.Lot.SerialNumber,
			}
			if !po.RequiresInspection {
				grnLine.QuantityAccepted = l.Quantity
			}
			grn.Lines = append(grn.Lines, grnLine)
		}

		if err := s.receipts.Create(txCtx, grn); err != nil {
			return fmt.Errorf("create goods receipt: %w", err)
		}
		if err := s.engine.RecordCreation(txCtx, workflow.CreationRecord{
			Entity:   grnRef(grn.ID),
			State:    statemachine.State(entity.GRNStatusDraft),
			Actor:    req.ReceivedBy,
			Metadata: map[string]interface{}{"grn_number": grn.GRNNumber, "purchase_order_id": po.ID},
		}); err != nil {
			return err
		}

		_, err = s.engine.Transition(txCtx, workflow.TransitionRequest{
			Entity:           poRef(po.ID),
			Action:           workflow.ActionReceive,
			Actor:            req.ReceivedBy,
			ExpectedRevision: req.Revision,
			Metadata:         map[string]interface{}{"grn_number": grn.GRNNumber},
		})
		return err
	})
	if err != nil {
		s.logger.Error("Failed to create goods receipt", "error", err, "purchase_order_id", req.PurchaseOrderID)
		return nil, err
	}

	s.logger.Info("Goods receipt created", "id", grn.ID, "grn_number", grn.GRNNumber, "purchase_order_id", req.PurchaseOrderID)
	return grn, nil
}

// SubmitGoodsReceiptForInspection hands a draft receipt to quality control
func (s *procurementServiceImpl) SubmitGoodsReceiptForInspection(ctx context.Context, grnID int64, actor string, revision int64) (*workflow.TransitionResult, error) {
	return s.transition(ctx, grnRef(grnID), workflow.ActionSubmitForInspection, actor, revision, "")
}

// RecordGoodsReceiptInspection stores accepted and rejected quantities for every line;
// the totals decide between inspection_passed, partial and inspection_failed
func (s *procurementServiceImpl) RecordGoodsReceiptInspection(ctx context.Context, req InspectionRequest) (*entity.GoodsReceiptNote, error) {
	if req.Actor == "" {
		return nil, entity.NewValidationError("actor", "is required")
	}

	var out *entity.GoodsReceiptNote
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		grn, err := s.receipts.GetByID(txCtx, req.GRNID)
		if err != nil {
			return err
		}
		replayed, err := checkRevision(txCtx, s.engine, workflow.TransitionRequest{
			Entity: grnRef(grn.ID), Action: workflow.ActionRecordInspection, Actor: req.Actor, ExpectedRevision: req.Revision,
		}, grn.Revision)
		if err != nil {
			return err
		}
		if !replayed {
			if err := s.applyInspection(txCtx, grn, req); err != nil {
				return err
			}
		}
		out, err = s.receipts.GetByID(txCtx, req.GRNID)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to record inspection", "error", err, "grn_id", req.GRNID)
		return nil, err
	}

	s.logger.Info("Goods receipt inspected", "grn_id", req.GRNID, "status", out.Status)
	return out, nil
}

func (s *procurementServiceImpl) applyInspection(ctx context.Context, grn *entity.GoodsReceiptNote, req InspectionRequest) error {
	verdicts := make(map[int64]InspectionLine, len(req.Lines))
	for _, l := range req.Lines {
		verdicts[l.GRNLineItemID] = l
	}

	for _, line := range grn.Lines {
		v, ok := verdicts[line.ID]
		if !ok {
			return entity.NewValidationError("lines", "no verdict for goods receipt line %d", line.ID)
		}
		if v.Accepted.IsNegative() || v.Rejected.IsNegative() {
			return entity.NewValidationError("lines", "line %d quantities must not be negative", line.ID)
		}
		if !v.Accepted.Add(v.Rejected).Equal(line.QuantityReceived) {
			return entity.NewValidationError("lines", "line %d: accepted %s and rejected %s must add up to received %s",
				line.ID, v.Accepted, v.Rejected, line.QuantityReceived)
		}
		line.QuantityAccepted = v.Accepted
		line.QuantityRejected = v.Rejected
		line.RejectionReason = v.RejectionReason
		if err := s.receipts.UpdateLine(ctx, line); err != nil {
			return err
		}
		delete(verdicts, line.ID)
	}
	for id := range verdicts {
		return entity.NewValidationError("lines", "line %d is not on goods receipt %s", id, grn.GRNNumber)
	}

	accepted, _ := grn.InspectionTotals()
	now := s.now()
	grn.InspectionPassed = accepted.IsPositive()
	grn.InspectionNotes = req.Notes
	grn.InspectedBy = req.Actor
	grn.InspectedAt = &now
	if err := s.receipts.UpdateInspection(ctx, grn); err != nil {
		return err
	}

	_, err := s.engine.Transition(ctx, workflow.TransitionRequest{
		Entity:           grnRef(grn.ID),
		Action:           workflow.ActionRecordInspection,
		Actor:            req.Actor,
		ExpectedRevision: req.Revision,
		Comment:          req.Notes,
	})
	return err
}

// AcceptGoodsReceipt accepts the receipt and turns every accepted line into tracked material
func (s *procurementServiceImpl) AcceptGoodsReceipt(ctx context.Context, grnID int64, actor string, revision int64) (*AcceptResult, error) {
	result := &AcceptResult{}
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		res, err := s.engine.Transition(txCtx, workflow.TransitionRequest{
			Entity:           grnRef(grnID),
			Action:           workflow.ActionAccept,
			Actor:            actor,
			ExpectedRevision: revision,
		})
		if err != nil {
			return err
		}

		grn, err := s.receipts.GetByID(txCtx, grnID)
		if err != nil {
			return err
		}
		result.GoodsReceipt = grn
		if res.Replayed {
			return nil
		}

		po, err := s.orders.GetByID(txCtx, grn.PurchaseOrderID)
		if err != nil {
			return err
		}

		for _, line := range grn.Lines {
			if !line.QuantityAccepted.IsPositive() {
				continue
			}
			received, err := s.materials.Receive(txCtx, ReceiveRequest{GRNLineItemID: line.ID, Lot: line.Lot(), Actor: actor})
			if err != nil {
				return err
			}
			if !po.RequiresInspection {
				inst, err := s.materials.Inspect(txCtx, InspectRequest{
					InstanceID: received.Instance.ID,
					Passed:     true,
					Notes:      "inspection not required",
					Actor:      actor,
					Revision:   received.Instance.Revision,
				})
				if err != nil {
					return err
				}
				received.Instance = inst
			}
			result.Received = append(result.Received, received)

			poLine := po.FindLine(line.POLineItemID)
			if poLine == nil {
				return entity.NotFoundError("purchase order line", line.POLineItemID)
			}
			poLine.QuantityAccepted = poLine.QuantityAccepted.Add(line.QuantityAccepted)
			poLine.MaterialStage = entity.StageRawMaterial
			if err := s.orders.UpdateLine(txCtx, poLine); err != nil {
				return err
			}
		}

		result.GoodsReceipt, err = s.receipts.GetByID(txCtx, grnID)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to accept goods receipt", "error", err, "grn_id", grnID)
		return nil, err
	}

	s.logger.Info("Goods receipt accepted", "grn_id", grnID, "instances", len(result.Received))
	return result, nil
}

// RejectGoodsReceipt rejects a failed or partial receipt. The order keeps its received quantities.
func (s *procurementServiceImpl) RejectGoodsReceipt(ctx context.Context, grnID int64, actor, reason string, revision int64) (*workflow.TransitionResult, error) {
	return s.transition(ctx, grnRef(grnID), workflow.ActionReject, actor, revision, reason)
}

func (s *procurementServiceImpl) GetGoodsReceipt(ctx context.Context, id int64) (*entity.GoodsReceiptNote, error) {
	return s.receipts.GetByID(ctx, id)
}

func (s *procurementServiceImpl) ListGoodsReceipts(ctx context.Context, poID int64) ([]*entity.GoodsReceiptNote, error) {
	return s.receipts.ListByPurchaseOrder(ctx, poID)
}

func (s *procurementServiceImpl) transition(ctx context.Context, ref entity.Ref, action statemachine.Action, actor string, revision int64, comment string) (*workflow.TransitionResult, error) {
	result, err := s.engine.Transition(ctx, workflow.TransitionRequest{
		Entity:           ref,
		Action:           action,
		Actor:            actor,
		ExpectedRevision: revision,
		Comment:          comment,
	})
	if err != nil {
		s.logger.Error("Transition failed", "error", err, "entity", ref.String(), "action", action)
		return nil, err
	}

	s.logger.Info("Transition applied", "entity", ref.String(), "action", action, "to", result.To)
	return result, nil
}
