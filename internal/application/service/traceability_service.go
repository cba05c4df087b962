package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aerotrace/material-lifecycle/internal/application/port"
	"github.com/aerotrace/material-lifecycle/internal/application/workflow"
	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/internal/domain/genealogy"
	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
)

// DefaultTraceDepth bounds genealogy walks when no depth is configured
const DefaultTraceDepth = 32

// ChildBarcodeRequest consumes parent nodes into a new child node
type ChildBarcodeRequest struct {
	ParentIDs []int64
	Quantity  decimal.Decimal
	Stage     entity.MaterialStage
	Actor     string

	// MaterialID of the produced material; defaults to the first parent's material
	MaterialID int64
}

// TraceabilityChain is the ancestry of a barcode ordered root to leaf
type TraceabilityChain struct {
	BarcodeID int64                     `json:"barcode_id"`
	Nodes     []*entity.TraceNode       `json:"nodes"`
	Edges     []*entity.ConsumptionEdge `json:"edges"`
}

// TraceabilityService maintains the barcode genealogy graph
type TraceabilityService interface {
	CreateChildBarcode(ctx context.Context, req ChildBarcodeRequest) (*entity.BarcodeLabel, error)
	GetTraceabilityChain(ctx context.Context, barcodeID int64) (*TraceabilityChain, error)
	GetBarcode(ctx context.Context, id int64) (*entity.BarcodeLabel, error)
}

type traceabilityServiceImpl struct {
	engine    workflow.Engine
	barcodes  port.BarcodeRepository
	instances port.MaterialInstanceRepository
	txManager port.TransactionManager
	logger    Logger
	maxDepth  int
}

// NewTraceabilityService creates a new TraceabilityService. A non-positive maxDepth uses DefaultTraceDepth.
func NewTraceabilityService(
	engine workflow.Engine,
	barcodes port.BarcodeRepository,
	instances port.MaterialInstanceRepository,
	txManager port.TransactionManager,
	logger Logger,
	maxDepth int,
) TraceabilityService {
	if maxDepth <= 0 {
		maxDepth = DefaultTraceDepth
	}
	return &traceabilityServiceImpl{
		engine:    engine,
		barcodes:  barcodes,
		instances: instances,
		txManager: txManager,
		logger:    logger,
		maxDepth:  maxDepth,
	}
}

func validateChildRequest(req ChildBarcodeRequest) error {
	if len(req.ParentIDs) == 0 {
		return entity.NewValidationError("parent_ids", "at least one parent is required")
	}
	seen := make(map[int64]bool, len(req.ParentIDs))
	for _, id := range req.ParentIDs {
		if seen[id] {
			return entity.NewValidationError("parent_ids", "duplicate parent %d", id)
		}
		seen[id] = true
	}
	if !req.Quantity.IsPositive() {
		return entity.NewValidationError("quantity", "must be positive")
	}
	if !req.Stage.IsBarcodeStage() {
		return entity.NewValidationError("stage", "cannot label material at stage %q", req.Stage)
	}
	if req.Actor == "" {
		return entity.NewValidationError("actor", "is required")
	}
	return nil
}

// CreateChildBarcode consumes the parents in the given order until the quantity is covered
func (s *traceabilityServiceImpl) CreateChildBarcode(ctx context.Context, req ChildBarcodeRequest) (*entity.BarcodeLabel, error) {
	if err := validateChildRequest(req); err != nil {
		return nil, err
	}

	var child *entity.BarcodeLabel
	err := s.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		parents, parentInstances, err := s.loadParents(txCtx, req.ParentIDs)
		if err != nil {
			return err
		}

		available := decimal.Zero
		for _, id := range req.ParentIDs {
			p := parents[id]
			available = available.Add(consumable(p, parentInstances[p.InstanceID]))
		}
		if req.Quantity.GreaterThan(available) {
			return fmt.Errorf("%w: requested %s, parents hold %s unreserved", ErrOverAllocation, req.Quantity, available)
		}

		materialID := req.MaterialID
		if materialID == 0 {
			materialID = parentInstances[parents[req.ParentIDs[0]].InstanceID].MaterialID
		}
		inst := &entity.MaterialInstance{
			ItemNumber:       itemNumber(),
			MaterialID:       materialID,
			Stage:            req.Stage,
			Quantity:         req.Quantity,
			ReservedQuantity: decimal.Zero,
			IssuedQuantity:   decimal.Zero,
			Status:           entity.InstanceInStorage,
		}
		if err := s.instances.Create(txCtx, inst); err != nil {
			return fmt.Errorf("create child instance: %w", err)
		}
		if err := s.engine.RecordCreation(txCtx, workflow.CreationRecord{
			Entity: instanceRef(inst.ID),
			State:  statemachine.State(entity.InstanceInStorage),
			Actor:  req.Actor,
		}); err != nil {
			return err
		}

		child = &entity.BarcodeLabel{
			BarcodeValue:      barcodeValue(req.Stage),
			EntityType:        req.Stage,
			InstanceID:        inst.ID,
			Quantity:          req.Quantity,
			RemainingQuantity: req.Quantity,
			Status:            entity.BarcodeActive,
			CreatedBy:         req.Actor,
		}
		if err := s.barcodes.Create(txCtx, child); err != nil {
			return fmt.Errorf("create child barcode: %w", err)
		}

		if err := assertAcyclic(child.ID, parents, req.ParentIDs); err != nil {
			return err
		}

		if err := s.engine.RecordCreation(txCtx, workflow.CreationRecord{
			Entity:   barcodeRef(child.ID),
			State:    statemachine.State(entity.BarcodeActive),
			Actor:    req.Actor,
			Metadata: map[string]interface{}{"parent_ids": req.ParentIDs, "quantity": req.Quantity.String()},
		}); err != nil {
			return err
		}

		child.ParentIDs, err = s.consume(txCtx, child, req, parents, parentInstances)
		return err
	})
	if err != nil {
		s.logger.Error("Failed to create child barcode", "error", err, "parent_ids", req.ParentIDs)
		return nil, err
	}

	s.logger.Info("Child barcode created",
		"barcode", child.BarcodeValue,
		"stage", child.EntityType,
		"parents", child.ParentIDs)
	return child, nil
}

func (s *traceabilityServiceImpl) loadParents(ctx context.Context, ids []int64) (map[int64]*entity.BarcodeLabel, map[int64]*entity.MaterialInstance, error) {
	parents, err := s.barcodes.GetByIDs(ctx, ids)
	if err != nil {
		return nil, nil, err
	}

	instanceIDs := make([]int64, 0, len(ids))
	for _, id := range ids {
		p, ok := parents[id]
		if !ok {
			return nil, nil, entity.NotFoundError("barcode", id)
		}
		if p.Status != entity.BarcodeActive {
			return nil, nil, fmt.Errorf("%w: barcode %s is %s", ErrInvalidParentState, p.BarcodeValue, p.Status)
		}
		instanceIDs = append(instanceIDs, p.InstanceID)
	}

	instances, err := s.instances.GetByIDs(ctx, instanceIDs)
	if err != nil {
		return nil, nil, err
	}
	for _, id := range ids {
		p := parents[id]
		inst, ok := instances[p.InstanceID]
		if !ok {
			return nil, nil, entity.NotFoundError("material instance", p.InstanceID)
		}
		if !inst.Status.IsConsumable() {
			return nil, nil, fmt.Errorf("%w: instance %s of barcode %s is %s",
				ErrInvalidParentState, inst.ItemNumber, p.BarcodeValue, inst.Status)
		}
	}
	return parents, instances, nil
}

// assertAcyclic checks the child is not among the known ancestors of its parents
func assertAcyclic(childID int64, parents map[int64]*entity.BarcodeLabel, parentIDs []int64) error {
	g := genealogy.New()
	for _, p := range parents {
		g.AddNode(p.ID, p.ParentIDs)
	}
	if g.WouldCycle(childID, parentIDs) {
		return fmt.Errorf("barcode %d: %w", childID, genealogy.ErrCycle)
	}
	return nil
}

// consumable is what a parent node can give up: its label's remaining quantity, capped by the
// stock of its instance that no project has reserved
func consumable(p *entity.BarcodeLabel, inst *entity.MaterialInstance) decimal.Decimal {
	q := decimal.Min(p.RemainingQuantity, inst.Consumable())
	if q.IsNegative() {
		return decimal.Zero
	}
	return q
}

// consume draws the child quantity from the parents greedily in request order. Each take lowers
// the parent label and the parent instance together, free stock first and issued stock after.
func (s *traceabilityServiceImpl) consume(ctx context.Context, child *entity.BarcodeLabel, req ChildBarcodeRequest,
	parents map[int64]*entity.BarcodeLabel, instances map[int64]*entity.MaterialInstance) ([]int64, error) {
	remaining := req.Quantity
	var used []int64

	for _, id := range req.ParentIDs {
		if !remaining.IsPositive() {
			break
		}
		p := parents[id]
		inst := instances[p.InstanceID]
		take := decimal.Min(remaining, consumable(p, inst))
		if !take.IsPositive() {
			continue
		}

		p.RemainingQuantity = p.RemainingQuantity.Sub(take)
		if err := s.barcodes.UpdateRemaining(ctx, p.ID, p.RemainingQuantity); err != nil {
			return nil, err
		}
		if err := s.barcodes.AddEdge(ctx, &entity.ConsumptionEdge{ParentID: p.ID, ChildID: child.ID, Quantity: take}); err != nil {
			return nil, err
		}
		if _, err := s.engine.Transition(ctx, workflow.TransitionRequest{
			Entity:           barcodeRef(p.ID),
			Action:           workflow.ActionConsume,
			Actor:            req.Actor,
			ExpectedRevision: p.Revision,
			Metadata:         map[string]interface{}{"child_id": child.ID, "quantity": take.String()},
		}); err != nil {
			return nil, err
		}

		fromIssued := take.Sub(decimal.Min(take, decimal.Max(inst.Available(), decimal.Zero)))
		inst.Quantity = inst.Quantity.Sub(take)
		inst.IssuedQuantity = inst.IssuedQuantity.Sub(fromIssued)
		depleted := inst.Quantity.IsZero()
		if depleted {
			inst.Stage = entity.StageConsumed
		}
		if err := s.instances.UpdateQuantities(ctx, inst); err != nil {
			return nil, err
		}
		if depleted {
			if _, err := s.engine.Transition(ctx, workflow.TransitionRequest{
				Entity:           instanceRef(inst.ID),
				Action:           workflow.ActionConsume,
				Actor:            req.Actor,
				ExpectedRevision: inst.Revision,
				Comment:          "consumed into " + child.BarcodeValue,
			}); err != nil {
				return nil, err
			}
		}

		remaining = remaining.Sub(take)
		used = append(used, p.ID)
	}
	return used, nil
}

// GetTraceabilityChain returns the barcode and all of its ancestors, roots first
func (s *traceabilityServiceImpl) GetTraceabilityChain(ctx context.Context, barcodeID int64) (*TraceabilityChain, error) {
	start := time.Now()
	cache := make(map[int64]*entity.BarcodeLabel)

	g, err := genealogy.Collect(ctx, barcodeID, s.maxDepth, s.parentLoader(cache))
	if err != nil {
		return nil, s.mapWalkError(err)
	}
	order, err := g.Lineage()
	if err != nil {
		return nil, err
	}

	instanceIDs := make([]int64, 0, len(order))
	for _, id := range order {
		instanceIDs = append(instanceIDs, cache[id].InstanceID)
	}
	instances, err := s.instances.GetByIDs(ctx, instanceIDs)
	if err != nil {
		return nil, err
	}

	chain := &TraceabilityChain{BarcodeID: barcodeID}
	for _, id := range order {
		b := cache[id]
		chain.Nodes = append(chain.Nodes, &entity.TraceNode{
			Barcode:  b,
			Instance: instances[b.InstanceID],
			Depth:    g.Depth(id),
		})
		if b.IsRoot() {
			continue
		}
		edges, err := s.barcodes.ListEdges(ctx, id)
		if err != nil {
			return nil, err
		}
		chain.Edges = append(chain.Edges, edges...)
	}

	s.logger.Info("Traceability chain resolved",
		"barcode_id", barcodeID,
		"nodes", len(chain.Nodes),
		"duration_ms", time.Since(start).Milliseconds())
	return chain, nil
}

func (s *traceabilityServiceImpl) GetBarcode(ctx context.Context, id int64) (*entity.BarcodeLabel, error) {
	return s.barcodes.GetByID(ctx, id)
}

// parentLoader reads one genealogy level per query, keeping the loaded nodes in cache when given
func (s *traceabilityServiceImpl) parentLoader(cache map[int64]*entity.BarcodeLabel) genealogy.ParentLoader {
	return func(ctx context.Context, ids []int64) (map[int64][]int64, error) {
		nodes, err := s.barcodes.GetByIDs(ctx, ids)
		if err != nil {
			return nil, err
		}
		out := make(map[int64][]int64, len(nodes))
		for id, b := range nodes {
			out[id] = b.ParentIDs
			if cache != nil {
				cache[id] = b
			}
		}
		return out, nil
	}
}

func (s *traceabilityServiceImpl) mapWalkError(err error) error {
	switch {
	case errors.Is(err, genealogy.ErrDepthExceeded):
		return fmt.Errorf("%w: %v", ErrTraceDepthExceeded, err)
	case errors.Is(err, genealogy.ErrUnknownNode):
		return fmt.Errorf("%v: %w", err, entity.ErrNotFound)
	default:
		return err
	}
}
