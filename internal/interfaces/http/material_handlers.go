package http

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/aerotrace/material-lifecycle/internal/application/service"
	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/pkg/utils"
)

type inspectRequest struct {
	Passed   bool   `json:"passed"`
	Notes    string `json:"notes"`
	Revision int64  `json:"revision" binding:"required"`
}

type allocateRequest struct {
	ProjectRef string          `json:"project_ref"`
	Quantity   decimal.Decimal `json:"quantity"`
	Revision   int64           `json:"revision" binding:"required"`
}

type quantityRequest struct {
	Quantity decimal.Decimal `json:"quantity"`
	Revision int64           `json:"revision" binding:"required"`
}

type childBarcodeRequest struct {
	ParentIDs  []int64              `json:"parent_ids"`
	Quantity   decimal.Decimal      `json:"quantity"`
	Stage      entity.MaterialStage `json:"stage"`
	MaterialID int64                `json:"material_id"`
}

// GetMaterial handles GET /materials/:id
func (h *Handlers) GetMaterial(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	inst, err := h.materials.GetInstance(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, inst)
}

// InspectMaterial handles POST /materials/:id/inspect
func (h *Handlers) InspectMaterial(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var req inspectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	inst, err := h.materials.Inspect(c.Request.Context(), service.InspectRequest{
		InstanceID: id,
		Passed:     req.Passed,
		Notes:      utils.SanitizeString(req.Notes),
		Actor:      actorFrom(c),
		Revision:   req.Revision,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, inst)
}

// AllocateMaterial handles POST /materials/:id/allocate
func (h *Handlers) AllocateMaterial(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var req allocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	alloc, err := h.materials.Allocate(c.Request.Context(), service.AllocateRequest{
		InstanceID: id,
		ProjectRef: req.ProjectRef,
		Quantity:   req.Quantity,
		Actor:      actorFrom(c),
		Revision:   req.Revision,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, alloc)
}

// ListMaterialAllocations handles GET /materials/:id/allocations
func (h *Handlers) ListMaterialAllocations(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	allocs, err := h.materials.ListAllocations(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, allocs)
}

// ScrapMaterial handles POST /materials/:id/scrap
func (h *Handlers) ScrapMaterial(c *gin.Context) {
	h.instanceAction(c, h.materials.Scrap)
}

// StartProduction handles POST /materials/:id/start-production
func (h *Handlers) StartProduction(c *gin.Context) {
	h.instanceAction(c, h.materials.StartProduction)
}

func (h *Handlers) instanceAction(c *gin.Context, fn func(ctx context.Context, req service.InstanceActionRequest) (*entity.MaterialInstance, error)) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	req, valid := h.bindRevision(c)
	if !valid {
		return
	}

	inst, err := fn(c.Request.Context(), service.InstanceActionRequest{
		InstanceID: id,
		Actor:      actorFrom(c),
		Comment:    req.Comment,
		Revision:   req.Revision,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, inst)
}

// GetAllocation handles GET /allocations/:id
func (h *Handlers) GetAllocation(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	alloc, err := h.materials.GetAllocation(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, alloc)
}

// IssueAllocation handles POST /allocations/:id/issue
func (h *Handlers) IssueAllocation(c *gin.Context) {
	h.allocationQuantity(c, h.materials.Issue)
}

// ReturnAllocation handles POST /allocations/:id/return
func (h *Handlers) ReturnAllocation(c *gin.Context) {
	h.allocationQuantity(c, h.materials.Return)
}

func (h *Handlers) allocationQuantity(c *gin.Context, fn func(ctx context.Context, req service.AllocationQuantityRequest) (*entity.MaterialAllocation, error)) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var req quantityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	alloc, err := fn(c.Request.Context(), service.AllocationQuantityRequest{
		AllocationID: id,
		Quantity:     req.Quantity,
		Actor:        actorFrom(c),
		Revision:     req.Revision,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, alloc)
}

// ReleaseAllocation handles POST /allocations/:id/release
func (h *Handlers) ReleaseAllocation(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	req, valid := h.bindRevision(c)
	if !valid {
		return
	}

	alloc, err := h.materials.Release(c.Request.Context(), id, actorFrom(c), req.Revision)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, alloc)
}

// CreateChildBarcode handles POST /barcodes/children
func (h *Handlers) CreateChildBarcode(c *gin.Context) {
	var req childBarcodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	label, err := h.traceability.CreateChildBarcode(c.Request.Context(), service.ChildBarcodeRequest{
		ParentIDs:  req.ParentIDs,
		Quantity:   req.Quantity,
		Stage:      req.Stage,
		MaterialID: req.MaterialID,
		Actor:      actorFrom(c),
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, label)
}

// GetBarcode handles GET /barcodes/:id
func (h *Handlers) GetBarcode(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	label, err := h.traceability.GetBarcode(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, label)
}

// GetTraceability handles GET /barcodes/:id/traceability
func (h *Handlers) GetTraceability(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	chain, err := h.traceability.GetTraceabilityChain(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, chain)
}
