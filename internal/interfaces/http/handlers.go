package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aerotrace/material-lifecycle/internal/application/port"
	"github.com/aerotrace/material-lifecycle/internal/application/service"
	"github.com/aerotrace/material-lifecycle/internal/application/workflow"
	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/pkg/utils"
)

// Services groups the application services the handlers call
type Services struct {
	Procurement  service.ProcurementService
	Approval     service.ApprovalService
	Material     service.MaterialService
	Traceability service.TraceabilityService
	Audit        service.AuditService
	Engine       workflow.Engine
	Authorizer   port.Authorizer
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	procurement  service.ProcurementService
	approvals    service.ApprovalService
	materials    service.MaterialService
	traceability service.TraceabilityService
	audit        service.AuditService
	engine       workflow.Engine
	health       func() bool
	logger       Logger
}

// NewHandlers creates a new Handlers instance. health may be nil.
func NewHandlers(svc Services, health func() bool, logger Logger) *Handlers {
	return &Handlers{
		procurement:  svc.Procurement,
		approvals:    svc.Approval,
		materials:    svc.Material,
		traceability: svc.Traceability,
		audit:        svc.Audit,
		engine:       svc.Engine,
		health:       health,
		logger:       logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// revisionRequest carries the optimistic concurrency token of state-changing calls
type revisionRequest struct {
	Revision int64  `json:"revision" binding:"required"`
	Comment  string `json:"comment"`
}

func ok(c *gin.Context, status int, data interface{}) {
	c.JSON(status, Response{Success: true, Data: data})
}

// bindRevision reads a revisionRequest body, answering 400 itself on failure
func (h *Handlers) bindRevision(c *gin.Context) (revisionRequest, bool) {
	var req revisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "revision is required")
		return req, false
	}
	req.Comment = utils.SanitizeString(req.Comment)
	return req, true
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	status, code := "healthy", http.StatusOK
	if h.health != nil && !h.health() {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	c.JSON(code, Response{
		Success: code == http.StatusOK,
		Data:    HealthResponse{Status: status, Timestamp: time.Now().UTC().Format(time.RFC3339)},
	})
}

// CreatePurchaseOrder handles POST /purchase-orders
func (h *Handlers) CreatePurchaseOrder(c *gin.Context) {
	var req service.CreatePurchaseOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	req.CreatedBy = actorFrom(c)
	req.Notes = utils.SanitizeString(req.Notes)

	po, err := h.procurement.CreatePurchaseOrder(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, po)
}

// ListPurchaseOrders handles GET /purchase-orders?status=&limit=&offset=
func (h *Handlers) ListPurchaseOrders(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	if offset < 0 {
		offset = 0
	}

	orders, err := h.procurement.ListPurchaseOrders(c.Request.Context(), entity.POStatus(c.Query("status")), limit, offset)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, orders)
}

// GetPurchaseOrder handles GET /purchase-orders/:id
func (h *Handlers) GetPurchaseOrder(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	po, err := h.procurement.GetPurchaseOrder(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, po)
}

type addLineRequest struct {
	service.LineRequest
	Revision int64 `json:"revision" binding:"required"`
}

// AddLineItem handles POST /purchase-orders/:id/lines
func (h *Handlers) AddLineItem(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var req addLineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	po, err := h.procurement.AddLineItem(c.Request.Context(), id, req.LineRequest, actorFrom(c), req.Revision)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, po)
}

// RemoveLineItem handles DELETE /purchase-orders/:id/lines/:lineId?revision=
func (h *Handlers) RemoveLineItem(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	lineID, valid := pathID(c, "lineId")
	if !valid {
		return
	}
	revision, err := strconv.ParseInt(c.Query("revision"), 10, 64)
	if err != nil {
		h.badRequest(c, "revision query parameter is required")
		return
	}

	po, err := h.procurement.RemoveLineItem(c.Request.Context(), id, lineID, actorFrom(c), revision)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, po)
}

// SubmitPurchaseOrder handles POST /purchase-orders/:id/submit
func (h *Handlers) SubmitPurchaseOrder(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	req, valid := h.bindRevision(c)
	if !valid {
		return
	}

	result, err := h.procurement.SubmitPurchaseOrder(c.Request.Context(), id, actorFrom(c), req.Revision)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, result)
}

// PlaceOrder handles POST /purchase-orders/:id/order
func (h *Handlers) PlaceOrder(c *gin.Context) {
	h.revisionTransition(c, h.procurement.PlaceOrder)
}

// ClosePurchaseOrder handles POST /purchase-orders/:id/close
func (h *Handlers) ClosePurchaseOrder(c *gin.Context) {
	h.revisionTransition(c, h.procurement.ClosePurchaseOrder)
}

func (h *Handlers) revisionTransition(c *gin.Context, fn func(ctx context.Context, id int64, actor string, revision int64) (*workflow.TransitionResult, error)) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	req, valid := h.bindRevision(c)
	if !valid {
		return
	}

	result, err := fn(c.Request.Context(), id, actorFrom(c), req.Revision)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, result)
}

// CancelPurchaseOrder handles POST /purchase-orders/:id/cancel
func (h *Handlers) CancelPurchaseOrder(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	req, valid := h.bindRevision(c)
	if !valid {
		return
	}

	result, err := h.procurement.CancelPurchaseOrder(c.Request.Context(), id, actorFrom(c), req.Comment, req.Revision)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, result)
}

// CreateGoodsReceipt handles POST /purchase-orders/:id/receipts
func (h *Handlers) CreateGoodsReceipt(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var req service.GoodsReceiptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	req.PurchaseOrderID = id
	req.ReceivedBy = actorFrom(c)

	grn, err := h.procurement.CreateGoodsReceipt(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusCreated, grn)
}

// ListGoodsReceipts handles GET /purchase-orders/:id/receipts
func (h *Handlers) ListGoodsReceipts(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	receipts, err := h.procurement.ListGoodsReceipts(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, receipts)
}

// GetGoodsReceipt handles GET /goods-receipts/:id
func (h *Handlers) GetGoodsReceipt(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	grn, err := h.procurement.GetGoodsReceipt(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, grn)
}

// SubmitGoodsReceipt handles POST /goods-receipts/:id/submit
func (h *Handlers) SubmitGoodsReceipt(c *gin.Context) {
	h.revisionTransition(c, h.procurement.SubmitGoodsReceiptForInspection)
}

// RecordInspection handles POST /goods-receipts/:id/inspection
func (h *Handlers) RecordInspection(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var req service.InspectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	req.GRNID = id
	req.Actor = actorFrom(c)
	req.Notes = utils.SanitizeString(req.Notes)

	grn, err := h.procurement.RecordGoodsReceiptInspection(c.Request.Context(), req)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, grn)
}

// AcceptGoodsReceipt handles POST /goods-receipts/:id/accept
func (h *Handlers) AcceptGoodsReceipt(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	req, valid := h.bindRevision(c)
	if !valid {
		return
	}

	result, err := h.procurement.AcceptGoodsReceipt(c.Request.Context(), id, actorFrom(c), req.Revision)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, result)
}

// RejectGoodsReceipt handles POST /goods-receipts/:id/reject
func (h *Handlers) RejectGoodsReceipt(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	req, valid := h.bindRevision(c)
	if !valid {
		return
	}

	result, err := h.procurement.RejectGoodsReceipt(c.Request.Context(), id, actorFrom(c), req.Comment, req.Revision)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, result)
}
