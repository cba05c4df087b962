package http

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/aerotrace/material-lifecycle/internal/application/service"
	"github.com/aerotrace/material-lifecycle/internal/application/workflow"
	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
	"github.com/aerotrace/material-lifecycle/pkg/utils"
)

type decisionRequest struct {
	Decision entity.Decision `json:"decision" binding:"required"`
	Comment  string          `json:"comment"`
	Revision int64           `json:"revision" binding:"required"`
}

type transitionRequest struct {
	EntityType statemachine.EntityType `json:"entity_type" binding:"required"`
	EntityID   int64                   `json:"entity_id" binding:"required"`
	Action     statemachine.Action     `json:"action"`
	ToState    statemachine.State      `json:"to_state"`
	FromState  statemachine.State      `json:"from_state"`
	Revision   int64                   `json:"revision" binding:"required"`
	Comment    string                  `json:"comment"`
	Metadata   map[string]interface{}  `json:"metadata"`
}

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// DecideWorkflow handles POST /workflows/:id/decisions
func (h *Handlers) DecideWorkflow(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "decision and revision are required")
		return
	}

	result, err := h.approvals.Decide(c.Request.Context(), service.DecideRequest{
		WorkflowInstanceID: id,
		Actor:              actorFrom(c),
		Decision:           req.Decision,
		Comment:            utils.SanitizeString(req.Comment),
		Revision:           req.Revision,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, result)
}

// GetWorkflow handles GET /workflows/:id
func (h *Handlers) GetWorkflow(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	wf, err := h.approvals.GetInstance(c.Request.Context(), id)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, wf)
}

// Inbox handles GET /workflows/inbox, the pending steps the actor may decide
func (h *Handlers) Inbox(c *gin.Context) {
	pending, err := h.approvals.ListPendingForActor(c.Request.Context(), actorFrom(c))
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, pending)
}

// Transition handles POST /transitions, the generic entry point to any registered table
func (h *Handlers) Transition(c *gin.Context) {
	var req transitionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "entity_type, entity_id and revision are required")
		return
	}

	result, err := h.engine.Transition(c.Request.Context(), workflow.TransitionRequest{
		Entity:           entity.Ref{Type: req.EntityType, ID: req.EntityID},
		Action:           req.Action,
		ToState:          req.ToState,
		FromState:        req.FromState,
		Actor:            actorFrom(c),
		ExpectedRevision: req.Revision,
		Comment:          utils.SanitizeString(req.Comment),
		Metadata:         req.Metadata,
	})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, result)
}

// PermittedActions handles GET /entities/:type/:id/actions
func (h *Handlers) PermittedActions(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	actions, err := h.engine.PermittedActions(c.Request.Context(), entity.Ref{Type: statemachine.EntityType(c.Param("type")), ID: id})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, actions)
}

// EntityHistory handles GET /entities/:type/:id/history
func (h *Handlers) EntityHistory(c *gin.Context) {
	id, valid := pathID(c, "id")
	if !valid {
		return
	}
	entries, err := h.audit.EntityHistory(c.Request.Context(), entity.Ref{Type: statemachine.EntityType(c.Param("type")), ID: id})
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, entries)
}

// QueryLedger handles GET /ledger
func (h *Handlers) QueryLedger(c *gin.Context) {
	filter, err := ledgerFilter(c)
	if err != nil {
		h.fail(c, err)
		return
	}
	entries, err := h.audit.QueryLedger(c.Request.Context(), filter)
	if err != nil {
		h.fail(c, err)
		return
	}
	ok(c, http.StatusOK, entries)
}

// ExportLedger handles GET /ledger/export and answers with an XLSX workbook
func (h *Handlers) ExportLedger(c *gin.Context) {
	filter, err := ledgerFilter(c)
	if err != nil {
		h.fail(c, err)
		return
	}

	var buf bytes.Buffer
	rows, err := h.audit.ExportLedger(c.Request.Context(), filter, &buf)
	if err != nil {
		h.fail(c, err)
		return
	}

	name := fmt.Sprintf("ledger-%s.xlsx", time.Now().UTC().Format("20060102T150405Z"))
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, name))
	c.Header("X-Ledger-Rows", strconv.Itoa(rows))
	c.Data(http.StatusOK, xlsxContentType, buf.Bytes())
}

// ledgerFilter reads entity_type, entity_id, actor, since, until, limit and offset
func ledgerFilter(c *gin.Context) (entity.LedgerFilter, error) {
	f := entity.LedgerFilter{
		EntityType: statemachine.EntityType(c.Query("entity_type")),
		Actor:      c.Query("actor"),
	}

	var err error
	if v := c.Query("entity_id"); v != "" {
		if f.EntityID, err = strconv.ParseInt(v, 10, 64); err != nil {
			return f, entity.NewValidationError("entity_id", "must be an integer")
		}
	}
	if v := c.Query("limit"); v != "" {
		if f.Limit, err = strconv.Atoi(v); err != nil {
			return f, entity.NewValidationError("limit", "must be an integer")
		}
	}
	if v := c.Query("offset"); v != "" {
		if f.Offset, err = strconv.Atoi(v); err != nil {
			return f, entity.NewValidationError("offset", "must be an integer")
		}
	}
	if f.Since, err = queryTime(c, "since"); err != nil {
		return f, err
	}
	if f.Until, err = queryTime(c, "until"); err != nil {
		return f, err
	}
	return f, nil
}

func queryTime(c *gin.Context, name string) (*time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, entity.NewValidationError(name, "must be an RFC3339 timestamp")
	}
	t = t.UTC()
	return &t, nil
}
