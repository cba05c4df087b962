package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aerotrace/material-lifecycle/internal/application/service"
	"github.com/aerotrace/material-lifecycle/internal/container"
	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/internal/domain/policy"
	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
	"github.com/aerotrace/material-lifecycle/pkg/utils"
)

type apiResponse struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type testAPI struct {
	router   *gin.Engine
	verifier *TokenVerifier
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	cfg := container.DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "api.db")
	cfg.Auth.JWTSecret = []byte("test-secret")
	cfg.Approval.EscalationInterval = time.Hour
	cfg.Approval.Policies = []policy.ApprovalPolicy{{
		Code:                 "PO_APPROVAL",
		ReferenceType:        entity.EntityPurchaseOrder,
		AutoApproveThreshold: decimal.NewFromInt(5000),
		SLA:                  48 * time.Hour,
		Steps:                []policy.StepRule{{Order: 1, Role: entity.RoleHeadOfOperations, AmountThreshold: decimal.NewFromInt(5000)}},
	}}
	cfg.Directory = map[string]string{
		"u-buyer": "purchase",
		"u-hoo":   "head_of_operations",
		"u-qa":    "qa",
		"u-admin": "admin",
	}

	logger := zap.NewNop()
	c, err := container.NewContainer(cfg, logger)
	require.NoError(t, err)
	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { _ = c.Close() })

	verifier := NewTokenVerifier(cfg.Auth.JWTSecret, "")
	svc := c.Services()
	server := NewServer(ServerConfig{Mode: gin.TestMode}, Services{
		Procurement:  svc.Procurement,
		Approval:     svc.Approval,
		Material:     svc.Material,
		Traceability: svc.Traceability,
		Audit:        svc.Audit,
		Engine:       c.Engine(),
		Authorizer:   c.Authorizer(),
	}, verifier, func() bool { return c.Health().Overall }, utils.NewSugaredAdapter(logger))

	return &testAPI{router: server.Router(), verifier: verifier}
}

func (a *testAPI) do(t *testing.T, method, path, actor string, body interface{}) (*httptest.ResponseRecorder, apiResponse) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		token, err := a.verifier.Sign(actor, time.Hour)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var resp apiResponse
	if w.Header().Get("Content-Type") != xlsxContentType {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp), w.Body.String())
	}
	return w, resp
}

func poBody(qty, price int64) map[string]interface{} {
	return map[string]interface{}{
		"supplier_id": 3,
		"lines": []map[string]interface{}{
			{"material_id": 9, "description": "Inconel 718 sheet", "quantity": qty, "unit_price": fmt.Sprint(price)},
		},
	}
}

func TestHealth(t *testing.T) {
	api := newTestAPI(t)
	w, resp := api.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, resp.Success)
}

func TestAuthentication(t *testing.T) {
	api := newTestAPI(t)

	w, _ := api.do(t, http.MethodGet, "/api/v1/purchase-orders", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/purchase-orders", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	other := NewTokenVerifier([]byte("other-secret"), "")
	token, err := other.Sign("u-buyer", time.Hour)
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/v1/purchase-orders", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec = httptest.NewRecorder()
	api.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	w, _ = api.do(t, http.MethodGet, "/api/v1/purchase-orders", "u-stranger", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestPurchaseOrderApprovalOverHTTP(t *testing.T) {
	api := newTestAPI(t)

	w, _ := api.do(t, http.MethodPost, "/api/v1/purchase-orders", "u-qa", poBody(10, 1000))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp := api.do(t, http.MethodPost, "/api/v1/purchase-orders", "u-buyer", poBody(10, 1000))
	require.Equal(t, http.StatusCreated, w.Code, resp.Error)
	var po entity.PurchaseOrder
	require.NoError(t, json.Unmarshal(resp.Data, &po))
	assert.Equal(t, entity.POStatus("draft"), po.Status)

	w, _ = api.do(t, http.MethodPost, fmt.Sprintf("/api/v1/purchase-orders/%d/submit", po.ID), "u-buyer", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = api.do(t, http.MethodPost, fmt.Sprintf("/api/v1/purchase-orders/%d/submit", po.ID), "u-buyer",
		map[string]interface{}{"revision": po.Revision + 5})
	assert.Equal(t, http.StatusConflict, w.Code)

	w, resp = api.do(t, http.MethodPost, fmt.Sprintf("/api/v1/purchase-orders/%d/submit", po.ID), "u-buyer",
		map[string]interface{}{"revision": po.Revision})
	require.Equal(t, http.StatusOK, w.Code, resp.Error)
	var submitted service.SubmitResult
	require.NoError(t, json.Unmarshal(resp.Data, &submitted))
	require.False(t, submitted.AutoApproved)
	require.NotNil(t, submitted.Workflow)

	w, resp = api.do(t, http.MethodGet, "/api/v1/workflows/inbox", "u-hoo", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var inbox []*entity.WorkflowInstance
	require.NoError(t, json.Unmarshal(resp.Data, &inbox))
	require.Len(t, inbox, 1)

	decision := map[string]interface{}{"decision": "approved", "revision": submitted.Workflow.Revision}
	w, _ = api.do(t, http.MethodPost, fmt.Sprintf("/api/v1/workflows/%d/decisions", submitted.Workflow.ID), "u-buyer", decision)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp = api.do(t, http.MethodPost, fmt.Sprintf("/api/v1/workflows/%d/decisions", submitted.Workflow.ID), "u-hoo", decision)
	require.Equal(t, http.StatusOK, w.Code, resp.Error)

	w, resp = api.do(t, http.MethodGet, fmt.Sprintf("/api/v1/purchase-orders/%d", po.ID), "u-buyer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(resp.Data, &po))
	assert.Equal(t, entity.POStatus("approved"), po.Status)

	w, resp = api.do(t, http.MethodGet, fmt.Sprintf("/api/v1/entities/purchase_order/%d/history", po.ID), "u-buyer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []*entity.LedgerEntry
	require.NoError(t, json.Unmarshal(resp.Data, &history))
	assert.Len(t, history, 3)
}

func TestNotFoundAndValidation(t *testing.T) {
	api := newTestAPI(t)

	w, _ := api.do(t, http.MethodGet, "/api/v1/purchase-orders/999", "u-buyer", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, _ = api.do(t, http.MethodGet, "/api/v1/purchase-orders/abc", "u-buyer", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = api.do(t, http.MethodPost, "/api/v1/purchase-orders", "u-buyer", poBody(0, 10))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = api.do(t, http.MethodGet, "/api/v1/ledger?since=yesterday", "u-buyer", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGenericTransitionRequiresCapability(t *testing.T) {
	api := newTestAPI(t)

	_, resp := api.do(t, http.MethodPost, "/api/v1/purchase-orders", "u-buyer", poBody(1, 10))
	var po entity.PurchaseOrder
	require.NoError(t, json.Unmarshal(resp.Data, &po))

	body := map[string]interface{}{
		"entity_type": "purchase_order", "entity_id": po.ID, "action": "cancel", "revision": po.Revision,
	}
	w, _ := api.do(t, http.MethodPost, "/api/v1/transitions", "u-buyer", body)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, resp = api.do(t, http.MethodPost, "/api/v1/transitions", "u-admin", body)
	require.Equal(t, http.StatusOK, w.Code, resp.Error)

	w, _ = api.do(t, http.MethodPost, "/api/v1/transitions", "u-admin", map[string]interface{}{
		"entity_type": "purchase_order", "entity_id": po.ID, "action": "submit", "revision": po.Revision,
	})
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestLedgerExport(t *testing.T) {
	api := newTestAPI(t)
	api.do(t, http.MethodPost, "/api/v1/purchase-orders", "u-buyer", poBody(1, 10))

	w, _ := api.do(t, http.MethodGet, "/api/v1/ledger/export?entity_type=purchase_order", "u-buyer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, xlsxContentType, w.Header().Get("Content-Type"))
	assert.Equal(t, "1", w.Header().Get("X-Ledger-Rows"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")
	assert.NotZero(t, w.Body.Len())
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{entity.NewValidationError("quantity", "must be positive"), http.StatusBadRequest},
		{entity.NotFoundError("purchase order", 1), http.StatusNotFound},
		{fmt.Errorf("decide: %w", service.ErrSelfApproval), http.StatusForbidden},
		{service.ErrNotCurrentApprover, http.StatusForbidden},
		{statemachine.NewConcurrentModificationError(entity.EntityPurchaseOrder, 1, 1, 2), http.StatusConflict},
		{&statemachine.TransitionError{Err: statemachine.ErrInvalidTransition}, http.StatusConflict},
		{&statemachine.TransitionError{Err: statemachine.ErrGuardFailed}, http.StatusUnprocessableEntity},
		{service.ErrOverAllocation, http.StatusUnprocessableEntity},
		{service.ErrInvalidParentState, http.StatusUnprocessableEntity},
		{errors.New("disk full"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, statusFor(tt.err), tt.err.Error())
	}
}
