package container

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aerotrace/material-lifecycle/internal/application/service"
	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/internal/domain/policy"
)

func testConfig(t *testing.T) *Config {
	cfg := DefaultConfig()
	cfg.Database.Path = filepath.Join(t.TempDir(), "nested", "app.db")
	cfg.Auth.JWTSecret = []byte("secret")
	cfg.Approval.EscalationInterval = time.Hour
	cfg.Approval.Policies = []policy.ApprovalPolicy{{
		Code:                 "PO_APPROVAL",
		ReferenceType:        entity.EntityPurchaseOrder,
		AutoApproveThreshold: decimal.NewFromInt(5000),
		SLA:                  48 * time.Hour,
		Steps:                []policy.StepRule{{Order: 1, Role: entity.RoleHeadOfOperations, AmountThreshold: decimal.NewFromInt(5000)}},
	}}
	cfg.Directory = map[string]string{"u-buyer": "purchase"}
	return cfg
}

func TestNewContainer_Validates(t *testing.T) {
	_, err := NewContainer(nil, zap.NewNop())
	assert.Error(t, err)

	cfg := testConfig(t)
	cfg.Approval.Policies = nil
	_, err = NewContainer(cfg, zap.NewNop())
	assert.Error(t, err)
}

func TestContainer_Lifecycle(t *testing.T) {
	c, err := NewContainer(testConfig(t), zap.NewNop())
	require.NoError(t, err)
	assert.False(t, c.Health().Overall)

	require.NoError(t, c.Start(context.Background()))
	assert.True(t, c.Ready())
	assert.Error(t, c.Start(context.Background()))

	health := c.Health()
	assert.True(t, health.Overall, "%+v", health.Components)

	ctx := context.Background()
	po, err := c.Services().Procurement.CreatePurchaseOrder(ctx, service.CreatePurchaseOrderRequest{
		SupplierID: 1,
		CreatedBy:  "u-buyer",
		Lines: []service.LineRequest{{
			MaterialID: 5, Description: "rivets", Quantity: decimal.NewFromInt(100), UnitPrice: decimal.NewFromInt(2),
		}},
	})
	require.NoError(t, err)

	result, err := c.Services().Procurement.SubmitPurchaseOrder(ctx, po.ID, "u-buyer", po.Revision)
	require.NoError(t, err)
	assert.True(t, result.AutoApproved)

	role, err := c.Authorizer().RoleOf(ctx, "u-buyer")
	require.NoError(t, err)
	assert.Equal(t, entity.RolePurchase, role)

	require.NoError(t, c.Close())
	assert.False(t, c.Ready())
	assert.Error(t, c.Close())
	assert.Error(t, c.Start(context.Background()))
}

func TestContainer_StartFailsOnBadDirectory(t *testing.T) {
	cfg := testConfig(t)
	cfg.Directory = map[string]string{"u-x": "ceo"}

	c, err := NewContainer(cfg, zap.NewNop())
	require.NoError(t, err)
	assert.Error(t, c.Start(context.Background()))
	assert.False(t, c.Ready())
}
