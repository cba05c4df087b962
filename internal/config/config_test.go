package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
)

const sampleConfig = `
server:
  port: 9090
approval:
  escalation_interval: 1m
  policies:
    - code: PO_APPROVAL
      reference_type: purchase_order
      auto_approve_threshold: 5000
      sla: 48h
      steps:
        - order: 1
          role: Head_Of_Operations
          amount_threshold: "5000"
        - order: 2
          role: director
          amount_threshold: 25000.50
procurement:
  receipt_tolerance_percent: "2.5"
auth:
  jwt_secret: from-file
directory:
  - user: u-buyer
    role: purchase
  - user: U-QA
    role: qa
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 15*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, time.Minute, cfg.Approval.EscalationInterval)
	assert.Equal(t, 32, cfg.Traceability.MaxDepth)
	assert.Equal(t, "aerotrace", cfg.Notifier.SubjectPrefix)
	require.Len(t, cfg.Directory, 2)
	assert.Equal(t, "U-QA", cfg.Directory[1].User)
}

func TestLoad_EnvOverridesSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "from-env")
	t.Setenv("NATS_URL", "nats://broker:4222")

	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, "nats://broker:4222", cfg.Notifier.NATSURL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing secret", "approval:\n  policies:\n    - code: X\n"},
		{"no policies", "auth:\n  jwt_secret: s\n"},
		{"bad port", "server:\n  port: 70000\nauth:\n  jwt_secret: s\napproval:\n  policies:\n    - code: X\n"},
		{"duplicate user", sampleConfig + "  - user: u-buyer\n    role: store\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestToContainerConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	cc, err := cfg.ToContainerConfig()
	require.NoError(t, err)
	require.NoError(t, cc.Validate())

	assert.True(t, decimal.RequireFromString("2.5").Equal(cc.Procurement.ReceiptTolerancePercent))
	assert.Equal(t, []byte("from-file"), cc.Auth.JWTSecret)
	assert.Equal(t, "qa", cc.Directory["U-QA"])

	require.Len(t, cc.Approval.Policies, 1)
	p := cc.Approval.Policies[0]
	assert.Equal(t, entity.EntityPurchaseOrder, p.ReferenceType)
	assert.True(t, decimal.NewFromInt(5000).Equal(p.AutoApproveThreshold))
	assert.Equal(t, 48*time.Hour, p.SLA)
	require.Len(t, p.Steps, 2)
	assert.Equal(t, entity.RoleHeadOfOperations, p.Steps[0].Role)
	assert.True(t, decimal.RequireFromString("25000.5").Equal(p.Steps[1].AmountThreshold))
}

func TestToContainerConfig_RejectsBadPolicy(t *testing.T) {
	cfg := &Config{
		Approval: ApprovalConfig{Policies: []PolicyConfig{{
			Code:                 "PO_APPROVAL",
			ReferenceType:        "purchase_order",
			AutoApproveThreshold: "lots",
			Steps:                []StepConfig{{Order: 1, Role: "director", AmountThreshold: "1"}},
		}}},
	}
	_, err := cfg.ToContainerConfig()
	assert.Error(t, err)

	cfg.Approval.Policies[0].AutoApproveThreshold = "10"
	cfg.Approval.Policies[0].Steps[0].Role = "ceo"
	_, err = cfg.ToContainerConfig()
	assert.Error(t, err)
}
