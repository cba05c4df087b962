package config

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/aerotrace/material-lifecycle/internal/container"
	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/internal/domain/policy"
	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
)

// ToContainerConfig parses amounts and approval templates into the container's typed
// configuration
func (c *Config) ToContainerConfig() (*container.Config, error) {
	tolerance, err := parseAmount("procurement.receipt_tolerance_percent", c.Procurement.ReceiptTolerancePercent)
	if err != nil {
		return nil, err
	}

	policies := make([]policy.ApprovalPolicy, 0, len(c.Approval.Policies))
	for i, pc := range c.Approval.Policies {
		p, err := pc.toPolicy()
		if err != nil {
			return nil, fmt.Errorf("approval.policies[%d]: %w", i, err)
		}
		policies = append(policies, p)
	}

	directory := make(map[string]string, len(c.Directory))
	for _, e := range c.Directory {
		directory[e.User] = e.Role
	}

	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
		},
		Server: container.ServerConfig{
			Host:            c.Server.Host,
			Port:            c.Server.Port,
			ReadTimeout:     c.Server.ReadTimeout,
			WriteTimeout:    c.Server.WriteTimeout,
			ShutdownTimeout: c.Server.ShutdownTimeout,
			Mode:            c.Server.Mode,
		},
		Approval: container.ApprovalConfig{
			Policies:           policies,
			EscalationInterval: c.Approval.EscalationInterval,
		},
		Procurement: container.ProcurementConfig{
			ReceiptTolerancePercent: tolerance,
			DefaultCurrency:         c.Procurement.DefaultCurrency,
		},
		Traceability: container.TraceabilityConfig{MaxDepth: c.Traceability.MaxDepth},
		Notifier: container.NotifierConfig{
			NATSURL:       c.Notifier.NATSURL,
			SubjectPrefix: c.Notifier.SubjectPrefix,
			ClientName:    c.Notifier.ClientName,
		},
		Auth: container.AuthConfig{
			JWTSecret: []byte(c.Auth.JWTSecret),
			Issuer:    c.Auth.Issuer,
		},
		Directory: directory,
	}, nil
}

func (pc PolicyConfig) toPolicy() (policy.ApprovalPolicy, error) {
	auto, err := parseAmount("auto_approve_threshold", pc.AutoApproveThreshold)
	if err != nil {
		return policy.ApprovalPolicy{}, err
	}

	p := policy.ApprovalPolicy{
		Code:                 pc.Code,
		ReferenceType:        statemachine.EntityType(pc.ReferenceType),
		AutoApproveThreshold: auto,
		SLA:                  pc.SLA,
	}
	for _, sc := range pc.Steps {
		threshold, err := parseAmount(fmt.Sprintf("steps[%d].amount_threshold", sc.Order), sc.AmountThreshold)
		if err != nil {
			return policy.ApprovalPolicy{}, err
		}
		p.Steps = append(p.Steps, policy.StepRule{
			Order:           sc.Order,
			Role:            entity.Role(strings.ToLower(sc.Role)),
			AmountThreshold: threshold,
		})
	}
	return p, p.Validate()
}

func parseAmount(field, raw string) (decimal.Decimal, error) {
	if strings.TrimSpace(raw) == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s: %q is not a decimal", field, raw)
	}
	return d, nil
}
