// Package policy holds the approval policy value object that maps a monetary amount to the
// ordered chain of approver roles.
package policy

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
)

// StepRule requires Role to approve when the amount reaches AmountThreshold
type StepRule struct {
	Order           int             `json:"order"`
	Role            entity.Role     `json:"role"`
	AmountThreshold decimal.Decimal `json:"amount_threshold"`
}

// ApprovalPolicy is the approval template for one reference type.
// It is constructed once from configuration and passed to the approval engine.
type ApprovalPolicy struct {
	Code                 string                  `json:"code"`
	ReferenceType        statemachine.EntityType `json:"reference_type"`
	AutoApproveThreshold decimal.Decimal         `json:"auto_approve_threshold"`
	SLA                  time.Duration           `json:"sla"`
	Steps                []StepRule              `json:"steps"`
}

// RequiredStep is one resolved step of an approval chain
type RequiredStep struct {
	Number int
	Role   entity.Role
}

// Validate checks the policy is internally consistent
func (p ApprovalPolicy) Validate() error {
	if p.Code == "" {
		return fmt.Errorf("policy code is required")
	}
	if p.ReferenceType == "" {
		return fmt.Errorf("policy %s: reference type is required", p.Code)
	}
	if p.AutoApproveThreshold.IsNegative() {
		return fmt.Errorf("policy %s: auto-approve threshold must not be negative", p.Code)
	}
	if p.SLA < 0 {
		return fmt.Errorf("policy %s: sla must not be negative", p.Code)
	}
	if len(p.Steps) == 0 {
		return fmt.Errorf("policy %s: at least one step is required", p.Code)
	}

	seen := make(map[int]bool, len(p.Steps))
	for _, step := range p.Steps {
		if step.Order <= 0 {
			return fmt.Errorf("policy %s: step order must be positive", p.Code)
		}
		if seen[step.Order] {
			return fmt.Errorf("policy %s: duplicate step order %d", p.Code, step.Order)
		}
		seen[step.Order] = true
		if !step.Role.IsValid() {
			return fmt.Errorf("policy %s: step %d has unknown role %q", p.Code, step.Order, step.Role)
		}
		if step.AmountThreshold.IsNegative() {
			return fmt.Errorf("policy %s: step %d threshold must not be negative", p.Code, step.Order)
		}
	}
	return nil
}

// IsAutoApproved reports whether the amount bypasses the approval chain
func (p ApprovalPolicy) IsAutoApproved(amount decimal.Decimal) bool {
	return amount.LessThan(p.AutoApproveThreshold) || len(p.RequiredSteps(amount)) == 0
}

// RequiredSteps returns the roles that must approve the amount, numbered from 1 in step order
func (p ApprovalPolicy) RequiredSteps(amount decimal.Decimal) []RequiredStep {
	rules := append([]StepRule{}, p.Steps...)
	sort.Slice(rules, func(i, j int) bool { return rules[i].Order < rules[j].Order })

	var steps []RequiredStep
	for _, rule := range rules {
		if amount.LessThan(rule.AmountThreshold) {
			continue
		}
		steps = append(steps, RequiredStep{Number: len(steps) + 1, Role: rule.Role})
	}
	return steps
}

// Registry resolves the policy for a reference type
type Registry struct {
	policies map[statemachine.EntityType]ApprovalPolicy
}

// NewRegistry validates and indexes the given policies
func NewRegistry(policies ...ApprovalPolicy) (*Registry, error) {
	r := &Registry{policies: make(map[statemachine.EntityType]ApprovalPolicy, len(policies))}
	for _, p := range policies {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if _, dup := r.policies[p.ReferenceType]; dup {
			return nil, fmt.Errorf("duplicate policy for %s", p.ReferenceType)
		}
		r.policies[p.ReferenceType] = p
	}
	return r, nil
}

// For returns the policy governing the reference type
func (r *Registry) For(referenceType statemachine.EntityType) (ApprovalPolicy, error) {
	p, ok := r.policies[referenceType]
	if !ok {
		return ApprovalPolicy{}, fmt.Errorf("no approval policy for %s: %w", referenceType, entity.ErrNotFound)
	}
	return p, nil
}
