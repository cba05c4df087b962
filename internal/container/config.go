// Package container wires the material lifecycle service together and owns its lifecycle.
package container

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aerotrace/material-lifecycle/internal/domain/policy"
)

// Config holds the resolved settings of every subsystem. Unlike the file-level config,
// amounts are decimals and approval templates are domain policies.
type Config struct {
	Database     DatabaseConfig
	Server       ServerConfig
	Approval     ApprovalConfig
	Procurement  ProcurementConfig
	Traceability TraceabilityConfig
	Notifier     NotifierConfig
	Auth         AuthConfig

	// Directory maps user ids to role names
	Directory map[string]string
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	Mode            string
}

// Addr returns the listen address
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ApprovalConfig holds approval templates and the escalation sweep interval
type ApprovalConfig struct {
	Policies           []policy.ApprovalPolicy
	EscalationInterval time.Duration
}

// ProcurementConfig holds receiving settings
type ProcurementConfig struct {
	ReceiptTolerancePercent decimal.Decimal
	DefaultCurrency         string
}

// TraceabilityConfig bounds genealogy walks
type TraceabilityConfig struct {
	MaxDepth int
}

// NotifierConfig selects the external event sink
type NotifierConfig struct {
	NATSURL       string
	SubjectPrefix string
	ClientName    string
}

// AuthConfig holds bearer token settings
type AuthConfig struct {
	JWTSecret []byte
	Issuer    string
}

// DefaultConfig returns a Config suitable for local runs. It has no approval policies.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:         "data/material-lifecycle.db",
			MaxOpenConns: 1,
			MaxIdleConns: 1,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			Mode:            "release",
		},
		Approval:     ApprovalConfig{EscalationInterval: 5 * time.Minute},
		Procurement:  ProcurementConfig{DefaultCurrency: "USD"},
		Traceability: TraceabilityConfig{MaxDepth: 32},
		Notifier:     NotifierConfig{SubjectPrefix: "aerotrace", ClientName: "material-lifecycle"},
	}
}

// Validate checks that required configuration values are present
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}
	if len(c.Auth.JWTSecret) == 0 {
		return fmt.Errorf("jwt secret is required")
	}
	if len(c.Approval.Policies) == 0 {
		return fmt.Errorf("at least one approval policy is required")
	}
	if c.Procurement.ReceiptTolerancePercent.IsNegative() {
		return fmt.Errorf("receipt tolerance must not be negative")
	}
	return nil
}
