package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Logger       LoggerConfig       `mapstructure:"logger"`
	Approval     ApprovalConfig     `mapstructure:"approval"`
	Procurement  ProcurementConfig  `mapstructure:"procurement"`
	Traceability TraceabilityConfig `mapstructure:"traceability"`
	Notifier     NotifierConfig     `mapstructure:"notifier"`
	Auth         AuthConfig         `mapstructure:"auth"`
	Directory    []DirectoryEntry   `mapstructure:"directory"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	Mode            string        `mapstructure:"mode"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// ApprovalConfig holds the approval templates and the SLA sweep interval
type ApprovalConfig struct {
	EscalationInterval time.Duration  `mapstructure:"escalation_interval"`
	Policies           []PolicyConfig `mapstructure:"policies"`
}

// PolicyConfig is one approval template. Amounts are decimal strings.
type PolicyConfig struct {
	Code                 string        `mapstructure:"code"`
	ReferenceType        string        `mapstructure:"reference_type"`
	AutoApproveThreshold string        `mapstructure:"auto_approve_threshold"`
	SLA                  time.Duration `mapstructure:"sla"`
	Steps                []StepConfig  `mapstructure:"steps"`
}

// StepConfig is one step of an approval template
type StepConfig struct {
	Order           int    `mapstructure:"order"`
	Role            string `mapstructure:"role"`
	AmountThreshold string `mapstructure:"amount_threshold"`
}

// ProcurementConfig holds purchase order and receiving settings
type ProcurementConfig struct {
	ReceiptTolerancePercent string `mapstructure:"receipt_tolerance_percent"`
	DefaultCurrency         string `mapstructure:"default_currency"`
}

// TraceabilityConfig bounds genealogy walks
type TraceabilityConfig struct {
	MaxDepth int `mapstructure:"max_depth"`
}

// NotifierConfig selects where committed events are forwarded. An empty NATS URL logs them.
type NotifierConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	ClientName    string `mapstructure:"client_name"`
}

// AuthConfig holds the bearer token verification settings
type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
}

// DirectoryEntry assigns a role to a user id
type DirectoryEntry struct {
	User string `mapstructure:"user"`
	Role string `mapstructure:"role"`
}

// Load reads an optional .env file, then the YAML config, then environment overrides
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := bindEnvVars(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)
	v.SetDefault("server.mode", "release")

	v.SetDefault("database.path", "data/material-lifecycle.db")
	v.SetDefault("database.max_open_conns", 1)
	v.SetDefault("database.max_idle_conns", 1)
	v.SetDefault("database.conn_max_lifetime", 0)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")

	v.SetDefault("approval.escalation_interval", 5*time.Minute)

	v.SetDefault("procurement.receipt_tolerance_percent", "0")
	v.SetDefault("procurement.default_currency", "USD")

	v.SetDefault("traceability.max_depth", 32)

	v.SetDefault("notifier.subject_prefix", "aerotrace")
	v.SetDefault("notifier.client_name", "material-lifecycle")
}

// bindEnvVars maps deployment secrets to their conventional variable names
func bindEnvVars(v *viper.Viper) error {
	bindings := map[string]string{
		"auth.jwt_secret":   "JWT_SECRET",
		"notifier.nats_url": "NATS_URL",
		"database.path":     "DATABASE_PATH",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s: %w", env, err)
		}
	}
	return nil
}

// Validate checks the fields Load cannot default
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Approval.Policies) == 0 {
		return fmt.Errorf("approval.policies must define at least one policy")
	}
	if c.Traceability.MaxDepth < 0 {
		return fmt.Errorf("traceability.max_depth must not be negative")
	}

	seen := make(map[string]bool, len(c.Directory))
	for i, e := range c.Directory {
		if e.User == "" || e.Role == "" {
			return fmt.Errorf("directory[%d]: user and role are required", i)
		}
		if seen[e.User] {
			return fmt.Errorf("directory: duplicate user %s", e.User)
		}
		seen[e.User] = true
	}
	return nil
}
