package container

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/aerotrace/material-lifecycle/internal/application/dispatcher"
	"github.com/aerotrace/material-lifecycle/internal/application/port"
	"github.com/aerotrace/material-lifecycle/internal/application/service"
	"github.com/aerotrace/material-lifecycle/internal/application/workflow"
	"github.com/aerotrace/material-lifecycle/internal/domain/entity"
	"github.com/aerotrace/material-lifecycle/internal/domain/policy"
	"github.com/aerotrace/material-lifecycle/internal/domain/statemachine"
	"github.com/aerotrace/material-lifecycle/internal/infrastructure/authz"
	"github.com/aerotrace/material-lifecycle/internal/infrastructure/notifier"
	"github.com/aerotrace/material-lifecycle/internal/infrastructure/persistence/repository"
	"github.com/aerotrace/material-lifecycle/internal/infrastructure/persistence/sqlite"
	"github.com/aerotrace/material-lifecycle/internal/infrastructure/worker"
	"github.com/aerotrace/material-lifecycle/pkg/database"
	"github.com/aerotrace/material-lifecycle/pkg/utils"
)

// DatabaseBundle holds the raw connection and the transaction manager over it
type DatabaseBundle struct {
	Raw       *database.DB
	TxManager *sqlite.DB
}

// ProvideDatabase opens the SQLite file, creating its directory, and applies pending migrations
func ProvideDatabase(cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}

	if dir := filepath.Dir(cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	raw, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if err := database.NewMigrator(raw, logger).Run(database.Migrations()); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &DatabaseBundle{Raw: raw, TxManager: sqlite.NewDB(raw.DB, logger)}, nil
}

// RepositoryBundle groups all repositories for convenient access
type RepositoryBundle struct {
	Ledger      port.LedgerRepository
	Orders      port.PurchaseOrderRepository
	Receipts    port.GoodsReceiptRepository
	Instances   port.MaterialInstanceRepository
	Allocations port.AllocationRepository
	Barcodes    port.BarcodeRepository
	Workflows   port.WorkflowRepository
}

// ProvideRepositories creates all repositories over the transaction manager
func ProvideRepositories(db *sqlite.DB, logger *zap.Logger) *RepositoryBundle {
	return &RepositoryBundle{
		Ledger:      repository.NewLedgerRepository(db, logger),
		Orders:      repository.NewPurchaseOrderRepository(db, logger),
		Receipts:    repository.NewGoodsReceiptRepository(db, logger),
		Instances:   repository.NewMaterialInstanceRepository(db, logger),
		Allocations: repository.NewAllocationRepository(db, logger),
		Barcodes:    repository.NewBarcodeRepository(db, logger),
		Workflows:   repository.NewWorkflowRepository(db, logger),
	}
}

// stores maps each entity type to the repository holding its rows
func (r *RepositoryBundle) stores() map[statemachine.EntityType]port.StateStore {
	return map[statemachine.EntityType]port.StateStore{
		entity.EntityPurchaseOrder:      r.Orders,
		entity.EntityGoodsReceipt:       r.Receipts,
		entity.EntityMaterialInstance:   r.Instances,
		entity.EntityMaterialAllocation: r.Allocations,
		entity.EntityWorkflowInstance:   r.Workflows,
		entity.EntityBarcodeLabel:       r.Barcodes,
	}
}

// ProvideEngine builds the state machine engine and registers every transition table
func ProvideEngine(repos *RepositoryBundle, tx port.TransactionManager, d dispatcher.Dispatcher) (workflow.Engine, error) {
	engine := workflow.NewEngine(repos.Ledger, tx, workflow.WithDispatcher(d))
	stores := repos.stores()
	for _, table := range workflow.BuildTables() {
		store, ok := stores[table.EntityType()]
		if !ok {
			return nil, fmt.Errorf("no store for entity type %s", table.EntityType())
		}
		engine.Register(table, store)
	}
	return engine, nil
}

// ProvideNotifier connects to NATS when a URL is configured and falls back to logging
func ProvideNotifier(cfg *NotifierConfig, logger *zap.Logger) (port.Notifier, error) {
	if cfg.NATSURL == "" {
		logger.Info("No NATS URL configured, events are logged only")
		return notifier.NewLogNotifier(logger), nil
	}

	conn, err := notifier.Connect(cfg.NATSURL, cfg.ClientName, logger)
	if err != nil {
		return nil, err
	}
	return notifier.NewNATSPublisher(conn, cfg.SubjectPrefix, logger), nil
}

// ProvideAuthorizer builds the role directory
func ProvideAuthorizer(directory map[string]string) (*authz.StaticDirectory, error) {
	return authz.NewStaticDirectory(directory)
}

// ServiceBundle groups all application services
type ServiceBundle struct {
	Procurement  service.ProcurementService
	Approval     service.ApprovalService
	Material     service.MaterialService
	Traceability service.TraceabilityService
	Audit        service.AuditService
}

// ServiceDeps holds dependencies for creating services
type ServiceDeps struct {
	Config     *Config
	Repos      *RepositoryBundle
	TxManager  port.TransactionManager
	Engine     workflow.Engine
	Authorizer port.Authorizer
	Dispatcher dispatcher.Dispatcher
	Logger     *zap.Logger
}

// ProvideServices creates the application services
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	policies, err := policy.NewRegistry(deps.Config.Approval.Policies...)
	if err != nil {
		return nil, fmt.Errorf("approval policies: %w", err)
	}

	log := utils.NewSugaredAdapter(deps.Logger)
	r := deps.Repos

	approvals := service.NewApprovalService(deps.Engine, r.Workflows, r.Ledger, deps.Authorizer, deps.TxManager, deps.Dispatcher, log)
	materials := service.NewMaterialService(deps.Engine, r.Instances, r.Allocations, r.Barcodes, r.Receipts, r.Orders, deps.TxManager, log)

	return &ServiceBundle{
		Approval: approvals,
		Material: materials,
		Procurement: service.NewProcurementService(deps.Engine, approvals, materials, r.Orders, r.Receipts, policies, deps.TxManager,
			service.ProcurementConfig{
				ReceiptTolerancePercent: deps.Config.Procurement.ReceiptTolerancePercent,
				DefaultCurrency:         deps.Config.Procurement.DefaultCurrency,
			}, log),
		Traceability: service.NewTraceabilityService(deps.Engine, r.Barcodes, r.Instances, deps.TxManager, log, deps.Config.Traceability.MaxDepth),
		Audit:        service.NewAuditService(r.Ledger, log),
	}, nil
}

// ProvideWorkers registers the background workers
func ProvideWorkers(cfg *ApprovalConfig, approvals service.ApprovalService, logger *zap.Logger) *worker.Manager {
	m := worker.NewManager(logger)
	m.Register(worker.NewEscalationWorker(approvals, cfg.EscalationInterval, nil, logger))
	return m
}
