package container

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/aerotrace/material-lifecycle/internal/application/dispatcher"
	"github.com/aerotrace/material-lifecycle/internal/application/port"
	"github.com/aerotrace/material-lifecycle/internal/application/workflow"
	"github.com/aerotrace/material-lifecycle/internal/infrastructure/notifier"
	"github.com/aerotrace/material-lifecycle/internal/infrastructure/persistence/sqlite"
	"github.com/aerotrace/material-lifecycle/internal/infrastructure/worker"
	"github.com/aerotrace/material-lifecycle/pkg/database"
	"github.com/aerotrace/material-lifecycle/pkg/utils"
)

// Container manages all application dependencies and lifecycle.
// Components are initialized in dependency order and torn down in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	rawDB        *database.DB
	db           *sqlite.DB
	repositories *RepositoryBundle

	notifier   port.Notifier
	authorizer port.Authorizer

	dispatcher dispatcher.Dispatcher
	engine     workflow.Engine
	services   *ServiceBundle

	workers *worker.Manager

	mu     sync.Mutex
	ready  atomic.Bool
	closed atomic.Bool
}

// HealthStatus represents the health of all components
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer validates the configuration. Call Start to build the components.
func NewContainer(cfg *Config, logger *zap.Logger) (*Container, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Container{config: cfg, logger: logger}, nil
}

// Start initializes all components and starts the background workers:
// database and repositories, directory, notifier, dispatcher and engine, services, workers
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.logger.Info("Starting container initialization")

	dbBundle, err := ProvideDatabase(&c.config.Database, c.logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.rawDB = dbBundle.Raw
	c.db = dbBundle.TxManager
	c.repositories = ProvideRepositories(c.db, c.logger)
	c.logger.Info("Database initialized")

	directory, err := ProvideAuthorizer(c.config.Directory)
	if err != nil {
		return c.abortStart(fmt.Errorf("failed to initialize directory: %w", err))
	}
	c.authorizer = directory

	if c.notifier, err = ProvideNotifier(&c.config.Notifier, c.logger); err != nil {
		return c.abortStart(fmt.Errorf("failed to initialize notifier: %w", err))
	}

	c.dispatcher = dispatcher.NewDispatcher(dispatcher.WithLogger(utils.NewSugaredAdapter(c.logger)))
	notifier.Forward(c.dispatcher, c.notifier, c.logger)

	if c.engine, err = ProvideEngine(c.repositories, c.db, c.dispatcher); err != nil {
		return c.abortStart(fmt.Errorf("failed to initialize engine: %w", err))
	}
	c.logger.Info("Dispatcher and state machine engine initialized")

	c.services, err = ProvideServices(&ServiceDeps{
		Config:     c.config,
		Repos:      c.repositories,
		TxManager:  c.db,
		Engine:     c.engine,
		Authorizer: c.authorizer,
		Dispatcher: c.dispatcher,
		Logger:     c.logger,
	})
	if err != nil {
		return c.abortStart(fmt.Errorf("failed to initialize services: %w", err))
	}
	c.logger.Info("Application services initialized")

	c.workers = ProvideWorkers(&c.config.Approval, c.services.Approval, c.logger)
	if err := c.workers.StartAll(ctx); err != nil {
		return c.abortStart(fmt.Errorf("failed to start workers: %w", err))
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// abortStart releases what Start acquired so far
func (c *Container) abortStart(err error) error {
	c.teardown()
	return err
}

// Close stops the workers, drains the dispatcher and notifier, then closes the database
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("container already closed")
	}
	c.ready.Store(false)

	c.logger.Info("Closing container")
	if errs := c.teardown(); len(errs) > 0 {
		c.logger.Error("Container closed with errors", zap.Int("error_count", len(errs)))
		return fmt.Errorf("container closed with %d errors: %w", len(errs), errs[0])
	}

	c.logger.Info("Container closed successfully")
	return nil
}

func (c *Container) teardown() []error {
	var errs []error
	step := func(name string, fn func() error) {
		if err := fn(); err != nil {
			c.logger.Error("Shutdown step failed", zap.String("component", name), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	if c.workers != nil {
		step("workers", c.workers.StopAll)
		c.workers = nil
	}
	if c.dispatcher != nil {
		step("dispatcher", c.dispatcher.Close)
		c.dispatcher = nil
	}
	if c.notifier != nil {
		step("notifier", c.notifier.Close)
		c.notifier = nil
	}
	if c.rawDB != nil {
		step("database", c.rawDB.Close)
		c.rawDB = nil
	}
	return errs
}

// Ready reports whether Start completed
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Services returns the application services; nil before Start
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Engine returns the state machine engine; nil before Start
func (c *Container) Engine() workflow.Engine {
	return c.engine
}

// Authorizer returns the role directory; nil before Start
func (c *Container) Authorizer() port.Authorizer {
	return c.authorizer
}

// Config returns the container configuration
func (c *Container) Config() *Config {
	return c.config
}

// Health pings the database and reports worker state
func (c *Container) Health() *HealthStatus {
	status := &HealthStatus{Overall: true, Components: make(map[string]ComponentHealth)}
	set := func(name string, h ComponentHealth) {
		status.Components[name] = h
		if !h.Healthy {
			status.Overall = false
		}
	}

	if c.rawDB == nil {
		set("database", ComponentHealth{Message: "not initialized"})
	} else if err := c.rawDB.Ping(); err != nil {
		set("database", ComponentHealth{Message: fmt.Sprintf("ping failed: %v", err)})
	} else {
		set("database", ComponentHealth{Healthy: true})
	}

	if c.workers == nil {
		set("workers", ComponentHealth{Message: "not initialized"})
	} else {
		set("workers", ComponentHealth{
			Healthy: c.workers.IsRunning(),
			Message: fmt.Sprintf("worker count: %d", c.workers.Count()),
		})
	}

	if c.dispatcher == nil {
		set("dispatcher", ComponentHealth{Message: "not initialized"})
	} else {
		set("dispatcher", ComponentHealth{Healthy: true})
	}

	return status
}
