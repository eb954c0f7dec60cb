package container

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/garyjia/procure-approval/internal/application/dispatcher"
	"github.com/garyjia/procure-approval/internal/application/port"
	"github.com/garyjia/procure-approval/internal/application/service"
	natspub "github.com/garyjia/procure-approval/internal/infrastructure/external/nats"
	"github.com/garyjia/procure-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/procure-approval/internal/infrastructure/worker"
	httpapi "github.com/garyjia/procure-approval/internal/interfaces/http"
	"github.com/garyjia/procure-approval/pkg/database"
)

// Container manages all application dependencies and lifecycle.
// Components start in dependency order and stop in reverse.
type Container struct {
	config *Config
	logger *zap.Logger

	// Infrastructure - Data
	database     *database.DB
	db           *sqlite.DB
	repositories *RepositoryBundle

	// Infrastructure - External
	notifier *natspub.Publisher

	// Application
	dispatcher dispatcher.Dispatcher
	services   *ServiceBundle
	workers    *worker.Manager

	// Interfaces
	server *httpapi.Server

	// Lifecycle
	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	ready  atomic.Bool
	closed atomic.Bool
}

// RepositoryBundle groups all repositories for convenient access.
type RepositoryBundle struct {
	Template   port.TemplateRepository
	BudgetRule port.BudgetRuleRepository
	Instance   port.InstanceRepository
	Department port.DepartmentRepository
}

// ServiceBundle groups all application services.
type ServiceBundle struct {
	Templates   service.TemplateService
	BudgetRules service.BudgetRuleService
	Instances   service.InstanceService
	Approvals   service.ApprovalService
	Departments service.DepartmentService
}

// HealthStatus represents the health of all components.
type HealthStatus struct {
	Overall    bool                       `json:"overall"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents health of a single component.
type ComponentHealth struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// NewContainer creates a new container from configuration.
// It does not initialize components - call Start() to initialize.
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

	return &Container{
		config: cfg,
		logger: logger,
	}, nil
}

// Start initializes all components.
// Components are initialized in dependency order:
// 1. Database, migrations and repositories
// 2. Event dispatcher and its subscribers (metrics, NATS)
// 3. Application services
// 4. Background workers
// 5. HTTP server
func (c *Container) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container has been closed")
	}
	if c.ready.Load() {
		return fmt.Errorf("container already started")
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("Starting container initialization")

	if err := c.initDatabase(); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	c.logger.Info("Database initialized")

	if err := c.initDispatcher(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize dispatcher: %w", err)
	}
	c.logger.Info("Dispatcher initialized")

	if err := c.initServices(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	c.logger.Info("Application services initialized")

	if err := c.initWorkers(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to start workers: %w", err)
	}

	if err := c.initServer(); err != nil {
		c.teardown()
		return fmt.Errorf("failed to initialize http server: %w", err)
	}

	c.ready.Store(true)
	c.logger.Info("Container started successfully")
	return nil
}

// Close gracefully shuts down all components in reverse order.
func (c *Container) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed.Load() {
		return fmt.Errorf("container already closed")
	}

	c.logger.Info("Closing container")
	err := c.teardown()

	c.closed.Store(true)
	c.ready.Store(false)

	if err != nil {
		c.logger.Error("Container closed with errors", zap.Error(err))
		return err
	}
	c.logger.Info("Container closed successfully")
	return nil
}

// teardown releases whatever has been initialized so far
func (c *Container) teardown() error {
	var errs []error

	if c.cancel != nil {
		c.cancel()
	}

	if c.workers != nil {
		if err := c.workers.StopAll(); err != nil {
			errs = append(errs, fmt.Errorf("stop workers: %w", err))
		}
	}

	if c.dispatcher != nil {
		if err := c.dispatcher.Close(); err != nil {
			c.logger.Error("Failed to close dispatcher", zap.Error(err))
			errs = append(errs, fmt.Errorf("close dispatcher: %w", err))
		} else {
			c.logger.Info("Dispatcher closed")
		}
	}

	if c.notifier != nil {
		if err := c.notifier.Close(); err != nil {
			c.logger.Error("Failed to drain NATS connection", zap.Error(err))
			errs = append(errs, fmt.Errorf("close nats: %w", err))
		} else {
			c.logger.Info("NATS connection drained")
		}
	}

	if c.database != nil {
		if err := c.database.Close(); err != nil {
			c.logger.Error("Failed to close database", zap.Error(err))
			errs = append(errs, fmt.Errorf("close database: %w", err))
		} else {
			c.logger.Info("Database closed")
		}
		c.database = nil
	}

	return errors.Join(errs...)
}

// Ready returns true when all components are initialized.
func (c *Container) Ready() bool {
	return c.ready.Load()
}

// Health returns health status of all components.
func (c *Container) Health(ctx context.Context) *HealthStatus {
	status := &HealthStatus{
		Overall:    true,
		Components: make(map[string]ComponentHealth),
	}
	set := func(name string, healthy bool, msg string) {
		status.Components[name] = ComponentHealth{Healthy: healthy, Message: msg}
		if !healthy {
			status.Overall = false
		}
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.db != nil {
		if err := c.db.Health(ctx); err != nil {
			set("database", false, fmt.Sprintf("ping failed: %v", err))
		} else {
			set("database", true, "")
		}
	} else {
		set("database", false, "not initialized")
	}

	if c.dispatcher != nil {
		set("dispatcher", true, "")
	} else {
		set("dispatcher", false, "not initialized")
	}

	// Notification delivery is best effort; a lost connection is reported
	// without failing the overall status.
	switch {
	case !c.config.NATS.Enabled:
		status.Components["nats"] = ComponentHealth{Healthy: true, Message: "disabled"}
	case c.notifier == nil:
		status.Components["nats"] = ComponentHealth{Healthy: false, Message: "not connected"}
	default:
		status.Components["nats"] = ComponentHealth{Healthy: c.notifier.Healthy()}
	}

	return status
}

func (c *Container) initDatabase() error {
	bundle, err := ProvideDatabase(c.ctx, &c.config.Database, c.logger)
	if err != nil {
		return err
	}
	c.database = bundle.DB
	c.db = bundle.TransactionMgr

	repos, err := ProvideRepositories(bundle.SqlDB, c.logger)
	if err != nil {
		c.teardown()
		return err
	}
	c.repositories = repos
	return nil
}

func (c *Container) initDispatcher() error {
	disp, err := ProvideDispatcher(c.logger)
	if err != nil {
		return err
	}
	c.dispatcher = disp
	c.notifier = ProvideNotifier(&c.config.NATS, c.logger)
	return RegisterEventHandlers(c.dispatcher, c.notifier)
}

func (c *Container) initServices() error {
	services, err := ProvideServices(&ServiceDeps{
		Repos:     c.repositories,
		TxManager: c.db,
		Events:    c.dispatcher,
		Logger:    c.logger,
	})
	if err != nil {
		return err
	}
	c.services = services
	return nil
}

func (c *Container) initWorkers() error {
	workers, err := ProvideWorkers(&c.config.Workers, c.services, c.logger)
	if err != nil {
		return err
	}
	c.workers = workers
	return workers.StartAll(c.ctx)
}

func (c *Container) initServer() error {
	health := func(ctx context.Context) (bool, interface{}) {
		s := c.Health(ctx)
		return s.Overall, s.Components
	}
	server, err := ProvideHTTPServer(&c.config.Server, c.services, health, c.logger)
	if err != nil {
		return err
	}
	c.server = server
	return nil
}

// Getters for accessing container components

// DB returns the transaction manager.
func (c *Container) DB() port.TransactionManager {
	return c.db
}

// Repositories returns all repositories.
func (c *Container) Repositories() *RepositoryBundle {
	return c.repositories
}

// Dispatcher returns the event dispatcher.
func (c *Container) Dispatcher() dispatcher.Dispatcher {
	return c.dispatcher
}

// Services returns all application services.
func (c *Container) Services() *ServiceBundle {
	return c.services
}

// Workers returns the background worker manager.
func (c *Container) Workers() *worker.Manager {
	return c.workers
}

// HTTPServer returns the REST adapter. Its Start(ctx) blocks until ctx is
// cancelled and then shuts the listener down; Close does not stop it.
func (c *Container) HTTPServer() *httpapi.Server {
	return c.server
}

// Logger returns the container's logger.
func (c *Container) Logger() *zap.Logger {
	return c.logger
}

// Config returns the container's configuration.
func (c *Container) Config() *Config {
	return c.config
}
