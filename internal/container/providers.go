package container

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/garyjia/procure-approval/internal/application/dispatcher"
	"github.com/garyjia/procure-approval/internal/application/port"
	"github.com/garyjia/procure-approval/internal/application/service"
	natspub "github.com/garyjia/procure-approval/internal/infrastructure/external/nats"
	"github.com/garyjia/procure-approval/internal/infrastructure/observability"
	"github.com/garyjia/procure-approval/internal/infrastructure/persistence/repository"
	"github.com/garyjia/procure-approval/internal/infrastructure/persistence/sqlite"
	"github.com/garyjia/procure-approval/internal/infrastructure/worker"
	httpapi "github.com/garyjia/procure-approval/internal/interfaces/http"
	"github.com/garyjia/procure-approval/pkg/database"
	"github.com/garyjia/procure-approval/pkg/utils"
)

// DatabaseBundle holds database-related components.
type DatabaseBundle struct {
	DB             *database.DB
	SqlDB          *sql.DB
	TransactionMgr *sqlite.DB
}

// ProvideDatabase opens the database and builds the transaction manager.
// Pending migrations are applied when cfg.AutoMigrate is set.
func ProvideDatabase(ctx context.Context, cfg *DatabaseConfig, logger *zap.Logger) (*DatabaseBundle, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database config is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	db, err := database.New(database.Config{
		Path:            cfg.Path,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, err
	}

	if cfg.AutoMigrate {
		applied, err := database.NewMigrator(db, logger).Run(ctx, database.Migrations())
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("Migrations checked", zap.Int("applied", applied))
	}

	return &DatabaseBundle{
		DB:             db,
		SqlDB:          db.DB,
		TransactionMgr: sqlite.NewDB(db.DB, logger),
	}, nil
}

// ProvideRepositories creates all repositories from a database connection.
func ProvideRepositories(sqlDB *sql.DB, logger *zap.Logger) (*RepositoryBundle, error) {
	if sqlDB == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	return &RepositoryBundle{
		Template:   repository.NewTemplateRepository(sqlDB, logger),
		BudgetRule: repository.NewBudgetRuleRepository(sqlDB, logger),
		Instance:   repository.NewInstanceRepository(sqlDB, logger),
		Department: repository.NewDepartmentRepository(sqlDB, logger),
	}, nil
}

// ProvideDispatcher creates the event dispatcher.
func ProvideDispatcher(logger *zap.Logger) (dispatcher.Dispatcher, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return dispatcher.NewDispatcher(
		dispatcher.WithLogger(utils.NewKVLogger(logger)),
	), nil
}

// ProvideNotifier connects the NATS publisher. It returns nil when
// publishing is disabled or the server cannot be reached; approvals never
// depend on notification delivery.
func ProvideNotifier(cfg *NATSConfig, logger *zap.Logger) *natspub.Publisher {
	if cfg == nil || !cfg.Enabled {
		logger.Info("NATS publishing disabled")
		return nil
	}

	pub, err := natspub.Connect(natspub.Config{
		URL:           cfg.URL,
		ClientName:    cfg.ClientName,
		SubjectPrefix: cfg.SubjectPrefix,
		MaxReconnects: cfg.MaxReconnects,
		ReconnectWait: cfg.ReconnectWait,
		FlushTimeout:  cfg.FlushTimeout,
	}, logger.Named("nats"))
	if err != nil {
		logger.Warn("NATS unavailable, approval events will not be published", zap.Error(err))
		return nil
	}
	return pub
}

// RegisterEventHandlers subscribes the metrics recorder and, when present,
// the notifier to every approval event.
func RegisterEventHandlers(disp dispatcher.Dispatcher, notifier *natspub.Publisher) error {
	if disp == nil {
		return fmt.Errorf("dispatcher is required")
	}
	disp.SubscribeAll("metrics", observability.RecordEvent)
	if notifier != nil {
		disp.SubscribeAll("nats-notifier", notifier.Handle)
	}
	return nil
}

// ServiceDeps holds dependencies required for creating services.
type ServiceDeps struct {
	Repos     *RepositoryBundle
	TxManager port.TransactionManager
	Events    service.EventPublisher
	Logger    *zap.Logger
}

// ProvideServices creates all application services.
func ProvideServices(deps *ServiceDeps) (*ServiceBundle, error) {
	if deps == nil {
		return nil, fmt.Errorf("service dependencies are required")
	}
	if deps.Repos == nil {
		return nil, fmt.Errorf("repositories are required")
	}
	if deps.TxManager == nil {
		return nil, fmt.Errorf("transaction manager is required")
	}
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	serviceLogger := utils.NewKVLogger(deps.Logger.Named("service"))
	repos := deps.Repos

	templates := service.NewTemplateService(repos.Template, repos.Department, deps.TxManager, serviceLogger)
	rules := service.NewBudgetRuleService(repos.BudgetRule, repos.Department, deps.TxManager, serviceLogger)

	return &ServiceBundle{
		Templates:   templates,
		BudgetRules: rules,
		Instances: service.NewInstanceService(
			repos.Instance,
			repos.Template,
			rules,
			deps.TxManager,
			deps.Events,
			serviceLogger,
		),
		Approvals: service.NewApprovalService(
			repos.Instance,
			repos.Template,
			templates,
			rules,
			deps.TxManager,
			deps.Events,
			serviceLogger,
		),
		Departments: service.NewDepartmentService(repos.Department, serviceLogger),
	}, nil
}

// ProvideHTTPServer creates the REST adapter over the services.
func ProvideHTTPServer(cfg *ServerConfig, services *ServiceBundle, health httpapi.HealthFunc, logger *zap.Logger) (*httpapi.Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("server config is required")
	}
	if services == nil {
		return nil, fmt.Errorf("services are required")
	}

	return httpapi.NewServer(httpapi.ServerConfig{
		Host:           cfg.Host,
		Port:           cfg.Port,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		RequestTimeout: cfg.RequestTimeout,
	}, httpapi.Services{
		Templates:   services.Templates,
		BudgetRules: services.BudgetRules,
		Instances:   services.Instances,
		Approvals:   services.Approvals,
		Departments: services.Departments,
	}, health, utils.NewKVLogger(logger.Named("http"))), nil
}

// ProvideWorkers builds the background worker manager. Only workers with a
// positive interval are registered.
func ProvideWorkers(cfg *WorkersConfig, services *ServiceBundle, logger *zap.Logger) (*worker.Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("workers config is required")
	}
	if services == nil {
		return nil, fmt.Errorf("services are required")
	}

	workerLogger := logger.Named("worker")
	manager := worker.NewManager(workerLogger)
	if cfg.OverlapAuditInterval > 0 {
		manager.Register(worker.NewOverlapAuditor(services.BudgetRules, cfg.OverlapAuditInterval, workerLogger))
	}
	return manager, nil
}
