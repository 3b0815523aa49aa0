package provider

import (
	"context"
	"strings"

	"github.com/zk-express/agent-engine/internal/archive"
	"github.com/zk-express/agent-engine/internal/authz"
	"github.com/zk-express/agent-engine/internal/cache"
	"github.com/zk-express/agent-engine/internal/config"
	"github.com/zk-express/agent-engine/internal/events"
	"github.com/zk-express/agent-engine/internal/logger"
	"github.com/zk-express/agent-engine/internal/models"
	"github.com/zk-express/agent-engine/internal/oracle"
	"github.com/zk-express/agent-engine/internal/queue"
	"github.com/zk-express/agent-engine/internal/repository"
	"github.com/zk-express/agent-engine/internal/service"
)

// Container 依赖注入容器
type Container struct {
	Config      *config.Config
	QueueClient *queue.Client

	// 外部依赖
	CapacityStore service.CapacityStore
	Publisher     events.Publisher
	Archiver      archive.Archiver
	Oracle        service.ScoringOracle

	// Repositories
	LedgerRepo     *repository.GormLedgerRepository
	PartnerRepo    *repository.GormPartnerRepository
	AllocationRepo *repository.GormAllocationRepository
	OperatorRepo   *repository.GormOperatorRepository
	AuditLogRepo   *repository.GormAuditLogRepository

	// Services
	AuthzService          *authz.Service
	AuthService           *service.AuthService
	AuditService          *service.AuditService
	LedgerService         *service.LedgerService
	PartnerService        *service.PartnerService
	DecisionEngine        *service.DecisionEngine
	AllocationEngine      *service.AllocationEngine
	LifecycleDispatcher   *service.LifecycleDispatcher
	LifecycleService      *service.AllocationLifecycleService
	OrderWorkflowService  *service.OrderWorkflowService
	AnalyticsService      *service.AnalyticsService
	RiskAssessmentService *service.RiskAssessmentService
	ConsultationService   *service.ConsultationService
	RetentionService      *service.RetentionService
}

// NewContainer 初始化容器
func NewContainer(cfg *config.Config) *Container {
	// 初始化缓存
	if err := cache.InitRedis(&cfg.Redis); err != nil {
		logger.Warnw("provider_init_redis_failed", "error", err)
	}

	// 初始化队列客户端，未启用时得到直连模式的空客户端
	queueClient, err := queue.NewClient(&cfg.Queue)
	if err != nil {
		logger.Errorw("provider_init_queue_client_failed", "error", err)
		queueClient, _ = queue.NewClient(nil)
	}

	c := &Container{
		Config:      cfg,
		QueueClient: queueClient,
	}

	// 1. 外部依赖
	c.initAdapters()

	// 2. 初始化 Repositories
	c.initRepositories()

	// 3. 初始化 Services
	c.initServices()

	return c
}

func (c *Container) initAdapters() {
	if cache.Enabled() {
		c.CapacityStore = cache.NewRedisCapacityStore(cache.Client(), cache.Prefix())
	} else {
		logger.Warnw("provider_capacity_store_in_memory", "reason", "redis_disabled")
		c.CapacityStore = cache.NewMemoryCapacityStore()
	}

	publisher, err := events.NewPublisher(c.Config.Events)
	if err != nil {
		logger.Warnw("provider_init_event_publisher_failed", "error", err)
		publisher = events.NoopPublisher{}
	}
	c.Publisher = publisher

	archiver, err := archive.New(context.Background(), c.Config.Archive)
	if err != nil {
		logger.Warnw("provider_init_archiver_failed", "error", err)
		archiver = archive.NoopArchiver{}
	}
	c.Archiver = archiver

	c.Oracle = newScoringOracle(c.Config.Oracle)
}

func newScoringOracle(cfg config.OracleConfig) service.ScoringOracle {
	if !cfg.Enabled || strings.TrimSpace(cfg.APIKey) == "" {
		logger.Infow("provider_oracle_disabled", "enabled", cfg.Enabled)
		return oracle.Disabled{}
	}
	client, err := oracle.NewClient(oracle.Config{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Timeout:     cfg.Timeout(),
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
	}, nil)
	if err != nil {
		logger.Warnw("provider_init_oracle_failed", "error", err)
		return oracle.Disabled{}
	}
	return client
}

func (c *Container) initRepositories() {
	db := models.DB
	c.LedgerRepo = repository.NewLedgerRepository(db)
	c.PartnerRepo = repository.NewPartnerRepository(db)
	c.AllocationRepo = repository.NewAllocationRepository(db)
	c.OperatorRepo = repository.NewOperatorRepository(db)
	c.AuditLogRepo = repository.NewAuditLogRepository(db)
}

func (c *Container) initServices() {
	authzService, err := authz.NewService(models.DB)
	if err != nil {
		logger.Errorw("provider_init_authz_failed", "error", err)
		panic(err)
	}
	c.AuthzService = authzService
	if err := c.AuthzService.BootstrapBuiltinRoles(); err != nil {
		logger.Errorw("provider_bootstrap_builtin_roles_failed", "error", err)
		panic(err)
	}

	allocationCfg := c.Config.Allocation
	maintenanceCfg := c.Config.Maintenance

	c.AuthService = service.NewAuthService(c.Config, c.OperatorRepo)
	c.AuditService = service.NewAuditService(c.AuditLogRepo)
	c.LedgerService = service.NewLedgerService(c.LedgerRepo, allocationCfg.RecentOrderLimit)
	c.PartnerService = service.NewPartnerService(c.PartnerRepo, c.CapacityStore)
	c.DecisionEngine = service.NewDecisionEngine(c.LedgerService, c.Oracle)
	c.AllocationEngine = service.NewAllocationEngine(c.LedgerService, c.PartnerService, c.Oracle)
	c.LifecycleDispatcher = service.NewLifecycleDispatcher(c.QueueClient, c.Publisher)
	c.LifecycleService = service.NewAllocationLifecycleService(c.AllocationRepo, c.PartnerService, c.LifecycleDispatcher, allocationCfg.EstimatedDeliveryHours)
	c.OrderWorkflowService = service.NewOrderWorkflowService(c.LedgerService, c.DecisionEngine, c.AllocationEngine, c.LifecycleService, c.QueueClient)
	c.AnalyticsService = service.NewAnalyticsService(c.AllocationRepo, c.PartnerService, c.PartnerService)
	c.RiskAssessmentService = service.NewRiskAssessmentService(c.LedgerService, c.Oracle)
	c.ConsultationService = service.NewConsultationService(c.LedgerService, c.LifecycleService, c.Oracle)
	c.RetentionService = service.NewRetentionService(c.AllocationRepo, c.LifecycleService, c.Archiver, maintenanceCfg.RetentionDays, maintenanceCfg.RetentionBatchSize)
}

// Close 释放外部连接
func (c *Container) Close() {
	if c == nil {
		return
	}
	if c.QueueClient != nil {
		if err := c.QueueClient.Close(); err != nil {
			logger.Warnw("provider_close_queue_client_failed", "error", err)
		}
	}
	if c.Publisher != nil {
		if err := c.Publisher.Close(); err != nil {
			logger.Warnw("provider_close_event_publisher_failed", "error", err)
		}
	}
	if err := cache.Close(); err != nil {
		logger.Warnw("provider_close_redis_failed", "error", err)
	}
}
