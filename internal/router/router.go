package router

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/zk-express/agent-engine/internal/authz"
	"github.com/zk-express/agent-engine/internal/cache"
	"github.com/zk-express/agent-engine/internal/config"
	adminhandlers "github.com/zk-express/agent-engine/internal/http/handlers/admin"
	enginehandlers "github.com/zk-express/agent-engine/internal/http/handlers/engine"
	"github.com/zk-express/agent-engine/internal/http/response"
	"github.com/zk-express/agent-engine/internal/logger"
	"github.com/zk-express/agent-engine/internal/models"
	"github.com/zk-express/agent-engine/internal/provider"

	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 2 * time.Second

var errDatabaseNotReady = errors.New("database not initialized")

// SetupRouter 初始化路由
func SetupRouter(cfg *config.Config, c *provider.Container) *gin.Engine {
	log := logger.L
	if log == nil {
		log = logger.Init(cfg.Server.Mode, cfg.Log.ToLoggerOptions())
	}
	r := gin.New()

	engineHandler := enginehandlers.New(c)
	adminHandler := adminhandlers.New(c)
	engineRule := RateLimitRule{
		Prefix:        cache.Key("rate", "engine"),
		WindowSeconds: cfg.Security.RateLimit.WindowSeconds,
		MaxRequests:   cfg.Security.RateLimit.MaxRequests,
	}

	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggerMiddleware(log))
	r.Use(CORSMiddleware(cfg.CORS))

	apiV1 := r.Group("/api/v1")
	{
		// 引擎接口（API Key）
		engine := apiV1.Group("")
		engine.Use(APIKeyMiddleware(cfg.Security.APIKeys), RateLimitMiddleware(cache.Client(), engineRule, KeyByAPIKey))
		{
			engine.POST("/reputation/score", engineHandler.ScoreEvent)
			engine.POST("/reputation/apply", engineHandler.ApplyReputation)
			engine.GET("/reputation/:user_id", engineHandler.GetReputation)
			engine.GET("/reputation/:user_id/entries", engineHandler.ListLedgerEntries)

			engine.POST("/allocations/decide", engineHandler.DecideAllocation)
			engine.POST("/allocations", engineHandler.CreateAllocation)
			engine.GET("/allocations", engineHandler.ListAllocations)
			engine.GET("/allocations/:id", engineHandler.GetAllocation)
			engine.PATCH("/allocations/:id/status", engineHandler.UpdateAllocationStatus)

			engine.POST("/orders", engineHandler.CreateOrder)
			engine.GET("/orders/:order_id", engineHandler.GetOrder)
			engine.POST("/orders/:order_id/delivery-failed", engineHandler.RecordDeliveryFailure)
			engine.POST("/orders/:order_id/return", engineHandler.RecordReturn)
			engine.POST("/orders/:order_id/complete", engineHandler.CompleteOrder)

			engine.POST("/behavior/positive", engineHandler.RecordPositiveBehavior)
			engine.POST("/risk-assessment", engineHandler.AssessRisk)
			engine.POST("/consult", engineHandler.Consult)
			engine.GET("/analytics/users/:user_id", engineHandler.GetUserAnalytics)
		}

		// 运营后台（JWT + casbin）
		admin := apiV1.Group("/admin")
		admin.Use(OperatorAuthMiddleware(c.AuthService))
		{
			// 仅需登录
			admin.GET("/me", adminHandler.GetMe)

			authorized := admin.Group("")
			authorized.Use(OperatorRBACMiddleware(c.AuthzService))
			{
				authorized.GET("/partners", adminHandler.ListPartners)
				authorized.POST("/partners", adminHandler.CreatePartner)
				authorized.POST("/partners/search", adminHandler.SearchPartners)
				authorized.POST("/partners/defaults", adminHandler.SeedDefaultPartners)
				authorized.GET("/partners/:id", adminHandler.GetPartner)
				authorized.PUT("/partners/:id/status", adminHandler.UpdatePartnerStatus)
				authorized.GET("/partners/:id/performance", adminHandler.GetPartnerPerformance)

				authorized.GET("/analytics", adminHandler.GetSystemAnalytics)
				authorized.POST("/maintenance/archive", adminHandler.RunArchive)
				authorized.POST("/maintenance/refresh-performance", adminHandler.RefreshPerformance)

				authorized.GET("/authz/roles", adminHandler.ListAuthzRoles)
				authorized.GET("/authz/roles/:role/policies", adminHandler.GetAuthzRolePolicies)
				authorized.DELETE("/authz/roles/:role", adminHandler.DeleteAuthzRole)
				authorized.POST("/authz/policies", adminHandler.GrantAuthzPolicy)
				authorized.DELETE("/authz/policies", adminHandler.RevokeAuthzPolicy)
				authorized.GET("/authz/operators/:id/roles", adminHandler.GetOperatorRoles)
				authorized.PUT("/authz/operators/:id/roles", adminHandler.SetOperatorRoles)
				authorized.GET("/authz/permissions", func(ctx *gin.Context) {
					response.Success(ctx, buildPermissionCatalog(r))
				})

				authorized.GET("/operators", adminHandler.ListOperators)
				authorized.POST("/operators/:id/revoke-tokens", adminHandler.RevokeOperatorTokens)
				authorized.PUT("/operators/:id/disabled", adminHandler.SetOperatorDisabled)
				authorized.GET("/audit-logs", adminHandler.ListAuditLogs)
			}
		}
	}

	r.GET("/health", healthHandler)

	return r
}

// healthHandler 数据库不可达时返回 503，Redis 仅作为附加信息
func healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	status := http.StatusOK
	checks := gin.H{"database": "ok"}
	if err := pingDatabase(ctx); err != nil {
		status = http.StatusServiceUnavailable
		checks["database"] = err.Error()
	}
	if cache.Enabled() {
		checks["redis"] = "ok"
		if err := cache.Ping(ctx); err != nil {
			checks["redis"] = err.Error()
		}
	} else {
		checks["redis"] = "disabled"
	}

	state := "ok"
	if status != http.StatusOK {
		state = "degraded"
	}
	c.JSON(status, gin.H{"status": state, "checks": checks})
}

func pingDatabase(ctx context.Context) error {
	if models.DB == nil {
		return errDatabaseNotReady
	}
	sqlDB, err := models.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

type permissionCatalogItem struct {
	Module     string `json:"module"`
	Method     string `json:"method"`
	Object     string `json:"object"`
	Permission string `json:"permission"`
}

// buildPermissionCatalog 从已注册路由推导运营端可授权的权限点
func buildPermissionCatalog(engine *gin.Engine) []permissionCatalogItem {
	if engine == nil {
		return []permissionCatalogItem{}
	}
	routes := engine.Routes()
	seen := make(map[string]struct{}, len(routes))
	items := make([]permissionCatalogItem, 0, len(routes))
	for _, item := range routes {
		method := strings.ToUpper(strings.TrimSpace(item.Method))
		if method == "" || method == "OPTIONS" || method == "HEAD" {
			continue
		}
		if !strings.HasPrefix(item.Path, "/api/v1/admin/") || item.Path == "/api/v1/admin/me" {
			continue
		}
		object := authz.NormalizeObject(item.Path)
		permission := method + ":" + object
		if _, exists := seen[permission]; exists {
			continue
		}
		seen[permission] = struct{}{}
		items = append(items, permissionCatalogItem{
			Module:     permissionModule(object),
			Method:     method,
			Object:     object,
			Permission: permission,
		})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Module != items[j].Module {
			return items[i].Module < items[j].Module
		}
		if items[i].Object != items[j].Object {
			return items[i].Object < items[j].Object
		}
		return items[i].Method < items[j].Method
	})
	return items
}

func permissionModule(object string) string {
	segments := strings.Split(strings.TrimPrefix(strings.TrimSpace(object), "/"), "/")
	if len(segments) < 2 || segments[0] != "admin" {
		return segments[0]
	}
	return segments[1]
}
