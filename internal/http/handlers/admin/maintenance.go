package admin

import (
	handlershared "github.com/zk-express/agent-engine/internal/http/handlers/shared"
	"github.com/zk-express/agent-engine/internal/http/response"
	"github.com/zk-express/agent-engine/internal/models"
	"github.com/zk-express/agent-engine/internal/service"

	"github.com/gin-gonic/gin"
)

// GetSystemAnalytics 全局分配统计
func (h *Handler) GetSystemAnalytics(c *gin.Context) {
	days := handlershared.QueryInt(c, "days", h.Config.Allocation.DefaultAnalyticsDays)
	result, err := h.AnalyticsService.GetSystemAnalytics(c.Request.Context(), days)
	if err != nil {
		respondServiceError(c, err, "get analytics failed")
		return
	}
	response.Success(c, result)
}

// RunArchive 手动触发过期分配归档
func (h *Handler) RunArchive(c *gin.Context) {
	report, err := h.RetentionService.ArchiveExpired(c.Request.Context())
	if err != nil {
		respondServiceError(c, err, "archive allocations failed")
		return
	}
	handlershared.RequestLog(c).Infow("admin_archive_triggered",
		"scanned", report.Scanned,
		"archived", report.Archived,
	)
	h.audit(c, service.AuditRecordInput{
		Action: service.AuditActionMaintenanceArchive,
		Object: c.FullPath(),
		Detail: models.JSON{"scanned": report.Scanned, "archived": report.Archived},
	})
	response.Success(c, report)
}

// RefreshPerformance 手动刷新伙伴绩效快照
func (h *Handler) RefreshPerformance(c *gin.Context) {
	days := handlershared.QueryInt(c, "days", h.Config.Maintenance.PerformanceWindowDays)
	refreshed, err := h.AnalyticsService.RefreshPerformance(c.Request.Context(), days)
	if err != nil {
		respondServiceError(c, err, "refresh performance failed")
		return
	}
	h.audit(c, service.AuditRecordInput{
		Action: service.AuditActionMaintenanceRefresh,
		Object: c.FullPath(),
		Detail: models.JSON{"refreshed": refreshed, "days": days},
	})
	response.Success(c, gin.H{"refreshed": refreshed, "days": days})
}
