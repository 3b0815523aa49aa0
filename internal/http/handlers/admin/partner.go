package admin

import (
	"strings"

	handlershared "github.com/zk-express/agent-engine/internal/http/handlers/shared"
	"github.com/zk-express/agent-engine/internal/http/response"
	"github.com/zk-express/agent-engine/internal/models"
	"github.com/zk-express/agent-engine/internal/repository"
	"github.com/zk-express/agent-engine/internal/service"

	"github.com/gin-gonic/gin"
)

const recentAllocationsLimit = 10

type createPartnerRequest struct {
	ID                     string        `json:"id"`
	Name                   string        `json:"name" binding:"required"`
	MinReputationThreshold *int64        `json:"min_reputation_threshold"`
	MaxReputationThreshold *int64        `json:"max_reputation_threshold"`
	ServiceAreas           []string      `json:"service_areas"`
	DailyOrderLimit        *int          `json:"daily_order_limit"`
	MinOrderValue          *models.Money `json:"min_order_value"`
	MaxOrderValue          *models.Money `json:"max_order_value"`
	SpecialCapabilities    []string      `json:"special_capabilities"`
	PreferredCategories    []string      `json:"preferred_categories"`
	DeliveryTypes          []string      `json:"delivery_types"`
	ContactInfo            models.JSON   `json:"contact_info"`
}

type partnerStatusRequest struct {
	Status string `json:"status" binding:"required"`
}

type partnerSearchRequest struct {
	Area          string        `json:"area"`
	MinReputation *int64        `json:"min_reputation"`
	MaxOrderValue *models.Money `json:"max_order_value"`
	Status        string        `json:"status"`
	Page          int           `json:"page"`
	PageSize      int           `json:"page_size"`
}

// ListPartners 分页查询伙伴
func (h *Handler) ListPartners(c *gin.Context) {
	page, pageSize := handlershared.ParsePagination(c)
	filter := repository.PartnerListFilter{
		Page:     page,
		PageSize: pageSize,
		Status:   strings.ToLower(strings.TrimSpace(c.Query("status"))),
		Search:   strings.TrimSpace(c.Query("search")),
	}
	partners, total, err := h.PartnerService.ListPartners(c.Request.Context(), filter)
	if err != nil {
		respondServiceError(c, err, "list partners failed")
		return
	}
	response.SuccessWithPage(c, partners, response.NewPagination(page, pageSize, total))
}

// GetPartner 查询单个伙伴
func (h *Handler) GetPartner(c *gin.Context) {
	partner, err := h.PartnerService.GetPartner(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err, "get partner failed")
		return
	}
	response.Success(c, partner)
}

// CreatePartner 新增伙伴
func (h *Handler) CreatePartner(c *gin.Context) {
	var req createPartnerRequest
	if !bindJSON(c, &req) {
		return
	}
	partner, err := h.PartnerService.CreatePartner(c.Request.Context(), service.CreatePartnerInput{
		ID:                     req.ID,
		Name:                   req.Name,
		MinReputationThreshold: req.MinReputationThreshold,
		MaxReputationThreshold: req.MaxReputationThreshold,
		ServiceAreas:           req.ServiceAreas,
		DailyOrderLimit:        req.DailyOrderLimit,
		MinOrderValue:          req.MinOrderValue,
		MaxOrderValue:          req.MaxOrderValue,
		SpecialCapabilities:    req.SpecialCapabilities,
		PreferredCategories:    req.PreferredCategories,
		DeliveryTypes:          req.DeliveryTypes,
		ContactInfo:            req.ContactInfo,
	})
	if err != nil {
		respondServiceError(c, err, "create partner failed")
		return
	}
	h.audit(c, service.AuditRecordInput{
		Action:    service.AuditActionPartnerCreate,
		PartnerID: partner.ID,
		Object:    c.FullPath(),
		Detail:    models.JSON{"name": partner.Name, "service_areas": req.ServiceAreas},
	})
	response.Created(c, partner)
}

// UpdatePartnerStatus 切换伙伴运营状态
func (h *Handler) UpdatePartnerStatus(c *gin.Context) {
	var req partnerStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	partner, err := h.PartnerService.UpdatePartnerStatus(c.Request.Context(), c.Param("id"), req.Status)
	if err != nil {
		respondServiceError(c, err, "update partner status failed")
		return
	}
	h.audit(c, service.AuditRecordInput{
		Action:    service.AuditActionPartnerStatus,
		PartnerID: partner.ID,
		Object:    c.FullPath(),
		Detail:    models.JSON{"status": partner.OperationalStatus},
	})
	response.Success(c, partner)
}

// SearchPartners 按条件检索伙伴
func (h *Handler) SearchPartners(c *gin.Context) {
	var req partnerSearchRequest
	if !bindJSON(c, &req) {
		return
	}
	partners, err := h.PartnerService.SearchPartners(c.Request.Context(), service.PartnerSearchInput{
		Area:          req.Area,
		MinReputation: req.MinReputation,
		MaxOrderValue: req.MaxOrderValue,
		Status:        req.Status,
		Page:          req.Page,
		PageSize:      req.PageSize,
	})
	if err != nil {
		respondServiceError(c, err, "search partners failed")
		return
	}
	response.Success(c, partners)
}

// SeedDefaultPartners 写入默认伙伴
func (h *Handler) SeedDefaultPartners(c *gin.Context) {
	created, err := h.PartnerService.SeedDefaultPartners(c.Request.Context())
	if err != nil {
		respondServiceError(c, err, "seed partners failed")
		return
	}
	h.audit(c, service.AuditRecordInput{
		Action: service.AuditActionPartnerSeed,
		Object: c.FullPath(),
		Detail: models.JSON{"created": created},
	})
	response.Success(c, gin.H{"created": created})
}

// GetPartnerPerformance 伙伴绩效、在途量与最近分配
func (h *Handler) GetPartnerPerformance(c *gin.Context) {
	ctx := c.Request.Context()
	partner, err := h.PartnerService.GetPartner(ctx, c.Param("id"))
	if err != nil {
		respondServiceError(c, err, "get partner failed")
		return
	}
	days := handlershared.QueryInt(c, "days", h.Config.Allocation.DefaultAnalyticsDays)
	performance, err := h.AnalyticsService.GetPartnerAnalytics(ctx, partner.ID, days)
	if err != nil {
		respondServiceError(c, err, "get partner performance failed")
		return
	}
	recent, _, err := h.LifecycleService.ListByPartner(ctx, partner.ID, 1, recentAllocationsLimit)
	if err != nil {
		respondServiceError(c, err, "list recent allocations failed")
		return
	}
	response.Success(c, gin.H{
		"partner":            partner,
		"performance":        performance,
		"recent_allocations": recent,
	})
}
