package engine

import (
	"fmt"
	"strings"

	handlershared "github.com/zk-express/agent-engine/internal/http/handlers/shared"
	"github.com/zk-express/agent-engine/internal/http/response"
	"github.com/zk-express/agent-engine/internal/models"
	"github.com/zk-express/agent-engine/internal/service"

	"github.com/gin-gonic/gin"
)

type allocateRequest struct {
	UserID              string       `json:"user_id" binding:"required"`
	OrderID             string       `json:"order_id"`
	OrderValue          models.Money `json:"order_value"`
	ProductCategory     string       `json:"product_category"`
	Destination         string       `json:"destination" binding:"required"`
	CandidatePartnerIDs []string     `json:"candidate_partner_ids"`
}

type feedbackRequest struct {
	CustomerRating *float64 `json:"customer_rating"`
	PartnerRating  *float64 `json:"partner_rating"`
	Comments       string   `json:"comments"`
}

func (r *feedbackRequest) toService() *service.AllocationFeedback {
	if r == nil {
		return nil
	}
	return &service.AllocationFeedback{
		CustomerRating: r.CustomerRating,
		PartnerRating:  r.PartnerRating,
		Comments:       r.Comments,
	}
}

type updateStatusRequest struct {
	Status           string           `json:"status" binding:"required"`
	FailureReason    string           `json:"failure_reason"`
	ReturnReason     string           `json:"return_reason"`
	DeliveryAttempts *int             `json:"delivery_attempts"`
	Feedback         *feedbackRequest `json:"feedback"`
}

// DecideAllocation 计算分配决策（不落库）
func (h *Handler) DecideAllocation(c *gin.Context) {
	var req allocateRequest
	if !bindJSON(c, &req) {
		return
	}
	decision, ok := h.decide(c, req)
	if !ok {
		return
	}
	response.Success(c, decision)
}

// CreateAllocation 计算分配决策并落库
func (h *Handler) CreateAllocation(c *gin.Context) {
	var req allocateRequest
	if !bindJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.OrderID) == "" {
		handlershared.RespondError(c, response.CodeBadRequest, "order_id is required", nil)
		return
	}
	decision, ok := h.decide(c, req)
	if !ok {
		return
	}
	allocation, err := h.LifecycleService.CreateAllocation(c.Request.Context(), decision)
	if err != nil {
		respondServiceError(c, err, "create allocation failed")
		return
	}
	response.Created(c, gin.H{
		"decision":   decision,
		"allocation": allocation,
	})
}

func (h *Handler) decide(c *gin.Context, req allocateRequest) (*service.AllocationDecision, bool) {
	ctx := c.Request.Context()
	input := service.AllocateInput{
		UserID:          req.UserID,
		OrderID:         req.OrderID,
		OrderValue:      req.OrderValue,
		ProductCategory: req.ProductCategory,
		Destination:     req.Destination,
	}
	if len(req.CandidatePartnerIDs) > 0 {
		candidates := make([]models.LogisticsPartner, 0, len(req.CandidatePartnerIDs))
		for _, id := range req.CandidatePartnerIDs {
			partner, err := h.PartnerService.GetPartner(ctx, id)
			if err != nil {
				respondServiceError(c, fmt.Errorf("candidate %s: %w", id, err), "load candidate partners failed")
				return nil, false
			}
			candidates = append(candidates, *partner)
		}
		input.Candidates = candidates
	}
	decision, err := h.AllocationEngine.Allocate(ctx, input)
	if err != nil {
		respondServiceError(c, err, "allocate failed")
		return nil, false
	}
	return decision, true
}

// GetAllocation 查询分配记录
func (h *Handler) GetAllocation(c *gin.Context) {
	allocation, err := h.LifecycleService.GetAllocation(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondServiceError(c, err, "get allocation failed")
		return
	}
	response.Success(c, allocation)
}

// ListAllocations 按用户或伙伴分页查询分配记录
func (h *Handler) ListAllocations(c *gin.Context) {
	page, pageSize := handlershared.ParsePagination(c)
	userID := strings.TrimSpace(c.Query("user_id"))
	partnerID := strings.TrimSpace(c.Query("partner_id"))

	var (
		items []models.OrderAllocation
		total int64
		err   error
	)
	switch {
	case userID != "":
		items, total, err = h.LifecycleService.ListByUser(c.Request.Context(), userID, page, pageSize)
	case partnerID != "":
		items, total, err = h.LifecycleService.ListByPartner(c.Request.Context(), partnerID, page, pageSize)
	default:
		handlershared.RespondError(c, response.CodeBadRequest, "user_id or partner_id is required", nil)
		return
	}
	if err != nil {
		respondServiceError(c, err, "list allocations failed")
		return
	}
	response.SuccessWithPage(c, items, response.NewPagination(page, pageSize, total))
}

// UpdateAllocationStatus 推进分配状态
func (h *Handler) UpdateAllocationStatus(c *gin.Context) {
	var req updateStatusRequest
	if !bindJSON(c, &req) {
		return
	}
	allocation, err := h.LifecycleService.UpdateStatus(c.Request.Context(), c.Param("id"), service.UpdateAllocationStatusInput{
		Status:           req.Status,
		FailureReason:    req.FailureReason,
		ReturnReason:     req.ReturnReason,
		DeliveryAttempts: req.DeliveryAttempts,
		Feedback:         req.Feedback.toService(),
	})
	if err != nil {
		respondServiceError(c, err, "update allocation status failed")
		return
	}
	response.Success(c, allocation)
}
