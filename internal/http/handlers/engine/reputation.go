package engine

import (
	"strings"

	handlershared "github.com/zk-express/agent-engine/internal/http/handlers/shared"
	"github.com/zk-express/agent-engine/internal/http/response"
	"github.com/zk-express/agent-engine/internal/service"

	"github.com/gin-gonic/gin"
)

type scoreEventRequest struct {
	UserID    string                 `json:"user_id" binding:"required"`
	EventType string                 `json:"event_type" binding:"required"`
	Context   map[string]interface{} `json:"context"`
}

type adjustReputationRequest struct {
	UserID    string `json:"user_id" binding:"required"`
	Delta     int64  `json:"delta"`
	Reference string `json:"reference"`
	OrderID   string `json:"order_id"`
	Note      string `json:"note"`
}

type positiveBehaviorRequest struct {
	UserID       string                 `json:"user_id" binding:"required"`
	BehaviorType string                 `json:"behavior_type" binding:"required"`
	Reference    string                 `json:"reference"`
	Details      map[string]interface{} `json:"details"`
}

// ScoreEvent 对行为事件评分（不落账）
func (h *Handler) ScoreEvent(c *gin.Context) {
	var req scoreEventRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.DecisionEngine.ScoreEvent(c.Request.Context(), req.UserID, req.EventType, req.Context)
	if err != nil {
		respondServiceError(c, err, "score event failed")
		return
	}
	response.Success(c, result)
}

// ApplyReputation 直接调整信誉值
func (h *Handler) ApplyReputation(c *gin.Context) {
	var req adjustReputationRequest
	if !bindJSON(c, &req) {
		return
	}
	receipt, err := h.LedgerService.AdjustReputation(c.Request.Context(), service.AdjustReputationInput{
		UserID:    req.UserID,
		Delta:     req.Delta,
		Reference: strings.TrimSpace(req.Reference),
		OrderID:   strings.TrimSpace(req.OrderID),
		Note:      req.Note,
	})
	if err != nil {
		respondServiceError(c, err, "apply reputation failed")
		return
	}
	response.Success(c, receipt)
}

// GetReputation 查询信誉值与行为统计
func (h *Handler) GetReputation(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	ctx := c.Request.Context()
	reputation, err := h.LedgerService.GetUserReputation(ctx, userID)
	if err != nil {
		respondServiceError(c, err, "get reputation failed")
		return
	}
	stats, err := h.LedgerService.GetUserBehaviorStats(ctx, userID)
	if err != nil {
		respondServiceError(c, err, "get behavior stats failed")
		return
	}
	response.Success(c, gin.H{
		"user_id":    userID,
		"reputation": reputation,
		"behavior":   stats,
	})
}

// ListLedgerEntries 查询信誉流水
func (h *Handler) ListLedgerEntries(c *gin.Context) {
	userID := strings.TrimSpace(c.Param("user_id"))
	limit := handlershared.QueryInt(c, "limit", 50)
	entries, err := h.LedgerService.ListEntries(c.Request.Context(), userID, limit)
	if err != nil {
		respondServiceError(c, err, "list ledger entries failed")
		return
	}
	response.Success(c, entries)
}

// RecordPositiveBehavior 登记正向行为
func (h *Handler) RecordPositiveBehavior(c *gin.Context) {
	var req positiveBehaviorRequest
	if !bindJSON(c, &req) {
		return
	}
	outcome, err := h.OrderWorkflowService.RecordPositiveBehavior(c.Request.Context(), service.PositiveBehaviorInput{
		UserID:       req.UserID,
		BehaviorType: req.BehaviorType,
		Reference:    req.Reference,
		Details:      req.Details,
	})
	if err != nil {
		respondServiceError(c, err, "record positive behavior failed")
		return
	}
	response.Success(c, outcome)
}
