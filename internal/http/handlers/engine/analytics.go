package engine

import (
	"github.com/zk-express/agent-engine/internal/http/response"
	"github.com/zk-express/agent-engine/internal/service"

	"github.com/gin-gonic/gin"
)

type riskAssessmentRequest struct {
	UserIDs []string `json:"user_ids" binding:"required"`
}

// AssessRisk 批量风险评估
func (h *Handler) AssessRisk(c *gin.Context) {
	var req riskAssessmentRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.RiskAssessmentService.AssessUsers(c.Request.Context(), req.UserIDs)
	if err != nil {
		respondServiceError(c, err, "risk assessment failed")
		return
	}
	response.Success(c, result)
}

type consultRequest struct {
	UserID   string                 `json:"user_id" binding:"required"`
	Question string                 `json:"question" binding:"required"`
	Context  map[string]interface{} `json:"context"`
}

// Consult 客户咨询
func (h *Handler) Consult(c *gin.Context) {
	var req consultRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.ConsultationService.Consult(c.Request.Context(), service.ConsultInput{
		UserID:   req.UserID,
		Question: req.Question,
		Context:  req.Context,
	})
	if err != nil {
		respondServiceError(c, err, "consultation failed")
		return
	}
	response.Success(c, result)
}

// GetUserAnalytics 用户维度分析
func (h *Handler) GetUserAnalytics(c *gin.Context) {
	result, err := h.AnalyticsService.GetUserAnalytics(c.Request.Context(), h.LedgerService, c.Param("user_id"))
	if err != nil {
		respondServiceError(c, err, "get user analytics failed")
		return
	}
	response.Success(c, result)
}
