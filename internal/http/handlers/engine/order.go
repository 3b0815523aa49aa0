package engine

import (
	"github.com/zk-express/agent-engine/internal/http/response"
	"github.com/zk-express/agent-engine/internal/models"
	"github.com/zk-express/agent-engine/internal/service"

	"github.com/gin-gonic/gin"
)

type createOrderRequest struct {
	OrderID         string       `json:"order_id" binding:"required"`
	UserID          string       `json:"user_id" binding:"required"`
	OrderValue      models.Money `json:"order_value"`
	ProductCategory string       `json:"product_category"`
	Destination     string       `json:"destination" binding:"required"`
}

type deliveryFailedRequest struct {
	UserID       string `json:"user_id" binding:"required"`
	Reason       string `json:"reason"`
	AttemptCount int    `json:"attempt_count"`
}

type returnRequest struct {
	UserID       string `json:"user_id" binding:"required"`
	ReturnReason string `json:"return_reason"`
}

type completeRequest struct {
	UserID   string           `json:"user_id" binding:"required"`
	Feedback *feedbackRequest `json:"feedback"`
}

// CreateOrder 登记订单并完成分配
func (h *Handler) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.OrderWorkflowService.CreateOrder(c.Request.Context(), service.CreateOrderInput{
		OrderID:         req.OrderID,
		UserID:          req.UserID,
		OrderValue:      req.OrderValue,
		ProductCategory: req.ProductCategory,
		Destination:     req.Destination,
	})
	if err != nil {
		respondServiceError(c, err, "create order failed")
		return
	}
	if result.Created {
		response.Created(c, result)
		return
	}
	response.Success(c, result)
}

// GetOrder 查询订单及分配
func (h *Handler) GetOrder(c *gin.Context) {
	view, err := h.OrderWorkflowService.GetOrderWithAllocation(c.Request.Context(), c.Param("order_id"))
	if err != nil {
		respondServiceError(c, err, "get order failed")
		return
	}
	response.Success(c, view)
}

// RecordDeliveryFailure 登记配送失败
func (h *Handler) RecordDeliveryFailure(c *gin.Context) {
	var req deliveryFailedRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.OrderWorkflowService.RecordDeliveryFailure(c.Request.Context(), service.DeliveryFailureInput{
		OrderID:      c.Param("order_id"),
		UserID:       req.UserID,
		Reason:       req.Reason,
		AttemptCount: req.AttemptCount,
	})
	if err != nil {
		respondServiceError(c, err, "record delivery failure failed")
		return
	}
	response.Success(c, result)
}

// RecordReturn 登记退货
func (h *Handler) RecordReturn(c *gin.Context) {
	var req returnRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.OrderWorkflowService.RecordProductReturn(c.Request.Context(), service.ReturnInput{
		OrderID:      c.Param("order_id"),
		UserID:       req.UserID,
		ReturnReason: req.ReturnReason,
	})
	if err != nil {
		respondServiceError(c, err, "record return failed")
		return
	}
	response.Success(c, result)
}

// CompleteOrder 标记订单完成
func (h *Handler) CompleteOrder(c *gin.Context) {
	var req completeRequest
	if !bindJSON(c, &req) {
		return
	}
	result, err := h.OrderWorkflowService.CompleteOrder(c.Request.Context(), service.CompleteInput{
		OrderID:  c.Param("order_id"),
		UserID:   req.UserID,
		Feedback: req.Feedback.toService(),
	})
	if err != nil {
		respondServiceError(c, err, "complete order failed")
		return
	}
	response.Success(c, result)
}
