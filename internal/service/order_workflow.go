package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/zk-express/agent-engine/internal/constants"
	"github.com/zk-express/agent-engine/internal/logger"
	"github.com/zk-express/agent-engine/internal/models"
	"github.com/zk-express/agent-engine/internal/queue"
)

// 正向行为事件
var positiveBehaviors = map[string]bool{
	constants.EventEarlyPayment:   true,
	constants.EventPositiveReview: true,
	constants.EventReferral:       true,
	constants.EventLoyaltyProgram: true,
}

// OrderWorkflowService 订单流程编排：登记 → 评分 → 落账 → 分配
type OrderWorkflowService struct {
	ledger    *LedgerService
	decision  *DecisionEngine
	allocator *AllocationEngine
	lifecycle *AllocationLifecycleService
	queue     *queue.Client
}

// NewOrderWorkflowService 创建订单流程服务
func NewOrderWorkflowService(ledger *LedgerService, decision *DecisionEngine, allocator *AllocationEngine, lifecycle *AllocationLifecycleService, queueClient *queue.Client) *OrderWorkflowService {
	return &OrderWorkflowService{
		ledger:    ledger,
		decision:  decision,
		allocator: allocator,
		lifecycle: lifecycle,
		queue:     queueClient,
	}
}

// CreateOrderInput 下单输入
type CreateOrderInput struct {
	OrderID         string
	UserID          string
	OrderValue      models.Money
	ProductCategory string
	Destination     string
}

// ReputationOutcome 一次评分及其落账结果
type ReputationOutcome struct {
	Score   *ScoreResult       `json:"score"`
	Receipt *ReputationReceipt `json:"receipt,omitempty"`
	Queued  bool               `json:"queued"`
}

// OrderResult 订单流程结果
type OrderResult struct {
	Order      *models.LedgerOrder     `json:"order"`
	Created    bool                    `json:"created"`
	Reputation *ReputationOutcome      `json:"reputation,omitempty"`
	Decision   *AllocationDecision     `json:"decision,omitempty"`
	Allocation *models.OrderAllocation `json:"allocation,omitempty"`
}

// CreateOrder 登记订单、评分落账并完成物流分配
func (s *OrderWorkflowService) CreateOrder(ctx context.Context, input CreateOrderInput) (*OrderResult, error) {
	if strings.TrimSpace(input.Destination) == "" {
		return nil, fmt.Errorf("%w: destination is required", ErrValidation)
	}
	order, created, err := s.ledger.CreateOrder(ctx, CreateLedgerOrderInput{
		OrderID:         input.OrderID,
		UserID:          input.UserID,
		OrderValue:      input.OrderValue,
		ProductCategory: input.ProductCategory,
		Destination:     input.Destination,
	})
	if err != nil {
		return nil, err
	}
	result := &OrderResult{Order: order, Created: created}

	// 重复提交：已有分配则直接返回
	if !created {
		existing, err := s.lifecycle.GetAllocationByOrderID(ctx, order.OrderID)
		if err == nil {
			result.Allocation = existing
			return result, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}

	outcome, err := s.scoreAndApply(ctx, order.UserID, order.OrderID, "", constants.EventPurchaseCreated, map[string]interface{}{
		"order_value":      order.OrderValue.String(),
		"product_category": order.ProductCategory,
		"destination":      order.Destination,
	})
	if err != nil {
		return nil, err
	}
	result.Reputation = outcome

	decision, err := s.allocator.Allocate(ctx, AllocateInput{
		UserID:          order.UserID,
		OrderID:         order.OrderID,
		OrderValue:      order.OrderValue,
		ProductCategory: order.ProductCategory,
		Destination:     order.Destination,
	})
	if err != nil {
		return nil, err
	}
	result.Decision = decision

	allocation, err := s.lifecycle.CreateAllocation(ctx, decision)
	if err != nil {
		return nil, err
	}
	result.Allocation = allocation
	logger.Infow("workflow_order_allocated",
		"order_id", order.OrderID,
		"user_id", order.UserID,
		"partner_id", allocation.PartnerID,
		"method", allocation.Method,
	)
	return result, nil
}

// DeliveryFailureInput 配送失败输入
type DeliveryFailureInput struct {
	OrderID      string
	UserID       string
	Reason       string
	AttemptCount int
}

// RecordDeliveryFailure 登记配送失败、扣减信誉并将分配置为失败
func (s *OrderWorkflowService) RecordDeliveryFailure(ctx context.Context, input DeliveryFailureInput) (*OrderResult, error) {
	order, err := s.ownedOrder(ctx, input.OrderID, input.UserID)
	if err != nil {
		return nil, err
	}
	plan, err := s.planAllocation(ctx, order.OrderID, constants.AllocationStatusFailed)
	if err != nil {
		return nil, err
	}
	order, err = s.ledger.RecordDeliveryFailure(ctx, order.OrderID, input.Reason)
	if err != nil {
		return nil, err
	}
	eventType := constants.EventDeliveryFailedAbsent
	if order.FailureReason == constants.FailureReasonCustomerRefused {
		eventType = constants.EventDeliveryFailedRefused
	}
	attempts := input.AttemptCount
	if attempts <= 0 {
		attempts = order.DeliveryAttempts
	}
	outcome, err := s.scoreAndApply(ctx, order.UserID, order.OrderID, fmt.Sprintf("%s:delivery_failed:%d", order.OrderID, order.DeliveryAttempts), eventType, map[string]interface{}{
		"failure_reason": order.FailureReason,
		"attempt_count":  attempts,
		"destination":    order.Destination,
	})
	if err != nil {
		return nil, err
	}
	allocation, err := s.advanceAllocation(ctx, plan, UpdateAllocationStatusInput{
		Status:           constants.AllocationStatusFailed,
		FailureReason:    order.FailureReason,
		DeliveryAttempts: &attempts,
	})
	if err != nil {
		return nil, err
	}
	return &OrderResult{Order: order, Reputation: outcome, Allocation: allocation}, nil
}

// ReturnInput 退货输入
type ReturnInput struct {
	OrderID      string
	UserID       string
	ReturnReason string
}

// RecordProductReturn 登记退货、扣减信誉并将分配置为退回；已送达的分配保持不变
func (s *OrderWorkflowService) RecordProductReturn(ctx context.Context, input ReturnInput) (*OrderResult, error) {
	order, err := s.ownedOrder(ctx, input.OrderID, input.UserID)
	if err != nil {
		return nil, err
	}
	plan, err := s.planAllocation(ctx, order.OrderID, constants.AllocationStatusReturned)
	if err != nil {
		return nil, err
	}
	daysSincePurchase := int(s.ledger.now().Sub(order.CreatedAt).Hours() / 24)
	order, err = s.ledger.RecordProductReturn(ctx, order.OrderID, input.ReturnReason)
	if err != nil {
		return nil, err
	}
	outcome, err := s.scoreAndApply(ctx, order.UserID, order.OrderID, "", constants.EventProductReturned, map[string]interface{}{
		"return_reason":       strings.TrimSpace(input.ReturnReason),
		"days_since_purchase": daysSincePurchase,
		"product_category":    order.ProductCategory,
		"order_value":         order.OrderValue.String(),
	})
	if err != nil {
		return nil, err
	}
	allocation, err := s.advanceAllocation(ctx, plan, UpdateAllocationStatusInput{
		Status:       constants.AllocationStatusReturned,
		ReturnReason: input.ReturnReason,
	})
	if err != nil {
		return nil, err
	}
	return &OrderResult{Order: order, Reputation: outcome, Allocation: allocation}, nil
}

// CompleteInput 完成订单输入
type CompleteInput struct {
	OrderID  string
	UserID   string
	Feedback *AllocationFeedback
}

// CompleteOrder 标记完成、奖励信誉并将分配置为已送达
func (s *OrderWorkflowService) CompleteOrder(ctx context.Context, input CompleteInput) (*OrderResult, error) {
	if err := validateFeedback(input.Feedback); err != nil {
		return nil, err
	}
	order, err := s.ownedOrder(ctx, input.OrderID, input.UserID)
	if err != nil {
		return nil, err
	}
	plan, err := s.planAllocation(ctx, order.OrderID, constants.AllocationStatusDelivered)
	if err != nil {
		return nil, err
	}
	order, err = s.ledger.MarkCompleted(ctx, order.OrderID)
	if err != nil {
		return nil, err
	}
	eventContext := map[string]interface{}{
		"order_value":      order.OrderValue.String(),
		"product_category": order.ProductCategory,
	}
	if input.Feedback != nil && input.Feedback.CustomerRating != nil {
		eventContext["customer_rating"] = *input.Feedback.CustomerRating
	}
	outcome, err := s.scoreAndApply(ctx, order.UserID, order.OrderID, "", constants.EventOrderCompleted, eventContext)
	if err != nil {
		return nil, err
	}
	allocation, err := s.advanceAllocation(ctx, plan, UpdateAllocationStatusInput{
		Status:   constants.AllocationStatusDelivered,
		Feedback: input.Feedback,
	})
	if err != nil {
		return nil, err
	}
	return &OrderResult{Order: order, Reputation: outcome, Allocation: allocation}, nil
}

// PositiveBehaviorInput 正向行为输入
type PositiveBehaviorInput struct {
	UserID       string
	BehaviorType string
	Reference    string
	Details      map[string]interface{}
}

// RecordPositiveBehavior 对正向行为评分并落账
func (s *OrderWorkflowService) RecordPositiveBehavior(ctx context.Context, input PositiveBehaviorInput) (*ReputationOutcome, error) {
	behavior := strings.ToUpper(strings.TrimSpace(input.BehaviorType))
	if !positiveBehaviors[behavior] {
		return nil, fmt.Errorf("%w: unsupported behavior type %q", ErrValidation, input.BehaviorType)
	}
	return s.scoreAndApply(ctx, input.UserID, "", strings.TrimSpace(input.Reference), behavior, input.Details)
}

// OrderView 订单及其分配
type OrderView struct {
	Order      *models.LedgerOrder     `json:"order"`
	Allocation *models.OrderAllocation `json:"allocation,omitempty"`
}

// GetOrderWithAllocation 查询订单与分配记录
func (s *OrderWorkflowService) GetOrderWithAllocation(ctx context.Context, orderID string) (*OrderView, error) {
	order, err := s.ledger.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	view := &OrderView{Order: order}
	allocation, err := s.lifecycle.GetAllocationByOrderID(ctx, order.OrderID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	view.Allocation = allocation
	return view, nil
}

// ApplyReputation 按引用幂等落账（队列任务与同步路径共用）
func (s *OrderWorkflowService) ApplyReputation(ctx context.Context, payload queue.ReputationApplyPayload) (*ReputationReceipt, error) {
	return s.ledger.AdjustReputation(ctx, AdjustReputationInput{
		UserID:    payload.UserID,
		Delta:     payload.Delta,
		Reference: payload.Reference,
		OrderID:   payload.OrderID,
		Note:      payload.EventType,
	})
}

func (s *OrderWorkflowService) ownedOrder(ctx context.Context, orderID, userID string) (*models.LedgerOrder, error) {
	order, err := s.ledger.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	userID = strings.TrimSpace(userID)
	if userID != "" && order.UserID != userID {
		return nil, fmt.Errorf("%w: order %s does not belong to user", ErrValidation, order.OrderID)
	}
	return order, nil
}

// scoreAndApply 评分与落账分两步：评分无副作用，落账以 reference 去重
func (s *OrderWorkflowService) scoreAndApply(ctx context.Context, userID, orderID, reference, eventType string, eventContext map[string]interface{}) (*ReputationOutcome, error) {
	score, err := s.decision.ScoreEvent(ctx, userID, eventType, eventContext)
	if err != nil {
		return nil, err
	}
	outcome := &ReputationOutcome{Score: score}
	if score.ReputationChange == 0 {
		return outcome, nil
	}
	payload := queue.ReputationApplyPayload{
		UserID:    score.UserID,
		Delta:     score.ReputationChange,
		OrderID:   orderID,
		EventType: score.EventType,
		Reference: reference,
	}
	if payload.Reference == "" && orderID != "" {
		payload.Reference = reputationReference(orderID, score.EventType)
	}
	if s.queue != nil && s.queue.Enabled() && payload.Reference != "" {
		err := s.queue.EnqueueReputationApply(payload)
		if err == nil {
			outcome.Queued = true
			return outcome, nil
		}
		logger.Warnw("workflow_reputation_enqueue_failed",
			"user_id", payload.UserID,
			"reference", payload.Reference,
			"error", err,
		)
	}
	receipt, err := s.ApplyReputation(ctx, payload)
	if err != nil {
		return nil, err
	}
	outcome.Receipt = receipt
	return outcome, nil
}

// allocationPlan 账本写入前确定的分配推进计划
type allocationPlan struct {
	allocation *models.OrderAllocation
	advance    bool
}

// planAllocation 在任何账本与信誉写入之前校验分配能否到达目标状态
func (s *OrderWorkflowService) planAllocation(ctx context.Context, orderID, target string) (allocationPlan, error) {
	allocation, err := s.lifecycle.GetAllocationByOrderID(ctx, orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return allocationPlan{}, nil
		}
		return allocationPlan{}, err
	}
	from := allocation.Status
	switch {
	case from == target:
		// 重复登记不再推进
		return allocationPlan{allocation: allocation}, nil
	case target == constants.AllocationStatusReturned && from == constants.AllocationStatusDelivered:
		// 送达后的退货只记账
		return allocationPlan{allocation: allocation}, nil
	case target == constants.AllocationStatusDelivered && from == constants.AllocationStatusAllocated:
		return allocationPlan{allocation: allocation, advance: true}, nil
	case allocationTransitions[from][target]:
		return allocationPlan{allocation: allocation, advance: true}, nil
	}
	return allocationPlan{}, fmt.Errorf("%w: allocation %s -> %s", ErrInvalidTransition, from, target)
}

// advanceAllocation 执行推进计划；送达前仍处于已分配状态时先推进到运输中
func (s *OrderWorkflowService) advanceAllocation(ctx context.Context, plan allocationPlan, input UpdateAllocationStatusInput) (*models.OrderAllocation, error) {
	if plan.allocation == nil || !plan.advance {
		return plan.allocation, nil
	}
	allocation := plan.allocation
	if input.Status == constants.AllocationStatusDelivered && allocation.Status == constants.AllocationStatusAllocated {
		if _, err := s.lifecycle.UpdateStatus(ctx, allocation.ID, UpdateAllocationStatusInput{Status: constants.AllocationStatusInTransit}); err != nil {
			return nil, err
		}
	}
	return s.lifecycle.UpdateStatus(ctx, allocation.ID, input)
}

func reputationReference(orderID, eventType string) string {
	return fmt.Sprintf("%s:%s", orderID, strings.ToLower(eventType))
}
