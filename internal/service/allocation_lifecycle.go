package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zk-express/agent-engine/internal/cache"
	"github.com/zk-express/agent-engine/internal/constants"
	"github.com/zk-express/agent-engine/internal/events"
	"github.com/zk-express/agent-engine/internal/logger"
	"github.com/zk-express/agent-engine/internal/models"
	"github.com/zk-express/agent-engine/internal/repository"

	"github.com/google/uuid"
)

const defaultEstimatedDeliveryHours = 48

var allocationTransitions = map[string]map[string]bool{
	constants.AllocationStatusAllocated: {
		constants.AllocationStatusInTransit: true,
		constants.AllocationStatusFailed:    true,
		constants.AllocationStatusReturned:  true,
	},
	constants.AllocationStatusInTransit: {
		constants.AllocationStatusDelivered: true,
		constants.AllocationStatusFailed:    true,
		constants.AllocationStatusReturned:  true,
	},
}

var terminalAllocationStatuses = map[string]bool{
	constants.AllocationStatusDelivered: true,
	constants.AllocationStatusFailed:    true,
	constants.AllocationStatusReturned:  true,
}

// TerminalAllocationStatuses 终态列表
func TerminalAllocationStatuses() []string {
	return []string{
		constants.AllocationStatusDelivered,
		constants.AllocationStatusFailed,
		constants.AllocationStatusReturned,
	}
}

// CapacityTracker 分配生命周期使用的容量接口
type CapacityTracker interface {
	IncrementCapacity(ctx context.Context, partnerID, allocationID string) (cache.CapacityChange, error)
	DecrementCapacity(ctx context.Context, partnerID, allocationID string) (cache.CapacityChange, error)
}

// LifecycleNotifier 分配生命周期事件出口
type LifecycleNotifier interface {
	NotifyLifecycle(ctx context.Context, event events.Event) error
}

// AllocationFeedback 送达反馈
type AllocationFeedback struct {
	CustomerRating *float64
	PartnerRating  *float64
	Comments       string
}

// UpdateAllocationStatusInput 状态更新输入
type UpdateAllocationStatusInput struct {
	Status           string
	FailureReason    string
	ReturnReason     string
	DeliveryAttempts *int
	Feedback         *AllocationFeedback
}

// AllocationLifecycleService 分配记录生命周期管理
type AllocationLifecycleService struct {
	repo              repository.AllocationRepository
	capacity          CapacityTracker
	notifier          LifecycleNotifier
	estimatedDelivery time.Duration
	now               func() time.Time
}

// NewAllocationLifecycleService 创建生命周期服务
func NewAllocationLifecycleService(repo repository.AllocationRepository, capacity CapacityTracker, notifier LifecycleNotifier, estimatedDeliveryHours int) *AllocationLifecycleService {
	if estimatedDeliveryHours <= 0 {
		estimatedDeliveryHours = defaultEstimatedDeliveryHours
	}
	return &AllocationLifecycleService{
		repo:              repo,
		capacity:          capacity,
		notifier:          notifier,
		estimatedDelivery: time.Duration(estimatedDeliveryHours) * time.Hour,
		now:               time.Now,
	}
}

// CreateAllocation 落库分配记录并占用伙伴容量；同一订单重复调用返回已有记录
func (s *AllocationLifecycleService) CreateAllocation(ctx context.Context, decision *AllocationDecision) (*models.OrderAllocation, error) {
	if decision == nil {
		return nil, fmt.Errorf("%w: decision is required", ErrValidation)
	}
	orderID := strings.TrimSpace(decision.OrderID)
	if orderID == "" || strings.TrimSpace(decision.PartnerID) == "" || strings.TrimSpace(decision.UserID) == "" {
		return nil, fmt.Errorf("%w: order_id, user_id and partner_id are required", ErrValidation)
	}
	// 写入开始后不再跟随调用方取消，避免记录与容量计数不一致
	ctx = context.WithoutCancel(ctx)
	repo := s.repo.WithContext(ctx)

	existing, err := repo.GetByOrderID(orderID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !terminalAllocationStatuses[existing.Status] {
			if _, err := s.capacity.IncrementCapacity(ctx, existing.PartnerID, existing.ID); err != nil {
				return nil, err
			}
		}
		return existing, nil
	}

	now := s.now()
	estimated := now.Add(s.estimatedDelivery)
	allocation := &models.OrderAllocation{
		ID:                         uuid.NewString(),
		OrderID:                    orderID,
		UserID:                     strings.TrimSpace(decision.UserID),
		PartnerID:                  decision.PartnerID,
		PartnerName:                decision.PartnerName,
		Method:                     decision.Method,
		Confidence:                 decision.Confidence,
		Reasoning:                  decision.Reasoning,
		RiskMitigation:             decision.RiskMitigation,
		AlternativePartners:        decision.AlternativePartners,
		UserReputation:             decision.UserReputation,
		DeliverySuccessProbability: decision.DeliverySuccessProbability,
		OrderValue:                 decision.OrderValue,
		ProductCategory:            decision.ProductCategory,
		Destination:                decision.Destination,
		Status:                     constants.AllocationStatusAllocated,
		AuditMetadata:              decision.AuditMetadata,
		AllocatedAt:                now,
		EstimatedDeliveryAt:        &estimated,
		UpdatedAt:                  now,
	}
	if err := repo.Create(allocation); err != nil {
		// 唯一索引冲突：并发请求已写入
		stored, getErr := repo.GetByOrderID(orderID)
		if getErr != nil || stored == nil {
			return nil, err
		}
		allocation = stored
	}

	if _, err := s.capacity.IncrementCapacity(ctx, allocation.PartnerID, allocation.ID); err != nil {
		logger.Errorw("allocation_capacity_increment_failed",
			"allocation_id", allocation.ID,
			"partner_id", allocation.PartnerID,
			"error", err,
		)
		return nil, err
	}
	logger.Infow("allocation_created",
		"allocation_id", allocation.ID,
		"order_id", allocation.OrderID,
		"partner_id", allocation.PartnerID,
		"method", allocation.Method,
	)
	s.notify(ctx, events.Event{
		Type:         constants.LifecycleEventAllocationCreated,
		AllocationID: allocation.ID,
		OrderID:      allocation.OrderID,
		UserID:       allocation.UserID,
		PartnerID:    allocation.PartnerID,
		Method:       allocation.Method,
		ToStatus:     allocation.Status,
		OccurredAt:   now,
	})
	return allocation, nil
}

// UpdateStatus 按状态表推进分配记录，进入终态时释放容量
func (s *AllocationLifecycleService) UpdateStatus(ctx context.Context, allocationID string, input UpdateAllocationStatusInput) (*models.OrderAllocation, error) {
	allocationID = strings.TrimSpace(allocationID)
	target := strings.ToLower(strings.TrimSpace(input.Status))
	if allocationID == "" {
		return nil, fmt.Errorf("%w: allocation id is required", ErrValidation)
	}
	if _, ok := allocationTransitions[target]; !ok && !terminalAllocationStatuses[target] {
		return nil, fmt.Errorf("%w: unsupported status %q", ErrValidation, input.Status)
	}
	if input.Feedback != nil && target != constants.AllocationStatusDelivered {
		return nil, fmt.Errorf("%w: feedback is only accepted on delivery", ErrValidation)
	}
	if err := validateFeedback(input.Feedback); err != nil {
		return nil, err
	}
	ctx = context.WithoutCancel(ctx)
	repo := s.repo.WithContext(ctx)

	allocation, err := repo.GetByID(allocationID)
	if err != nil {
		return nil, err
	}
	if allocation == nil {
		return nil, fmt.Errorf("%w: allocation %s", ErrNotFound, allocationID)
	}
	from := allocation.Status
	// 已处于同一终态：上次容量释放可能失败，重放释放（幂等）
	if from == target && terminalAllocationStatuses[target] {
		if _, err := s.capacity.DecrementCapacity(ctx, allocation.PartnerID, allocation.ID); err != nil {
			return nil, err
		}
		return allocation, nil
	}
	if !allocationTransitions[from][target] {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, target)
	}

	now := s.now()
	updates := map[string]interface{}{
		"status":     target,
		"updated_at": now,
	}
	if target == constants.AllocationStatusFailed && strings.TrimSpace(input.FailureReason) != "" {
		updates["failure_reason"] = strings.TrimSpace(input.FailureReason)
	}
	if target == constants.AllocationStatusReturned && strings.TrimSpace(input.ReturnReason) != "" {
		updates["return_reason"] = truncateNote(input.ReturnReason)
	}
	if input.DeliveryAttempts != nil && *input.DeliveryAttempts >= 0 {
		updates["delivery_attempts"] = *input.DeliveryAttempts
	}
	if target == constants.AllocationStatusDelivered {
		if allocation.ActualDeliveryAt == nil {
			updates["actual_delivery_at"] = now
		}
		if input.Feedback != nil {
			if input.Feedback.CustomerRating != nil {
				updates["customer_rating"] = *input.Feedback.CustomerRating
			}
			if input.Feedback.PartnerRating != nil {
				updates["partner_rating"] = *input.Feedback.PartnerRating
			}
			if comment := strings.TrimSpace(input.Feedback.Comments); comment != "" {
				comments := append(models.StringArray{}, allocation.FeedbackComments...)
				updates["feedback_comments"] = append(comments, comment)
			}
		}
	}

	applied, err := repo.TransitionStatus(allocation.ID, from, updates)
	if err != nil {
		return nil, err
	}
	if !applied {
		current, getErr := repo.GetByID(allocation.ID)
		if getErr == nil && current != nil {
			from = current.Status
		}
		return nil, fmt.Errorf("%w: status changed concurrently (now %s)", ErrInvalidTransition, from)
	}

	if terminalAllocationStatuses[target] {
		if _, err := s.capacity.DecrementCapacity(ctx, allocation.PartnerID, allocation.ID); err != nil {
			logger.Errorw("allocation_capacity_decrement_failed",
				"allocation_id", allocation.ID,
				"partner_id", allocation.PartnerID,
				"error", err,
			)
			return nil, err
		}
	}

	updated, err := repo.GetByID(allocation.ID)
	if err != nil {
		return nil, err
	}
	if updated == nil {
		return nil, fmt.Errorf("%w: allocation %s", ErrNotFound, allocation.ID)
	}
	logger.Infow("allocation_status_updated",
		"allocation_id", updated.ID,
		"from", from,
		"to", target,
	)
	s.notify(ctx, events.Event{
		Type:         constants.LifecycleEventAllocationStatusChanged,
		AllocationID: updated.ID,
		OrderID:      updated.OrderID,
		UserID:       updated.UserID,
		PartnerID:    updated.PartnerID,
		Method:       updated.Method,
		FromStatus:   from,
		ToStatus:     target,
		OccurredAt:   now,
	})
	return updated, nil
}

// ReleaseCapacity 为终态记录补做容量释放（幂等）
func (s *AllocationLifecycleService) ReleaseCapacity(ctx context.Context, allocation *models.OrderAllocation) (bool, error) {
	if allocation == nil || !terminalAllocationStatuses[allocation.Status] {
		return false, nil
	}
	change, err := s.capacity.DecrementCapacity(ctx, allocation.PartnerID, allocation.ID)
	if err != nil {
		return false, err
	}
	return change.Applied, nil
}

// GetAllocation 根据 ID 获取分配记录
func (s *AllocationLifecycleService) GetAllocation(ctx context.Context, id string) (*models.OrderAllocation, error) {
	allocation, err := s.repo.WithContext(ctx).GetByID(id)
	if err != nil {
		return nil, err
	}
	if allocation == nil {
		return nil, fmt.Errorf("%w: allocation %s", ErrNotFound, id)
	}
	return allocation, nil
}

// GetAllocationByOrderID 根据订单获取分配记录
func (s *AllocationLifecycleService) GetAllocationByOrderID(ctx context.Context, orderID string) (*models.OrderAllocation, error) {
	allocation, err := s.repo.WithContext(ctx).GetByOrderID(orderID)
	if err != nil {
		return nil, err
	}
	if allocation == nil {
		return nil, fmt.Errorf("%w: allocation for order %s", ErrNotFound, orderID)
	}
	return allocation, nil
}

// ListByPartner 分页查询伙伴的分配记录
func (s *AllocationLifecycleService) ListByPartner(ctx context.Context, partnerID string, page, pageSize int) ([]models.OrderAllocation, int64, error) {
	return s.repo.WithContext(ctx).List(repository.AllocationListFilter{
		PartnerID: strings.TrimSpace(partnerID),
		Page:      page,
		PageSize:  pageSize,
	})
}

// ListByUser 分页查询用户的分配记录
func (s *AllocationLifecycleService) ListByUser(ctx context.Context, userID string, page, pageSize int) ([]models.OrderAllocation, int64, error) {
	return s.repo.WithContext(ctx).List(repository.AllocationListFilter{
		UserID:   strings.TrimSpace(userID),
		Page:     page,
		PageSize: pageSize,
	})
}

func (s *AllocationLifecycleService) notify(ctx context.Context, event events.Event) {
	if s.notifier == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if err := s.notifier.NotifyLifecycle(ctx, event); err != nil {
		logger.Warnw("allocation_lifecycle_notify_failed",
			"allocation_id", event.AllocationID,
			"event_type", event.Type,
			"error", err,
		)
	}
}

func validateFeedback(feedback *AllocationFeedback) error {
	if feedback == nil {
		return nil
	}
	for name, rating := range map[string]*float64{"customer_rating": feedback.CustomerRating, "partner_rating": feedback.PartnerRating} {
		if rating != nil && (*rating < 1 || *rating > 5) {
			return fmt.Errorf("%w: %s must be between 1 and 5", ErrValidation, name)
		}
	}
	return nil
}
