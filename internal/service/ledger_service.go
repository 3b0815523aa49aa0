package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zk-express/agent-engine/internal/constants"
	"github.com/zk-express/agent-engine/internal/logger"
	"github.com/zk-express/agent-engine/internal/models"
	"github.com/zk-express/agent-engine/internal/oracle"
	"github.com/zk-express/agent-engine/internal/repository"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultRecentOrderLimit  = 20
	reputationUpdateAttempts = 5
)

var errReputationVersionConflict = errors.New("reputation version conflict")

// 账本订单状态流转表，终态不出现在 key 中
var ledgerOrderTransitions = map[string]map[string]bool{
	constants.LedgerOrderStatusCreated: {
		constants.LedgerOrderStatusDeliveryFailed: true,
		constants.LedgerOrderStatusReturned:       true,
		constants.LedgerOrderStatusCompleted:      true,
	},
	constants.LedgerOrderStatusPaid: {
		constants.LedgerOrderStatusDeliveryFailed: true,
		constants.LedgerOrderStatusReturned:       true,
		constants.LedgerOrderStatusCompleted:      true,
	},
	constants.LedgerOrderStatusShipped: {
		constants.LedgerOrderStatusDeliveryFailed: true,
		constants.LedgerOrderStatusReturned:       true,
		constants.LedgerOrderStatusCompleted:      true,
	},
	constants.LedgerOrderStatusDelivered: {
		constants.LedgerOrderStatusReturned:  true,
		constants.LedgerOrderStatusCompleted: true,
	},
	constants.LedgerOrderStatusCompleted: {
		constants.LedgerOrderStatusReturned: true,
	},
	// 重复配送失败只累加尝试次数
	constants.LedgerOrderStatusDeliveryFailed: {
		constants.LedgerOrderStatusDeliveryFailed: true,
	},
}

var failureReasons = map[string]bool{
	constants.FailureReasonNone:            true,
	constants.FailureReasonCustomerAbsent:  true,
	constants.FailureReasonCustomerRefused: true,
	constants.FailureReasonAddressIssue:    true,
	constants.FailureReasonOther:           true,
}

// LedgerService 信誉账本适配层
type LedgerService struct {
	repo             repository.LedgerRepository
	recentOrderLimit int
	now              func() time.Time
}

// NewLedgerService 创建账本服务
func NewLedgerService(repo repository.LedgerRepository, recentOrderLimit int) *LedgerService {
	if recentOrderLimit <= 0 {
		recentOrderLimit = defaultRecentOrderLimit
	}
	return &LedgerService{
		repo:             repo,
		recentOrderLimit: recentOrderLimit,
		now:              time.Now,
	}
}

// AdjustReputationInput 信誉调整输入
type AdjustReputationInput struct {
	UserID    string
	Delta     int64
	Reference string // 幂等引用，重复提交直接返回首次回执
	OrderID   string
	Note      string
}

// ReputationReceipt 信誉调整回执
type ReputationReceipt struct {
	UserID     string `json:"user_id"`
	Previous   int64  `json:"previous"`
	Requested  int64  `json:"requested"`
	Applied    int64  `json:"applied"`
	Reputation int64  `json:"reputation"`
	Clamped    bool   `json:"clamped"`
	Duplicate  bool   `json:"duplicate"`
	EntryID    string `json:"entry_id,omitempty"`
}

// UserBehaviorStats 用户行为统计
type UserBehaviorStats struct {
	UserID               string               `json:"user_id"`
	TotalOrders          int64                `json:"total_orders"`
	CompletedOrders      int64                `json:"completed_orders"`
	ReturnedOrders       int64                `json:"returned_orders"`
	DeliveryFailures     int64                `json:"delivery_failures"`
	CancelledOrders      int64                `json:"cancelled_orders"`
	TotalOrderValue      float64              `json:"total_order_value"`
	AvgOrderValue        float64              `json:"avg_order_value"`
	AvgDaysBetweenOrders *float64             `json:"avg_days_between_orders,omitempty"`
	RecentOrders         []models.LedgerOrder `json:"recent_orders"`
}

// Profile 转为预言机行为画像
func (s *UserBehaviorStats) Profile() oracle.BehaviorProfile {
	if s == nil {
		return oracle.BehaviorProfile{}
	}
	recent := make([]oracle.OrderSnapshot, 0, len(s.RecentOrders))
	for _, order := range s.RecentOrders {
		recent = append(recent, oracle.OrderSnapshot{
			OrderID:         order.OrderID,
			OrderValue:      order.OrderValue.Float64(),
			Status:          order.Status,
			ProductCategory: order.ProductCategory,
			Destination:     order.Destination,
			CreatedAt:       order.CreatedAt,
		})
	}
	return oracle.BehaviorProfile{
		UserID:               s.UserID,
		TotalOrders:          s.TotalOrders,
		CompletedOrders:      s.CompletedOrders,
		ReturnedOrders:       s.ReturnedOrders,
		DeliveryFailures:     s.DeliveryFailures,
		TotalOrderValue:      s.TotalOrderValue,
		AvgOrderValue:        s.AvgOrderValue,
		AvgDaysBetweenOrders: s.AvgDaysBetweenOrders,
		RecentOrders:         recent,
	}
}

// GetUserReputation 读取用户信誉，未建账户视为 0
func (s *LedgerService) GetUserReputation(ctx context.Context, userID string) (int64, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return 0, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	account, err := s.repo.WithContext(ctx).GetAccount(userID)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	if account == nil {
		return 0, nil
	}
	return account.Reputation, nil
}

// AdjustReputation 调整信誉：下限截断为 0，变化量为 0 时不写入
func (s *LedgerService) AdjustReputation(ctx context.Context, input AdjustReputationInput) (*ReputationReceipt, error) {
	input.UserID = strings.TrimSpace(input.UserID)
	input.Reference = strings.TrimSpace(input.Reference)
	if input.UserID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	repo := s.repo.WithContext(ctx)

	if input.Delta == 0 {
		current, err := s.GetUserReputation(ctx, input.UserID)
		if err != nil {
			return nil, err
		}
		return &ReputationReceipt{UserID: input.UserID, Previous: current, Reputation: current}, nil
	}

	if input.Reference != "" {
		if receipt, err := s.receiptByReference(repo, input.Reference); err != nil || receipt != nil {
			return receipt, err
		}
	}

	if err := s.ensureAccount(repo, input.UserID); err != nil {
		return nil, err
	}

	var receipt *ReputationReceipt
	var lastErr error
	for attempt := 0; attempt < reputationUpdateAttempts; attempt++ {
		receipt, lastErr = s.applyDelta(repo, input)
		if lastErr == nil {
			return receipt, nil
		}
		if !errors.Is(lastErr, errReputationVersionConflict) {
			break
		}
	}

	// 并发提交相同引用时，唯一索引拦下后一笔，返回先落库的回执
	if input.Reference != "" {
		if existing, err := s.receiptByReference(repo, input.Reference); err == nil && existing != nil {
			return existing, nil
		}
	}
	logger.Warnw("ledger_adjust_reputation_failed",
		"user_id", input.UserID,
		"delta", input.Delta,
		"reference", input.Reference,
		"error", lastErr,
	)
	return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, lastErr)
}

func (s *LedgerService) ensureAccount(repo *repository.GormLedgerRepository, userID string) error {
	account, err := repo.GetAccount(userID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	if account != nil {
		return nil
	}
	if err := repo.CreateAccount(&models.ReputationAccount{UserID: userID}); err != nil {
		// 可能被并发请求抢先创建
		account, getErr := repo.GetAccount(userID)
		if getErr != nil || account == nil {
			return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
		}
	}
	return nil
}

func (s *LedgerService) applyDelta(repo *repository.GormLedgerRepository, input AdjustReputationInput) (*ReputationReceipt, error) {
	var receipt *ReputationReceipt
	err := repo.Transaction(func(tx *gorm.DB) error {
		txRepo := repo.WithTx(tx)
		account, err := txRepo.GetAccountForUpdate(input.UserID)
		if err != nil {
			return err
		}
		if account == nil {
			return errReputationVersionConflict
		}
		next := account.Reputation + input.Delta
		clamped := false
		if next < 0 {
			next = 0
			clamped = true
		}
		ok, err := txRepo.UpdateAccountBalance(account, next)
		if err != nil {
			return err
		}
		if !ok {
			return errReputationVersionConflict
		}

		entry := &models.LedgerEntry{
			ID:           uuid.NewString(),
			Kind:         constants.LedgerEntryKindReputation,
			UserID:       input.UserID,
			OrderID:      strings.TrimSpace(input.OrderID),
			Delta:        next - account.Reputation,
			Requested:    input.Delta,
			BalanceAfter: next,
			Note:         truncateNote(input.Note),
			CreatedAt:    s.now(),
		}
		if input.Reference != "" {
			reference := input.Reference
			entry.Reference = &reference
		}
		if err := txRepo.CreateEntry(entry); err != nil {
			return err
		}
		receipt = &ReputationReceipt{
			UserID:     input.UserID,
			Previous:   account.Reputation,
			Requested:  input.Delta,
			Applied:    entry.Delta,
			Reputation: next,
			Clamped:    clamped,
			EntryID:    entry.ID,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

func (s *LedgerService) receiptByReference(repo *repository.GormLedgerRepository, reference string) (*ReputationReceipt, error) {
	entry, err := repo.GetEntryByReference(reference)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	if entry == nil {
		return nil, nil
	}
	return &ReputationReceipt{
		UserID:     entry.UserID,
		Previous:   entry.BalanceAfter - entry.Delta,
		Requested:  entry.Requested,
		Applied:    entry.Delta,
		Reputation: entry.BalanceAfter,
		Clamped:    entry.Delta != entry.Requested,
		Duplicate:  true,
		EntryID:    entry.ID,
	}, nil
}

// GetUserBehaviorStats 汇总用户订单行为与最近订单
func (s *LedgerService) GetUserBehaviorStats(ctx context.Context, userID string) (*UserBehaviorStats, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	repo := s.repo.WithContext(ctx)
	counts, err := repo.OrderStatusCounts(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	totalValue, err := repo.SumOrderValue(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	recent, err := repo.ListOrdersByUser(userID, s.recentOrderLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}

	stats := &UserBehaviorStats{
		UserID:           userID,
		CompletedOrders:  counts[constants.LedgerOrderStatusCompleted] + counts[constants.LedgerOrderStatusDelivered],
		ReturnedOrders:   counts[constants.LedgerOrderStatusReturned],
		DeliveryFailures: counts[constants.LedgerOrderStatusDeliveryFailed],
		CancelledOrders:  counts[constants.LedgerOrderStatusCancelled],
		TotalOrderValue:  totalValue,
		RecentOrders:     recent,
	}
	for _, count := range counts {
		stats.TotalOrders += count
	}
	if stats.TotalOrders > 0 {
		stats.AvgOrderValue = totalValue / float64(stats.TotalOrders)
	}
	stats.AvgDaysBetweenOrders = avgDaysBetween(recent)
	return stats, nil
}

// avgDaysBetween 计算相邻订单平均间隔（订单按时间倒序）
func avgDaysBetween(orders []models.LedgerOrder) *float64 {
	if len(orders) < 2 {
		return nil
	}
	var total float64
	for i := 0; i < len(orders)-1; i++ {
		total += orders[i].CreatedAt.Sub(orders[i+1].CreatedAt).Hours() / 24
	}
	avg := total / float64(len(orders)-1)
	return &avg
}

// CreateLedgerOrderInput 账本建单输入
type CreateLedgerOrderInput struct {
	OrderID         string
	UserID          string
	OrderValue      models.Money
	ProductCategory string
	Destination     string
}

// GetOrder 获取账本订单
func (s *LedgerService) GetOrder(ctx context.Context, orderID string) (*models.LedgerOrder, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order_id is required", ErrValidation)
	}
	order, err := s.repo.WithContext(ctx).GetOrder(orderID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	if order == nil {
		return nil, fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	return order, nil
}

// CreateOrder 登记订单，同一用户重复提交返回已有记录
func (s *LedgerService) CreateOrder(ctx context.Context, input CreateLedgerOrderInput) (*models.LedgerOrder, bool, error) {
	input.OrderID = strings.TrimSpace(input.OrderID)
	input.UserID = strings.TrimSpace(input.UserID)
	if input.OrderID == "" || input.UserID == "" {
		return nil, false, fmt.Errorf("%w: order_id and user_id are required", ErrValidation)
	}
	if input.OrderValue.IsNegative() {
		return nil, false, fmt.Errorf("%w: order_value must not be negative", ErrValidation)
	}
	repo := s.repo.WithContext(ctx)

	existing, err := repo.GetOrder(input.OrderID)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	if existing != nil {
		if existing.UserID != input.UserID {
			return nil, false, fmt.Errorf("%w: %s", ErrOrderExists, input.OrderID)
		}
		return existing, false, nil
	}

	now := s.now()
	order := &models.LedgerOrder{
		OrderID:         input.OrderID,
		UserID:          input.UserID,
		OrderValue:      input.OrderValue,
		ProductCategory: strings.TrimSpace(input.ProductCategory),
		Destination:     strings.TrimSpace(input.Destination),
		Status:          constants.LedgerOrderStatusCreated,
		FailureReason:   constants.FailureReasonNone,
		IsActive:        true,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err = repo.Transaction(func(tx *gorm.DB) error {
		txRepo := repo.WithTx(tx)
		if err := txRepo.CreateOrder(order); err != nil {
			return err
		}
		return txRepo.CreateEntry(&models.LedgerEntry{
			ID:        uuid.NewString(),
			Kind:      constants.LedgerEntryKindOrderStatus,
			UserID:    order.UserID,
			OrderID:   order.OrderID,
			ToStatus:  order.Status,
			CreatedAt: now,
		})
	})
	if err != nil {
		if again, getErr := repo.GetOrder(input.OrderID); getErr == nil && again != nil && again.UserID == input.UserID {
			return again, false, nil
		}
		return nil, false, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return order, true, nil
}

// RecordDeliveryFailure 记录配送失败并累加尝试次数
func (s *LedgerService) RecordDeliveryFailure(ctx context.Context, orderID, reason string) (*models.LedgerOrder, error) {
	reason = strings.ToUpper(strings.TrimSpace(reason))
	if reason == "" {
		reason = constants.FailureReasonOther
	}
	if !failureReasons[reason] || reason == constants.FailureReasonNone {
		return nil, fmt.Errorf("%w: unsupported failure reason %q", ErrValidation, reason)
	}
	return s.transitionOrder(ctx, orderID, constants.LedgerOrderStatusDeliveryFailed, func(order *models.LedgerOrder, updates map[string]interface{}) {
		updates["delivery_attempts"] = order.DeliveryAttempts + 1
		updates["failure_reason"] = reason
	}, reason)
}

// RecordProductReturn 记录退货
func (s *LedgerService) RecordProductReturn(ctx context.Context, orderID, reason string) (*models.LedgerOrder, error) {
	return s.transitionOrder(ctx, orderID, constants.LedgerOrderStatusReturned, nil, reason)
}

// MarkCompleted 标记订单完成
func (s *LedgerService) MarkCompleted(ctx context.Context, orderID string) (*models.LedgerOrder, error) {
	return s.transitionOrder(ctx, orderID, constants.LedgerOrderStatusCompleted, nil, "")
}

func (s *LedgerService) transitionOrder(ctx context.Context, orderID, target string, mutate func(order *models.LedgerOrder, updates map[string]interface{}), note string) (*models.LedgerOrder, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, fmt.Errorf("%w: order_id is required", ErrValidation)
	}
	repo := s.repo.WithContext(ctx)

	var result *models.LedgerOrder
	err := repo.Transaction(func(tx *gorm.DB) error {
		txRepo := repo.WithTx(tx)
		order, err := txRepo.GetOrderForUpdate(orderID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
		}
		if order == nil {
			return fmt.Errorf("%w: order %s", ErrNotFound, orderID)
		}
		if !ledgerOrderTransitions[order.Status][target] {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, target)
		}
		now := s.now()
		updates := map[string]interface{}{
			"status":     target,
			"is_active":  false,
			"updated_at": now,
		}
		if mutate != nil {
			mutate(order, updates)
		}
		if err := txRepo.UpdateOrder(orderID, updates); err != nil {
			return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
		}
		if err := txRepo.CreateEntry(&models.LedgerEntry{
			ID:         uuid.NewString(),
			Kind:       constants.LedgerEntryKindOrderStatus,
			UserID:     order.UserID,
			OrderID:    order.OrderID,
			FromStatus: order.Status,
			ToStatus:   target,
			Note:       truncateNote(note),
			CreatedAt:  now,
		}); err != nil {
			return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
		}
		reloaded, err := txRepo.GetOrder(orderID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
		}
		result = reloaded
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// ListEntries 查询用户账本流水
func (s *LedgerService) ListEntries(ctx context.Context, userID string, limit int) ([]models.LedgerEntry, error) {
	entries, err := s.repo.WithContext(ctx).ListEntries(strings.TrimSpace(userID), limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLedgerUnavailable, err)
	}
	return entries, nil
}

func truncateNote(note string) string {
	note = strings.TrimSpace(note)
	if len(note) > 255 {
		return note[:255]
	}
	return note
}
