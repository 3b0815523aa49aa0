package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zk-express/agent-engine/internal/cache"
	"github.com/zk-express/agent-engine/internal/constants"
	"github.com/zk-express/agent-engine/internal/logger"
	"github.com/zk-express/agent-engine/internal/models"
	"github.com/zk-express/agent-engine/internal/repository"
)

const (
	defaultAnalyticsDays = 30
	maxAnalyticsDays     = 365
)

// PartnerPerformance 伙伴窗口期绩效
type PartnerPerformance struct {
	PartnerID         string                  `json:"partner_id"`
	Days              int                     `json:"days"`
	TotalOrders       int64                   `json:"total_orders"`
	Delivered         int64                   `json:"delivered"`
	Failed            int64                   `json:"failed"`
	Returned          int64                   `json:"returned"`
	InFlight          int64                   `json:"in_flight"`
	SuccessRate       float64                 `json:"success_rate"`
	AvgDeliveryHours  float64                 `json:"avg_delivery_hours"`
	AvgCustomerRating float64                 `json:"avg_customer_rating"`
	RatedOrders       int64                   `json:"rated_orders"`
	Capacity          *cache.CapacitySnapshot `json:"capacity,omitempty"`
}

// SystemAnalytics 全局分配统计
type SystemAnalytics struct {
	Days                          int              `json:"days"`
	TotalAllocations              int64            `json:"total_allocations"`
	MethodDistribution            map[string]int64 `json:"method_distribution"`
	StatusDistribution            map[string]int64 `json:"status_distribution"`
	AvgConfidence                 float64          `json:"avg_confidence"`
	AvgDeliverySuccessProbability float64          `json:"avg_delivery_success_probability"`
}

// FoldPartnerPerformance 对窗口内记录做绩效汇总；缺失时间戳或评分的记录不计入对应均值
func FoldPartnerPerformance(partnerID string, days int, records []models.OrderAllocation) PartnerPerformance {
	summary := PartnerPerformance{PartnerID: partnerID, Days: days}
	var deliveryHours float64
	var timedDeliveries int64
	var ratingSum float64
	for i := range records {
		record := &records[i]
		summary.TotalOrders++
		switch record.Status {
		case constants.AllocationStatusDelivered:
			summary.Delivered++
			if record.ActualDeliveryAt != nil && !record.AllocatedAt.IsZero() {
				elapsed := record.ActualDeliveryAt.Sub(record.AllocatedAt)
				if elapsed >= 0 {
					deliveryHours += elapsed.Hours()
					timedDeliveries++
				}
			}
		case constants.AllocationStatusFailed:
			summary.Failed++
		case constants.AllocationStatusReturned:
			summary.Returned++
		default:
			summary.InFlight++
		}
		if record.CustomerRating != nil {
			ratingSum += *record.CustomerRating
			summary.RatedOrders++
		}
	}
	if summary.TotalOrders > 0 {
		summary.SuccessRate = float64(summary.Delivered) / float64(summary.TotalOrders)
	}
	if timedDeliveries > 0 {
		summary.AvgDeliveryHours = deliveryHours / float64(timedDeliveries)
	}
	if summary.RatedOrders > 0 {
		summary.AvgCustomerRating = ratingSum / float64(summary.RatedOrders)
	}
	return summary
}

// FoldSystemAnalytics 汇总分配方式、状态分布与平均置信度
func FoldSystemAnalytics(days int, records []models.OrderAllocation) SystemAnalytics {
	result := SystemAnalytics{
		Days:               days,
		MethodDistribution: map[string]int64{},
		StatusDistribution: map[string]int64{},
	}
	var confidenceSum, probabilitySum float64
	var probabilityCount int64
	for i := range records {
		record := &records[i]
		result.TotalAllocations++
		result.MethodDistribution[record.Method]++
		result.StatusDistribution[record.Status]++
		confidenceSum += record.Confidence
		if record.DeliverySuccessProbability != nil {
			probabilitySum += *record.DeliverySuccessProbability
			probabilityCount++
		}
	}
	if result.TotalAllocations > 0 {
		result.AvgConfidence = confidenceSum / float64(result.TotalAllocations)
	}
	if probabilityCount > 0 {
		result.AvgDeliverySuccessProbability = probabilitySum / float64(probabilityCount)
	}
	return result
}

// CapacityReader 读取伙伴在途容量
type CapacityReader interface {
	GetCapacity(ctx context.Context, partnerID string) (cache.CapacitySnapshot, error)
}

// PerformanceWriter 写回伙伴绩效快照
type PerformanceWriter interface {
	ListActivePartners(ctx context.Context) ([]models.LogisticsPartner, error)
	UpdatePerformance(ctx context.Context, partnerID string, summary PartnerPerformance) error
}

// AnalyticsService 分配记录的只读统计
type AnalyticsService struct {
	repo     repository.AllocationRepository
	capacity CapacityReader
	writer   PerformanceWriter
	now      func() time.Time
}

// NewAnalyticsService 创建统计服务
func NewAnalyticsService(repo repository.AllocationRepository, capacity CapacityReader, writer PerformanceWriter) *AnalyticsService {
	return &AnalyticsService{
		repo:     repo,
		capacity: capacity,
		writer:   writer,
		now:      time.Now,
	}
}

func normalizeDays(days int) int {
	if days <= 0 {
		return defaultAnalyticsDays
	}
	if days > maxAnalyticsDays {
		return maxAnalyticsDays
	}
	return days
}

func (s *AnalyticsService) windowStart(days int) time.Time {
	return s.now().Add(-time.Duration(days) * 24 * time.Hour)
}

// GetPartnerAnalytics 伙伴窗口期绩效（附当前在途量）
func (s *AnalyticsService) GetPartnerAnalytics(ctx context.Context, partnerID string, days int) (*PartnerPerformance, error) {
	partnerID = strings.TrimSpace(partnerID)
	if partnerID == "" {
		return nil, fmt.Errorf("%w: partner_id is required", ErrValidation)
	}
	days = normalizeDays(days)
	records, err := s.repo.WithContext(ctx).ListSince(partnerID, s.windowStart(days))
	if err != nil {
		return nil, err
	}
	summary := FoldPartnerPerformance(partnerID, days, records)
	if s.capacity != nil {
		snapshot, err := s.capacity.GetCapacity(ctx, partnerID)
		if err != nil {
			return nil, err
		}
		summary.Capacity = &snapshot
	}
	return &summary, nil
}

// GetSystemAnalytics 全局窗口期统计
func (s *AnalyticsService) GetSystemAnalytics(ctx context.Context, days int) (*SystemAnalytics, error) {
	days = normalizeDays(days)
	records, err := s.repo.WithContext(ctx).ListSince("", s.windowStart(days))
	if err != nil {
		return nil, err
	}
	result := FoldSystemAnalytics(days, records)
	return &result, nil
}

// RefreshPerformance 重算全部在役伙伴的绩效快照，返回成功刷新的数量
func (s *AnalyticsService) RefreshPerformance(ctx context.Context, days int) (int, error) {
	if s.writer == nil {
		return 0, nil
	}
	days = normalizeDays(days)
	partners, err := s.writer.ListActivePartners(ctx)
	if err != nil {
		return 0, err
	}
	since := s.windowStart(days)
	repo := s.repo.WithContext(ctx)
	refreshed := 0
	for _, partner := range partners {
		records, err := repo.ListSince(partner.ID, since)
		if err != nil {
			return refreshed, err
		}
		summary := FoldPartnerPerformance(partner.ID, days, records)
		if err := s.writer.UpdatePerformance(ctx, partner.ID, summary); err != nil {
			logger.Warnw("analytics_refresh_partner_failed",
				"partner_id", partner.ID,
				"error", err,
			)
			continue
		}
		refreshed++
	}
	logger.Infow("analytics_performance_refreshed",
		"partners", len(partners),
		"refreshed", refreshed,
		"days", days,
	)
	return refreshed, nil
}

// UserAnalytics 用户维度统计
type UserAnalytics struct {
	UserID             string             `json:"user_id"`
	Reputation         int64              `json:"reputation"`
	Behavior           *UserBehaviorStats `json:"behavior"`
	TotalAllocations   int64              `json:"total_allocations"`
	StatusDistribution map[string]int64   `json:"status_distribution"`
}

// GetUserAnalytics 汇总用户信誉、行为与分配记录
func (s *AnalyticsService) GetUserAnalytics(ctx context.Context, ledger BehaviorReader, userID string) (*UserAnalytics, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, fmt.Errorf("%w: user_id is required", ErrValidation)
	}
	reputation, err := ledger.GetUserReputation(ctx, userID)
	if err != nil {
		return nil, err
	}
	stats, err := ledger.GetUserBehaviorStats(ctx, userID)
	if err != nil {
		return nil, err
	}
	records, total, err := s.repo.WithContext(ctx).List(repository.AllocationListFilter{UserID: userID})
	if err != nil {
		return nil, err
	}
	distribution := map[string]int64{}
	for i := range records {
		distribution[records[i].Status]++
	}
	return &UserAnalytics{
		UserID:             userID,
		Reputation:         reputation,
		Behavior:           stats,
		TotalAllocations:   total,
		StatusDistribution: distribution,
	}, nil
}
