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

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultPartnerDailyLimit = 100
	defaultPartnerMaxValue   = 10000
)

// CapacityStore 伙伴在途容量计数器
type CapacityStore interface {
	Increment(ctx context.Context, partnerID, allocationID string) (cache.CapacityChange, error)
	Decrement(ctx context.Context, partnerID, allocationID string) (cache.CapacityChange, error)
	Get(ctx context.Context, partnerID string) (cache.CapacitySnapshot, error)
}

// PartnerService 物流伙伴目录
type PartnerService struct {
	repo     repository.PartnerRepository
	capacity CapacityStore
	now      func() time.Time
}

// NewPartnerService 创建伙伴目录服务
func NewPartnerService(repo repository.PartnerRepository, capacity CapacityStore) *PartnerService {
	return &PartnerService{
		repo:     repo,
		capacity: capacity,
		now:      time.Now,
	}
}

// CreatePartnerInput 创建伙伴输入
type CreatePartnerInput struct {
	ID                     string
	Name                   string
	MinReputationThreshold *int64
	MaxReputationThreshold *int64
	ServiceAreas           []string
	DailyOrderLimit        *int
	MinOrderValue          *models.Money
	MaxOrderValue          *models.Money
	SpecialCapabilities    []string
	PreferredCategories    []string
	DeliveryTypes          []string
	ContactInfo            models.JSON
}

// PartnerSearchInput 伙伴检索条件
type PartnerSearchInput struct {
	Area          string
	MinReputation *int64
	MaxOrderValue *models.Money
	Status        string
	Page          int
	PageSize      int
}

// ListActivePartners 列出全部可接单伙伴
func (s *PartnerService) ListActivePartners(ctx context.Context) ([]models.LogisticsPartner, error) {
	partners, err := s.repo.WithContext(ctx).ListActive()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPartnerStoreUnavailable, err)
	}
	return partners, nil
}

// ListPartnersByArea 列出服务指定区域的可接单伙伴
func (s *PartnerService) ListPartnersByArea(ctx context.Context, area string) ([]models.LogisticsPartner, error) {
	partners, err := s.ListActivePartners(ctx)
	if err != nil {
		return nil, err
	}
	return filterByArea(partners, area), nil
}

// GetPartner 获取伙伴详情
func (s *PartnerService) GetPartner(ctx context.Context, id string) (*models.LogisticsPartner, error) {
	partner, err := s.repo.WithContext(ctx).GetByID(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPartnerStoreUnavailable, err)
	}
	if partner == nil {
		return nil, fmt.Errorf("%w: partner %s", ErrNotFound, id)
	}
	return partner, nil
}

// ListPartners 分页列出伙伴
func (s *PartnerService) ListPartners(ctx context.Context, filter repository.PartnerListFilter) ([]models.LogisticsPartner, int64, error) {
	partners, total, err := s.repo.WithContext(ctx).List(filter)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrPartnerStoreUnavailable, err)
	}
	return partners, total, nil
}

// CreatePartner 创建伙伴，缺省字段使用目录默认值
func (s *PartnerService) CreatePartner(ctx context.Context, input CreatePartnerInput) (*models.LogisticsPartner, error) {
	partner, err := buildPartner(input, s.now())
	if err != nil {
		return nil, err
	}
	if err := s.repo.WithContext(ctx).Create(partner); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPartnerStoreUnavailable, err)
	}
	logger.Infow("partner_created", "partner_id", partner.ID, "name", partner.Name)
	return partner, nil
}

func buildPartner(input CreatePartnerInput, now time.Time) (*models.LogisticsPartner, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: partner name is required", ErrValidation)
	}
	id := strings.TrimSpace(input.ID)
	if id == "" {
		id = uuid.NewString()
	}
	partner := &models.LogisticsPartner{
		ID:                     id,
		Name:                   name,
		MaxReputationThreshold: input.MaxReputationThreshold,
		ServiceAreas:           models.StringArray(input.ServiceAreas).Normalized(),
		DailyOrderLimit:        defaultPartnerDailyLimit,
		MinOrderValue:          models.NewMoney(decimal.Zero),
		MaxOrderValue:          models.NewMoney(decimal.NewFromInt(defaultPartnerMaxValue)),
		SpecialCapabilities:    models.StringArray(input.SpecialCapabilities).Normalized(),
		PreferredCategories:    models.StringArray(input.PreferredCategories).Normalized(),
		DeliveryTypes:          models.StringArray(input.DeliveryTypes).Normalized(),
		ContactInfo:            input.ContactInfo,
		OperationalStatus:      constants.PartnerStatusActive,
		IsActive:               true,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if input.MinReputationThreshold != nil {
		partner.MinReputationThreshold = *input.MinReputationThreshold
	}
	if partner.MinReputationThreshold < 0 {
		return nil, fmt.Errorf("%w: min_reputation_threshold must not be negative", ErrValidation)
	}
	if partner.MaxReputationThreshold != nil && *partner.MaxReputationThreshold < partner.MinReputationThreshold {
		return nil, fmt.Errorf("%w: reputation band is empty", ErrValidation)
	}
	if input.DailyOrderLimit != nil {
		if *input.DailyOrderLimit <= 0 {
			return nil, fmt.Errorf("%w: daily_order_limit must be positive", ErrValidation)
		}
		partner.DailyOrderLimit = *input.DailyOrderLimit
	}
	if input.MinOrderValue != nil {
		partner.MinOrderValue = *input.MinOrderValue
	}
	if input.MaxOrderValue != nil {
		partner.MaxOrderValue = *input.MaxOrderValue
	}
	if partner.MinOrderValue.IsNegative() {
		return nil, fmt.Errorf("%w: min_order_value must not be negative", ErrValidation)
	}
	if partner.MaxOrderValue.IsPositive() && partner.MaxOrderValue.LessThan(partner.MinOrderValue.Decimal) {
		return nil, fmt.Errorf("%w: order value range is empty", ErrValidation)
	}
	return partner, nil
}

// SearchPartners 按区域、信誉、金额与状态检索伙伴
func (s *PartnerService) SearchPartners(ctx context.Context, input PartnerSearchInput) ([]models.LogisticsPartner, error) {
	status := strings.ToLower(strings.TrimSpace(input.Status))
	if status == "" {
		status = constants.PartnerStatusActive
	}
	partners, _, err := s.ListPartners(ctx, repository.PartnerListFilter{
		Status:        status,
		MinReputation: input.MinReputation,
		OnlyActive:    status == constants.PartnerStatusActive,
	})
	if err != nil {
		return nil, err
	}
	if area := strings.TrimSpace(input.Area); area != "" {
		partners = filterByArea(partners, area)
	}
	if input.MaxOrderValue != nil {
		filtered := partners[:0]
		for i := range partners {
			if partners[i].AcceptsOrderValue(*input.MaxOrderValue) {
				filtered = append(filtered, partners[i])
			}
		}
		partners = filtered
	}
	return paginateSlice(partners, input.Page, input.PageSize), nil
}

// UpdatePartnerStatus 切换伙伴运营状态（软停用）
func (s *PartnerService) UpdatePartnerStatus(ctx context.Context, id, status string) (*models.LogisticsPartner, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case constants.PartnerStatusActive, constants.PartnerStatusInactive, constants.PartnerStatusMaintenance:
	default:
		return nil, fmt.Errorf("%w: unsupported partner status %q", ErrValidation, status)
	}
	partner, err := s.GetPartner(ctx, id)
	if err != nil {
		return nil, err
	}
	isActive := status == constants.PartnerStatusActive
	if err := s.repo.WithContext(ctx).UpdateStatus(partner.ID, status, isActive); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPartnerStoreUnavailable, err)
	}
	partner.OperationalStatus = status
	partner.IsActive = isActive
	logger.Infow("partner_status_updated", "partner_id", partner.ID, "status", status)
	return partner, nil
}

// SeedDefaultPartners 目录为空时写入默认伙伴，返回新写入数量
func (s *PartnerService) SeedDefaultPartners(ctx context.Context) (int, error) {
	repo := s.repo.WithContext(ctx)
	total, err := repo.CountAll()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrPartnerStoreUnavailable, err)
	}
	if total > 0 {
		return 0, nil
	}
	created := 0
	for _, input := range DefaultPartners() {
		if _, err := s.CreatePartner(ctx, input); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

// DefaultPartners 默认伙伴：按信誉区间分层
func DefaultPartners() []CreatePartnerInput {
	intPtr := func(v int) *int { return &v }
	int64Ptr := func(v int64) *int64 { return &v }
	moneyPtr := func(v int64) *models.Money {
		m := models.NewMoney(decimal.NewFromInt(v))
		return &m
	}
	return []CreatePartnerInput{
		{
			ID:                     "premium-express",
			Name:                   "Premium Express",
			MinReputationThreshold: int64Ptr(200),
			ServiceAreas:           []string{"Mumbai", "Delhi", "Bangalore", "Chennai"},
			DailyOrderLimit:        intPtr(50),
			MinOrderValue:          moneyPtr(500),
			MaxOrderValue:          moneyPtr(50000),
			SpecialCapabilities:    []string{"same_day", "fragile_handling", "signature_required"},
			DeliveryTypes:          []string{"express", "same_day"},
		},
		{
			ID:                     "standard-logistics",
			Name:                   "Standard Logistics",
			MinReputationThreshold: int64Ptr(50),
			MaxReputationThreshold: int64Ptr(300),
			DailyOrderLimit:        intPtr(200),
			MaxOrderValue:          moneyPtr(20000),
			SpecialCapabilities:    []string{"tracking"},
			DeliveryTypes:          []string{"standard"},
		},
		{
			ID:                     "basic-delivery",
			Name:                   "Basic Delivery",
			MinReputationThreshold: int64Ptr(0),
			MaxReputationThreshold: int64Ptr(100),
			DailyOrderLimit:        intPtr(300),
			MaxOrderValue:          moneyPtr(5000),
			SpecialCapabilities:    []string{"cash_on_delivery"},
			DeliveryTypes:          []string{"standard", "economy"},
		},
	}
}

// IncrementCapacity 分配成功后占用容量
func (s *PartnerService) IncrementCapacity(ctx context.Context, partnerID, allocationID string) (cache.CapacityChange, error) {
	change, err := s.capacity.Increment(ctx, partnerID, allocationID)
	if err != nil {
		return change, fmt.Errorf("%w: %v", ErrCapacityStoreUnavailable, err)
	}
	return change, nil
}

// DecrementCapacity 终态时释放容量
func (s *PartnerService) DecrementCapacity(ctx context.Context, partnerID, allocationID string) (cache.CapacityChange, error) {
	change, err := s.capacity.Decrement(ctx, partnerID, allocationID)
	if err != nil {
		return change, fmt.Errorf("%w: %v", ErrCapacityStoreUnavailable, err)
	}
	return change, nil
}

// GetCapacity 读取伙伴当前在途数
func (s *PartnerService) GetCapacity(ctx context.Context, partnerID string) (cache.CapacitySnapshot, error) {
	snapshot, err := s.capacity.Get(ctx, partnerID)
	if err != nil {
		return snapshot, fmt.Errorf("%w: %v", ErrCapacityStoreUnavailable, err)
	}
	return snapshot, nil
}

// UpdatePerformance 写入伙伴绩效快照
func (s *PartnerService) UpdatePerformance(ctx context.Context, partnerID string, summary PartnerPerformance) error {
	now := s.now()
	updates := map[string]interface{}{
		"success_rate":           summary.SuccessRate,
		"avg_delivery_hours":     summary.AvgDeliveryHours,
		"customer_rating":        summary.AvgCustomerRating,
		"total_orders_handled":   summary.TotalOrders,
		"performance_updated_at": now,
		"updated_at":             now,
	}
	if err := s.repo.WithContext(ctx).UpdatePerformance(partnerID, updates); err != nil {
		return fmt.Errorf("%w: %v", ErrPartnerStoreUnavailable, err)
	}
	return nil
}

// servesArea 区域为空表示全部；否则目的地包含任一区域名（忽略大小写）即匹配
func servesArea(partner *models.LogisticsPartner, destination string) bool {
	if len(partner.ServiceAreas) == 0 {
		return true
	}
	dest := strings.ToLower(strings.TrimSpace(destination))
	for _, area := range partner.ServiceAreas {
		token := strings.ToLower(strings.TrimSpace(area))
		if token == "" {
			continue
		}
		if dest != "" && strings.Contains(dest, token) {
			return true
		}
	}
	return false
}

func filterByArea(partners []models.LogisticsPartner, destination string) []models.LogisticsPartner {
	result := make([]models.LogisticsPartner, 0, len(partners))
	for i := range partners {
		if servesArea(&partners[i], destination) {
			result = append(result, partners[i])
		}
	}
	return result
}

func paginateSlice[T any](items []T, page, pageSize int) []T {
	if pageSize <= 0 {
		return items
	}
	if page < 1 {
		page = 1
	}
	start := (page - 1) * pageSize
	if start >= len(items) {
		return []T{}
	}
	end := start + pageSize
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
