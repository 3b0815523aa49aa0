package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/zk-express/agent-engine/internal/models"

	"gorm.io/gorm"
)

// AllocationRepository 分配记录数据访问接口
type AllocationRepository interface {
	Create(allocation *models.OrderAllocation) error
	GetByID(id string) (*models.OrderAllocation, error)
	GetByOrderID(orderID string) (*models.OrderAllocation, error)
	TransitionStatus(id string, fromStatus string, updates map[string]interface{}) (bool, error)
	List(filter AllocationListFilter) ([]models.OrderAllocation, int64, error)
	ListSince(partnerID string, since time.Time) ([]models.OrderAllocation, error)
	ListArchivable(before time.Time, statuses []string, limit int) ([]models.OrderAllocation, error)
	MarkArchived(ids []string, at time.Time) (int64, error)
	WithTx(tx *gorm.DB) *GormAllocationRepository
	WithContext(ctx context.Context) *GormAllocationRepository
}

// GormAllocationRepository GORM 分配记录仓储实现
type GormAllocationRepository struct {
	db *gorm.DB
}

// NewAllocationRepository 创建分配记录仓储
func NewAllocationRepository(db *gorm.DB) *GormAllocationRepository {
	return &GormAllocationRepository{db: db}
}

// WithTx 绑定事务
func (r *GormAllocationRepository) WithTx(tx *gorm.DB) *GormAllocationRepository {
	if tx == nil {
		return r
	}
	return &GormAllocationRepository{db: tx}
}

// WithContext 绑定请求上下文
func (r *GormAllocationRepository) WithContext(ctx context.Context) *GormAllocationRepository {
	if ctx == nil {
		return r
	}
	return &GormAllocationRepository{db: r.db.WithContext(ctx)}
}

// Create 写入分配记录
func (r *GormAllocationRepository) Create(allocation *models.OrderAllocation) error {
	return r.db.Create(allocation).Error
}

// GetByID 根据 ID 获取分配记录
func (r *GormAllocationRepository) GetByID(id string) (*models.OrderAllocation, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	var allocation models.OrderAllocation
	if err := r.db.Where("id = ?", id).First(&allocation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &allocation, nil
}

// GetByOrderID 根据订单 ID 获取分配记录
func (r *GormAllocationRepository) GetByOrderID(orderID string) (*models.OrderAllocation, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, nil
	}
	var allocation models.OrderAllocation
	if err := r.db.Where("order_id = ?", orderID).First(&allocation).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &allocation, nil
}

// TransitionStatus 以原状态为条件更新，返回是否命中
func (r *GormAllocationRepository) TransitionStatus(id string, fromStatus string, updates map[string]interface{}) (bool, error) {
	result := r.db.Model(&models.OrderAllocation{}).
		Where("id = ? AND status = ?", id, fromStatus).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// List 按条件分页查询分配记录
func (r *GormAllocationRepository) List(filter AllocationListFilter) ([]models.OrderAllocation, int64, error) {
	query := r.db.Model(&models.OrderAllocation{})
	if filter.PartnerID != "" {
		query = query.Where("partner_id = ?", filter.PartnerID)
	}
	if filter.UserID != "" {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		query = query.Where("status = ?", filter.Status)
	}
	if filter.AllocatedFrom != nil {
		query = query.Where("allocated_at >= ?", *filter.AllocatedFrom)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = query.Scopes(paginate(filter.Page, filter.PageSize))

	var allocations []models.OrderAllocation
	if err := query.Order("allocated_at desc, id desc").Find(&allocations).Error; err != nil {
		return nil, 0, err
	}
	return allocations, total, nil
}

// ListSince 查询窗口内的分配记录，partnerID 为空时返回全部伙伴
func (r *GormAllocationRepository) ListSince(partnerID string, since time.Time) ([]models.OrderAllocation, error) {
	query := r.db.Model(&models.OrderAllocation{}).Where("allocated_at >= ?", since)
	if partnerID != "" {
		query = query.Where("partner_id = ?", partnerID)
	}
	var allocations []models.OrderAllocation
	if err := query.Order("allocated_at asc").Find(&allocations).Error; err != nil {
		return nil, err
	}
	return allocations, nil
}

// ListArchivable 查询早于截止时间且未归档的终态记录
func (r *GormAllocationRepository) ListArchivable(before time.Time, statuses []string, limit int) ([]models.OrderAllocation, error) {
	query := r.db.Model(&models.OrderAllocation{}).
		Where("allocated_at < ? AND archived_at IS NULL", before)
	if len(statuses) > 0 {
		query = query.Where("status IN ?", statuses)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var allocations []models.OrderAllocation
	if err := query.Order("allocated_at asc").Find(&allocations).Error; err != nil {
		return nil, err
	}
	return allocations, nil
}

// MarkArchived 标记归档时间
func (r *GormAllocationRepository) MarkArchived(ids []string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.db.Model(&models.OrderAllocation{}).
		Where("id IN ? AND archived_at IS NULL", ids).
		Update("archived_at", at)
	if result.Error != nil {
		return 0, result.Error
	}
	return result.RowsAffected, nil
}
