package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/zk-express/agent-engine/internal/constants"
	"github.com/zk-express/agent-engine/internal/models"

	"gorm.io/gorm"
)

// PartnerRepository 物流伙伴数据访问接口
type PartnerRepository interface {
	GetByID(id string) (*models.LogisticsPartner, error)
	ListActive() ([]models.LogisticsPartner, error)
	List(filter PartnerListFilter) ([]models.LogisticsPartner, int64, error)
	Create(partner *models.LogisticsPartner) error
	Update(partner *models.LogisticsPartner) error
	UpdateStatus(id string, status string, isActive bool) error
	UpdatePerformance(id string, updates map[string]interface{}) error
	CountAll() (int64, error)
	WithTx(tx *gorm.DB) *GormPartnerRepository
	WithContext(ctx context.Context) *GormPartnerRepository
}

// GormPartnerRepository GORM 物流伙伴仓储实现
type GormPartnerRepository struct {
	db *gorm.DB
}

// NewPartnerRepository 创建物流伙伴仓储
func NewPartnerRepository(db *gorm.DB) *GormPartnerRepository {
	return &GormPartnerRepository{db: db}
}

// WithTx 绑定事务
func (r *GormPartnerRepository) WithTx(tx *gorm.DB) *GormPartnerRepository {
	if tx == nil {
		return r
	}
	return &GormPartnerRepository{db: tx}
}

// WithContext 绑定请求上下文
func (r *GormPartnerRepository) WithContext(ctx context.Context) *GormPartnerRepository {
	if ctx == nil {
		return r
	}
	return &GormPartnerRepository{db: r.db.WithContext(ctx)}
}

// GetByID 根据 ID 获取伙伴
func (r *GormPartnerRepository) GetByID(id string) (*models.LogisticsPartner, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil
	}
	var partner models.LogisticsPartner
	if err := r.db.Where("id = ?", id).First(&partner).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &partner, nil
}

// ListActive 获取全部可接单伙伴（按创建顺序稳定排序）
func (r *GormPartnerRepository) ListActive() ([]models.LogisticsPartner, error) {
	var partners []models.LogisticsPartner
	err := r.db.Where("is_active = ? AND operational_status = ?", true, constants.PartnerStatusActive).
		Order("created_at asc, id asc").
		Find(&partners).Error
	if err != nil {
		return nil, err
	}
	return partners, nil
}

// List 按条件分页查询伙伴
func (r *GormPartnerRepository) List(filter PartnerListFilter) ([]models.LogisticsPartner, int64, error) {
	query := r.db.Model(&models.LogisticsPartner{})
	if filter.Status != "" {
		query = query.Where("operational_status = ?", filter.Status)
	}
	if filter.OnlyActive {
		query = query.Where("is_active = ?", true)
	}
	if filter.MinReputation != nil {
		query = query.Where("min_reputation_threshold <= ?", *filter.MinReputation).
			Where("max_reputation_threshold IS NULL OR max_reputation_threshold >= ?", *filter.MinReputation)
	}
	if filter.Search != "" {
		like := "%" + strings.ToLower(strings.TrimSpace(filter.Search)) + "%"
		query = query.Where("LOWER(name) LIKE ?", like)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = query.Scopes(paginate(filter.Page, filter.PageSize))

	var partners []models.LogisticsPartner
	if err := query.Order("created_at asc, id asc").Find(&partners).Error; err != nil {
		return nil, 0, err
	}
	return partners, total, nil
}

// Create 创建伙伴
func (r *GormPartnerRepository) Create(partner *models.LogisticsPartner) error {
	return r.db.Create(partner).Error
}

// Update 更新伙伴
func (r *GormPartnerRepository) Update(partner *models.LogisticsPartner) error {
	return r.db.Save(partner).Error
}

// UpdateStatus 切换运营状态
func (r *GormPartnerRepository) UpdateStatus(id string, status string, isActive bool) error {
	return r.db.Model(&models.LogisticsPartner{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"operational_status": status,
			"is_active":          isActive,
		}).Error
}

// UpdatePerformance 写入绩效快照
func (r *GormPartnerRepository) UpdatePerformance(id string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.Model(&models.LogisticsPartner{}).Where("id = ?", id).Updates(updates).Error
}

// CountAll 统计伙伴总数
func (r *GormPartnerRepository) CountAll() (int64, error) {
	var total int64
	if err := r.db.Model(&models.LogisticsPartner{}).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}
