package repository

import (
	"context"

	"github.com/zk-express/agent-engine/internal/models"

	"gorm.io/gorm"
)

// AuditLogRepository 运营审计日志数据访问接口
type AuditLogRepository interface {
	Create(log *models.OperatorAuditLog) error
	List(filter AuditLogListFilter) ([]models.OperatorAuditLog, int64, error)
	WithContext(ctx context.Context) *GormAuditLogRepository
}

// GormAuditLogRepository GORM 实现
type GormAuditLogRepository struct {
	db *gorm.DB
}

// NewAuditLogRepository 创建审计日志仓库
func NewAuditLogRepository(db *gorm.DB) *GormAuditLogRepository {
	return &GormAuditLogRepository{db: db}
}

// WithContext 绑定请求上下文
func (r *GormAuditLogRepository) WithContext(ctx context.Context) *GormAuditLogRepository {
	if ctx == nil {
		return r
	}
	return &GormAuditLogRepository{db: r.db.WithContext(ctx)}
}

// Create 写入审计日志
func (r *GormAuditLogRepository) Create(log *models.OperatorAuditLog) error {
	if log == nil {
		return nil
	}
	return r.db.Create(log).Error
}

// List 按条件分页查询，最新在前
func (r *GormAuditLogRepository) List(filter AuditLogListFilter) ([]models.OperatorAuditLog, int64, error) {
	query := r.db.Model(&models.OperatorAuditLog{})
	if filter.ActorID != 0 {
		query = query.Where("actor_id = ?", filter.ActorID)
	}
	if filter.TargetOperatorID != 0 {
		query = query.Where("target_operator_id = ?", filter.TargetOperatorID)
	}
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if filter.PartnerID != "" {
		query = query.Where("partner_id = ?", filter.PartnerID)
	}
	if filter.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		query = query.Where("created_at <= ?", *filter.CreatedTo)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	query = query.Scopes(paginate(filter.Page, filter.PageSize))

	logs := make([]models.OperatorAuditLog, 0)
	if err := query.Order("id DESC").Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
