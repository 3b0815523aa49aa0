package repository

import (
	"errors"
	"strings"

	"github.com/zk-express/agent-engine/internal/models"

	"gorm.io/gorm"
)

// OperatorRepository 运营账号数据访问接口
type OperatorRepository interface {
	GetByID(id uint) (*models.Operator, error)
	GetByUsername(username string) (*models.Operator, error)
	Create(operator *models.Operator) error
	TouchLastSeen(id uint) error
	BumpTokenVersion(id uint) error
	SetDisabled(id uint, disabled bool) error
	List() ([]models.Operator, error)
}

// GormOperatorRepository GORM 实现
type GormOperatorRepository struct {
	db *gorm.DB
}

// NewOperatorRepository 创建运营账号仓库
func NewOperatorRepository(db *gorm.DB) *GormOperatorRepository {
	return &GormOperatorRepository{db: db}
}

// GetByID 根据 ID 获取运营账号
func (r *GormOperatorRepository) GetByID(id uint) (*models.Operator, error) {
	if id == 0 {
		return nil, nil
	}
	var operator models.Operator
	if err := r.db.First(&operator, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &operator, nil
}

// GetByUsername 根据账号名获取运营账号
func (r *GormOperatorRepository) GetByUsername(username string) (*models.Operator, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, nil
	}
	var operator models.Operator
	if err := r.db.Where("username = ?", username).First(&operator).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &operator, nil
}

// Create 创建运营账号
func (r *GormOperatorRepository) Create(operator *models.Operator) error {
	return r.db.Create(operator).Error
}

// TouchLastSeen 更新最近访问时间
func (r *GormOperatorRepository) TouchLastSeen(id uint) error {
	return r.db.Model(&models.Operator{}).Where("id = ?", id).Update("last_seen_at", gorm.Expr("CURRENT_TIMESTAMP")).Error
}

// BumpTokenVersion 递增 Token 版本，使已签发令牌全部失效
func (r *GormOperatorRepository) BumpTokenVersion(id uint) error {
	return r.db.Model(&models.Operator{}).Where("id = ?", id).
		Update("token_version", gorm.Expr("token_version + 1")).Error
}

// SetDisabled 启用或禁用运营账号
func (r *GormOperatorRepository) SetDisabled(id uint, disabled bool) error {
	return r.db.Model(&models.Operator{}).Where("id = ?", id).Update("disabled", disabled).Error
}

// List 按 ID 顺序列出全部运营账号
func (r *GormOperatorRepository) List() ([]models.Operator, error) {
	operators := make([]models.Operator, 0)
	if err := r.db.Order("id ASC").Find(&operators).Error; err != nil {
		return nil, err
	}
	return operators, nil
}
