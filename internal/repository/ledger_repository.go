package repository

import (
	"context"
	"errors"
	"strings"

	"github.com/zk-express/agent-engine/internal/models"

	"gorm.io/gorm"
)

// LedgerRepository 信誉账本数据访问接口
type LedgerRepository interface {
	GetAccount(userID string) (*models.ReputationAccount, error)
	GetAccountForUpdate(userID string) (*models.ReputationAccount, error)
	CreateAccount(account *models.ReputationAccount) error
	UpdateAccountBalance(account *models.ReputationAccount, newBalance int64) (bool, error)
	CreateEntry(entry *models.LedgerEntry) error
	GetEntryByReference(reference string) (*models.LedgerEntry, error)
	ListEntries(userID string, limit int) ([]models.LedgerEntry, error)
	CreateOrder(order *models.LedgerOrder) error
	GetOrder(orderID string) (*models.LedgerOrder, error)
	GetOrderForUpdate(orderID string) (*models.LedgerOrder, error)
	UpdateOrder(orderID string, updates map[string]interface{}) error
	ListOrdersByUser(userID string, limit int) ([]models.LedgerOrder, error)
	OrderStatusCounts(userID string) (map[string]int64, error)
	SumOrderValue(userID string) (float64, error)
	WithTx(tx *gorm.DB) *GormLedgerRepository
	WithContext(ctx context.Context) *GormLedgerRepository
	Transaction(fn func(tx *gorm.DB) error) error
}

// GormLedgerRepository GORM 信誉账本实现
type GormLedgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository 创建信誉账本仓储
func NewLedgerRepository(db *gorm.DB) *GormLedgerRepository {
	return &GormLedgerRepository{db: db}
}

// WithTx 绑定事务
func (r *GormLedgerRepository) WithTx(tx *gorm.DB) *GormLedgerRepository {
	if tx == nil {
		return r
	}
	return &GormLedgerRepository{db: tx}
}

// WithContext 绑定请求上下文
func (r *GormLedgerRepository) WithContext(ctx context.Context) *GormLedgerRepository {
	if ctx == nil {
		return r
	}
	return &GormLedgerRepository{db: r.db.WithContext(ctx)}
}

// Transaction 在事务中执行
func (r *GormLedgerRepository) Transaction(fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(fn)
}

// GetAccount 获取信誉账户
func (r *GormLedgerRepository) GetAccount(userID string) (*models.ReputationAccount, error) {
	return r.getAccount(r.db, userID)
}

// GetAccountForUpdate 加锁获取信誉账户
func (r *GormLedgerRepository) GetAccountForUpdate(userID string) (*models.ReputationAccount, error) {
	return r.getAccount(withRowLock(r.db), userID)
}

func (r *GormLedgerRepository) getAccount(db *gorm.DB, userID string) (*models.ReputationAccount, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil
	}
	var account models.ReputationAccount
	if err := db.Where("user_id = ?", userID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &account, nil
}

// CreateAccount 创建信誉账户
func (r *GormLedgerRepository) CreateAccount(account *models.ReputationAccount) error {
	return r.db.Create(account).Error
}

// UpdateAccountBalance 以版本号为条件更新余额，返回是否命中
func (r *GormLedgerRepository) UpdateAccountBalance(account *models.ReputationAccount, newBalance int64) (bool, error) {
	result := r.db.Model(&models.ReputationAccount{}).
		Where("user_id = ? AND version = ?", account.UserID, account.Version).
		Updates(map[string]interface{}{
			"reputation": newBalance,
			"version":    account.Version + 1,
		})
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// CreateEntry 追加账本流水
func (r *GormLedgerRepository) CreateEntry(entry *models.LedgerEntry) error {
	return r.db.Create(entry).Error
}

// GetEntryByReference 按幂等引用获取流水
func (r *GormLedgerRepository) GetEntryByReference(reference string) (*models.LedgerEntry, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, nil
	}
	var entry models.LedgerEntry
	if err := r.db.Where("reference = ?", reference).First(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &entry, nil
}

// ListEntries 查询用户最近流水
func (r *GormLedgerRepository) ListEntries(userID string, limit int) ([]models.LedgerEntry, error) {
	query := r.db.Where("user_id = ?", userID).Order("created_at desc, id desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var entries []models.LedgerEntry
	if err := query.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

// CreateOrder 写入账本订单
func (r *GormLedgerRepository) CreateOrder(order *models.LedgerOrder) error {
	return r.db.Create(order).Error
}

// GetOrder 获取账本订单
func (r *GormLedgerRepository) GetOrder(orderID string) (*models.LedgerOrder, error) {
	return r.getOrder(r.db, orderID)
}

// GetOrderForUpdate 加锁获取账本订单
func (r *GormLedgerRepository) GetOrderForUpdate(orderID string) (*models.LedgerOrder, error) {
	return r.getOrder(withRowLock(r.db), orderID)
}

func (r *GormLedgerRepository) getOrder(db *gorm.DB, orderID string) (*models.LedgerOrder, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, nil
	}
	var order models.LedgerOrder
	if err := db.Where("order_id = ?", orderID).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// UpdateOrder 更新账本订单
func (r *GormLedgerRepository) UpdateOrder(orderID string, updates map[string]interface{}) error {
	return r.db.Model(&models.LedgerOrder{}).Where("order_id = ?", orderID).Updates(updates).Error
}

// ListOrdersByUser 查询用户最近订单（按创建时间倒序）
func (r *GormLedgerRepository) ListOrdersByUser(userID string, limit int) ([]models.LedgerOrder, error) {
	query := r.db.Where("user_id = ?", userID).Order("created_at desc, order_id desc")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var orders []models.LedgerOrder
	if err := query.Find(&orders).Error; err != nil {
		return nil, err
	}
	return orders, nil
}

type orderStatusCountRow struct {
	Status string
	Total  int64
}

// OrderStatusCounts 按状态统计用户订单数
func (r *GormLedgerRepository) OrderStatusCounts(userID string) (map[string]int64, error) {
	var rows []orderStatusCountRow
	err := r.db.Model(&models.LedgerOrder{}).
		Select("status, COUNT(*) AS total").
		Where("user_id = ?", userID).
		Group("status").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Total
	}
	return counts, nil
}

// SumOrderValue 统计用户订单总额
func (r *GormLedgerRepository) SumOrderValue(userID string) (float64, error) {
	var total float64
	err := r.db.Model(&models.LedgerOrder{}).
		Select("COALESCE(SUM(order_value), 0)").
		Where("user_id = ?", userID).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}
