package models

import (
	"time"
)

// ReputationAccount 用户信誉账户（耐久计数器）
type ReputationAccount struct {
	UserID     string    `gorm:"primarykey;type:varchar(128)" json:"user_id"` // 用户ID
	Reputation int64     `gorm:"not null;default:0" json:"reputation"`        // 当前信誉值（非负）
	Version    int64     `gorm:"not null;default:0" json:"version"`           // 变更次数
	CreatedAt  time.Time `json:"created_at"`                                  // 创建时间
	UpdatedAt  time.Time `json:"updated_at"`                                  // 更新时间
}

// TableName 指定表名
func (ReputationAccount) TableName() string {
	return "reputation_accounts"
}

// LedgerOrder 账本订单记录
type LedgerOrder struct {
	OrderID          string    `gorm:"primarykey;type:varchar(128)" json:"order_id"`             // 订单ID
	UserID           string    `gorm:"type:varchar(128);index;not null" json:"user_id"`          // 用户ID
	OrderValue       Money     `gorm:"type:decimal(20,2);not null;default:0" json:"order_value"` // 订单金额
	ProductCategory  string    `gorm:"type:varchar(100)" json:"product_category"`                // 商品品类
	Destination      string    `gorm:"type:varchar(255)" json:"destination"`                     // 目的地
	Status           string    `gorm:"type:varchar(32);index;not null" json:"status"`            // 订单状态
	DeliveryAttempts int       `gorm:"not null;default:0" json:"delivery_attempts"`              // 配送尝试次数
	FailureReason    string    `gorm:"type:varchar(32);not null" json:"failure_reason"`          // 失败原因
	IsActive         bool      `gorm:"not null" json:"is_active"`                                // 是否仍在进行
	CreatedAt        time.Time `gorm:"index" json:"created_at"`                                  // 创建时间
	UpdatedAt        time.Time `json:"updated_at"`                                               // 更新时间
}

// TableName 指定表名
func (LedgerOrder) TableName() string {
	return "ledger_orders"
}

// LedgerEntry 账本流水（只追加）
type LedgerEntry struct {
	ID           string    `gorm:"primarykey;type:varchar(64)" json:"id"`           // 主键
	Kind         string    `gorm:"type:varchar(32);index;not null" json:"kind"`     // 流水类型
	UserID       string    `gorm:"type:varchar(128);index;not null" json:"user_id"` // 用户ID
	OrderID      string    `gorm:"type:varchar(128);index" json:"order_id"`         // 订单ID
	Reference    *string   `gorm:"type:varchar(191);uniqueIndex" json:"reference"`  // 幂等引用
	Delta        int64     `gorm:"not null;default:0" json:"delta"`                 // 实际变更量
	Requested    int64     `gorm:"not null;default:0" json:"requested"`             // 请求变更量
	BalanceAfter int64     `gorm:"not null;default:0" json:"balance_after"`         // 变更后信誉
	FromStatus   string    `gorm:"type:varchar(32)" json:"from_status,omitempty"`   // 订单原状态
	ToStatus     string    `gorm:"type:varchar(32)" json:"to_status,omitempty"`     // 订单新状态
	Note         string    `gorm:"type:varchar(255)" json:"note"`                   // 备注
	CreatedAt    time.Time `gorm:"index" json:"created_at"`                         // 创建时间
}

// TableName 指定表名
func (LedgerEntry) TableName() string {
	return "ledger_entries"
}
