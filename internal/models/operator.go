package models

import (
	"time"
)

// Operator 后台运营人员（签发管理令牌的主体）
type Operator struct {
	ID           uint       `gorm:"primarykey" json:"id"`                         // 主键
	Username     string     `gorm:"uniqueIndex;not null" json:"username"`         // 账号
	IsSuper      bool       `gorm:"not null;default:false;index" json:"is_super"` // 是否超级管理员（免权限校验）
	TokenVersion uint64     `gorm:"not null;default:0" json:"-"`                  // Token 版本（用于全量失效）
	Disabled     bool       `gorm:"not null;default:false" json:"disabled"`       // 是否禁用
	LastSeenAt   *time.Time `json:"last_seen_at"`                                 // 最近访问时间
	CreatedAt    time.Time  `gorm:"index" json:"created_at"`                      // 创建时间
}

// TableName 指定表名
func (Operator) TableName() string {
	return "operators"
}
