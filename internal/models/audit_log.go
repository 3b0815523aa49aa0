package models

import "time"

// OperatorAuditLog 运营操作审计日志
// 说明：记录权限变更、伙伴状态调整与手动维护任务，按操作人与时间检索。
type OperatorAuditLog struct {
	ID               uint      `gorm:"primarykey" json:"id"`
	ActorID          uint      `gorm:"index;not null" json:"actor_id"`
	ActorUsername    string    `gorm:"type:varchar(100);index;not null;default:''" json:"actor_username"`
	TargetOperatorID *uint     `gorm:"index" json:"target_operator_id,omitempty"`
	Action           string    `gorm:"type:varchar(100);index;not null" json:"action"`
	Role             string    `gorm:"type:varchar(120);not null;default:''" json:"role,omitempty"`
	Object           string    `gorm:"type:varchar(255);not null;default:''" json:"object,omitempty"`
	Method           string    `gorm:"type:varchar(20);not null;default:''" json:"method,omitempty"`
	PartnerID        string    `gorm:"type:varchar(64);index;not null;default:''" json:"partner_id,omitempty"`
	RequestID        string    `gorm:"type:varchar(64);index;not null;default:''" json:"request_id"`
	DetailJSON       JSON      `gorm:"type:json" json:"detail"`
	CreatedAt        time.Time `gorm:"index" json:"created_at"`
}

// TableName 指定表名
func (OperatorAuditLog) TableName() string {
	return "operator_audit_logs"
}
