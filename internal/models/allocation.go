package models

import (
	"time"
)

// OrderAllocation 订单分配记录表
type OrderAllocation struct {
	ID                         string      `gorm:"primarykey;type:varchar(64)" json:"id"`                    // 主键
	OrderID                    string      `gorm:"type:varchar(128);uniqueIndex;not null" json:"order_id"`   // 订单ID（每单一条）
	UserID                     string      `gorm:"type:varchar(128);index;not null" json:"user_id"`          // 用户ID
	PartnerID                  string      `gorm:"type:varchar(64);index;not null" json:"partner_id"`        // 物流伙伴ID
	PartnerName                string      `gorm:"type:varchar(200)" json:"partner_name"`                    // 物流伙伴名称快照
	Method                     string      `gorm:"type:varchar(32);index;not null" json:"method"`            // 分配方式
	Confidence                 float64     `gorm:"not null;default:0" json:"confidence"`                     // 置信度
	Reasoning                  StringArray `gorm:"type:json" json:"reasoning"`                               // 推理链路
	RiskMitigation             StringArray `gorm:"type:json" json:"risk_mitigation"`                         // 风险缓解建议
	AlternativePartners        StringArray `gorm:"type:json" json:"alternative_partners"`                    // 备选伙伴
	UserReputation             int64       `gorm:"not null;default:0" json:"user_reputation"`                // 分配时信誉快照
	DeliverySuccessProbability *float64    `json:"delivery_success_probability"`                             // 预测成功率
	OrderValue                 Money       `gorm:"type:decimal(20,2);not null;default:0" json:"order_value"` // 订单金额
	ProductCategory            string      `gorm:"type:varchar(100)" json:"product_category"`                // 商品品类
	Destination                string      `gorm:"type:varchar(255)" json:"destination"`                     // 目的地
	Status                     string      `gorm:"type:varchar(20);index;not null" json:"status"`            // 分配状态
	FailureReason              string      `gorm:"type:varchar(64)" json:"failure_reason,omitempty"`         // 失败原因
	ReturnReason               string      `gorm:"type:varchar(255)" json:"return_reason,omitempty"`         // 退货原因
	DeliveryAttempts           int         `gorm:"not null;default:0" json:"delivery_attempts"`              // 配送尝试次数
	CustomerRating             *float64    `json:"customer_rating,omitempty"`                                // 客户评分
	PartnerRating              *float64    `json:"partner_rating,omitempty"`                                 // 伙伴评分
	FeedbackComments           StringArray `gorm:"type:json" json:"feedback_comments"`                       // 评价留言
	AuditMetadata              JSON        `gorm:"type:json" json:"audit_metadata"`                          // 审计元数据（负载、阈值）
	AllocatedAt                time.Time   `gorm:"index;not null" json:"allocated_at"`                       // 分配时间
	EstimatedDeliveryAt        *time.Time  `json:"estimated_delivery_at,omitempty"`                          // 预计送达时间
	ActualDeliveryAt           *time.Time  `json:"actual_delivery_at,omitempty"`                             // 实际送达时间
	ArchivedAt                 *time.Time  `gorm:"index" json:"archived_at,omitempty"`                       // 归档时间
	UpdatedAt                  time.Time   `gorm:"index" json:"updated_at"`                                  // 更新时间
}

// TableName 指定表名
func (OrderAllocation) TableName() string {
	return "order_allocations"
}
