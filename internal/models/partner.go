package models

import (
	"time"
)

// LogisticsPartner 物流伙伴表
type LogisticsPartner struct {
	ID                     string      `gorm:"primarykey;type:varchar(64)" json:"id"`                        // 主键
	Name                   string      `gorm:"type:varchar(200);not null;index" json:"name"`                 // 名称
	MinReputationThreshold int64       `gorm:"not null;default:0" json:"min_reputation_threshold"`           // 信誉区间下限
	MaxReputationThreshold *int64      `json:"max_reputation_threshold"`                                     // 信誉区间上限（空表示不限）
	ServiceAreas           StringArray `gorm:"type:json" json:"service_areas"`                               // 服务区域（空表示全部）
	DailyOrderLimit        int         `gorm:"not null" json:"daily_order_limit"`                            // 每日订单上限
	MinOrderValue          Money       `gorm:"type:decimal(20,2);not null;default:0" json:"min_order_value"` // 最小订单金额
	MaxOrderValue          Money       `gorm:"type:decimal(20,2);not null" json:"max_order_value"`           // 最大订单金额
	SpecialCapabilities    StringArray `gorm:"type:json" json:"special_capabilities"`                        // 特殊能力
	PreferredCategories    StringArray `gorm:"type:json" json:"preferred_categories"`                        // 偏好品类
	DeliveryTypes          StringArray `gorm:"type:json" json:"delivery_types"`                              // 配送类型
	ContactInfo            JSON        `gorm:"type:json" json:"contact_info"`                                // 联系方式
	OperationalStatus      string      `gorm:"type:varchar(20);not null;index" json:"operational_status"`    // 运营状态
	IsActive               bool        `gorm:"not null;index" json:"is_active"`                              // 是否启用
	SuccessRate            float64     `gorm:"not null;default:0" json:"success_rate"`                       // 成功率快照
	AvgDeliveryHours       float64     `gorm:"not null;default:0" json:"avg_delivery_hours"`                 // 平均配送时长（小时）
	CustomerRating         float64     `gorm:"not null;default:0" json:"customer_rating"`                    // 客户评分快照
	TotalOrdersHandled     int64       `gorm:"not null;default:0" json:"total_orders_handled"`               // 累计处理订单
	PerformanceUpdatedAt   *time.Time  `json:"performance_updated_at,omitempty"`                             // 绩效刷新时间
	CreatedAt              time.Time   `gorm:"index" json:"created_at"`                                      // 创建时间
	UpdatedAt              time.Time   `gorm:"index" json:"updated_at"`                                      // 更新时间
}

// TableName 指定表名
func (LogisticsPartner) TableName() string {
	return "logistics_partners"
}

// AcceptsReputation 判断信誉值是否落在伙伴区间内
func (p *LogisticsPartner) AcceptsReputation(reputation int64) bool {
	if p == nil {
		return false
	}
	if reputation < p.MinReputationThreshold {
		return false
	}
	if p.MaxReputationThreshold != nil && reputation > *p.MaxReputationThreshold {
		return false
	}
	return true
}

// AcceptsOrderValue 判断订单金额是否在伙伴接单范围内
func (p *LogisticsPartner) AcceptsOrderValue(value Money) bool {
	if p == nil {
		return false
	}
	if value.LessThan(p.MinOrderValue.Decimal) {
		return false
	}
	if p.MaxOrderValue.IsPositive() && value.GreaterThan(p.MaxOrderValue.Decimal) {
		return false
	}
	return true
}
