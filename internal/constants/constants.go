package constants

// 行为事件类型常量
const (
	EventPurchaseCreated       = "PURCHASE_CREATED"
	EventPaymentCompleted      = "PAYMENT_COMPLETED"
	EventDeliveryAccepted      = "DELIVERY_ACCEPTED"
	EventOrderCompleted        = "ORDER_COMPLETED"
	EventProductReturned       = "PRODUCT_RETURNED"
	EventDeliveryFailedAbsent  = "DELIVERY_FAILED_ABSENT"
	EventDeliveryFailedRefused = "DELIVERY_FAILED_REFUSED"
	EventEarlyPayment          = "EARLY_PAYMENT"
	EventPositiveReview        = "POSITIVE_REVIEW"
	EventReferral              = "REFERRAL"
	EventLoyaltyProgram        = "LOYALTY_PROGRAM"
)

// 账本订单状态常量
const (
	LedgerOrderStatusCreated        = "CREATED"
	LedgerOrderStatusPaid           = "PAID"
	LedgerOrderStatusShipped        = "SHIPPED"
	LedgerOrderStatusDelivered      = "DELIVERED"
	LedgerOrderStatusReturned       = "RETURNED"
	LedgerOrderStatusDeliveryFailed = "DELIVERY_FAILED"
	LedgerOrderStatusCompleted      = "COMPLETED"
	LedgerOrderStatusCancelled      = "CANCELLED"
)

// 配送失败原因常量
const (
	FailureReasonNone            = "NONE"
	FailureReasonCustomerAbsent  = "CUSTOMER_ABSENT"
	FailureReasonCustomerRefused = "CUSTOMER_REFUSED"
	FailureReasonAddressIssue    = "ADDRESS_ISSUE"
	FailureReasonOther           = "OTHER"
)

// 分配状态常量
const (
	AllocationStatusAllocated = "allocated"
	AllocationStatusInTransit = "in_transit"
	AllocationStatusDelivered = "delivered"
	AllocationStatusFailed    = "failed"
	AllocationStatusReturned  = "returned"
)

// 分配方式常量
const (
	AllocationMethodOracleRanked = "oracle-ranked"
	AllocationMethodRandom       = "random"
	AllocationMethodRuleFallback = "rule-fallback"
)

// 物流伙伴运营状态常量
const (
	PartnerStatusActive      = "active"
	PartnerStatusInactive    = "inactive"
	PartnerStatusMaintenance = "maintenance"
)

// 客户等级与风险等级常量
const (
	CustomerTierNew      = "new"
	CustomerTierBronze   = "bronze"
	CustomerTierSilver   = "silver"
	CustomerTierGold     = "gold"
	CustomerTierPlatinum = "platinum"
	CustomerTierUnknown  = "unknown"

	RiskLevelLow      = "low"
	RiskLevelMedium   = "medium"
	RiskLevelHigh     = "high"
	RiskLevelCritical = "critical"
)

// 账本流水类型常量
const (
	LedgerEntryKindReputation  = "reputation"
	LedgerEntryKindOrderStatus = "order_status"
)

// 生命周期事件类型常量
const (
	LifecycleEventAllocationCreated       = "allocation.created"
	LifecycleEventAllocationStatusChanged = "allocation.status_changed"
)

// 队列与任务常量
const (
	QueueCritical       = "critical"
	QueueDefault        = "default"
	TaskReputationApply = "reputation:apply"
	TaskLifecycleEvent  = "lifecycle:event"
)

// 运营角色常量
const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
	RoleViewer   = "viewer"
)
