package repository

import "time"

// PartnerListFilter 查询物流伙伴列表的过滤条件
type PartnerListFilter struct {
	Page          int
	PageSize      int
	Status        string
	Search        string
	MinReputation *int64
	OnlyActive    bool
}

// AllocationListFilter 查询分配记录的过滤条件
type AllocationListFilter struct {
	Page          int
	PageSize      int
	PartnerID     string
	UserID        string
	Status        string
	AllocatedFrom *time.Time
}

// AuditLogListFilter 查询运营审计日志的过滤条件
type AuditLogListFilter struct {
	Page             int
	PageSize         int
	ActorID          uint
	TargetOperatorID uint
	Action           string
	PartnerID        string
	CreatedFrom      *time.Time
	CreatedTo        *time.Time
}
