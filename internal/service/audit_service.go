package service

import (
	"context"
	"strings"
	"time"

	"github.com/zk-express/agent-engine/internal/logger"
	"github.com/zk-express/agent-engine/internal/models"
	"github.com/zk-express/agent-engine/internal/repository"
)

// 审计动作
const (
	AuditActionRoleDelete         = "role_delete"
	AuditActionPolicyGrant        = "policy_grant"
	AuditActionPolicyRevoke       = "policy_revoke"
	AuditActionOperatorRoles      = "operator_roles_update"
	AuditActionOperatorRevoke     = "operator_tokens_revoke"
	AuditActionOperatorDisabled   = "operator_disabled_update"
	AuditActionPartnerCreate      = "partner_create"
	AuditActionPartnerStatus      = "partner_status_update"
	AuditActionPartnerSeed        = "partner_seed_defaults"
	AuditActionMaintenanceArchive = "maintenance_archive"
	AuditActionMaintenanceRefresh = "maintenance_refresh_performance"
)

// AuditRecordInput 审计记录输入
type AuditRecordInput struct {
	ActorID          uint
	ActorUsername    string
	TargetOperatorID *uint
	Action           string
	Role             string
	Object           string
	Method           string
	PartnerID        string
	RequestID        string
	Detail           models.JSON
}

// AuditService 运营审计服务
type AuditService struct {
	repo repository.AuditLogRepository
	now  func() time.Time
}

// NewAuditService 创建审计服务
func NewAuditService(repo repository.AuditLogRepository) *AuditService {
	return &AuditService{repo: repo, now: time.Now}
}

// Record 写入审计日志，缺少操作人或动作时忽略
func (s *AuditService) Record(ctx context.Context, input AuditRecordInput) error {
	if s == nil || s.repo == nil {
		return nil
	}
	if input.ActorID == 0 || strings.TrimSpace(input.Action) == "" {
		return nil
	}
	item := &models.OperatorAuditLog{
		ActorID:          input.ActorID,
		ActorUsername:    strings.TrimSpace(input.ActorUsername),
		TargetOperatorID: input.TargetOperatorID,
		Action:           strings.TrimSpace(input.Action),
		Role:             strings.TrimSpace(input.Role),
		Object:           strings.TrimSpace(input.Object),
		Method:           strings.ToUpper(strings.TrimSpace(input.Method)),
		PartnerID:        strings.TrimSpace(input.PartnerID),
		RequestID:        strings.TrimSpace(input.RequestID),
		DetailJSON:       input.Detail,
		CreatedAt:        s.now(),
	}
	return s.repo.WithContext(ctx).Create(item)
}

// RecordQuietly 写入失败只记日志，不影响主流程
func (s *AuditService) RecordQuietly(ctx context.Context, input AuditRecordInput) {
	if err := s.Record(ctx, input); err != nil {
		logger.Warnw("audit_record_failed",
			"action", input.Action,
			"actor_id", input.ActorID,
			"error", err,
		)
	}
}

// List 分页查询审计日志
func (s *AuditService) List(ctx context.Context, filter repository.AuditLogListFilter) ([]models.OperatorAuditLog, int64, error) {
	if s == nil || s.repo == nil {
		return []models.OperatorAuditLog{}, 0, nil
	}
	return s.repo.WithContext(ctx).List(filter)
}
