package admin

import (
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/zk-express/agent-engine/internal/authz"
	handlershared "github.com/zk-express/agent-engine/internal/http/handlers/shared"
	"github.com/zk-express/agent-engine/internal/http/response"
	"github.com/zk-express/agent-engine/internal/logger"
	"github.com/zk-express/agent-engine/internal/models"
	"github.com/zk-express/agent-engine/internal/repository"
	"github.com/zk-express/agent-engine/internal/service"

	"github.com/gin-gonic/gin"
)

type authzPolicyPayload struct {
	Role   string `json:"role" binding:"required"`
	Object string `json:"object" binding:"required"`
	Action string `json:"action" binding:"required"`
}

type setOperatorRolesPayload struct {
	Roles []string `json:"roles"`
}

type operatorDisabledPayload struct {
	Disabled *bool `json:"disabled" binding:"required"`
}

// GetMe 当前运营账号的权限快照
func (h *Handler) GetMe(c *gin.Context) {
	operatorID, ok := handlershared.GetOperatorID(c)
	if !ok {
		return
	}
	roles, err := h.AuthzService.GetOperatorRoles(operatorID)
	if err != nil {
		respondAuthzError(c, err, "get operator roles failed")
		return
	}
	policies, err := h.AuthzService.GetOperatorPolicies(operatorID)
	if err != nil {
		respondAuthzError(c, err, "get operator policies failed")
		return
	}
	response.Success(c, gin.H{
		"operator_id": operatorID,
		"username":    currentUsername(c),
		"is_super":    c.GetBool(handlershared.ContextOperatorIsSuper),
		"roles":       roles,
		"policies":    policies,
	})
}

// ListAuthzRoles 角色列表
func (h *Handler) ListAuthzRoles(c *gin.Context) {
	roles, err := h.AuthzService.ListRoles()
	if err != nil {
		respondAuthzError(c, err, "list roles failed")
		return
	}
	response.Success(c, roles)
}

// GetAuthzRolePolicies 角色直接持有的策略
func (h *Handler) GetAuthzRolePolicies(c *gin.Context) {
	policies, err := h.AuthzService.GetRolePolicies(decodeRoleParam(c.Param("role")))
	if err != nil {
		respondAuthzError(c, err, "get role policies failed")
		return
	}
	response.Success(c, policies)
}

// DeleteAuthzRole 删除角色及其绑定
func (h *Handler) DeleteAuthzRole(c *gin.Context) {
	role := decodeRoleParam(c.Param("role"))
	if err := h.AuthzService.DeleteRole(role); err != nil {
		respondAuthzError(c, err, "delete role failed")
		return
	}
	normalized, _ := authz.NormalizeRole(role)
	h.audit(c, service.AuditRecordInput{
		Action: service.AuditActionRoleDelete,
		Role:   normalized,
	})
	logger.Infow("admin_authz_role_deleted",
		"operator_id", currentOperatorID(c),
		"role", normalized,
	)
	response.Success(c, nil)
}

// GrantAuthzPolicy 授予角色策略
func (h *Handler) GrantAuthzPolicy(c *gin.Context) {
	h.changePolicy(c, true)
}

// RevokeAuthzPolicy 撤销角色策略
func (h *Handler) RevokeAuthzPolicy(c *gin.Context) {
	h.changePolicy(c, false)
}

func (h *Handler) changePolicy(c *gin.Context, grant bool) {
	var req authzPolicyPayload
	if !bindJSON(c, &req) {
		return
	}
	action := authz.NormalizeAction(req.Action)
	if action == "" {
		respondError(c, response.CodeBadRequest, "action is required", nil)
		return
	}
	object := authz.NormalizeObject(req.Object)

	auditAction := service.AuditActionPolicyGrant
	event := "admin_authz_policy_granted"
	var err error
	if grant {
		err = h.AuthzService.GrantRolePolicy(req.Role, object, action)
	} else {
		auditAction = service.AuditActionPolicyRevoke
		event = "admin_authz_policy_revoked"
		err = h.AuthzService.RevokeRolePolicy(req.Role, object, action)
	}
	if err != nil {
		respondAuthzError(c, err, "change policy failed")
		return
	}

	role, _ := authz.NormalizeRole(req.Role)
	h.audit(c, service.AuditRecordInput{
		Action: auditAction,
		Role:   role,
		Object: object,
		Method: action,
	})
	logger.Infow(event,
		"operator_id", currentOperatorID(c),
		"role", role,
		"object", object,
		"action", action,
	)
	response.Success(c, nil)
}

// ListOperators 运营账号列表（含角色）
func (h *Handler) ListOperators(c *gin.Context) {
	operators, err := h.OperatorRepo.List()
	if err != nil {
		respondError(c, response.CodeInternal, "list operators failed", err)
		return
	}
	items := make([]gin.H, 0, len(operators))
	for _, operator := range operators {
		roles, roleErr := h.AuthzService.GetOperatorRoles(operator.ID)
		if roleErr != nil {
			respondAuthzError(c, roleErr, "get operator roles failed")
			return
		}
		items = append(items, gin.H{
			"id":           operator.ID,
			"username":     operator.Username,
			"is_super":     operator.IsSuper,
			"disabled":     operator.Disabled,
			"last_seen_at": operator.LastSeenAt,
			"created_at":   operator.CreatedAt,
			"roles":        roles,
		})
	}
	response.Success(c, items)
}

// GetOperatorRoles 查询运营账号角色
func (h *Handler) GetOperatorRoles(c *gin.Context) {
	operatorID, ok := handlershared.ParseUintParam(c, "id")
	if !ok {
		return
	}
	roles, err := h.AuthzService.GetOperatorRoles(operatorID)
	if err != nil {
		respondAuthzError(c, err, "get operator roles failed")
		return
	}
	response.Success(c, gin.H{"operator_id": operatorID, "roles": roles})
}

// SetOperatorRoles 覆盖运营账号角色
func (h *Handler) SetOperatorRoles(c *gin.Context) {
	operatorID, ok := handlershared.ParseUintParam(c, "id")
	if !ok {
		return
	}
	var req setOperatorRolesPayload
	if !bindJSON(c, &req) {
		return
	}
	operator, err := h.OperatorRepo.GetByID(operatorID)
	if err != nil {
		respondError(c, response.CodeInternal, "get operator failed", err)
		return
	}
	if operator == nil {
		respondError(c, response.CodeNotFound, "operator not found", nil)
		return
	}
	if err := h.AuthzService.SetOperatorRoles(operatorID, req.Roles); err != nil {
		respondAuthzError(c, err, "set operator roles failed")
		return
	}

	target := operatorID
	h.audit(c, service.AuditRecordInput{
		Action:           service.AuditActionOperatorRoles,
		TargetOperatorID: &target,
		Detail:           models.JSON{"roles": req.Roles},
	})
	logger.Infow("admin_authz_operator_roles_updated",
		"operator_id", currentOperatorID(c),
		"target_operator_id", operatorID,
		"roles", req.Roles,
	)
	response.Success(c, nil)
}

// RevokeOperatorTokens 使运营账号全部令牌失效
func (h *Handler) RevokeOperatorTokens(c *gin.Context) {
	operatorID, ok := handlershared.ParseUintParam(c, "id")
	if !ok {
		return
	}
	if err := h.AuthService.RevokeTokens(c.Request.Context(), operatorID); err != nil {
		respondServiceError(c, err, "revoke tokens failed")
		return
	}
	target := operatorID
	h.audit(c, service.AuditRecordInput{
		Action:           service.AuditActionOperatorRevoke,
		TargetOperatorID: &target,
	})
	response.Success(c, nil)
}

// SetOperatorDisabled 启用或禁用运营账号
func (h *Handler) SetOperatorDisabled(c *gin.Context) {
	operatorID, ok := handlershared.ParseUintParam(c, "id")
	if !ok {
		return
	}
	var req operatorDisabledPayload
	if !bindJSON(c, &req) {
		return
	}
	if operatorID == currentOperatorID(c) && *req.Disabled {
		respondError(c, response.CodeBadRequest, "cannot disable current operator", nil)
		return
	}
	if err := h.AuthService.SetOperatorDisabled(c.Request.Context(), operatorID, *req.Disabled); err != nil {
		respondServiceError(c, err, "update operator failed")
		return
	}
	target := operatorID
	h.audit(c, service.AuditRecordInput{
		Action:           service.AuditActionOperatorDisabled,
		TargetOperatorID: &target,
		Detail:           models.JSON{"disabled": *req.Disabled},
	})
	logger.Infow("admin_operator_disabled_updated",
		"operator_id", currentOperatorID(c),
		"target_operator_id", operatorID,
		"disabled", *req.Disabled,
	)
	response.Success(c, nil)
}

// ListAuditLogs 审计日志分页查询
func (h *Handler) ListAuditLogs(c *gin.Context) {
	page, pageSize := handlershared.ParsePagination(c)
	filter := repository.AuditLogListFilter{
		Page:      page,
		PageSize:  pageSize,
		ActorID:   uint(max(handlershared.QueryInt(c, "actor_id", 0), 0)),
		Action:    strings.TrimSpace(c.Query("action")),
		PartnerID: strings.TrimSpace(c.Query("partner_id")),
	}
	if target := handlershared.QueryInt(c, "target_operator_id", 0); target > 0 {
		filter.TargetOperatorID = uint(target)
	}
	var ok bool
	if filter.CreatedFrom, ok = parseTimeQuery(c, "created_from"); !ok {
		return
	}
	if filter.CreatedTo, ok = parseTimeQuery(c, "created_to"); !ok {
		return
	}
	items, total, err := h.AuditService.List(c.Request.Context(), filter)
	if err != nil {
		respondError(c, response.CodeInternal, "list audit logs failed", err)
		return
	}
	response.SuccessWithPage(c, items, response.NewPagination(page, pageSize, total))
}

// parseTimeQuery 解析 RFC3339 时间参数，缺省时返回 nil
func parseTimeQuery(c *gin.Context, name string) (*time.Time, bool) {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return nil, true
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		respondError(c, response.CodeBadRequest, name+" must be RFC3339", nil)
		return nil, false
	}
	return &parsed, true
}

func respondAuthzError(c *gin.Context, err error, fallbackMsg string) {
	switch {
	case errors.Is(err, authz.ErrInvalidRole), errors.Is(err, authz.ErrInvalidPolicy):
		respondError(c, response.CodeBadRequest, err.Error(), nil)
	case errors.Is(err, authz.ErrUnavailable):
		respondError(c, response.CodeServiceUnavailable, fallbackMsg, err)
	default:
		respondError(c, response.CodeInternal, fallbackMsg, err)
	}
}

func decodeRoleParam(value string) string {
	decoded, err := url.PathUnescape(value)
	if err != nil {
		return strings.TrimSpace(value)
	}
	return strings.TrimSpace(decoded)
}
