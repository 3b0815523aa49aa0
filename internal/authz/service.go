package authz

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/zk-express/agent-engine/internal/constants"

	"github.com/casbin/casbin/v3"
	"github.com/casbin/casbin/v3/model"
	"github.com/casbin/casbin/v3/util"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"gorm.io/gorm"
)

const (
	apiV1Prefix     = "/api/v1"
	adminScope      = "/admin"
	casbinTableName = "casbin_rule"
	rolePrefix      = "role:"
	// roleAnchor 让没有策略的角色也能被 ListRoles 看到
	roleAnchor = "role:__anchor__"
)

var (
	// ErrUnavailable 授权服务未初始化
	ErrUnavailable = errors.New("authz service unavailable")
	// ErrInvalidRole 角色名非法、保留或不存在
	ErrInvalidRole = errors.New("invalid role")
	// ErrInvalidPolicy 策略资源或动作非法
	ErrInvalidPolicy = errors.New("invalid policy")
)

// 运营账号与角色之间是单层 g 关系，角色之间允许继承；
// 资源用 keyMatch2 匹配，p.act 为 * 时放行全部动作。
const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = (g(r.sub, p.sub) || r.sub == p.sub) && keyMatch2(r.obj, p.obj) && (r.act == p.act || p.act == "*")
`

// Policy 权限策略
type Policy struct {
	Subject string `json:"subject"`
	Object  string `json:"object"`
	Action  string `json:"action"`
}

func (p Policy) key() string {
	return p.Object + " " + p.Action + " " + p.Subject
}

// Service 后台运营 RBAC，策略持久化在 casbin_rule 表
type Service struct {
	enforcer *casbin.SyncedEnforcer
}

// NewService 基于 gorm 适配器加载策略
func NewService(db *gorm.DB) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("authz db is nil")
	}
	adapter, err := gormadapter.NewAdapterByDBUseTableName(db, "", casbinTableName)
	if err != nil {
		return nil, fmt.Errorf("create authz adapter: %w", err)
	}
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("load authz model: %w", err)
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, fmt.Errorf("init authz enforcer: %w", err)
	}
	enforcer.AddFunction("keyMatch2", util.KeyMatch2Func)
	enforcer.EnableAutoSave(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, fmt.Errorf("load authz policy: %w", err)
	}
	return &Service{enforcer: enforcer}, nil
}

func (s *Service) ready() (*casbin.SyncedEnforcer, error) {
	if s == nil || s.enforcer == nil {
		return nil, ErrUnavailable
	}
	return s.enforcer, nil
}

// EnforceOperator 判断运营账号能否以 act 访问 obj（obj 可带 /api/v1 前缀）
func (s *Service) EnforceOperator(operatorID uint, obj, act string) (bool, error) {
	enforcer, err := s.ready()
	if err != nil {
		return false, err
	}
	return enforcer.Enforce(SubjectForOperator(operatorID), NormalizeObject(obj), NormalizeAction(act))
}

// ReloadPolicy 从存储重新加载策略（多实例部署下手工同步）
func (s *Service) ReloadPolicy() error {
	enforcer, err := s.ready()
	if err != nil {
		return err
	}
	return enforcer.LoadPolicy()
}

// EnsureRole 确保角色存在并返回规范化名称
func (s *Service) EnsureRole(role string) (string, error) {
	normalized, err := NormalizeRole(role)
	if err != nil {
		return "", err
	}
	enforcer, err := s.ready()
	if err != nil {
		return "", err
	}
	if _, err := enforcer.AddNamedGroupingPolicy("g", normalized, roleAnchor); err != nil {
		return "", fmt.Errorf("create role: %w", err)
	}
	return normalized, nil
}

// ListRoles 列出全部角色
func (s *Service) ListRoles() ([]string, error) {
	enforcer, err := s.ready()
	if err != nil {
		return nil, err
	}
	rules, err := enforcer.GetFilteredNamedGroupingPolicy("g", 0)
	if err != nil {
		return nil, fmt.Errorf("list roles: %w", err)
	}
	set := make(map[string]struct{})
	for _, rule := range rules {
		for i := 0; i < len(rule) && i < 2; i++ {
			if isRoleName(rule[i]) {
				set[rule[i]] = struct{}{}
			}
		}
	}
	roles := make([]string, 0, len(set))
	for role := range set {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles, nil
}

func (s *Service) roleExists(enforcer *casbin.SyncedEnforcer, role string) (bool, error) {
	return enforcer.HasNamedGroupingPolicy("g", role, roleAnchor)
}

// DeleteRole 删除自定义角色及其策略和绑定；内置角色不可删除
func (s *Service) DeleteRole(role string) error {
	normalized, err := NormalizeRole(role)
	if err != nil {
		return err
	}
	if IsBuiltinRole(normalized) {
		return fmt.Errorf("%w: builtin role %s cannot be deleted", ErrInvalidRole, normalized)
	}
	enforcer, err := s.ready()
	if err != nil {
		return err
	}
	if _, err := enforcer.RemoveFilteredPolicy(0, normalized); err != nil {
		return fmt.Errorf("remove role policy: %w", err)
	}
	for _, field := range []int{0, 1} {
		if _, err := enforcer.RemoveFilteredNamedGroupingPolicy("g", field, normalized); err != nil {
			return fmt.Errorf("remove role links: %w", err)
		}
	}
	return nil
}

// GrantRolePolicy 为角色授予后台资源策略，角色不存在时创建
func (s *Service) GrantRolePolicy(role, object, action string) error {
	obj, act, err := normalizePolicy(object, action)
	if err != nil {
		return err
	}
	normalizedRole, err := s.EnsureRole(role)
	if err != nil {
		return err
	}
	if _, err := s.enforcer.AddPolicy(normalizedRole, obj, act); err != nil {
		return fmt.Errorf("grant policy: %w", err)
	}
	return nil
}

// RevokeRolePolicy 撤销角色策略
func (s *Service) RevokeRolePolicy(role, object, action string) error {
	obj, act, err := normalizePolicy(object, action)
	if err != nil {
		return err
	}
	normalizedRole, err := NormalizeRole(role)
	if err != nil {
		return err
	}
	enforcer, err := s.ready()
	if err != nil {
		return err
	}
	if _, err := enforcer.RemovePolicy(normalizedRole, obj, act); err != nil {
		return fmt.Errorf("revoke policy: %w", err)
	}
	return nil
}

// GetRolePolicies 角色直接持有的策略
func (s *Service) GetRolePolicies(role string) ([]Policy, error) {
	normalizedRole, err := NormalizeRole(role)
	if err != nil {
		return nil, err
	}
	enforcer, err := s.ready()
	if err != nil {
		return nil, err
	}
	rules, err := enforcer.GetFilteredPolicy(0, normalizedRole)
	if err != nil {
		return nil, fmt.Errorf("get role policies: %w", err)
	}
	return toPolicies(rules), nil
}

// SetOperatorRoles 覆盖运营账号角色；任一角色不存在时不做任何修改
func (s *Service) SetOperatorRoles(operatorID uint, roles []string) error {
	if operatorID == 0 {
		return fmt.Errorf("operator id is required")
	}
	enforcer, err := s.ready()
	if err != nil {
		return err
	}

	targets := make([]string, 0, len(roles))
	seen := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		normalized, err := NormalizeRole(role)
		if err != nil {
			return err
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		exists, err := s.roleExists(enforcer, normalized)
		if err != nil {
			return fmt.Errorf("check role: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: role %s not found", ErrInvalidRole, normalized)
		}
		seen[normalized] = struct{}{}
		targets = append(targets, normalized)
	}

	subject := SubjectForOperator(operatorID)
	if _, err := enforcer.RemoveFilteredNamedGroupingPolicy("g", 0, subject); err != nil {
		return fmt.Errorf("clear operator roles: %w", err)
	}
	for _, role := range targets {
		if _, err := enforcer.AddNamedGroupingPolicy("g", subject, role); err != nil {
			return fmt.Errorf("assign operator role: %w", err)
		}
	}
	return nil
}

// GetOperatorRoles 运营账号的直接角色
func (s *Service) GetOperatorRoles(operatorID uint) ([]string, error) {
	if operatorID == 0 {
		return nil, fmt.Errorf("operator id is required")
	}
	enforcer, err := s.ready()
	if err != nil {
		return nil, err
	}
	roles, err := enforcer.GetRolesForUser(SubjectForOperator(operatorID))
	if err != nil {
		return nil, fmt.Errorf("get operator roles: %w", err)
	}
	filtered := roles[:0]
	for _, role := range roles {
		if isRoleName(role) {
			filtered = append(filtered, role)
		}
	}
	sort.Strings(filtered)
	return filtered, nil
}

// GetOperatorPolicies 运营账号生效的全部策略（含继承），按资源排序去重
func (s *Service) GetOperatorPolicies(operatorID uint) ([]Policy, error) {
	if operatorID == 0 {
		return nil, fmt.Errorf("operator id is required")
	}
	enforcer, err := s.ready()
	if err != nil {
		return nil, err
	}
	rules, err := enforcer.GetImplicitPermissionsForUser(SubjectForOperator(operatorID))
	if err != nil {
		return nil, fmt.Errorf("get operator policies: %w", err)
	}
	unique := make(map[string]Policy, len(rules))
	for _, item := range toPolicies(rules) {
		unique[item.key()] = item
	}
	result := make([]Policy, 0, len(unique))
	for _, item := range unique {
		result = append(result, item)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].key() < result[j].key() })
	return result, nil
}

func toPolicies(rules [][]string) []Policy {
	policies := make([]Policy, 0, len(rules))
	for _, rule := range rules {
		if len(rule) < 3 {
			continue
		}
		policies = append(policies, Policy{
			Subject: strings.TrimSpace(rule[0]),
			Object:  NormalizeObject(rule[1]),
			Action:  NormalizeAction(rule[2]),
		})
	}
	return policies
}

func normalizePolicy(object, action string) (string, string, error) {
	obj := NormalizeObject(object)
	if obj != adminScope && !strings.HasPrefix(obj, adminScope+"/") {
		return "", "", fmt.Errorf("%w: object must be under %s", ErrInvalidPolicy, adminScope)
	}
	act := NormalizeAction(action)
	switch act {
	case "GET", "POST", "PUT", "PATCH", "DELETE", "*":
		return obj, act, nil
	case "":
		return "", "", fmt.Errorf("%w: action is required", ErrInvalidPolicy)
	default:
		return "", "", fmt.Errorf("%w: unsupported action %s", ErrInvalidPolicy, act)
	}
}

func isRoleName(value string) bool {
	return strings.HasPrefix(value, rolePrefix) && value != roleAnchor
}

// IsBuiltinRole 是否为预置角色（带或不带 role: 前缀均可）
func IsBuiltinRole(role string) bool {
	switch strings.TrimPrefix(strings.TrimSpace(role), rolePrefix) {
	case constants.RoleAdmin, constants.RoleOperator, constants.RoleViewer:
		return true
	}
	return false
}

// SubjectForOperator 运营账号主体标识
func SubjectForOperator(operatorID uint) string {
	return fmt.Sprintf("operator:%d", operatorID)
}

// NormalizeRole 统一角色名称（补 role: 前缀，空格转下划线）
func NormalizeRole(role string) (string, error) {
	normalized := strings.ReplaceAll(strings.TrimSpace(role), " ", "_")
	if !strings.HasPrefix(normalized, rolePrefix) {
		normalized = rolePrefix + normalized
	}
	switch {
	case len(normalized) <= len(rolePrefix):
		return "", fmt.Errorf("%w: role is required", ErrInvalidRole)
	case normalized == roleAnchor:
		return "", fmt.Errorf("%w: reserved role", ErrInvalidRole)
	}
	return normalized, nil
}

// NormalizeObject 去掉 /api/v1 前缀，得到策略中的资源路径
func NormalizeObject(object string) string {
	normalized := strings.TrimSpace(object)
	if !strings.HasPrefix(normalized, "/") {
		normalized = "/" + normalized
	}
	if normalized == apiV1Prefix {
		return "/"
	}
	if strings.HasPrefix(normalized, apiV1Prefix+"/") {
		return strings.TrimPrefix(normalized, apiV1Prefix)
	}
	return normalized
}

// NormalizeAction 动作统一为大写 HTTP 方法
func NormalizeAction(action string) string {
	return strings.ToUpper(strings.TrimSpace(action))
}
