package authz

import (
	"fmt"

	"github.com/zk-express/agent-engine/internal/constants"
)

// RoleSeed 预置角色定义
type RoleSeed struct {
	Role     string
	Inherits []string
	Policies []Policy
}

// BuiltinRoleSeeds 预置角色：viewer 只读，operator 管理伙伴与维护任务，admin 全部
func BuiltinRoleSeeds() []RoleSeed {
	return []RoleSeed{
		{
			Role: constants.RoleViewer,
			Policies: []Policy{
				{Object: "/admin/*", Action: "GET"},
				{Object: "/admin/partners/search", Action: "POST"},
			},
		},
		{
			Role:     constants.RoleOperator,
			Inherits: []string{constants.RoleViewer},
			Policies: []Policy{
				{Object: "/admin/partners", Action: "POST"},
				{Object: "/admin/partners/defaults", Action: "POST"},
				{Object: "/admin/partners/:id/status", Action: "PUT"},
				{Object: "/admin/maintenance/*", Action: "POST"},
			},
		},
		{
			Role:     constants.RoleAdmin,
			Inherits: []string{constants.RoleOperator},
			Policies: []Policy{
				{Object: "/admin/*", Action: "*"},
			},
		},
	}
}

// BootstrapBuiltinRoles 写入预置角色与策略（已存在则跳过）
func (s *Service) BootstrapBuiltinRoles() error {
	enforcer, err := s.ready()
	if err != nil {
		return err
	}
	for _, seed := range BuiltinRoleSeeds() {
		role, err := s.EnsureRole(seed.Role)
		if err != nil {
			return err
		}
		for _, parent := range seed.Inherits {
			parentRole, err := NormalizeRole(parent)
			if err != nil {
				return err
			}
			if _, err := enforcer.AddNamedGroupingPolicy("g", role, parentRole); err != nil {
				return fmt.Errorf("link role inheritance failed: %w", err)
			}
		}
		for _, policy := range seed.Policies {
			if err := s.GrantRolePolicy(role, policy.Object, policy.Action); err != nil {
				return fmt.Errorf("add builtin policy failed: %w", err)
			}
		}
	}
	return nil
}
