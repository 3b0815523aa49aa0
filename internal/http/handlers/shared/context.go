package shared

import (
	"strconv"
	"strings"

	"github.com/zk-express/agent-engine/internal/http/response"

	"github.com/gin-gonic/gin"
)

// 鉴权中间件写入的上下文键。
const (
	ContextOperatorID       = "operator_id"
	ContextOperatorUsername = "operator_username"
	ContextOperatorIsSuper  = "operator_is_super"
	ContextAPIKeyID         = "api_key_id"
)

// GetOperatorID 读取当前运营账号 ID。
func GetOperatorID(c *gin.Context) (uint, bool) {
	value, exists := c.Get(ContextOperatorID)
	if !exists {
		RespondError(c, response.CodeUnauthorized, "unauthorized", nil)
		return 0, false
	}
	id, ok := value.(uint)
	if !ok || id == 0 {
		RespondError(c, response.CodeInternal, "operator id type invalid", nil)
		return 0, false
	}
	return id, true
}

// ParseUintParam 解析路径中的数字 ID。
func ParseUintParam(c *gin.Context, name string) (uint, bool) {
	raw := strings.TrimSpace(c.Param(name))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		RespondError(c, response.CodeBadRequest, name+" is invalid", nil)
		return 0, false
	}
	return uint(id), true
}

// QueryInt 读取整数查询参数，缺失或非法时返回默认值。
func QueryInt(c *gin.Context, name string, fallback int) int {
	raw := strings.TrimSpace(c.Query(name))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
