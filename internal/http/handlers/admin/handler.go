package admin

import (
	"strings"

	handlershared "github.com/zk-express/agent-engine/internal/http/handlers/shared"
	"github.com/zk-express/agent-engine/internal/http/response"
	"github.com/zk-express/agent-engine/internal/provider"
	"github.com/zk-express/agent-engine/internal/service"

	"github.com/gin-gonic/gin"
)

// Handler 后台管理接口处理器入口
// 说明：该处理器仅用于运营端 API，需 JWT 与 casbin 授权。
type Handler struct {
	*provider.Container
}

// New 创建后台处理器
func New(c *provider.Container) *Handler {
	return &Handler{Container: c}
}

func respondServiceError(c *gin.Context, err error, fallbackMsg string) {
	handlershared.RespondServiceError(c, err, fallbackMsg)
}

func respondError(c *gin.Context, code int, msg string, err error) {
	handlershared.RespondError(c, code, msg, err)
}

func bindJSON(c *gin.Context, dest interface{}) bool {
	return handlershared.BindJSON(c, dest)
}

// audit 补齐操作人与请求 ID 后写入审计日志
func (h *Handler) audit(c *gin.Context, input service.AuditRecordInput) {
	if h == nil || h.AuditService == nil {
		return
	}
	input.ActorID = currentOperatorID(c)
	input.ActorUsername = currentUsername(c)
	input.RequestID = c.GetString(response.RequestIDKey)
	if input.Method == "" {
		input.Method = c.Request.Method
	}
	h.AuditService.RecordQuietly(c.Request.Context(), input)
}

func currentOperatorID(c *gin.Context) uint {
	value, exists := c.Get(handlershared.ContextOperatorID)
	if !exists {
		return 0
	}
	id, _ := value.(uint)
	return id
}

func currentUsername(c *gin.Context) string {
	return strings.TrimSpace(c.GetString(handlershared.ContextOperatorUsername))
}
