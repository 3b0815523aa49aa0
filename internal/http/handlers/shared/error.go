package shared

import (
	"errors"

	"github.com/zk-express/agent-engine/internal/http/response"
	"github.com/zk-express/agent-engine/internal/logger"
	"github.com/zk-express/agent-engine/internal/service"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RequestLog 提供携带 request_id 的日志实例。
func RequestLog(c *gin.Context) *zap.SugaredLogger {
	if c == nil {
		return logger.S()
	}
	if requestID, ok := c.Get(response.RequestIDKey); ok {
		if id, ok := requestID.(string); ok && id != "" {
			return logger.SW("request_id", id)
		}
	}
	return logger.S()
}

// RespondError 返回错误响应，并在有原始错误时记录日志。
func RespondError(c *gin.Context, code int, msg string, err error) {
	appErr := response.WrapError(code, msg, err)
	if err != nil {
		log := RequestLog(c)
		if code >= response.CodeInternal {
			log.Errorw("handler_error", "code", appErr.Code, "message", appErr.Message, "error", err)
		} else {
			log.Warnw("handler_error", "code", appErr.Code, "message", appErr.Message, "error", err)
		}
	}
	response.Error(c, appErr.Code, appErr.Message)
}

// MappedError 业务错误到接口响应码的映射。
type MappedError struct {
	Target error
	Code   int
}

// ServiceErrorRules 服务层错误的通用映射。
var ServiceErrorRules = []MappedError{
	{Target: service.ErrValidation, Code: response.CodeBadRequest},
	{Target: service.ErrBatchTooLarge, Code: response.CodeBadRequest},
	{Target: service.ErrNotFound, Code: response.CodeNotFound},
	{Target: service.ErrOrderExists, Code: response.CodeConflict},
	{Target: service.ErrInvalidTransition, Code: response.CodeConflict},
	{Target: service.ErrNoPartnersForDestination, Code: response.CodeUnprocessableEntity},
	{Target: service.ErrLedgerUnavailable, Code: response.CodeServiceUnavailable},
	{Target: service.ErrPartnerStoreUnavailable, Code: response.CodeServiceUnavailable},
	{Target: service.ErrCapacityStoreUnavailable, Code: response.CodeServiceUnavailable},
	{Target: service.ErrOracleUnavailable, Code: response.CodeServiceUnavailable},
	{Target: service.ErrUpstreamMalformed, Code: response.CodeServiceUnavailable},
	{Target: service.ErrInvalidToken, Code: response.CodeUnauthorized},
	{Target: service.ErrOperatorDisabled, Code: response.CodeForbidden},
}

// RespondServiceError 按映射表返回错误，未命中时记为内部错误。
func RespondServiceError(c *gin.Context, err error, fallbackMsg string) {
	for _, rule := range ServiceErrorRules {
		if errors.Is(err, rule.Target) {
			if rule.Code >= response.CodeInternal {
				RespondError(c, rule.Code, err.Error(), err)
				return
			}
			RespondError(c, rule.Code, err.Error(), nil)
			return
		}
	}
	RespondError(c, response.CodeInternal, fallbackMsg, err)
}

// BindJSON 绑定请求体，失败时直接写 400。
func BindJSON(c *gin.Context, dest interface{}) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		RespondError(c, response.CodeBadRequest, "invalid request body: "+err.Error(), nil)
		return false
	}
	return true
}
