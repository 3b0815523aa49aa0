package router

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/zk-express/agent-engine/internal/authz"
	"github.com/zk-express/agent-engine/internal/cache"
	"github.com/zk-express/agent-engine/internal/config"
	handlershared "github.com/zk-express/agent-engine/internal/http/handlers/shared"
	"github.com/zk-express/agent-engine/internal/http/response"
	"github.com/zk-express/agent-engine/internal/logger"
	"github.com/zk-express/agent-engine/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	requestIDHeader = "X-Request-ID"
	apiKeyHeader    = "X-API-Key"
)

// OperatorAuthenticator 运营令牌校验所需能力
type OperatorAuthenticator interface {
	ParseJWT(tokenString string) (*service.JWTClaims, error)
	ResolveOperator(ctx context.Context, claims *service.JWTClaims) (*cache.OperatorAuthState, error)
	TouchLastSeen(operatorID uint)
}

// OperatorEnforcer 运营端策略判定
type OperatorEnforcer interface {
	EnforceOperator(operatorID uint, obj, act string) (bool, error)
}

// CORSMiddleware 跨域中间件
func CORSMiddleware(cfg config.CORSConfig) gin.HandlerFunc {
	allowedOrigins := cfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	allowedMethods := cfg.AllowedMethods
	if len(allowedMethods) == 0 {
		allowedMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	}
	allowedHeaders := cfg.AllowedHeaders
	if len(allowedHeaders) == 0 {
		allowedHeaders = []string{"Content-Type", "Authorization", apiKeyHeader, requestIDHeader}
	}
	methodsHeader := strings.Join(allowedMethods, ", ")
	headersHeader := strings.Join(allowedHeaders, ", ")

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if allowedOrigin := resolveAllowedOrigin(origin, allowedOrigins, cfg.AllowCredentials); allowedOrigin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			if allowedOrigin != "*" {
				c.Writer.Header().Add("Vary", "Origin")
			}
		}
		if cfg.AllowCredentials {
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		c.Writer.Header().Set("Access-Control-Allow-Headers", headersHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods", methodsHeader)
		c.Writer.Header().Set("Access-Control-Expose-Headers", requestIDHeader)
		if cfg.MaxAge > 0 {
			c.Writer.Header().Set("Access-Control-Max-Age", strconv.Itoa(cfg.MaxAge))
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}

func resolveAllowedOrigin(origin string, allowedOrigins []string, allowCredentials bool) string {
	for _, allowed := range allowedOrigins {
		if allowed == "*" {
			if allowCredentials && origin != "" {
				return origin
			}
			return "*"
		}
	}
	if origin == "" {
		return ""
	}
	for _, allowed := range allowedOrigins {
		if strings.EqualFold(allowed, origin) {
			return origin
		}
	}
	return ""
}

// RequestIDMiddleware 透传或生成请求 ID
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" || len(requestID) > 128 {
			requestID = uuid.NewString()
		}
		c.Set(response.RequestIDKey, requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)
		c.Next()
	}
}

// LoggerMiddleware 结构化请求日志
func LoggerMiddleware(log *zap.Logger) gin.HandlerFunc {
	if log == nil {
		log = zap.L()
	}
	sugar := log.Sugar()
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []interface{}{
			"request_id", c.GetString(response.RequestIDKey),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"route", c.FullPath(),
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
		}
		if operatorID, ok := c.Get(handlershared.ContextOperatorID); ok {
			fields = append(fields, "operator_id", operatorID)
		}
		if keyID := c.GetString(handlershared.ContextAPIKeyID); keyID != "" {
			fields = append(fields, "api_key_id", keyID)
		}
		switch {
		case len(c.Errors) > 0:
			sugar.Errorw("request", append(fields, "errors", c.Errors.String())...)
		case c.Writer.Status() >= 500:
			sugar.Warnw("request", fields...)
		default:
			sugar.Infow("request", fields...)
		}
	}
}

// APIKeyMiddleware 引擎接口 API Key 校验，未配置任何 key 时放行
func APIKeyMiddleware(keys []string) gin.HandlerFunc {
	if len(keys) == 0 {
		logger.Warnw("router_api_key_auth_disabled")
	}
	digests := make([][]byte, 0, len(keys))
	for _, key := range keys {
		sum := sha256.Sum256([]byte(key))
		digests = append(digests, sum[:])
	}
	return func(c *gin.Context) {
		if len(digests) == 0 {
			c.Next()
			return
		}
		provided := strings.TrimSpace(c.GetHeader(apiKeyHeader))
		if provided == "" {
			response.Abort(c, response.CodeUnauthorized, "missing api key")
			return
		}
		sum := sha256.Sum256([]byte(provided))
		for _, digest := range digests {
			if subtle.ConstantTimeCompare(sum[:], digest) == 1 {
				c.Set(handlershared.ContextAPIKeyID, hex.EncodeToString(sum[:4]))
				c.Next()
				return
			}
		}
		handlershared.RequestLog(c).Warnw("router_api_key_rejected", "client_ip", c.ClientIP())
		response.Abort(c, response.CodeUnauthorized, "invalid api key")
	}
}

// OperatorAuthMiddleware 运营端 JWT 鉴权
func OperatorAuthMiddleware(auth OperatorAuthenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if auth == nil {
			response.Abort(c, response.CodeUnauthorized, "operator auth unavailable")
			return
		}
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			response.Abort(c, response.CodeUnauthorized, "authorization header missing")
			return
		}
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			response.Abort(c, response.CodeUnauthorized, "authorization header invalid")
			return
		}

		claims, err := auth.ParseJWT(parts[1])
		if err != nil {
			response.Abort(c, response.CodeUnauthorized, "token invalid")
			return
		}
		state, err := auth.ResolveOperator(c.Request.Context(), claims)
		if err != nil {
			switch {
			case errors.Is(err, service.ErrOperatorDisabled):
				response.Abort(c, response.CodeForbidden, "operator disabled")
			case errors.Is(err, service.ErrInvalidToken):
				response.Abort(c, response.CodeUnauthorized, "token revoked")
			default:
				handlershared.RequestLog(c).Errorw("router_resolve_operator_failed",
					"operator_id", claims.OperatorID,
					"error", err,
				)
				response.Abort(c, response.CodeInternal, "resolve operator failed")
			}
			return
		}

		c.Set(handlershared.ContextOperatorID, state.OperatorID)
		c.Set(handlershared.ContextOperatorUsername, state.Username)
		c.Set(handlershared.ContextOperatorIsSuper, state.IsSuper)
		auth.TouchLastSeen(state.OperatorID)
		c.Next()
	}
}

// OperatorRBACMiddleware 运营端 casbin 鉴权，超级管理员直接放行
func OperatorRBACMiddleware(enforcer OperatorEnforcer) gin.HandlerFunc {
	return func(c *gin.Context) {
		if enforcer == nil {
			logger.Errorw("router_rbac_service_unavailable")
			response.Abort(c, response.CodeUnauthorized, "unauthorized")
			return
		}
		if c.GetBool(handlershared.ContextOperatorIsSuper) {
			c.Next()
			return
		}
		value, exists := c.Get(handlershared.ContextOperatorID)
		operatorID, _ := value.(uint)
		if !exists || operatorID == 0 {
			response.Abort(c, response.CodeUnauthorized, "unauthorized")
			return
		}

		resource := c.FullPath()
		if strings.TrimSpace(resource) == "" {
			resource = c.Request.URL.Path
		}
		allowed, err := enforcer.EnforceOperator(operatorID, resource, c.Request.Method)
		if err != nil {
			logger.Errorw("router_rbac_enforce_failed",
				"operator_id", operatorID,
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"error", err,
			)
			response.Abort(c, response.CodeUnauthorized, "unauthorized")
			return
		}
		if !allowed {
			logger.Warnw("router_rbac_permission_denied",
				"operator_id", operatorID,
				"method", c.Request.Method,
				"resource", authz.NormalizeObject(resource),
			)
			response.Abort(c, response.CodeForbidden, "forbidden")
			return
		}
		c.Next()
	}
}
