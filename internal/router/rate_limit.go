package router

import (
	"strconv"
	"strings"
	"time"

	handlershared "github.com/zk-express/agent-engine/internal/http/handlers/shared"
	"github.com/zk-express/agent-engine/internal/http/response"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimitKeyFunc 生成限流主体
type RateLimitKeyFunc func(*gin.Context) string

// RateLimitRule 固定窗口限流规则
type RateLimitRule struct {
	Prefix        string
	WindowSeconds int
	MaxRequests   int
}

func (r RateLimitRule) valid() bool {
	return r.WindowSeconds > 0 && r.MaxRequests > 0
}

// 计数与剩余 TTL 一次取回；窗口从第一次请求开始计时
var rateLimitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
	redis.call("EXPIRE", KEYS[1], ARGV[1])
end
return {current, redis.call("TTL", KEYS[1])}
`)

// RateLimitMiddleware 引擎接口限流；Redis 不可用时放行并记录告警
func RateLimitMiddleware(client *redis.Client, rule RateLimitRule, keyFunc RateLimitKeyFunc) gin.HandlerFunc {
	if keyFunc == nil {
		keyFunc = KeyByIP
	}
	limit := strconv.Itoa(rule.MaxRequests)

	return func(c *gin.Context) {
		if client == nil || !rule.valid() {
			c.Next()
			return
		}
		subject := strings.TrimSpace(keyFunc(c))
		if subject == "" {
			subject = "ip:" + c.ClientIP()
		}
		key := subject
		if rule.Prefix != "" {
			key = rule.Prefix + ":" + subject
		}

		values, err := rateLimitScript.Run(c.Request.Context(), client, []string{key}, rule.WindowSeconds).Int64Slice()
		if err != nil || len(values) < 2 {
			handlershared.RequestLog(c).Warnw("router_rate_limit_unavailable", "key", key, "error", err)
			c.Next()
			return
		}
		count, ttl := values[0], values[1]
		if ttl < 1 {
			ttl = int64(rule.WindowSeconds)
		}

		header := c.Writer.Header()
		header.Set("X-RateLimit-Limit", limit)
		header.Set("X-RateLimit-Remaining", strconv.FormatInt(max(int64(rule.MaxRequests)-count, 0), 10))
		header.Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Duration(ttl)*time.Second).Unix(), 10))

		if count > int64(rule.MaxRequests) {
			header.Set("Retry-After", strconv.FormatInt(ttl, 10))
			handlershared.RequestLog(c).Infow("router_rate_limited", "subject", subject, "count", count)
			response.Abort(c, response.CodeTooManyRequests, "too many requests, retry in "+strconv.FormatInt(ttl, 10)+" seconds")
			return
		}
		c.Next()
	}
}

// KeyByIP 按客户端 IP 限流
func KeyByIP(c *gin.Context) string {
	return "ip:" + c.ClientIP()
}

// KeyByAPIKey 按 API Key 指纹限流，未识别 key 时退回 IP
func KeyByAPIKey(c *gin.Context) string {
	if keyID := c.GetString(handlershared.ContextAPIKeyID); keyID != "" {
		return "key:" + keyID
	}
	return KeyByIP(c)
}
