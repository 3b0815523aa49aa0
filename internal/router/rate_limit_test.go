package router

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	handlershared "github.com/zk-express/agent-engine/internal/http/handlers/shared"
	"github.com/zk-express/agent-engine/internal/http/response"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitMiddlewareWithoutClient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RateLimitMiddleware(nil, RateLimitRule{WindowSeconds: 60, MaxRequests: 1}, KeyByIP))
	r.GET("/ping", func(c *gin.Context) { response.Success(c, gin.H{"ok": true}) })

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
		require.Equal(t, http.StatusOK, w.Code)
	}
}

func TestRateLimitMiddlewareBlocksAfterLimit(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(handlershared.ContextAPIKeyID, c.GetHeader("X-Test-Key"))
	})
	r.Use(RateLimitMiddleware(client, RateLimitRule{Prefix: "test:rate", WindowSeconds: 60, MaxRequests: 2}, KeyByAPIKey))
	r.GET("/ping", func(c *gin.Context) { response.Success(c, nil) })

	send := func(key string) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.Header.Set("X-Test-Key", key)
		r.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, send("a").Code)
	second := send("a")
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, "0", second.Header().Get("X-RateLimit-Remaining"))

	blocked := send("a")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.NotEmpty(t, blocked.Header().Get("Retry-After"))
	assert.NotEmpty(t, blocked.Header().Get("X-RateLimit-Reset"))
	assert.Equal(t, response.CodeTooManyRequests, decodeEnvelope(t, blocked).StatusCode)

	// 不同 key 互不影响
	assert.Equal(t, http.StatusOK, send("b").Code)
	assert.True(t, mr.Exists("test:rate:key:a"))

	mr.FastForward(61 * time.Second)
	assert.Equal(t, http.StatusOK, send("a").Code)
}

func TestRateLimitMiddlewareFailsOpen(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	r := gin.New()
	r.Use(RateLimitMiddleware(client, RateLimitRule{WindowSeconds: 60, MaxRequests: 1}, KeyByIP))
	r.GET("/ping", func(c *gin.Context) { response.Success(c, nil) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitKeys(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "10.0.0.7:5555"

	assert.Equal(t, "ip:10.0.0.7", KeyByIP(c))
	assert.Equal(t, "ip:10.0.0.7", KeyByAPIKey(c))
	c.Set(handlershared.ContextAPIKeyID, "ab12cd34")
	assert.Equal(t, "key:ab12cd34", KeyByAPIKey(c))
}
