package cache

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/zk-express/agent-engine/internal/config"

	"github.com/redis/go-redis/v9"
)

const (
	defaultPrefix  = "engine"
	defaultTimeout = 3 * time.Second
)

// store 进程内共享的 Redis 连接；未启用时所有读写退化为空操作
var store struct {
	mu     sync.RWMutex
	client *redis.Client
	prefix string
}

// InitRedis 按配置建立 Redis 连接（不主动 ping，连通性由 /health 暴露）
func InitRedis(cfg *config.RedisConfig) error {
	if cfg == nil || !cfg.Enabled {
		UseClient(nil, "")
		return nil
	}
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port <= 0 {
		port = 6379
	}
	timeout := defaultTimeout
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	UseClient(redis.NewClient(&redis.Options{
		Addr:         net.JoinHostPort(host, strconv.Itoa(port)),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}), cfg.Prefix)
	return nil
}

// UseClient 替换共享连接，测试中用于接入 miniredis
func UseClient(client *redis.Client, prefix string) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.client = client
	store.prefix = strings.TrimSpace(prefix)
	if store.prefix == "" {
		store.prefix = defaultPrefix
	}
}

// Client 返回共享连接，未启用时为 nil
func Client() *redis.Client {
	store.mu.RLock()
	defer store.mu.RUnlock()
	return store.client
}

// Enabled 是否已启用 Redis
func Enabled() bool {
	return Client() != nil
}

// Prefix 返回 key 前缀
func Prefix() string {
	store.mu.RLock()
	defer store.mu.RUnlock()
	if store.prefix == "" {
		return defaultPrefix
	}
	return store.prefix
}

// Ping 检查连通性，未启用时返回 nil
func Ping(ctx context.Context) error {
	client := Client()
	if client == nil {
		return nil
	}
	return client.Ping(ctx).Err()
}

// Close 关闭共享连接
func Close() error {
	store.mu.Lock()
	client := store.client
	store.client = nil
	store.mu.Unlock()
	if client == nil {
		return nil
	}
	return client.Close()
}

// GetJSON 读取 JSON 值，未命中返回 false
func GetJSON(ctx context.Context, key string, dest interface{}) (bool, error) {
	client := Client()
	if client == nil {
		return false, nil
	}
	raw, err := client.Get(ctx, Key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, err
	}
	return true, nil
}

// SetJSON 以 JSON 写入并设置过期时间
func SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	client := Client()
	if client == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return client.Set(ctx, Key(key), payload, ttl).Err()
}

// Del 删除 key
func Del(ctx context.Context, key string) error {
	client := Client()
	if client == nil {
		return nil
	}
	return client.Del(ctx, Key(key)).Err()
}

// Key 拼接带前缀的完整 key
func Key(parts ...string) string {
	segments := []string{Prefix()}
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			segments = append(segments, part)
		}
	}
	return strings.Join(segments, ":")
}
