package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCapacityKeyInvalid 伙伴或分配标识为空
var ErrCapacityKeyInvalid = errors.New("capacity key is invalid")

// CapacitySnapshot 伙伴在途订单快照
type CapacitySnapshot struct {
	PartnerID     string     `json:"partner_id"`
	CurrentOrders int64      `json:"current_orders"`
	LastUpdated   *time.Time `json:"last_updated,omitempty"`
}

// CapacityChange 一次计数变更的结果
type CapacityChange struct {
	CurrentOrders int64 `json:"current_orders"`
	Applied       bool  `json:"applied"` // false 表示该分配已计数（或已扣减），本次为重复调用
}

// 计数与在途集合放在同一个 hash slot，保证脚本在集群下可执行
var capacityIncrementScript = redis.NewScript(`
local added = redis.call("SADD", KEYS[2], ARGV[1])
if added == 1 then
	local current = redis.call("INCR", KEYS[1])
	redis.call("SET", KEYS[3], ARGV[2])
	return {current, 1}
end
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
return {current, 0}
`)

var capacityDecrementScript = redis.NewScript(`
local removed = redis.call("SREM", KEYS[2], ARGV[1])
if removed == 1 then
	local current = tonumber(redis.call("GET", KEYS[1]) or "0")
	if current > 0 then
		current = redis.call("DECR", KEYS[1])
	else
		redis.call("SET", KEYS[1], 0)
		current = 0
	end
	redis.call("SET", KEYS[3], ARGV[2])
	return {current, 1}
end
local current = tonumber(redis.call("GET", KEYS[1]) or "0")
return {current, 0}
`)

// RedisCapacityStore 基于 Redis Lua 脚本的伙伴容量计数器
type RedisCapacityStore struct {
	client *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisCapacityStore 创建 Redis 容量计数器
func NewRedisCapacityStore(client *redis.Client, prefix string) *RedisCapacityStore {
	return &RedisCapacityStore{
		client: client,
		prefix: prefix,
		now:    time.Now,
	}
}

func (s *RedisCapacityStore) keys(partnerID string) []string {
	prefix := strings.TrimSpace(s.prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	base := fmt.Sprintf("%s:capacity:{%s}", prefix, partnerID)
	return []string{base + ":count", base + ":inflight", base + ":updated_at"}
}

// Increment 以分配 ID 去重后原子加一
func (s *RedisCapacityStore) Increment(ctx context.Context, partnerID, allocationID string) (CapacityChange, error) {
	return s.run(ctx, capacityIncrementScript, partnerID, allocationID)
}

// Decrement 以分配 ID 去重后原子减一（不低于 0）
func (s *RedisCapacityStore) Decrement(ctx context.Context, partnerID, allocationID string) (CapacityChange, error) {
	return s.run(ctx, capacityDecrementScript, partnerID, allocationID)
}

func (s *RedisCapacityStore) run(ctx context.Context, script *redis.Script, partnerID, allocationID string) (CapacityChange, error) {
	partnerID = strings.TrimSpace(partnerID)
	allocationID = strings.TrimSpace(allocationID)
	if partnerID == "" || allocationID == "" {
		return CapacityChange{}, ErrCapacityKeyInvalid
	}
	stamp := strconv.FormatInt(s.now().UTC().UnixMilli(), 10)
	result, err := script.Run(ctx, s.client, s.keys(partnerID), allocationID, stamp).Result()
	if err != nil {
		return CapacityChange{}, err
	}
	values, ok := result.([]interface{})
	if !ok || len(values) < 2 {
		return CapacityChange{}, fmt.Errorf("unexpected capacity script result: %v", result)
	}
	current, ok := toInt64(values[0])
	if !ok {
		return CapacityChange{}, fmt.Errorf("unexpected capacity counter value: %v", values[0])
	}
	applied, _ := toInt64(values[1])
	return CapacityChange{CurrentOrders: current, Applied: applied == 1}, nil
}

// Get 读取伙伴当前在途订单数
func (s *RedisCapacityStore) Get(ctx context.Context, partnerID string) (CapacitySnapshot, error) {
	partnerID = strings.TrimSpace(partnerID)
	if partnerID == "" {
		return CapacitySnapshot{}, ErrCapacityKeyInvalid
	}
	keys := s.keys(partnerID)
	values, err := s.client.MGet(ctx, keys[0], keys[2]).Result()
	if err != nil {
		return CapacitySnapshot{}, err
	}
	snapshot := CapacitySnapshot{PartnerID: partnerID}
	if len(values) > 0 && values[0] != nil {
		if parsed, err := strconv.ParseInt(fmt.Sprint(values[0]), 10, 64); err == nil && parsed > 0 {
			snapshot.CurrentOrders = parsed
		}
	}
	if len(values) > 1 && values[1] != nil {
		if millis, err := strconv.ParseInt(fmt.Sprint(values[1]), 10, 64); err == nil {
			at := time.UnixMilli(millis).UTC()
			snapshot.LastUpdated = &at
		}
	}
	return snapshot, nil
}

// MemoryCapacityStore 进程内容量计数器，仅用于未启用 Redis 的单实例部署
type MemoryCapacityStore struct {
	mu       sync.Mutex
	counts   map[string]int64
	inflight map[string]map[string]struct{}
	updated  map[string]time.Time
	now      func() time.Time
}

// NewMemoryCapacityStore 创建进程内容量计数器
func NewMemoryCapacityStore() *MemoryCapacityStore {
	return &MemoryCapacityStore{
		counts:   make(map[string]int64),
		inflight: make(map[string]map[string]struct{}),
		updated:  make(map[string]time.Time),
		now:      time.Now,
	}
}

// Increment 以分配 ID 去重后加一
func (s *MemoryCapacityStore) Increment(_ context.Context, partnerID, allocationID string) (CapacityChange, error) {
	partnerID = strings.TrimSpace(partnerID)
	allocationID = strings.TrimSpace(allocationID)
	if partnerID == "" || allocationID == "" {
		return CapacityChange{}, ErrCapacityKeyInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.inflight[partnerID]
	if set == nil {
		set = make(map[string]struct{})
		s.inflight[partnerID] = set
	}
	if _, exists := set[allocationID]; exists {
		return CapacityChange{CurrentOrders: s.counts[partnerID]}, nil
	}
	set[allocationID] = struct{}{}
	s.counts[partnerID]++
	s.updated[partnerID] = s.now().UTC()
	return CapacityChange{CurrentOrders: s.counts[partnerID], Applied: true}, nil
}

// Decrement 以分配 ID 去重后减一（不低于 0）
func (s *MemoryCapacityStore) Decrement(_ context.Context, partnerID, allocationID string) (CapacityChange, error) {
	partnerID = strings.TrimSpace(partnerID)
	allocationID = strings.TrimSpace(allocationID)
	if partnerID == "" || allocationID == "" {
		return CapacityChange{}, ErrCapacityKeyInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	set := s.inflight[partnerID]
	if _, exists := set[allocationID]; !exists {
		return CapacityChange{CurrentOrders: s.counts[partnerID]}, nil
	}
	delete(set, allocationID)
	if s.counts[partnerID] > 0 {
		s.counts[partnerID]--
	}
	s.updated[partnerID] = s.now().UTC()
	return CapacityChange{CurrentOrders: s.counts[partnerID], Applied: true}, nil
}

// Get 读取伙伴当前在途订单数
func (s *MemoryCapacityStore) Get(_ context.Context, partnerID string) (CapacitySnapshot, error) {
	partnerID = strings.TrimSpace(partnerID)
	if partnerID == "" {
		return CapacitySnapshot{}, ErrCapacityKeyInvalid
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := CapacitySnapshot{PartnerID: partnerID, CurrentOrders: s.counts[partnerID]}
	if at, ok := s.updated[partnerID]; ok {
		snapshot.LastUpdated = &at
	}
	return snapshot, nil
}

func toInt64(value interface{}) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}
