package queue

import (
	"errors"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/zk-express/agent-engine/internal/config"
	"github.com/zk-express/agent-engine/internal/constants"

	"github.com/hibiken/asynq"
)

const (
	defaultMaxRetry    = 5
	defaultConcurrency = 10
	maxRetryDelay      = 10 * time.Minute
	shutdownTimeout    = 15 * time.Second
)

// Client 任务投递客户端；未启用时 Enqueue 系列方法直接返回 nil，调用方走同步路径
type Client struct {
	client   *asynq.Client
	maxRetry int
	// 信誉落账走高优先级队列，事件投递走默认队列
	reputationQueue string
	eventQueue      string
}

// NewClient 创建客户端，cfg 为 nil 或未启用时返回禁用实例
func NewClient(cfg *config.QueueConfig) (*Client, error) {
	if cfg == nil || !cfg.Enabled {
		return &Client{}, nil
	}
	maxRetry := cfg.MaxRetry
	if maxRetry <= 0 {
		maxRetry = defaultMaxRetry
	}
	queues := resolveQueues(cfg)
	return &Client{
		client:          asynq.NewClient(redisOpt(cfg)),
		maxRetry:        maxRetry,
		reputationQueue: pickQueue(queues, constants.QueueCritical),
		eventQueue:      pickQueue(queues, constants.QueueDefault),
	}, nil
}

// Enabled 是否启用
func (c *Client) Enabled() bool {
	return c != nil && c.client != nil
}

// Close 关闭客户端
func (c *Client) Close() error {
	if !c.Enabled() {
		return nil
	}
	return c.client.Close()
}

// EnqueueReputationApply 投递信誉落账任务，同一引用在任务保留期内只入队一次
func (c *Client) EnqueueReputationApply(payload ReputationApplyPayload, opts ...asynq.Option) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewReputationApplyTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(task, c.reputationQueue, taskID("rep", payload.Reference), opts)
}

// EnqueueLifecycleEvent 投递生命周期事件任务，按事件 ID 去重
func (c *Client) EnqueueLifecycleEvent(payload LifecycleEventPayload, opts ...asynq.Option) error {
	if !c.Enabled() {
		return nil
	}
	task, err := NewLifecycleEventTask(payload)
	if err != nil {
		return err
	}
	return c.enqueue(task, c.eventQueue, taskID("evt", payload.Event.ID), opts)
}

func (c *Client) enqueue(task *asynq.Task, queueName, id string, extra []asynq.Option) error {
	options := []asynq.Option{asynq.Queue(queueName), asynq.MaxRetry(c.maxRetry)}
	if id != "" {
		options = append(options, asynq.TaskID(id))
	}
	_, err := c.client.Enqueue(task, append(options, extra...)...)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

func taskID(kind, key string) string {
	if key = strings.TrimSpace(key); key == "" {
		return ""
	}
	return kind + ":" + key
}

// BuildServerConfig 生成消费端配置：按权重消费各队列，失败按指数退避重试
func BuildServerConfig(cfg *config.QueueConfig) (asynq.RedisClientOpt, asynq.Config) {
	concurrency := defaultConcurrency
	if cfg != nil && cfg.Concurrency > 0 {
		concurrency = cfg.Concurrency
	}
	return redisOpt(cfg), asynq.Config{
		Concurrency:     concurrency,
		Queues:          resolveQueues(cfg),
		RetryDelayFunc:  RetryDelay,
		ShutdownTimeout: shutdownTimeout,
	}
}

// RetryDelay 第 n 次重试等待 2^n 秒，上限 10 分钟
func RetryDelay(n int, _ error, _ *asynq.Task) time.Duration {
	if n < 0 {
		n = 0
	}
	delay := time.Duration(math.Pow(2, float64(n))) * time.Second
	if delay <= 0 || delay > maxRetryDelay {
		return maxRetryDelay
	}
	return delay
}

func resolveQueues(cfg *config.QueueConfig) map[string]int {
	if cfg == nil || len(cfg.Queues) == 0 {
		return map[string]int{constants.QueueDefault: 1}
	}
	return cfg.Queues
}

func pickQueue(queues map[string]int, preferred string) string {
	if _, ok := queues[preferred]; ok {
		return preferred
	}
	return constants.QueueDefault
}

func redisOpt(cfg *config.QueueConfig) asynq.RedisClientOpt {
	opt := asynq.RedisClientOpt{Addr: "127.0.0.1:6379"}
	if cfg == nil {
		return opt
	}
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = "127.0.0.1"
	}
	port := cfg.Port
	if port <= 0 {
		port = 6379
	}
	opt.Addr = net.JoinHostPort(host, strconv.Itoa(port))
	opt.Password = cfg.Password
	opt.DB = cfg.DB
	return opt
}
