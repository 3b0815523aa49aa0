package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zk-express/agent-engine/internal/config"

	"github.com/segmentio/kafka-go"
)

const (
	defaultMaxAttempts   = 3
	defaultWriteTimeout  = 10 * time.Second
	defaultInitialDelay  = 100 * time.Millisecond
	maxBackoffDelay      = 2 * time.Second
	perAttemptWriteLimit = 5 * time.Second
)

// ErrPublisherConfig 事件流配置不完整
var ErrPublisherConfig = errors.New("events publisher config invalid")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher 基于 kafka-go Writer 的事件发布器，按分配 ID 分区保证单记录有序
type KafkaPublisher struct {
	writer       messageWriter
	maxAttempts  int
	initialDelay time.Duration
}

// NewKafkaPublisher 创建 Kafka 发布器
func NewKafkaPublisher(cfg config.EventsConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("%w: at least one broker required", ErrPublisherConfig)
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("%w: topic required", ErrPublisherConfig)
	}
	writeTimeout := defaultWriteTimeout
	if cfg.WriteTimeoutSeconds > 0 {
		writeTimeout = time.Duration(cfg.WriteTimeoutSeconds) * time.Second
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: writeTimeout,
		RequiredAcks: kafka.RequireOne,
	}
	return newKafkaPublisher(writer, cfg.MaxAttempts), nil
}

func newKafkaPublisher(writer messageWriter, maxAttempts int) *KafkaPublisher {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	return &KafkaPublisher{
		writer:       writer,
		maxAttempts:  maxAttempts,
		initialDelay: defaultInitialDelay,
	}
}

// Publish 写入事件，失败时指数退避重试
func (p *KafkaPublisher) Publish(ctx context.Context, event Event) error {
	msg, err := encodeMessage(event)
	if err != nil {
		return err
	}

	var lastErr error
	delay := p.initialDelay
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, perAttemptWriteLimit)
		lastErr = p.writer.WriteMessages(attemptCtx, msg)
		cancel()
		if lastErr == nil {
			return nil
		}
		if attempt == p.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("publish canceled after %d attempts: %w", attempt, lastErr)
		case <-time.After(delay):
		}
		if delay < maxBackoffDelay {
			delay *= 2
		}
	}
	return fmt.Errorf("publish failed after %d attempts: %w", p.maxAttempts, lastErr)
}

// Close 关闭 Writer
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

func encodeMessage(event Event) (kafka.Message, error) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("marshal event: %w", err)
	}
	return kafka.Message{
		Key:   []byte(event.AllocationID),
		Value: body,
		Time:  event.OccurredAt.UTC(),
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
		},
	}, nil
}

// NewPublisher 按配置返回 Kafka 发布器或空实现
func NewPublisher(cfg config.EventsConfig) (Publisher, error) {
	if !cfg.Enabled {
		return NoopPublisher{}, nil
	}
	return NewKafkaPublisher(cfg)
}
