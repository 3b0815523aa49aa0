package service

import (
	"context"

	"github.com/zk-express/agent-engine/internal/events"
	"github.com/zk-express/agent-engine/internal/logger"
	"github.com/zk-express/agent-engine/internal/queue"
)

// LifecycleDispatcher 生命周期事件出口：队列启用时异步投递，否则直接发布
type LifecycleDispatcher struct {
	queue     *queue.Client
	publisher events.Publisher
}

// NewLifecycleDispatcher 创建事件分发器
func NewLifecycleDispatcher(queueClient *queue.Client, publisher events.Publisher) *LifecycleDispatcher {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &LifecycleDispatcher{queue: queueClient, publisher: publisher}
}

// NotifyLifecycle 入队或直接发布事件
func (d *LifecycleDispatcher) NotifyLifecycle(ctx context.Context, event events.Event) error {
	if d.queue != nil && d.queue.Enabled() {
		return d.queue.EnqueueLifecycleEvent(queue.LifecycleEventPayload{Event: event})
	}
	return d.Deliver(ctx, event)
}

// Deliver 发布到事件流（队列任务处理器调用）
func (d *LifecycleDispatcher) Deliver(ctx context.Context, event events.Event) error {
	if err := d.publisher.Publish(ctx, event); err != nil {
		return err
	}
	logger.Debugw("lifecycle_event_delivered",
		"event_id", event.ID,
		"event_type", event.Type,
		"allocation_id", event.AllocationID,
	)
	return nil
}
