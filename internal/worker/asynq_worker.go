package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/zk-express/agent-engine/internal/events"
	"github.com/zk-express/agent-engine/internal/logger"
	"github.com/zk-express/agent-engine/internal/provider"
	"github.com/zk-express/agent-engine/internal/queue"
	"github.com/zk-express/agent-engine/internal/service"

	"github.com/hibiken/asynq"
)

// ReputationApplier 信誉落账
type ReputationApplier interface {
	ApplyReputation(ctx context.Context, payload queue.ReputationApplyPayload) (*service.ReputationReceipt, error)
}

// LifecycleDeliverer 生命周期事件投递
type LifecycleDeliverer interface {
	Deliver(ctx context.Context, event events.Event) error
}

// Consumer 异步任务消费者
type Consumer struct {
	Reputation ReputationApplier
	Lifecycle  LifecycleDeliverer
}

// NewConsumer 创建消费者
func NewConsumer(c *provider.Container) *Consumer {
	if c == nil {
		return &Consumer{}
	}
	return &Consumer{
		Reputation: c.OrderWorkflowService,
		Lifecycle:  c.LifecycleDispatcher,
	}
}

// Register 注册消费者
func (c *Consumer) Register(mux *asynq.ServeMux) {
	if c == nil || mux == nil {
		logger.Debugw("worker_register_skip_nil", "consumer_nil", c == nil, "mux_nil", mux == nil)
		return
	}
	mux.HandleFunc(queue.TaskReputationApply, c.handleReputationApply)
	mux.HandleFunc(queue.TaskLifecycleEvent, c.handleLifecycleEvent)
}

func (c *Consumer) handleReputationApply(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil || c.Reputation == nil {
		logger.Debugw("worker_reputation_apply_skip_nil", "task_nil", task == nil)
		return nil
	}
	var payload queue.ReputationApplyPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_reputation_apply_unmarshal_failed", "error", err)
		return fmt.Errorf("decode reputation payload: %v: %w", err, asynq.SkipRetry)
	}
	if strings.TrimSpace(payload.UserID) == "" || strings.TrimSpace(payload.Reference) == "" {
		logger.Debugw("worker_reputation_apply_skip_invalid_payload",
			"user_id", payload.UserID,
			"reference", payload.Reference,
		)
		return nil
	}

	receipt, err := c.Reputation.ApplyReputation(ctx, payload)
	if err != nil {
		// 校验失败重试也不会成功
		if errors.Is(err, service.ErrValidation) {
			logger.Warnw("worker_reputation_apply_rejected",
				"user_id", payload.UserID,
				"reference", payload.Reference,
				"error", err,
			)
			return nil
		}
		logger.Warnw("worker_reputation_apply_failed",
			"user_id", payload.UserID,
			"reference", payload.Reference,
			"error", err,
		)
		return err
	}
	logger.Infow("worker_reputation_applied",
		"user_id", receipt.UserID,
		"reference", payload.Reference,
		"event_type", payload.EventType,
		"applied", receipt.Applied,
		"reputation", receipt.Reputation,
		"duplicate", receipt.Duplicate,
	)
	return nil
}

func (c *Consumer) handleLifecycleEvent(ctx context.Context, task *asynq.Task) error {
	if c == nil || task == nil || c.Lifecycle == nil {
		logger.Debugw("worker_lifecycle_event_skip_nil", "task_nil", task == nil)
		return nil
	}
	var payload queue.LifecycleEventPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		logger.Warnw("worker_lifecycle_event_unmarshal_failed", "error", err)
		return fmt.Errorf("decode lifecycle payload: %v: %w", err, asynq.SkipRetry)
	}
	if payload.Event.ID == "" || payload.Event.AllocationID == "" {
		logger.Debugw("worker_lifecycle_event_skip_invalid_payload",
			"event_id", payload.Event.ID,
			"allocation_id", payload.Event.AllocationID,
		)
		return nil
	}
	if err := c.Lifecycle.Deliver(ctx, payload.Event); err != nil {
		logger.Warnw("worker_lifecycle_event_deliver_failed",
			"event_id", payload.Event.ID,
			"allocation_id", payload.Event.AllocationID,
			"error", err,
		)
		return err
	}
	return nil
}
