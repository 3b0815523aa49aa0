package queue

import (
	"encoding/json"

	"github.com/zk-express/agent-engine/internal/constants"
	"github.com/zk-express/agent-engine/internal/events"

	"github.com/hibiken/asynq"
)

const (
	// TaskReputationApply 信誉变更落账任务
	TaskReputationApply = constants.TaskReputationApply
	// TaskLifecycleEvent 生命周期事件投递任务
	TaskLifecycleEvent = constants.TaskLifecycleEvent
)

// ReputationApplyPayload 信誉变更任务载荷，Reference 保证重试幂等
type ReputationApplyPayload struct {
	UserID    string `json:"user_id"`
	Delta     int64  `json:"delta"`
	Reference string `json:"reference"`
	OrderID   string `json:"order_id,omitempty"`
	EventType string `json:"event_type"`
}

// LifecycleEventPayload 生命周期事件任务载荷
type LifecycleEventPayload struct {
	Event events.Event `json:"event"`
}

// NewReputationApplyTask 创建信誉变更任务
func NewReputationApplyTask(payload ReputationApplyPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReputationApply, body), nil
}

// NewLifecycleEventTask 创建生命周期事件任务
func NewLifecycleEventTask(payload LifecycleEventPayload) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLifecycleEvent, body), nil
}
