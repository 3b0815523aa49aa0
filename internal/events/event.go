package events

import (
	"context"
	"time"
)

// Event 分配生命周期事件
type Event struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	AllocationID string    `json:"allocation_id"`
	OrderID      string    `json:"order_id"`
	UserID       string    `json:"user_id"`
	PartnerID    string    `json:"partner_id"`
	Method       string    `json:"method,omitempty"`
	FromStatus   string    `json:"from_status,omitempty"`
	ToStatus     string    `json:"to_status"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Publisher 生命周期事件发布器
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

// NoopPublisher 未启用事件流时使用
type NoopPublisher struct{}

// Publish 丢弃事件
func (NoopPublisher) Publish(context.Context, Event) error { return nil }

// Close 无操作
func (NoopPublisher) Close() error { return nil }
