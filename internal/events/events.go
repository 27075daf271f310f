// Package events 会话生命周期事件及其异步分发
package events

import (
	"context"
	"time"
)

// Type 事件类型
type Type string

const (
	TypeCreated         Type = "created"
	TypeBindFailed      Type = "bind_failed"
	TypeRemoved         Type = "removed"
	TypeRejected        Type = "rejected"
	TypeCapacityChanged Type = "capacity_changed"
)

// Event 会话注册表发出的事件
type Event struct {
	ID         string    `json:"id"`
	Type       Type      `json:"type"`
	InstanceID string    `json:"instance_id,omitempty"`
	Inputs     []string  `json:"inputs,omitempty"`
	Error      string    `json:"error,omitempty"`
	Size       int       `json:"size"`     // 事件发生后的会话数
	Capacity   int       `json:"capacity"` // 事件发生时的容量上限
	At         time.Time `json:"at"`
}

// Notifier 事件接收方，实现不得阻塞调用者
type Notifier interface {
	Notify(e Event)
}

// Nop 丢弃所有事件
type Nop struct{}

func (Nop) Notify(Event) {}

// Sink 分发器的下游
type Sink interface {
	Name() string
	Handle(ctx context.Context, e Event) error
}

// SinkFunc 把函数适配为 Sink
type SinkFunc struct {
	SinkName string
	Fn       func(ctx context.Context, e Event) error
}

func (s SinkFunc) Name() string { return s.SinkName }

func (s SinkFunc) Handle(ctx context.Context, e Event) error { return s.Fn(ctx, e) }
