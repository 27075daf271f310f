package domain

import (
	"time"

	"github.com/jadx-daemon/jadx-daemon-go/internal/events"
)

// SessionEvent 会话事件日志记录
type SessionEvent struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"-"`
	EventID    string    `gorm:"type:varchar(36);uniqueIndex" json:"id"`
	Type       string    `gorm:"type:varchar(32);index" json:"type"`
	InstanceID string    `gorm:"type:varchar(255);index" json:"instance_id,omitempty"`
	Inputs     []string  `gorm:"serializer:json;type:text" json:"inputs,omitempty"`
	Error      string    `gorm:"type:text" json:"error,omitempty"`
	Size       int       `json:"size"`
	Capacity   int       `json:"capacity"`
	At         time.Time `gorm:"index" json:"at"`
}

func (SessionEvent) TableName() string {
	return "session_events"
}

// NewSessionEvent 从分发器事件构造记录
func NewSessionEvent(e events.Event) *SessionEvent {
	return &SessionEvent{
		EventID:    e.ID,
		Type:       string(e.Type),
		InstanceID: e.InstanceID,
		Inputs:     e.Inputs,
		Error:      e.Error,
		Size:       e.Size,
		Capacity:   e.Capacity,
		At:         e.At,
	}
}
