package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jadx-daemon/jadx-daemon-go/internal/events"
	"github.com/sirupsen/logrus"
)

// Publisher 发布原始消息
type Publisher interface {
	Publish(ctx context.Context, routingKey string, body []byte) error
}

// Producer 把会话事件发布到 RabbitMQ，实现 events.Sink
type Producer struct {
	pub    Publisher
	logger *logrus.Logger
}

// NewProducer 创建生产者
func NewProducer(pub Publisher, logger *logrus.Logger) *Producer {
	return &Producer{
		pub:    pub,
		logger: logger,
	}
}

// RoutingKey 事件的路由键，例如 session.created
func RoutingKey(t events.Type) string {
	return "session." + string(t)
}

func (p *Producer) Name() string { return "rabbitmq" }

// Handle 发布一条会话事件
func (p *Producer) Handle(ctx context.Context, e events.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.pub.Publish(ctx, RoutingKey(e.Type), body); err != nil {
		return fmt.Errorf("failed to publish: %w", err)
	}

	p.logger.WithFields(logrus.Fields{
		"event":       e.Type,
		"instance_id": e.InstanceID,
	}).Debug("Session event published")
	return nil
}
