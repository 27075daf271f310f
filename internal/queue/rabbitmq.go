package queue

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/jadx-daemon/jadx-daemon-go/internal/retry"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// RabbitMQConfig RabbitMQ 配置
type RabbitMQConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	VHost     string
	Exchange  string        // topic 交换机
	Heartbeat time.Duration // 心跳间隔，默认 10 秒
}

// URL 连接地址
func (c *RabbitMQConfig) URL() string {
	u := url.URL{
		Scheme:  "amqp",
		User:    url.UserPassword(c.User, c.Password),
		Host:    fmt.Sprintf("%s:%d", c.Host, c.Port),
		Path:    "/" + c.VHost,
		RawPath: "/" + url.PathEscape(c.VHost),
	}
	return u.String()
}

// RabbitMQ 只负责向 topic 交换机发布消息的客户端
type RabbitMQ struct {
	config *RabbitMQConfig
	logger *logrus.Logger

	mu            sync.RWMutex
	conn          *amqp.Connection
	channel       *amqp.Channel
	closed        bool
	connNotify    chan *amqp.Error
	channelNotify chan *amqp.Error
}

// NewRabbitMQ 连接 RabbitMQ 并声明交换机，连接失败按重试策略重试
func NewRabbitMQ(ctx context.Context, config *RabbitMQConfig, logger *logrus.Logger) (*RabbitMQ, error) {
	if config.Heartbeat == 0 {
		config.Heartbeat = 10 * time.Second
	}

	mq := &RabbitMQ{config: config, logger: logger}
	if err := retry.Do(ctx, retry.DefaultConfig("amqp_dial", logger), func(ctx context.Context) error {
		return mq.connect()
	}); err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	go mq.watch()
	return mq, nil
}

// connect 建立连接并声明交换机
func (mq *RabbitMQ) connect() error {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	conn, err := amqp.DialConfig(mq.config.URL(), amqp.Config{
		Heartbeat: mq.config.Heartbeat,
		Locale:    "en_US",
	})
	if err != nil {
		return fmt.Errorf("failed to dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = ch.ExchangeDeclare(
		mq.config.Exchange, // name
		"topic",            // kind
		true,               // durable
		false,              // auto-deleted
		false,              // internal
		false,              // no-wait
		nil,                // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	mq.conn = conn
	mq.channel = ch
	mq.connNotify = conn.NotifyClose(make(chan *amqp.Error, 1))
	mq.channelNotify = ch.NotifyClose(make(chan *amqp.Error, 1))

	mq.logger.WithFields(logrus.Fields{
		"host":      mq.config.Host,
		"port":      mq.config.Port,
		"exchange":  mq.config.Exchange,
		"heartbeat": mq.config.Heartbeat,
	}).Info("Connected to RabbitMQ")
	return nil
}

// watch 监听连接和 Channel 关闭事件，非主动关闭时重连
func (mq *RabbitMQ) watch() {
	for {
		mq.mu.RLock()
		if mq.closed {
			mq.mu.RUnlock()
			return
		}
		connNotify, channelNotify := mq.connNotify, mq.channelNotify
		mq.mu.RUnlock()

		var err *amqp.Error
		select {
		case err = <-connNotify:
		case err = <-channelNotify:
		}

		mq.mu.RLock()
		closed := mq.closed
		mq.mu.RUnlock()
		if closed {
			mq.logger.Debug("Connection watcher stopped: RabbitMQ client closed")
			return
		}

		if err != nil {
			mq.logger.WithError(err).Error("RabbitMQ connection closed unexpectedly")
		} else {
			mq.logger.Warn("RabbitMQ connection closed")
		}

		if rerr := mq.reconnect(); rerr != nil {
			mq.logger.WithError(rerr).Error("Giving up on RabbitMQ, session events will not be published")
			return
		}
	}
}

// reconnect 关闭旧连接后按重试策略重新连接
func (mq *RabbitMQ) reconnect() error {
	mq.closeConnections()

	rc := retry.DefaultConfig("amqp_reconnect", mq.logger)
	rc.MaxAttempts = 10
	rc.Strategy = retry.StrategyLinear
	rc.InitialInterval = time.Second
	rc.MaxInterval = 10 * time.Second
	rc.Timeout = 0

	return retry.Do(context.Background(), rc, func(ctx context.Context) error {
		mq.mu.RLock()
		closed := mq.closed
		mq.mu.RUnlock()
		if closed {
			return retry.Permanent(fmt.Errorf("client closed"))
		}
		return mq.connect()
	})
}

// closeConnections 关闭现有连接（不设置 closed 标志）
func (mq *RabbitMQ) closeConnections() {
	mq.mu.Lock()
	defer mq.mu.Unlock()

	if mq.channel != nil {
		mq.channel.Close()
		mq.channel = nil
	}
	if mq.conn != nil {
		mq.conn.Close()
		mq.conn = nil
	}
}

// Publish 以 routingKey 发布 JSON 消息
func (mq *RabbitMQ) Publish(ctx context.Context, routingKey string, body []byte) error {
	mq.mu.RLock()
	ch := mq.channel
	mq.mu.RUnlock()

	if ch == nil {
		return fmt.Errorf("channel is nil")
	}

	return ch.PublishWithContext(
		ctx,
		mq.config.Exchange, // exchange
		routingKey,         // routing key
		false,              // mandatory
		false,              // immediate
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			ContentType:  "application/json",
			Body:         body,
			Timestamp:    time.Now(),
		},
	)
}

// IsConnected 检查连接状态
func (mq *RabbitMQ) IsConnected() bool {
	mq.mu.RLock()
	defer mq.mu.RUnlock()
	return mq.conn != nil && !mq.conn.IsClosed()
}

// Close 关闭连接
func (mq *RabbitMQ) Close() error {
	mq.mu.Lock()
	mq.closed = true
	mq.mu.Unlock()

	mq.closeConnections()
	mq.logger.Info("RabbitMQ connection closed")
	return nil
}
