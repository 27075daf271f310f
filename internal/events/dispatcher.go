package events

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultBuffer 默认事件队列长度
const DefaultBuffer = 256

// Dispatcher 事件分发器
//
// 单个后台协程按顺序把事件交给每个 Sink；队列满时丢弃事件并告警，
// 注册表的调用路径永远不会因为下游变慢而阻塞。
type Dispatcher struct {
	sinks       []Sink
	eventChan   chan Event
	sinkTimeout time.Duration
	logger      *logrus.Logger

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
	dropped atomic.Uint64
}

// NewDispatcher 创建分发器
func NewDispatcher(buffer int, logger *logrus.Logger, sinks ...Sink) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Dispatcher{
		sinks:       sinks,
		eventChan:   make(chan Event, buffer),
		sinkTimeout: 5 * time.Second,
		logger:      logger,
	}
}

// AddSink 追加下游，必须在 Start 之前调用
func (d *Dispatcher) AddSink(s Sink) {
	d.sinks = append(d.sinks, s)
}

// Start 启动分发协程
func (d *Dispatcher) Start(ctx context.Context) {
	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	d.logger.WithField("sinks", names).Info("Starting event dispatcher")

	d.wg.Add(1)
	go d.run(ctx)
}

func (d *Dispatcher) run(ctx context.Context) {
	defer d.wg.Done()

	for {
		select {
		case <-ctx.Done():
			d.drain()
			d.logger.Info("Event dispatcher shutting down")
			return
		case e, ok := <-d.eventChan:
			if !ok {
				d.logger.Info("Event channel closed, dispatcher exiting")
				return
			}
			d.deliver(e)
		}
	}
}

// drain 退出前尽量投递队列中剩余的事件
func (d *Dispatcher) drain() {
	for {
		select {
		case e, ok := <-d.eventChan:
			if !ok {
				return
			}
			d.deliver(e)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(e Event) {
	for _, s := range d.sinks {
		ctx, cancel := context.WithTimeout(context.Background(), d.sinkTimeout)
		err := s.Handle(ctx, e)
		cancel()

		if err != nil {
			d.logger.WithError(err).WithFields(logrus.Fields{
				"sink":        s.Name(),
				"event":       e.Type,
				"instance_id": e.InstanceID,
			}).Warn("Event sink failed")
		}
	}
}

// Notify 实现 Notifier，非阻塞
func (d *Dispatcher) Notify(e Event) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.stopped {
		return
	}

	select {
	case d.eventChan <- e:
	default:
		d.dropped.Add(1)
		d.logger.WithFields(logrus.Fields{
			"event":       e.Type,
			"instance_id": e.InstanceID,
		}).Warn("Event queue is full, dropping event")
	}
}

// Stop 停止接收事件，等待已入队事件投递完成
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return
	}
	d.stopped = true
	close(d.eventChan)
	d.mu.Unlock()

	d.wg.Wait()
	d.logger.Info("Event dispatcher stopped")
}

// Dropped 因队列满被丢弃的事件数
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// QueueSize 当前排队的事件数
func (d *Dispatcher) QueueSize() int {
	return len(d.eventChan)
}
