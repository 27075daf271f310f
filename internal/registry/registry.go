// Package registry 维护 instanceId 到会话的映射，并限制同时存在的会话数
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/jadx-daemon/jadx-daemon-go/internal/events"
	"github.com/jadx-daemon/jadx-daemon-go/internal/session"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// DefaultCapacity 默认最大会话数
const DefaultCapacity = 1

var (
	// ErrInstanceNotFound 注册表中没有该 instanceId
	ErrInstanceNotFound = errors.New("instance not found")
	// ErrInvalidCapacity 容量必须为正整数
	ErrInvalidCapacity = errors.New("max instance count must be a positive integer")
)

// CapacityError 注册表已满
type CapacityError struct {
	Capacity int
}

func (e *CapacityError) Error() string {
	return "Max instance count reached, please use unload one instance " +
		"or use `update_max_instance_count` to update max instance count."
}

// NotFoundError 携带 instanceId 的不存在错误
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return "Cannot find instance by provided instance id: " + e.ID
}

func (e *NotFoundError) Unwrap() error {
	return ErrInstanceNotFound
}

// Factory 创建未绑定的会话
type Factory func(id string) *session.Session

// BindFunc 对新会话执行绑定，失败只记录在会话上
type BindFunc func(ctx context.Context, s *session.Session) error

// entry 映射中的一项；ready 在绑定完成前保持打开
type entry struct {
	sess  *session.Session
	ready chan struct{}
	// aborted 在 ready 关闭前写入，表示绑定中途 panic，占位已撤销
	aborted bool
}

func (e *entry) pending() bool {
	select {
	case <-e.ready:
		return false
	default:
		return true
	}
}

// Registry 会话注册表
type Registry struct {
	mu       sync.Mutex
	entries  map[string]*entry
	capacity int

	newSession Factory
	notifier   events.Notifier
	logger     *logrus.Logger
}

// Option 注册表选项
type Option func(*Registry)

// WithCapacity 设置初始容量，非正数忽略
func WithCapacity(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.capacity = n
		}
	}
}

// WithNotifier 设置事件接收方
func WithNotifier(n events.Notifier) Option {
	return func(r *Registry) {
		if n != nil {
			r.notifier = n
		}
	}
}

// New 创建注册表
func New(factory Factory, logger *logrus.Logger, opts ...Option) *Registry {
	r := &Registry{
		entries:    make(map[string]*entry),
		capacity:   DefaultCapacity,
		newSession: factory,
		notifier:   events.Nop{},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Create 创建并绑定会话
//
// id 已存在时直接返回已有会话（如果另一个请求正在绑定同一个 id，则等待它完成）。
// 容量检查和占位在同一个临界区内完成，绑定在锁外执行。
// 绑定失败的会话仍然插入注册表，之后的查询返回空结果。
func (r *Registry) Create(ctx context.Context, id string, bind BindFunc) (*session.Session, error) {
	r.mu.Lock()
	if e, ok := r.entries[id]; ok {
		r.mu.Unlock()
		return r.wait(ctx, id, e)
	}

	if len(r.entries) >= r.capacity {
		size, capacity := len(r.entries), r.capacity
		r.mu.Unlock()

		r.logger.WithFields(logrus.Fields{
			"instance_id": id,
			"capacity":    capacity,
		}).Warn("Session rejected: max instance count reached")
		r.notifier.Notify(events.Event{
			Type:       events.TypeRejected,
			InstanceID: id,
			Size:       size,
			Capacity:   capacity,
		})
		return nil, &CapacityError{Capacity: capacity}
	}

	e := &entry{sess: r.newSession(id), ready: make(chan struct{})}
	r.entries[id] = e
	r.mu.Unlock()

	bindErr := r.runBind(ctx, id, e, bind)

	r.mu.Lock()
	size, capacity := len(r.entries), r.capacity
	r.mu.Unlock()

	ev := events.Event{
		Type:       events.TypeCreated,
		InstanceID: id,
		Inputs:     e.sess.Info().Inputs,
		Size:       size,
		Capacity:   capacity,
	}
	if bindErr != nil {
		ev.Type = events.TypeBindFailed
		ev.Error = bindErr.Error()
	}
	r.notifier.Notify(ev)

	r.logger.WithFields(logrus.Fields{
		"instance_id": id,
		"state":       e.sess.State().String(),
		"sessions":    size,
	}).Info("Session created")
	return e.sess, nil
}

// runBind 执行绑定并关闭 ready
//
// bind panic 时撤销占位、关闭会话，再把 panic 继续抛给调用方。
func (r *Registry) runBind(ctx context.Context, id string, e *entry, bind BindFunc) error {
	defer func() {
		p := recover()
		if p == nil {
			return
		}
		r.mu.Lock()
		if r.entries[id] == e {
			delete(r.entries, id)
		}
		r.mu.Unlock()

		e.aborted = true
		close(e.ready)
		_ = e.sess.Close()
		r.logger.WithFields(logrus.Fields{
			"instance_id": id,
			"panic":       p,
		}).Error("Session bind panicked, slot released")
		panic(p)
	}()

	err := bind(ctx, e.sess)
	close(e.ready)
	return err
}

// wait 等待正在进行的绑定完成
func (r *Registry) wait(ctx context.Context, id string, e *entry) (*session.Session, error) {
	select {
	case <-e.ready:
		if e.aborted {
			return nil, &NotFoundError{ID: id}
		}
		return e.sess, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Get 查找会话
func (r *Registry) Get(ctx context.Context, id string) (*session.Session, error) {
	r.mu.Lock()
	e, ok := r.entries[id]
	r.mu.Unlock()

	if !ok {
		return nil, &NotFoundError{ID: id}
	}
	return r.wait(ctx, id, e)
}

// Remove 先从映射中移除，再关闭会话
func (r *Registry) Remove(ctx context.Context, id string) error {
	for {
		r.mu.Lock()
		e, ok := r.entries[id]
		if !ok {
			r.mu.Unlock()
			return &NotFoundError{ID: id}
		}
		if !e.pending() {
			delete(r.entries, id)
			size, capacity := len(r.entries), r.capacity
			r.mu.Unlock()

			err := e.sess.Close()
			r.notifier.Notify(events.Event{
				Type:       events.TypeRemoved,
				InstanceID: id,
				Size:       size,
				Capacity:   capacity,
			})
			r.logger.WithFields(logrus.Fields{
				"instance_id": id,
				"sessions":    size,
			}).Info("Session removed")
			return err
		}
		r.mu.Unlock()

		// 正在绑定，等它完成后再移除
		select {
		case <-e.ready:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RemoveAll 移除并关闭所有已就绪的会话，返回移除的数量
//
// 正在绑定中的会话不受影响。
func (r *Registry) RemoveAll(ctx context.Context) int {
	r.mu.Lock()
	removed := make(map[string]*session.Session, len(r.entries))
	for id, e := range r.entries {
		if e.pending() {
			continue
		}
		removed[id] = e.sess
		delete(r.entries, id)
	}
	size, capacity := len(r.entries), r.capacity
	r.mu.Unlock()

	g, _ := errgroup.WithContext(ctx)
	for id, s := range removed {
		id, s := id, s
		g.Go(func() error {
			if err := s.Close(); err != nil {
				r.logger.WithError(err).WithField("instance_id", id).Warn("Failed to close session")
			}
			r.notifier.Notify(events.Event{
				Type:       events.TypeRemoved,
				InstanceID: id,
				Size:       size,
				Capacity:   capacity,
			})
			return nil
		})
	}
	_ = g.Wait()

	r.logger.WithField("count", len(removed)).Info("All sessions removed")
	return len(removed)
}

// SetCapacity 修改最大会话数，不会淘汰已有会话
func (r *Registry) SetCapacity(n int) error {
	if n < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidCapacity, n)
	}

	r.mu.Lock()
	old := r.capacity
	r.capacity = n
	size := len(r.entries)
	r.mu.Unlock()

	r.notifier.Notify(events.Event{
		Type:     events.TypeCapacityChanged,
		Size:     size,
		Capacity: n,
	})
	r.logger.WithFields(logrus.Fields{
		"old": old,
		"new": n,
	}).Info("Max instance count updated")
	return nil
}

// Capacity 当前容量
func (r *Registry) Capacity() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.capacity
}

// Len 当前会话数（包括正在绑定的）
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// List 返回已就绪会话的快照，按 id 排序
func (r *Registry) List() []session.Info {
	r.mu.Lock()
	sessions := make([]*session.Session, 0, len(r.entries))
	for _, e := range r.entries {
		if !e.pending() {
			sessions = append(sessions, e.sess)
		}
	}
	r.mu.Unlock()

	infos := make([]session.Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}
