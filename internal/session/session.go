// Package session 实现单个分析会话：持有一个引擎句柄并提供固定的查询接口
package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jadx-daemon/jadx-daemon-go/internal/engine"
	"github.com/sirupsen/logrus"
)

// ObjectClass 引擎报告没有父类时使用的父类
const ObjectClass = "java.lang.Object"

// State 会话状态
type State int32

const (
	StateUnbound State = iota
	StateBound
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateBound:
		return "bound"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Info 会话快照，用于列表接口
type Info struct {
	ID        string               `json:"instance_id"`
	State     string               `json:"state"`
	Inputs    []string             `json:"inputs"`
	BindError string               `json:"bind_error,omitempty"`
	CreatedAt time.Time            `json:"created_at"`
	LastUsed  time.Time            `json:"last_used"`
	Engine    *engine.ProcessStats `json:"engine,omitempty"`
}

// Session 一个分析上下文
//
// mu 串行化对引擎句柄的所有访问；meta 保护绑定信息，
// 使 Info 在长时间查询进行中也不会阻塞。
type Session struct {
	id        string
	engine    engine.Engine
	filter    *engine.InputFilter
	logger    *logrus.Entry
	createdAt time.Time

	mu         sync.Mutex
	handle     engine.Handle
	classIndex map[string]struct{}

	meta    sync.RWMutex
	inputs  []string
	bindErr error

	state    atomic.Int32
	closed   atomic.Bool
	lastUsed atomic.Int64
}

// New 创建未绑定的会话
func New(id string, eng engine.Engine, filter *engine.InputFilter, logger *logrus.Logger) *Session {
	if filter == nil {
		filter = engine.NewInputFilter(nil)
	}
	now := time.Now()
	s := &Session{
		id:        id,
		engine:    eng,
		filter:    filter,
		logger:    logger.WithField("instance_id", id),
		createdAt: now,
	}
	s.lastUsed.Store(now.UnixNano())
	return s
}

// ID 会话标识
func (s *Session) ID() string {
	return s.id
}

// State 当前状态
func (s *Session) State() State {
	return State(s.state.Load())
}

// BindError 绑定失败原因，未失败时为 nil
func (s *Session) BindError() error {
	s.meta.RLock()
	defer s.meta.RUnlock()
	return s.bindErr
}

// Bind 绑定单个安装包文件
func (s *Session) Bind(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	switch {
	case err != nil:
		return s.fail(&ResourceError{Path: path, Reason: "file does not exist", Err: err})
	case !info.Mode().IsRegular():
		return s.fail(&ResourceError{Path: path, Reason: "not a regular file"})
	case !s.filter.Supported(path):
		return s.fail(&ResourceError{Path: path, Reason: "unsupported file type"})
	}

	return s.open(ctx, path, []string{path})
}

// BindDirectory 把目录下（不递归）所有支持的文件作为一个多文件输入绑定
func (s *Session) BindDirectory(ctx context.Context, dir string) error {
	info, err := os.Stat(dir)
	switch {
	case err != nil:
		return s.fail(&ResourceError{Path: dir, Reason: "directory does not exist", Err: err})
	case !info.IsDir():
		return s.fail(&ResourceError{Path: dir, Reason: "not a directory"})
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return s.fail(&ResourceError{Path: dir, Reason: "cannot list directory", Err: err})
	}

	inputs := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !s.filter.Supported(entry.Name()) {
			continue
		}
		inputs = append(inputs, filepath.Join(dir, entry.Name()))
	}
	if len(inputs) == 0 {
		return s.fail(&ResourceError{Path: dir, Reason: "no supported files in directory"})
	}

	return s.open(ctx, dir, inputs)
}

func (s *Session) open(ctx context.Context, path string, inputs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ErrClosed
	}
	if s.handle != nil {
		return ErrAlreadyBound
	}

	start := time.Now()
	h, err := s.engine.Open(ctx, inputs)
	if err != nil {
		return s.fail(&ResourceError{Path: path, Reason: "engine failed to load input", Err: err})
	}

	s.handle = h
	s.meta.Lock()
	s.inputs = inputs
	s.bindErr = nil
	s.meta.Unlock()
	s.state.Store(int32(StateBound))

	s.logger.WithFields(logrus.Fields{
		"path":        path,
		"inputs":      len(inputs),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Session bound")
	return nil
}

func (s *Session) fail(err *ResourceError) error {
	s.meta.Lock()
	s.bindErr = err
	s.meta.Unlock()

	s.logger.WithError(err).Warn("Session bind failed")
	return err
}

// Close 释放引擎句柄，只执行一次
func (s *Session) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Store(int32(StateClosed))
	h := s.handle
	s.handle = nil
	s.classIndex = nil
	if h == nil {
		s.logger.Debug("Session closed (unbound)")
		return nil
	}

	if err := h.Close(); err != nil {
		s.logger.WithError(err).Warn("Failed to close engine handle")
		return fmt.Errorf("close session %s: %w", s.id, err)
	}
	s.logger.Info("Session closed")
	return nil
}

// Info 返回会话快照
func (s *Session) Info() Info {
	s.meta.RLock()
	info := Info{
		ID:        s.id,
		State:     s.State().String(),
		Inputs:    append([]string{}, s.inputs...),
		CreatedAt: s.createdAt,
		LastUsed:  time.Unix(0, s.lastUsed.Load()),
	}
	if s.bindErr != nil {
		info.BindError = s.bindErr.Error()
	}
	s.meta.RUnlock()

	if s.State() == StateBound && s.mu.TryLock() {
		if reporter, ok := s.handle.(engine.StatsReporter); ok {
			if stats, err := reporter.Stats(); err == nil {
				info.Engine = stats
			}
		}
		s.mu.Unlock()
	}
	return info
}

// with 在持有会话锁的情况下访问句柄
func (s *Session) with(fn func(h engine.Handle) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed.Load() {
		return ErrClosed
	}
	if s.handle == nil {
		if bindErr := s.BindError(); bindErr != nil {
			return fmt.Errorf("%w: %v", ErrNotBound, bindErr)
		}
		return ErrNotBound
	}

	s.lastUsed.Store(time.Now().UnixNano())
	return fn(s.handle)
}

// hasClass 在类枚举中精确匹配，枚举结果在首次使用时缓存
func (s *Session) hasClass(ctx context.Context, h engine.Handle, class string) (bool, error) {
	if s.classIndex == nil {
		names, err := h.ClassNames(ctx)
		if err != nil {
			return false, err
		}
		index := make(map[string]struct{}, len(names))
		for _, name := range names {
			index[name] = struct{}{}
		}
		s.classIndex = index
	}
	_, ok := s.classIndex[class]
	return ok, nil
}

func (s *Session) requireClass(ctx context.Context, h engine.Handle, class string) error {
	ok, err := s.hasClass(ctx, h, class)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrClassNotFound, class)
	}
	return nil
}

func (s *Session) requireMethod(ctx context.Context, h engine.Handle, class, method string) error {
	if err := s.requireClass(ctx, h, class); err != nil {
		return err
	}
	methods, err := h.Methods(ctx, class)
	if err != nil {
		return classErr(err, class)
	}
	for _, m := range methods {
		if m == method {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrMethodNotFound, method)
}

// classErr 把引擎的 ErrNotFound 转为类不存在
func classErr(err error, class string) error {
	if errors.Is(err, engine.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrClassNotFound, class)
	}
	return err
}

func methodErr(err error, method string) error {
	if errors.Is(err, engine.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrMethodNotFound, method)
	}
	return err
}

// classQuery 类级查询的公共流程
func classQuery[T any](ctx context.Context, s *Session, class string, fn func(h engine.Handle) (T, error)) (T, error) {
	var out T
	err := s.with(func(h engine.Handle) error {
		if err := s.requireClass(ctx, h, class); err != nil {
			return err
		}
		v, err := fn(h)
		if err != nil {
			return classErr(err, class)
		}
		out = v
		return nil
	})
	return out, err
}

// methodQuery 方法级查询的公共流程
func methodQuery[T any](ctx context.Context, s *Session, class, method string, fn func(h engine.Handle) (T, error)) (T, error) {
	var out T
	err := s.with(func(h engine.Handle) error {
		if err := s.requireMethod(ctx, h, class, method); err != nil {
			return err
		}
		v, err := fn(h)
		if err != nil {
			return methodErr(err, method)
		}
		out = v
		return nil
	})
	return out, err
}

// Manifest 返回 AndroidManifest.xml 文本
func (s *Session) Manifest(ctx context.Context) (string, error) {
	var text string
	err := s.with(func(h engine.Handle) error {
		m, err := h.Manifest(ctx)
		if errors.Is(err, engine.ErrNotFound) || (err == nil && m == "") {
			return ErrManifestNotFound
		}
		if err != nil {
			return err
		}
		text = m
		return nil
	})
	return text, err
}

// ExportedComponents 列出清单中导出的组件
func (s *Session) ExportedComponents(ctx context.Context, kind ComponentKind) ([]string, error) {
	manifest, err := s.Manifest(ctx)
	if err != nil {
		return nil, err
	}
	names, err := parseExported(manifest, kind)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifestNotFound, err)
	}
	return names, nil
}

func (s *Session) ClassSource(ctx context.Context, class string) (string, error) {
	return classQuery(ctx, s, class, func(h engine.Handle) (string, error) {
		return h.ClassCode(ctx, class)
	})
}

func (s *Session) ClassSmali(ctx context.Context, class string) (string, error) {
	return classQuery(ctx, s, class, func(h engine.Handle) (string, error) {
		return h.ClassSmali(ctx, class)
	})
}

// SuperClass 没有父类的类返回 java.lang.Object
func (s *Session) SuperClass(ctx context.Context, class string) (string, error) {
	return classQuery(ctx, s, class, func(h engine.Handle) (string, error) {
		super, err := h.SuperClass(ctx, class)
		if err != nil {
			return "", err
		}
		if super == "" {
			return ObjectClass, nil
		}
		return super, nil
	})
}

func (s *Session) Interfaces(ctx context.Context, class string) ([]string, error) {
	return classQuery(ctx, s, class, func(h engine.Handle) ([]string, error) {
		return nonNil(h.Interfaces(ctx, class))
	})
}

func (s *Session) Methods(ctx context.Context, class string) ([]string, error) {
	return classQuery(ctx, s, class, func(h engine.Handle) ([]string, error) {
		return nonNil(h.Methods(ctx, class))
	})
}

func (s *Session) Fields(ctx context.Context, class string) ([]string, error) {
	return classQuery(ctx, s, class, func(h engine.Handle) ([]string, error) {
		return nonNil(h.Fields(ctx, class))
	})
}

func (s *Session) ClassCallers(ctx context.Context, class string) ([]string, error) {
	return classQuery(ctx, s, class, func(h engine.Handle) ([]string, error) {
		return nonNil(h.ClassUsages(ctx, class))
	})
}

func (s *Session) MethodSource(ctx context.Context, class, method string) (string, error) {
	return methodQuery(ctx, s, class, method, func(h engine.Handle) (string, error) {
		return h.MethodCode(ctx, class, method)
	})
}

func (s *Session) MethodCallers(ctx context.Context, class, method string) ([]string, error) {
	return methodQuery(ctx, s, class, method, func(h engine.Handle) ([]string, error) {
		return nonNil(h.MethodUsages(ctx, class, method))
	})
}

func (s *Session) MethodOverrides(ctx context.Context, class, method string) ([]string, error) {
	return methodQuery(ctx, s, class, method, func(h engine.Handle) ([]string, error) {
		return nonNil(h.MethodOverrides(ctx, class, method))
	})
}

// nonNil 保证列表结果序列化为 [] 而不是 null
func nonNil(list []string, err error) ([]string, error) {
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = []string{}
	}
	return list, nil
}
