// Package bridge 通过外部工作进程实现 engine.Engine
//
// 每个句柄对应一个常驻的工作进程（例如包装 jadx 的 JVM 程序），
// 守护进程通过 stdin/stdout 以 JSON 行协议与之通信。
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jadx-daemon/jadx-daemon-go/internal/engine"
	"github.com/jadx-daemon/jadx-daemon-go/internal/retry"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/sirupsen/logrus"
)

// Config 工作进程配置
type Config struct {
	Command      string
	Args         []string
	Env          []string      // 追加到当前进程环境变量之后
	StartTimeout time.Duration // 等待工作进程就绪（ping）的总时长
	LoadTimeout  time.Duration // open 请求超时，加载大 APK 可能很慢
	CallTimeout  time.Duration // 普通查询超时
	StopGrace    time.Duration // 关闭时等待进程退出的时间
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.StartTimeout <= 0 {
		out.StartTimeout = 30 * time.Second
	}
	if out.LoadTimeout <= 0 {
		out.LoadTimeout = 10 * time.Minute
	}
	if out.CallTimeout <= 0 {
		out.CallTimeout = 2 * time.Minute
	}
	if out.StopGrace <= 0 {
		out.StopGrace = 5 * time.Second
	}
	return &out
}

// Engine 基于工作进程的引擎
type Engine struct {
	cfg    *Config
	logger *logrus.Logger
}

// New 创建引擎
func New(cfg Config, logger *logrus.Logger) *Engine {
	return &Engine{cfg: cfg.withDefaults(), logger: logger}
}

// Open 启动工作进程，等待就绪后加载输入文件
func (e *Engine) Open(ctx context.Context, inputs []string) (engine.Handle, error) {
	if e.cfg.Command == "" {
		return nil, fmt.Errorf("engine command is not configured")
	}

	w, err := startWorker(e.cfg, e.logger)
	if err != nil {
		return nil, err
	}

	if err := e.waitReady(ctx, w); err != nil {
		w.stop(e.cfg.StopGrace)
		return nil, fmt.Errorf("engine worker not ready: %w", err)
	}

	start := time.Now()
	if _, err := w.call(ctx, &request{Op: opOpen, Inputs: inputs}, e.cfg.LoadTimeout); err != nil {
		w.stop(e.cfg.StopGrace)
		return nil, fmt.Errorf("engine failed to load inputs: %w", err)
	}

	w.logger.WithFields(logrus.Fields{
		"inputs":      len(inputs),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Info("Engine inputs loaded")

	return &handle{worker: w, cfg: e.cfg}, nil
}

// waitReady 用 ping 探测工作进程是否就绪
func (e *Engine) waitReady(ctx context.Context, w *worker) error {
	rc := retry.DefaultConfig("engine_ping", e.logger)
	rc.Timeout = e.cfg.StartTimeout
	rc.MaxAttempts = 10

	return retry.Do(ctx, rc, func(ctx context.Context) error {
		if w.exited() {
			return retry.Permanent(errWorkerExited)
		}
		_, err := w.call(ctx, &request{Op: opPing}, 2*time.Second)
		if err == errWorkerExited {
			return retry.Permanent(err)
		}
		return err
	})
}

// handle 工作进程句柄
type handle struct {
	worker    *worker
	cfg       *Config
	closeOnce sync.Once
}

var (
	_ engine.Handle        = (*handle)(nil)
	_ engine.StatsReporter = (*handle)(nil)
)

// invoke 发送请求并把结果解码到 T
func invoke[T any](ctx context.Context, h *handle, req *request) (T, error) {
	var out T
	raw, err := h.worker.call(ctx, req, h.cfg.CallTimeout)
	if err != nil {
		return out, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("engine %s returned malformed result: %w", req.Op, err)
	}
	return out, nil
}

func (h *handle) Manifest(ctx context.Context) (string, error) {
	return invoke[string](ctx, h, &request{Op: opManifest})
}

func (h *handle) ClassNames(ctx context.Context) ([]string, error) {
	return invoke[[]string](ctx, h, &request{Op: opClasses})
}

func (h *handle) ClassCode(ctx context.Context, class string) (string, error) {
	return invoke[string](ctx, h, &request{Op: opClassCode, Class: class})
}

func (h *handle) ClassSmali(ctx context.Context, class string) (string, error) {
	return invoke[string](ctx, h, &request{Op: opClassSmali, Class: class})
}

func (h *handle) SuperClass(ctx context.Context, class string) (string, error) {
	return invoke[string](ctx, h, &request{Op: opSuperClass, Class: class})
}

func (h *handle) Interfaces(ctx context.Context, class string) ([]string, error) {
	return invoke[[]string](ctx, h, &request{Op: opInterfaces, Class: class})
}

func (h *handle) Methods(ctx context.Context, class string) ([]string, error) {
	return invoke[[]string](ctx, h, &request{Op: opMethods, Class: class})
}

func (h *handle) Fields(ctx context.Context, class string) ([]string, error) {
	return invoke[[]string](ctx, h, &request{Op: opFields, Class: class})
}

func (h *handle) MethodCode(ctx context.Context, class, method string) (string, error) {
	return invoke[string](ctx, h, &request{Op: opMethodCode, Class: class, Method: method})
}

func (h *handle) ClassUsages(ctx context.Context, class string) ([]string, error) {
	return invoke[[]string](ctx, h, &request{Op: opClassUsages, Class: class})
}

func (h *handle) MethodUsages(ctx context.Context, class, method string) ([]string, error) {
	return invoke[[]string](ctx, h, &request{Op: opMethodUsages, Class: class, Method: method})
}

func (h *handle) MethodOverrides(ctx context.Context, class, method string) ([]string, error) {
	return invoke[[]string](ctx, h, &request{Op: opMethodOverrides, Class: class, Method: method})
}

// Close 结束工作进程，重复调用是安全的
func (h *handle) Close() error {
	h.closeOnce.Do(func() {
		h.worker.stop(h.cfg.StopGrace)
	})
	return nil
}

// Stats 读取工作进程的内存和 CPU 占用
func (h *handle) Stats() (*engine.ProcessStats, error) {
	if h.worker.exited() {
		return nil, errWorkerExited
	}

	pid := int32(h.worker.cmd.Process.Pid)
	proc, err := process.NewProcess(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect engine worker %d: %w", pid, err)
	}

	stats := &engine.ProcessStats{PID: pid}
	if mem, err := proc.MemoryInfo(); err == nil {
		stats.RSSBytes = mem.RSS
	}
	if cpu, err := proc.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	return stats, nil
}
