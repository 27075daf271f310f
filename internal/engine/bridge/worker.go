package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jadx-daemon/jadx-daemon-go/internal/engine"
	"github.com/sirupsen/logrus"
)

// errWorkerExited 工作进程已退出
var errWorkerExited = errors.New("engine worker exited")

// worker 单个常驻的引擎工作进程
type worker struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	stderr *io.PipeWriter
	logger *logrus.Entry

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan *response

	done    chan struct{} // 进程退出后关闭
	exitErr error
}

// startWorker 启动工作进程并开始读取响应
func startWorker(cfg *Config, logger *logrus.Logger) (*worker, error) {
	cmd := exec.Command(cfg.Command, cfg.Args...)
	cmd.Env = append(os.Environ(), cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	// stderr 直接转发到 debug 日志
	stderr := logger.WithField("component", "engine_worker").WriterLevel(logrus.DebugLevel)
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		stderr.Close()
		return nil, fmt.Errorf("failed to start engine worker %s: %w", cfg.Command, err)
	}

	w := &worker{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  bufio.NewReaderSize(stdout, 64*1024),
		stderr:  stderr,
		logger:  logger.WithField("engine_pid", cmd.Process.Pid),
		pending: make(map[string]chan *response),
		done:    make(chan struct{}),
	}

	go w.readLoop()

	w.logger.Info("Engine worker process started")
	return w, nil
}

// readLoop 读取响应并分发给等待中的调用，进程退出后回收
func (w *worker) readLoop() {
	for {
		line, err := w.stdout.ReadBytes('\n')
		if len(line) > 0 {
			w.dispatch(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				w.logger.WithError(err).Warn("Failed to read from engine worker")
			}
			break
		}
	}

	// 所有读取完成后才能 Wait
	w.exitErr = w.cmd.Wait()
	w.stderr.Close()
	close(w.done)

	w.logger.WithField("exit", fmt.Sprint(w.exitErr)).Info("Engine worker process exited")
}

func (w *worker) dispatch(line []byte) {
	var resp response
	if err := json.Unmarshal(line, &resp); err != nil {
		w.logger.WithError(err).Warn("Malformed response from engine worker")
		return
	}

	w.pendingMu.Lock()
	ch, ok := w.pending[resp.ID]
	delete(w.pending, resp.ID)
	w.pendingMu.Unlock()

	if !ok {
		w.logger.WithField("request_id", resp.ID).Debug("Dropping late engine response")
		return
	}
	ch <- &resp
}

// call 发送请求并等待响应，timeout 为 0 时只受 ctx 约束
func (w *worker) call(ctx context.Context, req *request, timeout time.Duration) (json.RawMessage, error) {
	req.ID = uuid.NewString()

	ch := make(chan *response, 1)
	w.pendingMu.Lock()
	w.pending[req.ID] = ch
	w.pendingMu.Unlock()

	defer func() {
		w.pendingMu.Lock()
		delete(w.pending, req.ID)
		w.pendingMu.Unlock()
	}()

	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal engine request: %w", err)
	}

	w.writeMu.Lock()
	_, err = w.stdin.Write(append(payload, '\n'))
	w.writeMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to write engine request: %w", err)
	}

	var timeoutC <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutC = timer.C
	}

	select {
	case resp := <-ch:
		if resp.NotFound {
			return nil, fmt.Errorf("%s %s: %w", req.Op, req.target(), engine.ErrNotFound)
		}
		if resp.Error != "" {
			return nil, &RemoteError{Op: req.Op, Message: resp.Error}
		}
		return resp.Result, nil
	case <-w.done:
		return nil, errWorkerExited
	case <-timeoutC:
		w.logger.WithFields(logrus.Fields{
			"op":      req.Op,
			"timeout": timeout,
		}).Warn("Engine request timeout")
		return nil, fmt.Errorf("engine %s timeout (%s)", req.Op, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// exited 进程是否已退出
func (w *worker) exited() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// stop 请求工作进程退出，超时后强制结束
func (w *worker) stop(grace time.Duration) {
	if !w.exited() {
		ctx, cancel := context.WithTimeout(context.Background(), grace)
		if _, err := w.call(ctx, &request{Op: opClose}, 0); err != nil {
			w.logger.WithError(err).Debug("Engine close request failed")
		}
		cancel()
	}
	w.stdin.Close()

	select {
	case <-w.done:
	case <-time.After(grace):
		w.logger.Warn("Engine worker did not exit in time, killing")
		if err := w.cmd.Process.Kill(); err != nil {
			w.logger.WithError(err).Warn("Failed to kill engine worker")
		}
		<-w.done
	}
}
