package watcher

import (
	"context"
	"errors"
	"path/filepath"
	"strings"

	"github.com/jadx-daemon/jadx-daemon-go/internal/registry"
	"github.com/jadx-daemon/jadx-daemon-go/internal/session"
	"github.com/sirupsen/logrus"
)

// InstanceID 自动加载的会话 id：去掉扩展名的文件名
func InstanceID(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// AutoLoader 把监控目录中出现的安装包加载为会话，文件删除时卸载
type AutoLoader struct {
	reg    *registry.Registry
	logger *logrus.Logger
}

// NewAutoLoader 创建自动加载器
func NewAutoLoader(reg *registry.Registry, logger *logrus.Logger) *AutoLoader {
	return &AutoLoader{reg: reg, logger: logger}
}

// Handlers 返回给 FileWatcher 使用的回调
func (a *AutoLoader) Handlers() Handlers {
	return Handlers{
		OnReady:   a.Load,
		OnRemoved: a.Unload,
	}
}

// Load 为文件创建会话，容量已满只记录日志
func (a *AutoLoader) Load(ctx context.Context, path string) error {
	id := InstanceID(path)

	s, err := a.reg.Create(ctx, id, func(ctx context.Context, s *session.Session) error {
		return s.Bind(ctx, path)
	})

	var capErr *registry.CapacityError
	if errors.As(err, &capErr) {
		a.logger.WithFields(logrus.Fields{
			"instance_id": id,
			"file":        path,
			"capacity":    capErr.Capacity,
		}).Warn("Auto-load skipped: max instance count reached")
		return nil
	}
	if err != nil {
		return err
	}

	a.logger.WithFields(logrus.Fields{
		"instance_id": id,
		"state":       s.State().String(),
	}).Info("Auto-loaded session")
	return nil
}

// Unload 卸载文件对应的会话
func (a *AutoLoader) Unload(ctx context.Context, path string) error {
	id := InstanceID(path)
	if err := a.reg.Remove(ctx, id); err != nil {
		return err
	}
	a.logger.WithField("instance_id", id).Info("Auto-unloaded session")
	return nil
}
