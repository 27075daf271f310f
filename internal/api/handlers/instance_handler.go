package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jadx-daemon/jadx-daemon-go/internal/registry"
	"github.com/jadx-daemon/jadx-daemon-go/internal/session"
	"github.com/sirupsen/logrus"
)

// InstanceHandler 会话生命周期与管理接口
type InstanceHandler struct {
	reg    *registry.Registry
	addr   string
	logger *logrus.Logger
}

// NewInstanceHandler 创建实例处理器，addr 为 /health 返回的服务地址
func NewInstanceHandler(reg *registry.Registry, addr string, logger *logrus.Logger) *InstanceHandler {
	return &InstanceHandler{
		reg:    reg,
		addr:   addr,
		logger: logger,
	}
}

type loadParams struct {
	InstanceID string `form:"instanceId" binding:"required"`
	FilePath   string `form:"filePath" binding:"required"`
}

type loadDirParams struct {
	InstanceID string `form:"instanceId" binding:"required"`
	DirPath    string `form:"dirPath" binding:"required"`
}

type instanceParams struct {
	InstanceID string `form:"instanceId" binding:"required"`
}

type capacityParams struct {
	Count *int `form:"count" binding:"omitempty,min=1"`
}

// Health 健康检查
// GET /health
func (h *InstanceHandler) Health(c *gin.Context) {
	respondResult(c, "http://"+h.addr)
}

// Load 加载单个文件为会话，instanceId 已存在时直接返回
// GET /load?instanceId=app&filePath=/data/app.apk
func (h *InstanceHandler) Load(c *gin.Context) {
	var p loadParams
	if !bindQuery(c, &p) {
		return
	}
	h.create(c, p.InstanceID, p.FilePath, func(ctx context.Context, s *session.Session) error {
		return s.Bind(ctx, p.FilePath)
	})
}

// LoadDir 加载目录下所有支持的文件（不递归）为一个会话
// GET /load_dir?instanceId=app&dirPath=/data/app
func (h *InstanceHandler) LoadDir(c *gin.Context) {
	var p loadDirParams
	if !bindQuery(c, &p) {
		return
	}
	h.create(c, p.InstanceID, p.DirPath, func(ctx context.Context, s *session.Session) error {
		return s.BindDirectory(ctx, p.DirPath)
	})
}

// create 绑定失败不影响响应：会话仍然存在，之后的查询返回 404
func (h *InstanceHandler) create(c *gin.Context, id, path string, bind registry.BindFunc) {
	s, err := h.reg.Create(c.Request.Context(), id, bind)
	if err != nil {
		var capErr *registry.CapacityError
		if !errors.As(err, &capErr) {
			h.logger.WithError(err).WithField("instance_id", id).Error("Failed to create session")
		}
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}

	if bindErr := s.BindError(); bindErr != nil {
		h.logger.WithError(bindErr).WithFields(logrus.Fields{
			"instance_id": id,
			"path":        path,
		}).Warn("Session created without bound inputs")
	}
	respondResult(c, id)
}

// Unload 关闭并移除会话
// GET /unload?instanceId=app
func (h *InstanceHandler) Unload(c *gin.Context) {
	var p instanceParams
	if !bindQuery(c, &p) {
		return
	}

	err := h.reg.Remove(c.Request.Context(), p.InstanceID)
	if errors.Is(err, registry.ErrInstanceNotFound) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		respondError(c, http.StatusInternalServerError, err.Error())
		return
	}
	if err != nil {
		// 会话已经移除，关闭失败只记录
		h.logger.WithError(err).WithField("instance_id", p.InstanceID).Warn("Session close reported an error")
	}
	respondResult(c, p.InstanceID)
}

// UnloadAll 关闭所有会话，返回关闭的数量
// GET /unload_all
func (h *InstanceHandler) UnloadAll(c *gin.Context) {
	respondResult(c, h.reg.RemoveAll(c.Request.Context()))
}

// UpdateMaxInstanceCount 修改最大会话数，不会淘汰已有会话；缺省为 1
// GET /update_max_instance_count?count=3
func (h *InstanceHandler) UpdateMaxInstanceCount(c *gin.Context) {
	var p capacityParams
	if !bindQuery(c, &p) {
		return
	}

	count := registry.DefaultCapacity
	if p.Count != nil {
		count = *p.Count
	}
	if err := h.reg.SetCapacity(count); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// ListSessions 列出所有会话
// GET /sessions
func (h *InstanceHandler) ListSessions(c *gin.Context) {
	respondResult(c, h.reg.List())
}
