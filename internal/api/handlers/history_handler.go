package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jadx-daemon/jadx-daemon-go/internal/domain"
	"github.com/jadx-daemon/jadx-daemon-go/internal/repository"
	"github.com/sirupsen/logrus"
)

// HistoryHandler 会话事件日志查询
type HistoryHandler struct {
	repo   repository.EventRepository
	logger *logrus.Logger
}

// NewHistoryHandler 创建事件日志处理器
func NewHistoryHandler(repo repository.EventRepository, logger *logrus.Logger) *HistoryHandler {
	return &HistoryHandler{repo: repo, logger: logger}
}

type historyParams struct {
	InstanceID string `form:"instanceId"`
	Limit      int    `form:"limit" binding:"omitempty,min=1"`
}

// ListHistory 按时间倒序返回事件，limit 默认 100，最大 1000
// GET /sessions/history?instanceId=app&limit=50
func (h *HistoryHandler) ListHistory(c *gin.Context) {
	var p historyParams
	if !bindQuery(c, &p) {
		return
	}

	list, err := h.repo.List(c.Request.Context(), p.InstanceID, p.Limit)
	if err != nil {
		h.logger.WithError(err).Error("Failed to list session events")
		respondError(c, http.StatusInternalServerError, "Failed to load session history.")
		return
	}
	if list == nil {
		list = []*domain.SessionEvent{}
	}
	respondResult(c, list)
}

// CountByType 各类型事件的累计数量
// GET /sessions/history/counts
func (h *HistoryHandler) CountByType(c *gin.Context) {
	counts, err := h.repo.CountByType(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Error("Failed to count session events")
		respondError(c, http.StatusInternalServerError, "Failed to load session history.")
		return
	}
	respondResult(c, counts)
}
