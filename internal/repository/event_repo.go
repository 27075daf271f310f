package repository

import (
	"context"
	"fmt"

	"github.com/jadx-daemon/jadx-daemon-go/internal/domain"
	"github.com/jadx-daemon/jadx-daemon-go/internal/events"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// DefaultHistoryLimit 历史查询默认条数
const DefaultHistoryLimit = 100

// MaxHistoryLimit 历史查询最大条数
const MaxHistoryLimit = 1000

type EventRepository interface {
	Create(ctx context.Context, event *domain.SessionEvent) error
	// List 按时间倒序返回事件，instanceID 为空时不过滤
	List(ctx context.Context, instanceID string, limit int) ([]*domain.SessionEvent, error)
	CountByType(ctx context.Context) (map[string]int64, error)
}

type eventRepo struct {
	db     *gorm.DB
	logger *logrus.Logger
}

// NewEventRepository 创建事件仓储
func NewEventRepository(db *gorm.DB, logger *logrus.Logger) EventRepository {
	return &eventRepo{db: db, logger: logger}
}

func (r *eventRepo) Create(ctx context.Context, event *domain.SessionEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *eventRepo) List(ctx context.Context, instanceID string, limit int) ([]*domain.SessionEvent, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}

	query := r.db.WithContext(ctx).Model(&domain.SessionEvent{})
	if instanceID != "" {
		query = query.Where("instance_id = ?", instanceID)
	}

	var list []*domain.SessionEvent
	err := query.Order("at DESC").Order("id DESC").Limit(limit).Find(&list).Error
	return list, err
}

func (r *eventRepo) CountByType(ctx context.Context) (map[string]int64, error) {
	type row struct {
		Type  string
		Count int64
	}

	var rows []row
	err := r.db.WithContext(ctx).
		Model(&domain.SessionEvent{}).
		Select("type, COUNT(*) as count").
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Type] = r.Count
	}
	return counts, nil
}

// JournalSink 把会话事件写入数据库的分发器下游
type JournalSink struct {
	repo EventRepository
}

// NewJournalSink 创建日志下游
func NewJournalSink(repo EventRepository) *JournalSink {
	return &JournalSink{repo: repo}
}

func (s *JournalSink) Name() string { return "journal" }

func (s *JournalSink) Handle(ctx context.Context, e events.Event) error {
	if err := s.repo.Create(ctx, domain.NewSessionEvent(e)); err != nil {
		return fmt.Errorf("failed to journal %s event: %w", e.Type, err)
	}
	return nil
}
