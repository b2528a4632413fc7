package repository

import (
	"context"
	"time"

	"echoes/core/analytics"
	"echoes/model"

	"gorm.io/gorm"
)

const eventBatchSize = 100

// EventRepository 分析事件存储，同时实现 analytics.Store
type EventRepository interface {
	analytics.Store
	CountByItem(ctx context.Context, event, itemID string, since time.Time) (int64, error)
}

type gormEventRepository struct {
	db *gorm.DB
}

// NewGormEventRepository 创建事件仓库
func NewGormEventRepository(db *gorm.DB) EventRepository {
	return &gormEventRepository{db: db}
}

// SaveEvents 批量写入
func (r *gormEventRepository) SaveEvents(ctx context.Context, events []analytics.Event) error {
	if len(events) == 0 {
		return nil
	}
	rows := make([]model.EchoEvent, 0, len(events))
	for _, e := range events {
		rows = append(rows, toEventRow(e))
	}
	return r.db.WithContext(ctx).CreateInBatches(rows, eventBatchSize).Error
}

// CountByItem 统计某个 echo 在 since 之后的事件数
func (r *gormEventRepository) CountByItem(ctx context.Context, event, itemID string, since time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&model.EchoEvent{}).
		Where("event = ? AND item_id = ? AND created_at >= ?", event, itemID, since).
		Count(&n).Error
	return n, err
}

func toEventRow(e analytics.Event) model.EchoEvent {
	return model.EchoEvent{
		Event:       e.Name,
		ItemID:      e.ItemID,
		ItemName:    e.ItemName,
		ContentType: e.ContentType,
		TriggerType: e.TriggerType,
		SessionID:   e.SessionID,
		CreatedAt:   e.At,
	}
}
