package repository

import (
	"context"
	"time"

	"SyncHub/internal/model"

	"gorm.io/gorm"
)

// WebhookEventRepository 原始 webhook 事件日志
type WebhookEventRepository interface {
	Create(ctx context.Context, e *model.WebhookEvent) error
	GetByUUID(ctx context.Context, eventUUID string) (*model.WebhookEvent, error)
	UpdateStatus(ctx context.Context, eventUUID, status string, errMsg *string) error
	Transition(ctx context.Context, eventUUID, from, to string) (bool, error)
	ResetStatus(ctx context.Context, from []string, to string) (int64, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]*model.WebhookEvent, error)
}

type webhookEventRepository struct {
	db *gorm.DB
}

func NewWebhookEventRepository(db *gorm.DB) WebhookEventRepository {
	return &webhookEventRepository{db: db}
}

func (r *webhookEventRepository) Create(ctx context.Context, e *model.WebhookEvent) error {
	return r.db.WithContext(ctx).Create(e).Error
}

func (r *webhookEventRepository) GetByUUID(ctx context.Context, eventUUID string) (*model.WebhookEvent, error) {
	var e model.WebhookEvent
	if err := r.db.WithContext(ctx).Where("event_uuid = ?", eventUUID).First(&e).Error; err != nil {
		return nil, err
	}
	return &e, nil
}

// UpdateStatus 终态（processed/error/ignored）同时写入处理时间
func (r *webhookEventRepository) UpdateStatus(ctx context.Context, eventUUID, status string, errMsg *string) error {
	updates := map[string]interface{}{
		"status": status,
		"error":  errMsg,
	}
	switch status {
	case model.WebhookStatusProcessed, model.WebhookStatusError, model.WebhookStatusIgnored:
		updates["processed_at"] = time.Now()
	}
	return r.db.WithContext(ctx).Model(&model.WebhookEvent{}).
		Where("event_uuid = ?", eventUUID).
		Updates(updates).Error
}

// Transition 仅当当前状态为 from 时改为 to，返回是否抢到
func (r *webhookEventRepository) Transition(ctx context.Context, eventUUID, from, to string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.WebhookEvent{}).
		Where("event_uuid = ? AND status = ?", eventUUID, from).
		Update("status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ResetStatus 批量把 from 中任一状态的事件改为 to
func (r *webhookEventRepository) ResetStatus(ctx context.Context, from []string, to string) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.WebhookEvent{}).
		Where("status IN ?", from).
		Update("status", to)
	return res.RowsAffected, res.Error
}

func (r *webhookEventRepository) ListByStatus(ctx context.Context, status string, limit int) ([]*model.WebhookEvent, error) {
	if limit <= 0 {
		limit = 500
	}
	var list []*model.WebhookEvent
	if err := r.db.WithContext(ctx).Where("status = ?", status).
		Order("received_at ASC").Limit(limit).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
