package repository

import (
	"context"
	"time"

	"SyncHub/internal/model"

	"gorm.io/gorm"
)

// ChangeRepository 变更审计记录（只追加，按保留期清理）
type ChangeRepository interface {
	Create(ctx context.Context, records []*model.ChangeRecord) error
	List(ctx context.Context, filter ChangeFilter) ([]*model.ChangeRecord, error)
	// Purge 删除 created_at < olderThan 的记录，返回删除条数
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}

// ChangeFilter 变更记录筛选
type ChangeFilter struct {
	EntityType string
	NativeID   string
	Limit      int
}

type changeRepository struct {
	db *gorm.DB
}

func NewChangeRepository(db *gorm.DB) ChangeRepository {
	return &changeRepository{db: db}
}

func (r *changeRepository) Create(ctx context.Context, records []*model.ChangeRecord) error {
	if len(records) == 0 {
		return nil
	}
	now := time.Now()
	for _, rec := range records {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = now
		}
	}
	return r.db.WithContext(ctx).CreateInBatches(records, 100).Error
}

func (r *changeRepository) List(ctx context.Context, filter ChangeFilter) ([]*model.ChangeRecord, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	db := r.db.WithContext(ctx).Model(&model.ChangeRecord{})
	if filter.EntityType != "" {
		db = db.Where("entity_type = ?", filter.EntityType)
	}
	if filter.NativeID != "" {
		db = db.Where("native_id = ?", filter.NativeID)
	}
	var list []*model.ChangeRecord
	if err := db.Order("created_at DESC").Order("id DESC").Limit(limit).Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *changeRepository) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("created_at < ?", olderThan).Delete(&model.ChangeRecord{})
	return res.RowsAffected, res.Error
}
