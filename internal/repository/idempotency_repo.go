package repository

import (
	"context"
	"time"

	"SyncHub/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// IdempotencyRepository webhook 幂等键仓储
type IdempotencyRepository interface {
	// Exists 键存在且未过期
	Exists(ctx context.Context, key string, now time.Time) (bool, error)
	// Claim 先清理同名过期键，再 INSERT ... ON CONFLICT DO NOTHING；false 表示已被处理过
	Claim(ctx context.Context, key *model.IdempotencyKey, now time.Time) (bool, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

type idempotencyRepository struct {
	db *gorm.DB
}

func NewIdempotencyRepository(db *gorm.DB) IdempotencyRepository {
	return &idempotencyRepository{db: db}
}

func (r *idempotencyRepository) Exists(ctx context.Context, key string, now time.Time) (bool, error) {
	var count int64
	if err := r.db.WithContext(ctx).Model(&model.IdempotencyKey{}).
		Where("idem_key = ? AND expires_at > ?", key, now).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *idempotencyRepository) Claim(ctx context.Context, key *model.IdempotencyKey, now time.Time) (bool, error) {
	db := r.db.WithContext(ctx)
	if err := db.Where("idem_key = ? AND expires_at <= ?", key.Key, now).Delete(&model.IdempotencyKey{}).Error; err != nil {
		return false, err
	}
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "idem_key"}},
		DoNothing: true,
	}).Create(key)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *idempotencyRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&model.IdempotencyKey{})
	return res.RowsAffected, res.Error
}
