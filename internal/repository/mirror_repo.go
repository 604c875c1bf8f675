package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"SyncHub/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MirrorRepository 平台实体镜像仓储
type MirrorRepository interface {
	// Get 不存在时返回 (nil, nil)
	Get(ctx context.Context, platform model.PlatformType, resource, nativeID string) (*model.EntityMirror, error)
	// Insert 仅在镜像不存在时写入；已存在返回 false
	Insert(ctx context.Context, m *model.EntityMirror) (bool, error)
	Upsert(ctx context.Context, m *model.EntityMirror) error
	// SetField 回写成功后同步更新本地镜像的单个字段
	SetField(ctx context.Context, platform model.PlatformType, resource, nativeID, field string, value *string) error
	List(ctx context.Context, platform model.PlatformType, resource string) ([]*model.EntityMirror, error)
}

type mirrorRepository struct {
	db *gorm.DB
}

func NewMirrorRepository(db *gorm.DB) MirrorRepository {
	return &mirrorRepository{db: db}
}

func (r *mirrorRepository) Get(ctx context.Context, platform model.PlatformType, resource, nativeID string) (*model.EntityMirror, error) {
	var m model.EntityMirror
	err := r.db.WithContext(ctx).
		Where("platform = ? AND resource = ? AND native_id = ?", string(platform), resource, nativeID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *mirrorRepository) Insert(ctx context.Context, m *model.EntityMirror) (bool, error) {
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "platform"}, {Name: "resource"}, {Name: "native_id"}},
		DoNothing: true,
	}).Create(m)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *mirrorRepository) Upsert(ctx context.Context, m *model.EntityMirror) error {
	m.UpdatedAt = time.Now()
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "platform"}, {Name: "resource"}, {Name: "native_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "fields", "raw_payload", "last_synced_at", "updated_at"}),
	}).Create(m).Error
}

func (r *mirrorRepository) SetField(ctx context.Context, platform model.PlatformType, resource, nativeID, field string, value *string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m model.EntityMirror
		if err := tx.Where("platform = ? AND resource = ? AND native_id = ?", string(platform), resource, nativeID).
			First(&m).Error; err != nil {
			return fmt.Errorf("读取镜像%s/%s/%s失败: %w", platform, resource, nativeID, err)
		}
		fields := model.FieldMap{}
		if len(m.Fields) > 0 {
			if err := json.Unmarshal(m.Fields, &fields); err != nil {
				return fmt.Errorf("解析镜像字段失败: %w", err)
			}
		}
		fields[field] = value
		b, err := json.Marshal(fields)
		if err != nil {
			return err
		}
		return tx.Model(&model.EntityMirror{}).Where("id = ?", m.ID).Updates(map[string]interface{}{
			"fields":     b,
			"updated_at": time.Now(),
		}).Error
	})
}

func (r *mirrorRepository) List(ctx context.Context, platform model.PlatformType, resource string) ([]*model.EntityMirror, error) {
	var list []*model.EntityMirror
	if err := r.db.WithContext(ctx).
		Where("platform = ? AND resource = ?", string(platform), resource).
		Order("id ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}
