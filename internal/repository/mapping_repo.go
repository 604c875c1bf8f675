package repository

import (
	"context"
	"errors"
	"fmt"

	"SyncHub/internal/interfaces"
	"SyncHub/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MappingRepository 跨平台实体映射仓储
type MappingRepository interface {
	// Create 已存在（同规则下主或从侧ID冲突）时返回 false
	Create(ctx context.Context, m *model.EntityMapping) (bool, error)
	Get(ctx context.Context, id uint64) (*model.EntityMapping, error)
	List(ctx context.Context, rule string) ([]*model.EntityMapping, error)
	// ListByEntity 引用了该实体（任一侧）的所有映射
	ListByEntity(ctx context.Context, platform model.PlatformType, resource, nativeID string) ([]*model.EntityMapping, error)
	// MappedIDs 规则下已被映射的主/从两侧ID集合
	MappedIDs(ctx context.Context, rule string) (master, secondary map[string]bool, err error)
	// ReplaceManual 删除同规则下涉及任一侧ID的映射，再写入手动映射（同一事务）
	ReplaceManual(ctx context.Context, m *model.EntityMapping) error
	SaveSyncResult(ctx context.Context, m *model.EntityMapping) error
	Delete(ctx context.Context, id uint64) error
}

type mappingRepository struct {
	db *gorm.DB
}

func NewMappingRepository(db *gorm.DB) MappingRepository {
	return &mappingRepository{db: db}
}

func (r *mappingRepository) prepare(m *model.EntityMapping) error {
	if m.MappingUUID == "" {
		m.MappingUUID = uuid.NewString()
	}
	if m.LastSyncStatus == "" {
		m.LastSyncStatus = model.SyncStatusPending
	}
	if len(m.Metadata) == 0 {
		return m.SetMetadata(model.MappingMetadata{})
	}
	return nil
}

func (r *mappingRepository) Create(ctx context.Context, m *model.EntityMapping) (bool, error) {
	if err := r.prepare(m); err != nil {
		return false, err
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(m)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *mappingRepository) Get(ctx context.Context, id uint64) (*model.EntityMapping, error) {
	var m model.EntityMapping
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("映射%d: %w", id, interfaces.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *mappingRepository) List(ctx context.Context, rule string) ([]*model.EntityMapping, error) {
	db := r.db.WithContext(ctx).Model(&model.EntityMapping{})
	if rule != "" {
		db = db.Where("rule = ?", rule)
	}
	var list []*model.EntityMapping
	if err := db.Order("id ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *mappingRepository) ListByEntity(ctx context.Context, platform model.PlatformType, resource, nativeID string) ([]*model.EntityMapping, error) {
	p := string(platform)
	var list []*model.EntityMapping
	if err := r.db.WithContext(ctx).
		Where("(master_platform = ? AND master_resource = ? AND master_id = ?) OR (secondary_platform = ? AND secondary_resource = ? AND secondary_id = ?)",
			p, resource, nativeID, p, resource, nativeID).
		Order("id ASC").Find(&list).Error; err != nil {
		return nil, err
	}
	return list, nil
}

func (r *mappingRepository) MappedIDs(ctx context.Context, rule string) (map[string]bool, map[string]bool, error) {
	var rows []struct {
		MasterID    string
		SecondaryID string
	}
	if err := r.db.WithContext(ctx).Model(&model.EntityMapping{}).
		Select("master_id", "secondary_id").
		Where("rule = ?", rule).
		Scan(&rows).Error; err != nil {
		return nil, nil, err
	}
	master := make(map[string]bool, len(rows))
	secondary := make(map[string]bool, len(rows))
	for _, row := range rows {
		master[row.MasterID] = true
		secondary[row.SecondaryID] = true
	}
	return master, secondary, nil
}

func (r *mappingRepository) ReplaceManual(ctx context.Context, m *model.EntityMapping) error {
	if err := r.prepare(m); err != nil {
		return err
	}
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("rule = ? AND (master_id = ? OR secondary_id = ?)", m.Rule, m.MasterID, m.SecondaryID).
			Delete(&model.EntityMapping{}).Error; err != nil {
			return fmt.Errorf("删除旧映射失败: %w", err)
		}
		if err := tx.Create(m).Error; err != nil {
			return fmt.Errorf("写入手动映射失败: %w", err)
		}
		return nil
	})
}

func (r *mappingRepository) SaveSyncResult(ctx context.Context, m *model.EntityMapping) error {
	return r.db.WithContext(ctx).Model(&model.EntityMapping{}).Where("id = ?", m.ID).Updates(map[string]interface{}{
		"metadata":         m.Metadata,
		"last_sync_at":     m.LastSyncAt,
		"last_sync_status": m.LastSyncStatus,
		"master_name":      m.MasterName,
		"secondary_name":   m.SecondaryName,
	}).Error
}

func (r *mappingRepository) Delete(ctx context.Context, id uint64) error {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&model.EntityMapping{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("映射%d: %w", id, interfaces.ErrNotFound)
	}
	return nil
}
