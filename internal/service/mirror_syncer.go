package service

import (
	"context"
	"fmt"

	"SyncHub/internal/interfaces"
	"SyncHub/internal/model"
	"SyncHub/internal/repository"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ApplyResult 单个实体写入镜像的结果
type ApplyResult struct {
	Created bool
	Changes []*model.ChangeRecord
}

// Updated 已存在的实体有字段变化
func (r *ApplyResult) Updated() bool {
	return !r.Created && len(r.Changes) > 0
}

// MirrorSyncer 轮询与 webhook 共用：变更检测 → 镜像 upsert → 变更记录落库（同一事务）
type MirrorSyncer struct {
	db         *gorm.DB
	logger     *logrus.Logger
	newMirrors func(tx *gorm.DB) repository.MirrorRepository
}

func NewMirrorSyncer(db *gorm.DB, logger *logrus.Logger) *MirrorSyncer {
	return &MirrorSyncer{db: db, logger: logger, newMirrors: repository.NewMirrorRepository}
}

func (s *MirrorSyncer) Apply(ctx context.Context, entity *model.RemoteEntity, tracked []string) (*ApplyResult, error) {
	if entity == nil || entity.NativeID == "" {
		return nil, fmt.Errorf("实体缺少原生ID")
	}
	row, err := model.NewEntityMirror(entity)
	if err != nil {
		return nil, fmt.Errorf("构建镜像行失败: %w", err)
	}

	result := &ApplyResult{}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		mirrors := s.newMirrors(tx)
		changes := repository.NewChangeRepository(tx)

		existing, err := mirrors.Get(ctx, entity.Platform, entity.Resource, entity.NativeID)
		if err != nil {
			return fmt.Errorf("读取镜像失败: %w", err)
		}
		if existing == nil {
			// 并发写入时只有插入成功的一方记 created
			inserted, err := mirrors.Insert(ctx, row)
			if err != nil {
				return fmt.Errorf("写入镜像失败: %w", err)
			}
			if inserted {
				result.Created = true
				result.Changes = DetectChanges(nil, entity, tracked)
				return changes.Create(ctx, result.Changes)
			}
			if existing, err = mirrors.Get(ctx, entity.Platform, entity.Resource, entity.NativeID); err != nil {
				return fmt.Errorf("重新读取镜像失败: %w", err)
			}
			if existing == nil {
				return fmt.Errorf("镜像%s/%s/%s插入冲突后不存在: %w",
					entity.Platform, entity.Resource, entity.NativeID, interfaces.ErrNotFound)
			}
		}

		result.Changes = DetectChanges(existing.ToRemote(), entity, tracked)
		if err := mirrors.Upsert(ctx, row); err != nil {
			return fmt.Errorf("更新镜像失败: %w", err)
		}
		return changes.Create(ctx, result.Changes)
	})
	if err != nil {
		return nil, err
	}

	if len(result.Changes) > 0 {
		s.logger.WithFields(logrus.Fields{
			"platform":  entity.Platform,
			"resource":  entity.Resource,
			"native_id": entity.NativeID,
			"created":   result.Created,
			"changes":   len(result.Changes),
		}).Debug("镜像已更新")
	}
	return result, nil
}
