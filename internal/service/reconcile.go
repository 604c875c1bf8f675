package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"SyncHub/internal/interfaces"
	"SyncHub/internal/model"
	"SyncHub/internal/repository"

	"github.com/sirupsen/logrus"
)

// ReconcileSummary 一条规则下的对齐统计
type ReconcileSummary struct {
	Rule     string `json:"rule"`
	Mappings int    `json:"mappings"`
	Success  int    `json:"success"`
	Partial  int    `json:"partial"`
	Failed   int    `json:"failed"`
	Written  int    `json:"written"`
}

// Reconciler 对已映射的实体按字段规则处理冲突：主平台为准的字段回写从平台，双向字段只记录
type Reconciler struct {
	mirrors  repository.MirrorRepository
	changes  repository.ChangeRepository
	mappings repository.MappingRepository
	adapters AdapterSource
	rules    RuleSet
	audit    interfaces.AuditSink
	logger   *logrus.Logger
}

func NewReconciler(
	mirrors repository.MirrorRepository,
	changes repository.ChangeRepository,
	mappings repository.MappingRepository,
	adapters AdapterSource,
	rules RuleSet,
	audit interfaces.AuditSink,
	logger *logrus.Logger,
) *Reconciler {
	return &Reconciler{
		mirrors:  mirrors,
		changes:  changes,
		mappings: mappings,
		adapters: adapters,
		rules:    rules,
		audit:    audit,
		logger:   logger,
	}
}

// Reconcile 每次重新计算冲突列表：回写成功的字段移入 resolved，失败或双向保留的字段留在 conflicts
func (r *Reconciler) Reconcile(ctx context.Context, mapping *model.EntityMapping) (*model.EntityMapping, error) {
	rule, err := r.rules.Get(mapping.Rule)
	if err != nil {
		return mapping, err
	}
	log := r.logger.WithFields(logrus.Fields{"mapping_id": mapping.ID, "rule": rule.Name})
	masterPlatform := model.PlatformType(mapping.MasterPlatform)
	secondaryPlatform := model.PlatformType(mapping.SecondaryPlatform)

	masterRow, err := r.mirrors.Get(ctx, masterPlatform, mapping.MasterResource, mapping.MasterID)
	if err != nil {
		return mapping, fmt.Errorf("读取主平台镜像失败: %w", err)
	}
	secondaryRow, err := r.mirrors.Get(ctx, secondaryPlatform, mapping.SecondaryResource, mapping.SecondaryID)
	if err != nil {
		return mapping, fmt.Errorf("读取从平台镜像失败: %w", err)
	}

	now := time.Now()
	mapping.LastSyncAt = &now
	if masterRow == nil || secondaryRow == nil {
		// 镜像缺失无法比较，冲突列表清空，等待下次同步
		log.Warn("映射一侧镜像不存在，跳过对齐")
		mapping.LastSyncStatus = model.SyncStatusError
		_ = mapping.SetMetadata(model.MappingMetadata{})
		if err := r.mappings.SaveSyncResult(ctx, mapping); err != nil {
			return mapping, err
		}
		r.audit.Record(ctx, ActionReconcile, "mapping", mapping.MappingUUID, model.AuditStatusError,
			map[string]interface{}{"error": "mirror missing", "master_found": masterRow != nil, "secondary_found": secondaryRow != nil})
		return mapping, nil
	}
	master, secondary := masterRow.ToRemote(), secondaryRow.ToRemote()
	mapping.MasterName, mapping.SecondaryName = master.Name, secondary.Name

	writer, writerErr := r.adapters.GetAdapter(secondaryPlatform)

	md := model.MappingMetadata{}
	failed := 0
	for _, f := range rule.Fields {
		secondaryField := f.SecondaryName()
		masterValue := master.Fields.Get(f.Master)
		secondaryValue := secondary.Fields.Get(secondaryField)
		if model.Stringify(masterValue) == model.Stringify(secondaryValue) {
			continue
		}

		conflict := model.ConflictRecord{
			Field:          f.Master,
			MasterValue:    masterValue,
			SecondaryValue: secondaryValue,
		}
		if !f.IsMasterControlled() {
			conflict.Resolution = model.ResolutionBothKept
			md.Conflicts = append(md.Conflicts, conflict)
			continue
		}

		conflict.Resolution = model.ResolutionMasterWins
		err := writerErr
		if err == nil {
			err = writer.WriteField(ctx, mapping.SecondaryResource, mapping.SecondaryID, secondaryField, masterValue)
		}
		if err != nil {
			// 单字段失败不影响其余字段
			failed++
			conflict.Error = err.Error()
			md.Conflicts = append(md.Conflicts, conflict)
			log.WithError(err).WithField("field", secondaryField).Warn("从平台字段回写失败")
			continue
		}

		r.writeThrough(ctx, mapping, secondaryField, secondaryValue, masterValue)
		md.Resolved = append(md.Resolved, conflict)
		md.UpdatedFields = append(md.UpdatedFields, secondaryField)
	}

	mapping.LastSyncStatus = model.SyncStatusSuccess
	if failed > 0 {
		mapping.LastSyncStatus = model.SyncStatusPartial
	}
	if err := mapping.SetMetadata(md); err != nil {
		return mapping, fmt.Errorf("序列化映射元数据失败: %w", err)
	}
	if err := r.mappings.SaveSyncResult(ctx, mapping); err != nil {
		return mapping, fmt.Errorf("保存映射对齐结果失败: %w", err)
	}

	if len(md.UpdatedFields) > 0 || failed > 0 {
		status := model.AuditStatusSuccess
		if failed > 0 {
			status = model.AuditStatusError
		}
		r.audit.Record(ctx, ActionReconcile, "mapping", mapping.MappingUUID, status, map[string]interface{}{
			"updated_fields": md.UpdatedFields,
			"conflicts":      len(md.Conflicts),
			"failed":         failed,
		})
	}
	return mapping, nil
}

// writeThrough 远端写入成功后同步从平台镜像，并记一条 field_changed
func (r *Reconciler) writeThrough(ctx context.Context, mapping *model.EntityMapping, field string, oldValue, newValue *string) {
	platform := model.PlatformType(mapping.SecondaryPlatform)
	if err := r.mirrors.SetField(ctx, platform, mapping.SecondaryResource, mapping.SecondaryID, field, newValue); err != nil {
		r.logger.WithError(err).WithFields(logrus.Fields{
			"platform":  platform,
			"native_id": mapping.SecondaryID,
			"field":     field,
		}).Warn("更新从平台镜像失败，等待下次轮询修正")
		return
	}

	name := field
	oldStr, newStr := model.Stringify(oldValue), model.Stringify(newValue)
	if err := r.changes.Create(ctx, []*model.ChangeRecord{{
		EntityType: model.EntityTypeOf(platform, mapping.SecondaryResource),
		NativeID:   mapping.SecondaryID,
		ChangeType: model.ChangeTypeFieldChanged,
		FieldName:  &name,
		OldValue:   &oldStr,
		NewValue:   &newStr,
	}}); err != nil {
		r.logger.WithError(err).WithField("native_id", mapping.SecondaryID).Error("写入变更记录失败")
	}
}

// ReconcileRule 对规则下所有映射执行对齐
func (r *Reconciler) ReconcileRule(ctx context.Context, ruleName string) (*ReconcileSummary, error) {
	if _, err := r.rules.Get(ruleName); err != nil {
		return nil, err
	}
	list, err := r.mappings.List(ctx, ruleName)
	if err != nil {
		return nil, fmt.Errorf("读取映射失败: %w", err)
	}

	summary := &ReconcileSummary{Rule: ruleName, Mappings: len(list)}
	for _, m := range list {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		updated, err := r.Reconcile(ctx, m)
		if err != nil {
			summary.Failed++
			r.logger.WithError(err).WithField("mapping_id", m.ID).Error("映射对齐失败")
			continue
		}
		switch updated.LastSyncStatus {
		case model.SyncStatusSuccess:
			summary.Success++
		case model.SyncStatusPartial:
			summary.Partial++
		default:
			summary.Failed++
		}
		summary.Written += len(updated.GetMetadata().UpdatedFields)
	}
	return summary, nil
}

// ReconcileEntity 实体变化后对齐所有引用它的映射
func (r *Reconciler) ReconcileEntity(ctx context.Context, platform model.PlatformType, resource, nativeID string) error {
	list, err := r.mappings.ListByEntity(ctx, platform, resource, nativeID)
	if err != nil {
		return fmt.Errorf("读取实体映射失败: %w", err)
	}
	var errs []error
	for _, m := range list {
		if _, err := r.Reconcile(ctx, m); err != nil {
			errs = append(errs, fmt.Errorf("映射%d: %w", m.ID, err))
		}
	}
	return errors.Join(errs...)
}
