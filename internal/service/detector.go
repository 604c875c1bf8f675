package service

import (
	"encoding/json"

	"SyncHub/internal/model"
)

// DetectChanges 对比镜像中的旧快照与新拉取的实体，生成变更记录
// existing 为 nil 时只生成一条 created（携带完整快照，不做字段级对比）；
// 否则仅对 tracked 中的字段做空安全的字符串对比，值不同才生成 field_changed。
// 纯函数：落库与镜像更新由调用方负责。
func DetectChanges(existing, incoming *model.RemoteEntity, tracked []string) []*model.ChangeRecord {
	if incoming == nil {
		return nil
	}
	entityType := incoming.EntityType()

	if existing == nil {
		snapshot, err := json.Marshal(incoming)
		if err != nil {
			snapshot = []byte("{}")
		}
		return []*model.ChangeRecord{{
			EntityType:   entityType,
			NativeID:     incoming.NativeID,
			ChangeType:   model.ChangeTypeCreated,
			FullSnapshot: snapshot,
		}}
	}

	var changes []*model.ChangeRecord
	for _, field := range tracked {
		oldValue := model.Stringify(existing.Fields.Get(field))
		newValue := model.Stringify(incoming.Fields.Get(field))
		if oldValue == newValue {
			continue
		}
		name := field
		changes = append(changes, &model.ChangeRecord{
			EntityType: entityType,
			NativeID:   incoming.NativeID,
			ChangeType: model.ChangeTypeFieldChanged,
			FieldName:  &name,
			OldValue:   &oldValue,
			NewValue:   &newValue,
		})
	}
	return changes
}
