package adapter

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"SyncHub/internal/interfaces"
	"SyncHub/internal/model"

	"github.com/shopspring/decimal"
)

// ToRemote 平台原始实体 + 字段投影 → 统一投影
func ToRemote(raw *model.PlatformRawEntity, name string, fields model.FieldMap) *model.RemoteEntity {
	return &model.RemoteEntity{
		Platform:     raw.Platform,
		Resource:     raw.Resource,
		NativeID:     raw.ID,
		Name:         strings.TrimSpace(name),
		Fields:       fields,
		Raw:          json.RawMessage(raw.Raw),
		LastSyncedAt: time.Now(),
	}
}

// SplitRaw 把数组响应拆成逐条原始 JSON，保留每条实体的原始数据
func SplitRaw(body json.RawMessage) ([]json.RawMessage, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrMalformedPayload, err)
	}
	return items, nil
}

// CheckResource 资源是否在支持列表内
func CheckResource(platform model.PlatformType, resource string, supported []string) error {
	for _, r := range supported {
		if r == resource {
			return nil
		}
	}
	return fmt.Errorf("平台%s不支持资源%s: %w", platform, resource, interfaces.ErrUnsupportedResource)
}

// CheckField 字段是否可回写
func CheckField(platform model.PlatformType, resource, field string, writable []string) error {
	for _, f := range writable {
		if f == field {
			return nil
		}
	}
	return fmt.Errorf("平台%s资源%s字段%s不可回写: %w", platform, resource, field, interfaces.ErrUnsupportedResource)
}

// NormalizeEventType 各平台事件动词统一为 created/updated/deleted
func NormalizeEventType(verb string) string {
	switch strings.ToLower(strings.TrimSpace(verb)) {
	case "create", "created", "creation":
		return "created"
	case "update", "updated", "change", "changed", "":
		return "updated"
	case "delete", "deleted", "deletion", "destroy", "destroyed":
		return "deleted"
	case "archive", "archived":
		return "archived"
	default:
		return strings.ToLower(verb)
	}
}

// NormalizeAmount 金额统一为最简十进制串（"1000.50" 与 "1000.5" 视为同值），无法解析时原样返回
func NormalizeAmount(v *string) *string {
	if v == nil {
		return nil
	}
	d, err := decimal.NewFromString(strings.TrimSpace(*v))
	if err != nil {
		return v
	}
	s := d.String()
	return &s
}
