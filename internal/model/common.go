package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// PlatformType 平台类型枚举
type PlatformType string

const (
	PlatformProcore    PlatformType = "procore"
	PlatformHubSpot    PlatformType = "hubspot"
	PlatformCompanyCam PlatformType = "companycam"
)

// FieldMap 实体字段的字符串投影，nil 表示平台侧字段为空
type FieldMap map[string]*string

// Get 取字段值，缺失与 nil 等价
func (f FieldMap) Get(name string) *string {
	if f == nil {
		return nil
	}
	return f[name]
}

// Clone 深拷贝，避免调用方修改共享的指针
func (f FieldMap) Clone() FieldMap {
	out := make(FieldMap, len(f))
	for k, v := range f {
		if v == nil {
			out[k] = nil
			continue
		}
		s := *v
		out[k] = &s
	}
	return out
}

// Stringify 空安全的字符串化：nil 与缺失都视为 ""
func Stringify(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

// StrPtr 返回字符串指针，空串保持为 nil
func StrPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

// RemoteEntity 平台实体的统一类型化投影（边界处解码，原始数据保存在 Raw 中便于排查）
type RemoteEntity struct {
	Platform     PlatformType    `json:"platform"`
	Resource     string          `json:"resource"`
	NativeID     string          `json:"nativeId"`
	Name         string          `json:"name"`
	Fields       FieldMap        `json:"fields"`
	Raw          json.RawMessage `json:"rawPayload,omitempty"`
	LastSyncedAt time.Time       `json:"lastSyncedAt"`
}

// EntityType 审计与变更记录中使用的实体类型：platform.resource
func (e *RemoteEntity) EntityType() string {
	return EntityTypeOf(e.Platform, e.Resource)
}

// EntityTypeOf 组装实体类型
func EntityTypeOf(platform PlatformType, resource string) string {
	return fmt.Sprintf("%s.%s", platform, resource)
}

// EntityPage 分页拉取结果
type EntityPage struct {
	Entities []*RemoteEntity
	HasMore  bool
}
