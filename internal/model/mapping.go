package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// 匹配方式
const (
	MatchTypeExact   = "exact"
	MatchTypePartial = "partial"
	MatchTypeManual  = "manual"
)

// 冲突处理方式
const (
	ResolutionMasterWins = "master_wins"
	ResolutionBothKept   = "both_kept"
)

// 映射同步状态
const (
	SyncStatusPending = "pending"
	SyncStatusSuccess = "success"
	SyncStatusPartial = "partial"
	SyncStatusError   = "error"
)

// ConflictRecord 单字段冲突记录（嵌在映射 metadata 中）
type ConflictRecord struct {
	Field          string  `json:"field"`
	MasterValue    *string `json:"masterValue"`
	SecondaryValue *string `json:"secondaryValue"`
	Resolution     string  `json:"resolution"`
	Error          string  `json:"error,omitempty"` // 回写失败原因，非空表示未解决
}

// MappingMetadata 映射元数据
// Conflicts 只保存当前仍存在差异的字段；Resolved 为最近一次以主平台为准回写成功的字段
type MappingMetadata struct {
	Conflicts     []ConflictRecord `json:"conflicts"`
	Resolved      []ConflictRecord `json:"resolved,omitempty"`
	UpdatedFields []string         `json:"updatedFields"`
}

// EntityMapping 跨平台实体映射：同一规则下主、从两侧各自至多出现一次
type EntityMapping struct {
	ID                uint64         `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	MappingUUID       string         `gorm:"column:mapping_uuid;type:varchar(64);uniqueIndex;not null" json:"mappingUuid"`
	Rule              string         `gorm:"column:rule;type:varchar(64);not null;uniqueIndex:uk_mapping_master;uniqueIndex:uk_mapping_secondary" json:"rule"`
	MasterPlatform    string         `gorm:"column:master_platform;type:varchar(32);not null" json:"masterPlatform"`
	MasterResource    string         `gorm:"column:master_resource;type:varchar(32);not null" json:"masterResource"`
	MasterID          string         `gorm:"column:master_id;type:varchar(128);not null;uniqueIndex:uk_mapping_master" json:"masterId"`
	MasterName        string         `gorm:"column:master_name;type:varchar(256)" json:"masterName"`
	SecondaryPlatform string         `gorm:"column:secondary_platform;type:varchar(32);not null" json:"secondaryPlatform"`
	SecondaryResource string         `gorm:"column:secondary_resource;type:varchar(32);not null" json:"secondaryResource"`
	SecondaryID       string         `gorm:"column:secondary_id;type:varchar(128);not null;uniqueIndex:uk_mapping_secondary" json:"secondaryId"`
	SecondaryName     string         `gorm:"column:secondary_name;type:varchar(256)" json:"secondaryName"`
	MatchType         string         `gorm:"column:match_type;type:varchar(16);not null" json:"matchType"`
	Metadata          datatypes.JSON `gorm:"column:metadata" json:"metadata"`
	LastSyncAt        *time.Time     `gorm:"column:last_sync_at" json:"lastSyncAt"`
	LastSyncStatus    string         `gorm:"column:last_sync_status;type:varchar(16)" json:"lastSyncStatus"`
	CreatedAt         time.Time      `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
	UpdatedAt         time.Time      `gorm:"column:updated_at;autoUpdateTime" json:"updatedAt"`
}

func (EntityMapping) TableName() string { return "entity_mappings" }

// IDsByPlatform 按平台返回原生ID
func (m *EntityMapping) IDsByPlatform() map[PlatformType]string {
	return map[PlatformType]string{
		PlatformType(m.MasterPlatform):    m.MasterID,
		PlatformType(m.SecondaryPlatform): m.SecondaryID,
	}
}

// NamesByPlatform 按平台返回名称
func (m *EntityMapping) NamesByPlatform() map[PlatformType]string {
	return map[PlatformType]string{
		PlatformType(m.MasterPlatform):    m.MasterName,
		PlatformType(m.SecondaryPlatform): m.SecondaryName,
	}
}

// GetMetadata 解析 metadata，异常数据按空处理
func (m *EntityMapping) GetMetadata() MappingMetadata {
	var md MappingMetadata
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &md)
	}
	if md.Conflicts == nil {
		md.Conflicts = []ConflictRecord{}
	}
	if md.UpdatedFields == nil {
		md.UpdatedFields = []string{}
	}
	return md
}

// SetMetadata 序列化 metadata
func (m *EntityMapping) SetMetadata(md MappingMetadata) error {
	if md.Conflicts == nil {
		md.Conflicts = []ConflictRecord{}
	}
	if md.UpdatedFields == nil {
		md.UpdatedFields = []string{}
	}
	b, err := json.Marshal(md)
	if err != nil {
		return err
	}
	m.Metadata = b
	return nil
}

// EntityRef 规则一侧的实体定位
type EntityRef struct {
	Platform PlatformType `json:"platform" mapstructure:"platform"`
	Resource string       `json:"resource" mapstructure:"resource"`
}

// 字段同步模式
const (
	FieldModeMaster        = "master"
	FieldModeBidirectional = "bidirectional"
)

// FieldRule 字段对应关系；Secondary 为空时与 Master 同名
type FieldRule struct {
	Master    string `json:"master" mapstructure:"master"`
	Secondary string `json:"secondary" mapstructure:"secondary"`
	Mode      string `json:"mode" mapstructure:"mode"`
}

// SecondaryName 从平台字段名
func (f FieldRule) SecondaryName() string {
	if f.Secondary == "" {
		return f.Master
	}
	return f.Secondary
}

// IsMasterControlled 是否以主平台为准
func (f FieldRule) IsMasterControlled() bool {
	return f.Mode != FieldModeBidirectional
}

// MappingRule 一组跨平台匹配/同步规则
type MappingRule struct {
	Name      string      `json:"name" mapstructure:"name"`
	Master    EntityRef   `json:"master" mapstructure:"master"`
	Secondary EntityRef   `json:"secondary" mapstructure:"secondary"`
	Fields    []FieldRule `json:"fields" mapstructure:"fields"`
}
