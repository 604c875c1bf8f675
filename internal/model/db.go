package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// 变更类型
const (
	ChangeTypeCreated      = "created"
	ChangeTypeFieldChanged = "field_changed"
)

// webhook 事件状态
const (
	WebhookStatusReceived   = "received"
	WebhookStatusQueued     = "queued"
	WebhookStatusProcessing = "processing"
	WebhookStatusProcessed  = "processed"
	WebhookStatusError      = "error"
	WebhookStatusIgnored    = "ignored"
)

// 审计状态
const (
	AuditStatusSuccess = "success"
	AuditStatusError   = "error"
	AuditStatusSkipped = "skipped"
)

// EntityMirror 平台实体本地镜像，(platform, resource, native_id) 唯一
type EntityMirror struct {
	ID           uint64         `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	Platform     string         `gorm:"column:platform;type:varchar(32);not null;uniqueIndex:uk_mirror_native;comment:来源平台"`
	Resource     string         `gorm:"column:resource;type:varchar(32);not null;uniqueIndex:uk_mirror_native;comment:资源类型"`
	NativeID     string         `gorm:"column:native_id;type:varchar(128);not null;uniqueIndex:uk_mirror_native;comment:平台原生ID"`
	Name         string         `gorm:"column:name;type:varchar(256);comment:名称（匹配用自然键）"`
	Fields       datatypes.JSON `gorm:"column:fields;not null;comment:字段投影"`
	RawPayload   datatypes.JSON `gorm:"column:raw_payload;comment:平台原始数据"`
	LastSyncedAt time.Time      `gorm:"column:last_synced_at;not null;comment:最近同步时间"`
	CreatedAt    time.Time      `gorm:"column:created_at;autoCreateTime;comment:创建时间"`
	UpdatedAt    time.Time      `gorm:"column:updated_at;autoUpdateTime;comment:更新时间"`
}

// ToRemote 镜像行转为类型化投影
func (m *EntityMirror) ToRemote() *RemoteEntity {
	fields := FieldMap{}
	if len(m.Fields) > 0 {
		_ = json.Unmarshal(m.Fields, &fields)
	}
	return &RemoteEntity{
		Platform:     PlatformType(m.Platform),
		Resource:     m.Resource,
		NativeID:     m.NativeID,
		Name:         m.Name,
		Fields:       fields,
		Raw:          json.RawMessage(m.RawPayload),
		LastSyncedAt: m.LastSyncedAt,
	}
}

// NewEntityMirror 投影转为镜像行
func NewEntityMirror(e *RemoteEntity) (*EntityMirror, error) {
	fields := e.Fields
	if fields == nil {
		fields = FieldMap{}
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	raw := datatypes.JSON(e.Raw)
	if len(raw) == 0 {
		raw = datatypes.JSON("{}")
	}
	syncedAt := e.LastSyncedAt
	if syncedAt.IsZero() {
		syncedAt = time.Now()
	}
	return &EntityMirror{
		Platform:     string(e.Platform),
		Resource:     e.Resource,
		NativeID:     e.NativeID,
		Name:         e.Name,
		Fields:       fieldsJSON,
		RawPayload:   raw,
		LastSyncedAt: syncedAt,
	}, nil
}

// ChangeRecord 变更审计记录，写入后不可变，仅由保留期清理删除
type ChangeRecord struct {
	ID           uint64         `gorm:"column:id;primaryKey;autoIncrement;comment:自增主键ID"`
	EntityType   string         `gorm:"column:entity_type;type:varchar(64);not null;index:idx_change_entity;comment:实体类型 platform.resource"`
	NativeID     string         `gorm:"column:native_id;type:varchar(128);not null;index:idx_change_entity;comment:平台原生ID"`
	ChangeType   string         `gorm:"column:change_type;type:varchar(16);not null;comment:created/field_changed"`
	FieldName    *string        `gorm:"column:field_name;type:varchar(64);comment:变更字段"`
	OldValue     *string        `gorm:"column:old_value;type:text;comment:旧值"`
	NewValue     *string        `gorm:"column:new_value;type:text;comment:新值"`
	FullSnapshot datatypes.JSON `gorm:"column:full_snapshot;comment:创建时的完整快照"`
	CreatedAt    time.Time      `gorm:"column:created_at;not null;index;comment:创建时间"`
}

// IdempotencyKey webhook 幂等键，key 唯一，过期后逻辑失效
type IdempotencyKey struct {
	ID        uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	Key       string    `gorm:"column:idem_key;type:varchar(64);uniqueIndex;not null;comment:幂等键"`
	Source    string    `gorm:"column:source;type:varchar(32);not null;comment:来源平台"`
	EventType string    `gorm:"column:event_type;type:varchar(64);comment:事件类型"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null;index;comment:过期时间"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// WebhookEvent 原始 webhook 事件持久化日志
type WebhookEvent struct {
	ID             uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	EventUUID      string         `gorm:"column:event_uuid;type:varchar(64);uniqueIndex;not null;comment:全局唯一ID"`
	IdempotencyKey string         `gorm:"column:idempotency_key;type:varchar(64);not null;index;comment:幂等键"`
	Platform       string         `gorm:"column:platform;type:varchar(32);not null"`
	Resource       string         `gorm:"column:resource;type:varchar(32)"`
	NativeID       string         `gorm:"column:native_id;type:varchar(128)"`
	EventType      string         `gorm:"column:event_type;type:varchar(64)"`
	Payload        datatypes.JSON `gorm:"column:payload;comment:原始事件"`
	Status         string         `gorm:"column:status;type:varchar(16);not null;index;comment:received/queued/processing/processed/error/ignored"`
	Error          *string        `gorm:"column:error;type:text"`
	ReceivedAt     time.Time      `gorm:"column:received_at;not null"`
	ProcessedAt    *time.Time     `gorm:"column:processed_at"`
}

// PollJobState 定时任务持久化状态；运行中标志只在进程内维护
type PollJobState struct {
	JobName         string     `gorm:"column:job_name;type:varchar(64);primaryKey;comment:任务名"`
	Enabled         bool       `gorm:"column:enabled;type:boolean;not null;comment:是否启用"`
	IntervalMinutes int        `gorm:"column:interval_minutes;type:int;not null;comment:间隔（分钟）"`
	LastRunAt       *time.Time `gorm:"column:last_run_at;comment:最近执行时间"`
	LastResult      string     `gorm:"column:last_result;type:text;comment:最近执行结果"`
	DisabledReason  *string    `gorm:"column:disabled_reason;type:varchar(64);comment:自动停用原因"`
	UpdatedAt       time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

// AuditLog 审计日志
type AuditLog struct {
	ID         uint64         `gorm:"column:id;primaryKey;autoIncrement"`
	Action     string         `gorm:"column:action;type:varchar(64);not null;index"`
	EntityType string         `gorm:"column:entity_type;type:varchar(64)"`
	EntityID   string         `gorm:"column:entity_id;type:varchar(128)"`
	Status     string         `gorm:"column:status;type:varchar(16);not null"`
	Details    datatypes.JSON `gorm:"column:details"`
	CreatedAt  time.Time      `gorm:"column:created_at;not null;index"`
}

func (EntityMirror) TableName() string   { return "entity_mirrors" }
func (ChangeRecord) TableName() string   { return "change_records" }
func (IdempotencyKey) TableName() string { return "idempotency_keys" }
func (WebhookEvent) TableName() string   { return "webhook_events" }
func (PollJobState) TableName() string   { return "poll_job_states" }
func (AuditLog) TableName() string       { return "audit_logs" }

// AllModels AutoMigrate 顺序
func AllModels() []interface{} {
	return []interface{}{
		&EntityMirror{},
		&ChangeRecord{},
		&IdempotencyKey{},
		&WebhookEvent{},
		&EntityMapping{},
		&PollJobState{},
		&AuditLog{},
	}
}
