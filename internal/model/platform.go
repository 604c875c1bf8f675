package model

import "time"

// PlatformRawEntity 各平台原始实体的通用封装（按平台区分的变体）
type PlatformRawEntity struct {
	Platform PlatformType // 来源平台
	Resource string       // 资源类型（projects/deals/...）
	ID       string       // 平台原生ID
	Data     interface{}  // 平台原生数据（ProcoreProject/HubSpotObject/CompanyCamPhoto...）
	Raw      []byte       // 原始 JSON
}

// WebhookNotice 从平台 webhook 信封中解析出的单条通知
type WebhookNotice struct {
	Platform   PlatformType
	Resource   string
	NativeID   string
	EventType  string    // created/updated/deleted/stage_changed ...
	EventID    string    // 平台侧事件ID，可能为空
	OccurredAt time.Time // 平台侧事件时间，缺失时用接收时间
	Raw        []byte    // 该通知对应的原始片段
}

// IsDelete 删除类事件只记审计，不改镜像
func (n *WebhookNotice) IsDelete() bool {
	switch n.EventType {
	case "deleted", "delete", "removed", "archived":
		return true
	}
	return false
}
