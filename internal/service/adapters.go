package service

import (
	"SyncHub/internal/interfaces"
	"SyncHub/internal/model"
)

// AdapterSource 按平台取适配器（adapter.PlatformRegistry 实现）
type AdapterSource interface {
	GetAdapter(platform model.PlatformType) (interfaces.PlatformAdapter, error)
}
