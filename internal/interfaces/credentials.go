package interfaces

import (
	"context"

	"SyncHub/internal/model"
)

// TokenProvider 平台访问令牌来源（OAuth 获取/刷新流程在外部完成）
type TokenProvider interface {
	// GetToken 令牌缺失或失效时返回 ErrAuthExpired
	GetToken(ctx context.Context, platform model.PlatformType) (string, error)
}

// AuditSink 审计日志落点
type AuditSink interface {
	Record(ctx context.Context, action, entityType, entityID, status string, details map[string]interface{})
}
