package interfaces

import (
	"context"

	"SyncHub/internal/config"
	"SyncHub/internal/model"

	"github.com/sirupsen/logrus"
)

// EntityReader 分页/单条拉取平台实体
type EntityReader interface {
	// FetchPage page 从 1 开始；空页或 HasMore=false 表示结束
	FetchPage(ctx context.Context, resource string, page int) (*model.EntityPage, error)
	FetchEntity(ctx context.Context, resource, nativeID string) (*model.RemoteEntity, error)
}

// FieldWriter 向平台回写单个字段（冲突处理时以主平台为准推送）
type FieldWriter interface {
	// WriteField value 为 nil 表示清空该字段
	WriteField(ctx context.Context, resource, nativeID, field string, value *string) error
}

// PlatformAdapter 所有平台必须实现的核心接口
type PlatformAdapter interface {
	EntityReader
	FieldWriter

	GetType() model.PlatformType                              // 平台类型
	Resources() []string                                      // 支持的资源
	TrackedFields(resource string) []string                   // 参与变更检测的字段白名单
	ParseWebhook(body []byte) ([]*model.WebhookNotice, error) // 解析 webhook 信封
}

// Factory 平台适配器工厂函数签名
// 入参：平台配置、令牌提供者、日志实例
type Factory func(cfg *config.PlatformConfig, tokens TokenProvider, logger *logrus.Logger) PlatformAdapter
