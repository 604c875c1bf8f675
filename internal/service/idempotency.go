package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"SyncHub/internal/model"
	"SyncHub/internal/repository"

	"gorm.io/gorm"
)

// IdempotencyGuard 基于幂等键表判断 webhook 事件是否已处理
type IdempotencyGuard struct {
	db     *gorm.DB
	ttl    time.Duration
	bucket time.Duration
	now    func() time.Time
}

func NewIdempotencyGuard(db *gorm.DB, ttl, bucket time.Duration) *IdempotencyGuard {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	if bucket <= 0 {
		bucket = time.Minute
	}
	return &IdempotencyGuard{db: db, ttl: ttl, bucket: bucket, now: time.Now}
}

// BuildKey sha256(source|eventType|id|bucket)，bucket 为 occurredAt 按时间桶截断后的秒数
func (g *IdempotencyGuard) BuildKey(source model.PlatformType, eventType, id string, occurredAt time.Time) string {
	bucket := occurredAt.UTC().Truncate(g.bucket).Unix()
	h := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%s|%d", source, eventType, id, bucket)))
	return hex.EncodeToString(h[:])
}

// NoticeKey 优先用平台事件ID，缺失时退化为 资源:原生ID
func (g *IdempotencyGuard) NoticeKey(n *model.WebhookNotice) string {
	id := n.EventID
	if id == "" {
		id = n.Resource + ":" + n.NativeID
	}
	return g.BuildKey(n.Platform, n.EventType, id, n.OccurredAt)
}

// Seen 键存在且未过期
func (g *IdempotencyGuard) Seen(ctx context.Context, key string) (bool, error) {
	return repository.NewIdempotencyRepository(g.db).Exists(ctx, key, g.now())
}

// Claim 在调用方事务内占用幂等键；false 表示该事件已被处理
func (g *IdempotencyGuard) Claim(ctx context.Context, tx *gorm.DB, key string, source model.PlatformType, eventType string) (bool, error) {
	now := g.now()
	return repository.NewIdempotencyRepository(tx).Claim(ctx, &model.IdempotencyKey{
		Key:       key,
		Source:    string(source),
		EventType: eventType,
		ExpiresAt: now.Add(g.ttl),
	}, now)
}

// Reap 清理过期键
func (g *IdempotencyGuard) Reap(ctx context.Context) (int64, error) {
	return repository.NewIdempotencyRepository(g.db).DeleteExpired(ctx, g.now())
}
