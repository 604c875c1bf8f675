package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// ErrLeaseHeld 其他实例持有该任务租约
var ErrLeaseHeld = errors.New("job lease held by another instance")

// Lease 已获得的租约
type Lease interface {
	Release(ctx context.Context) error
}

// Locker 多实例部署时保证同一任务只在一个进程内执行
type Locker interface {
	Acquire(ctx context.Context, key string) (Lease, error)
}

// RedisLocker 基于 redislock 的任务租约
type RedisLocker struct {
	client *redislock.Client
	ttl    time.Duration
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisLocker{client: redislock.New(rdb), ttl: ttl}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (Lease, error) {
	lock, err := l.client.Obtain(ctx, key, l.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, ErrLeaseHeld
	}
	if err != nil {
		return nil, fmt.Errorf("获取任务租约%s失败: %w", key, err)
	}
	return lock, nil
}

// JobLeaseKey 任务租约键
func JobLeaseKey(job string) string {
	return "synchub:job:" + job
}
