package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"SyncHub/internal/interfaces"
	"SyncHub/internal/model"
	"SyncHub/internal/repository"

	"github.com/sirupsen/logrus"
)

// ReconcileJobName 全量对齐任务名
const ReconcileJobName = "reconcile"

// pendingRequeuer WebhookDispatcher 的补偿入口
type pendingRequeuer interface {
	RequeuePending(ctx context.Context) (int, error)
}

// SyncCycle 全量周期：各规则自动匹配 + 对齐，随后清理过期变更记录与幂等键，并补偿积压的 webhook
type SyncCycle struct {
	matcher    *Matcher
	reconciler *Reconciler
	changes    repository.ChangeRepository
	guard      *IdempotencyGuard
	requeuer   pendingRequeuer
	rules      RuleSet
	retention  time.Duration
	audit      interfaces.AuditSink
	logger     *logrus.Logger
	now        func() time.Time
}

func NewSyncCycle(
	matcher *Matcher,
	reconciler *Reconciler,
	changes repository.ChangeRepository,
	guard *IdempotencyGuard,
	requeuer pendingRequeuer,
	rules RuleSet,
	retention time.Duration,
	audit interfaces.AuditSink,
	logger *logrus.Logger,
) *SyncCycle {
	if retention <= 0 {
		retention = 14 * 24 * time.Hour
	}
	return &SyncCycle{
		matcher:    matcher,
		reconciler: reconciler,
		changes:    changes,
		guard:      guard,
		requeuer:   requeuer,
		rules:      rules,
		retention:  retention,
		audit:      audit,
		logger:     logger,
		now:        time.Now,
	}
}

// Job 注册到 Scheduler
func (c *SyncCycle) Job() JobFunc {
	return c.Run
}

func (c *SyncCycle) Run(ctx context.Context) (string, error) {
	var parts []string
	var errs []error

	for _, name := range c.rules.Names() {
		created, err := c.matcher.AutoMatch(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("规则%s自动匹配失败: %w", name, err))
			continue
		}
		summary, err := c.reconciler.ReconcileRule(ctx, name)
		if err != nil {
			errs = append(errs, fmt.Errorf("规则%s对齐失败: %w", name, err))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: matched=%d mappings=%d written=%d partial=%d failed=%d",
			name, created, summary.Mappings, summary.Written, summary.Partial, summary.Failed))
	}

	purged, err := c.Purge(ctx)
	if err != nil {
		errs = append(errs, err)
	} else {
		parts = append(parts, fmt.Sprintf("purged=%d", purged))
	}

	if c.guard != nil {
		if reaped, err := c.guard.Reap(ctx); err != nil {
			errs = append(errs, fmt.Errorf("清理幂等键失败: %w", err))
		} else {
			parts = append(parts, fmt.Sprintf("reaped=%d", reaped))
		}
	}
	if c.requeuer != nil {
		if n, err := c.requeuer.RequeuePending(ctx); err != nil {
			errs = append(errs, err)
		} else if n > 0 {
			parts = append(parts, fmt.Sprintf("requeued=%d", n))
		}
	}

	return strings.Join(parts, "; "), errors.Join(errs...)
}

// Purge 删除保留期（默认 14 天）之前的变更记录
func (c *SyncCycle) Purge(ctx context.Context) (int64, error) {
	cutoff := c.now().Add(-c.retention)
	purged, err := c.changes.Purge(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("清理变更记录失败: %w", err)
	}
	if purged > 0 {
		c.logger.WithFields(logrus.Fields{"purged": purged, "cutoff": cutoff}).Info("过期变更记录已清理")
		c.audit.Record(ctx, ActionRetentionPurge, "change_records", "", model.AuditStatusSuccess,
			map[string]interface{}{"purged": purged, "cutoff": cutoff.Format(time.RFC3339)})
	}
	return purged, nil
}
