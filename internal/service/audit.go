package service

import (
	"context"
	"encoding/json"

	"SyncHub/internal/model"
	"SyncHub/internal/repository"

	"github.com/sirupsen/logrus"
)

// 审计动作
const (
	ActionPollSync         = "poll_sync"
	ActionJobAuthExpired   = "job_auth_expired"
	ActionJobError         = "job_error"
	ActionWebhookRejected  = "webhook_rejected"
	ActionWebhookMalformed = "webhook_malformed"
	ActionWebhookProcessed = "webhook_processed"
	ActionWebhookQueueFull = "webhook_queue_full"
	ActionWebhookDelete    = "webhook_delete"
	ActionMappingCreated   = "mapping_created"
	ActionMappingLinked    = "mapping_manual_link"
	ActionMappingUnlinked  = "mapping_unlinked"
	ActionReconcile        = "reconcile"
	ActionRetentionPurge   = "retention_purge"
)

// AuditRecorder interfaces.AuditSink 的数据库实现；写入失败只记日志，不影响主流程
type AuditRecorder struct {
	repo   repository.AuditLogRepository
	logger *logrus.Logger
}

func NewAuditRecorder(repo repository.AuditLogRepository, logger *logrus.Logger) *AuditRecorder {
	return &AuditRecorder{repo: repo, logger: logger}
}

func (a *AuditRecorder) Record(ctx context.Context, action, entityType, entityID, status string, details map[string]interface{}) {
	payload := []byte("{}")
	if len(details) > 0 {
		if b, err := json.Marshal(details); err == nil {
			payload = b
		}
	}
	entry := &model.AuditLog{
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Status:     status,
		Details:    payload,
	}
	// 任务超时后仍需落审计
	if err := a.repo.Create(context.WithoutCancel(ctx), entry); err != nil {
		a.logger.WithError(err).WithFields(logrus.Fields{
			"action":      action,
			"entity_type": entityType,
			"entity_id":   entityID,
		}).Error("写入审计日志失败")
	}
}
