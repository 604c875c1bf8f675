package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"SyncHub/internal/interfaces"
	"SyncHub/internal/model"
	"SyncHub/internal/repository"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SignatureHeader webhook 签名头：hex(HMAC-SHA256(secret, body))，可带 sha256= 前缀
const SignatureHeader = "X-Signature"

// 回执状态
const (
	AckAccepted  = "accepted"
	AckDuplicate = "duplicate"
	AckIgnored   = "ignored"
	AckRejected  = "rejected"
)

// AckResult webhook 回执；HTTP 层始终 200
type AckResult struct {
	Status     string `json:"status"`
	Accepted   int    `json:"accepted"`
	Duplicates int    `json:"duplicates"`
	Ignored    int    `json:"ignored"`
	Message    string `json:"message,omitempty"`
}

// EntityReconciler 实体更新后重新对齐引用它的映射
type EntityReconciler interface {
	ReconcileEntity(ctx context.Context, platform model.PlatformType, resource, nativeID string) error
}

// DispatcherConfig 处理协程与队列
type DispatcherConfig struct {
	Workers        int
	QueueSize      int
	ProcessTimeout time.Duration
	Secrets        map[model.PlatformType]string
}

// WebhookDispatcher 校验签名 → 幂等去重 → 事件落库 → 有界队列交给协程池处理
type WebhookDispatcher struct {
	db         *gorm.DB
	events     repository.WebhookEventRepository
	adapters   AdapterSource
	guard      *IdempotencyGuard
	syncer     *MirrorSyncer
	reconciler EntityReconciler
	audit      interfaces.AuditSink
	logger     *logrus.Logger
	cfg        DispatcherConfig

	queue  chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

func NewWebhookDispatcher(
	db *gorm.DB,
	adapters AdapterSource,
	guard *IdempotencyGuard,
	syncer *MirrorSyncer,
	reconciler EntityReconciler,
	audit interfaces.AuditSink,
	logger *logrus.Logger,
	cfg DispatcherConfig,
) *WebhookDispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.ProcessTimeout <= 0 {
		cfg.ProcessTimeout = time.Minute
	}
	return &WebhookDispatcher{
		db:         db,
		events:     repository.NewWebhookEventRepository(db),
		adapters:   adapters,
		guard:      guard,
		syncer:     syncer,
		reconciler: reconciler,
		audit:      audit,
		logger:     logger,
		cfg:        cfg,
		queue:      make(chan string, cfg.QueueSize),
	}
}

// Start 先把上次进程遗留的 queued/processing 事件改回 received，再启动协程池并重新入队
func (d *WebhookDispatcher) Start(ctx context.Context) {
	d.ctx, d.cancel = context.WithCancel(ctx)

	if n, err := d.events.ResetStatus(ctx, []string{model.WebhookStatusQueued, model.WebhookStatusProcessing},
		model.WebhookStatusReceived); err != nil {
		d.logger.WithError(err).Error("重置未完成的webhook事件失败")
	} else if n > 0 {
		d.logger.WithField("count", n).Info("未完成的webhook事件已重置")
	}

	for i := 0; i < d.cfg.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	if n, err := d.RequeuePending(ctx); err != nil {
		d.logger.WithError(err).Error("webhook事件重新入队失败")
	} else if n > 0 {
		d.logger.WithField("count", n).Info("webhook事件已重新入队")
	}
}

// Stop 停止协程池并等待处理中的事件完成
func (d *WebhookDispatcher) Stop() {
	d.once.Do(func() {
		if d.cancel != nil {
			d.cancel()
		}
		d.wg.Wait()
	})
}

// Receive 不向调用方返回错误：失败写入审计，回执仍然成功，避免平台重试风暴
func (d *WebhookDispatcher) Receive(ctx context.Context, platform model.PlatformType, headers http.Header, body []byte) AckResult {
	log := d.logger.WithField("platform", platform)

	ad, err := d.adapters.GetAdapter(platform)
	if err != nil {
		log.WithError(err).Warn("webhook平台未注册")
		d.audit.Record(ctx, ActionWebhookRejected, string(platform), "", model.AuditStatusError,
			map[string]interface{}{"error": err.Error()})
		return AckResult{Status: AckRejected, Message: "unknown platform"}
	}

	if secret := d.cfg.Secrets[platform]; secret != "" {
		if !VerifySignature(secret, headers.Get(SignatureHeader), body) {
			log.Warn("webhook签名校验失败")
			d.audit.Record(ctx, ActionWebhookRejected, string(platform), "", model.AuditStatusError,
				map[string]interface{}{"error": "signature mismatch"})
			return AckResult{Status: AckRejected, Message: "invalid signature"}
		}
	}

	notices, err := ad.ParseWebhook(body)
	if err != nil {
		log.WithError(err).Warn("webhook请求体无法解析")
		d.audit.Record(ctx, ActionWebhookMalformed, string(platform), "", model.AuditStatusError,
			map[string]interface{}{"error": err.Error(), "size": len(body)})
		return AckResult{Status: AckIgnored, Message: "malformed payload"}
	}

	ack := AckResult{}
	for _, n := range notices {
		switch d.ingest(ctx, ad, n) {
		case AckAccepted:
			ack.Accepted++
		case AckDuplicate:
			ack.Duplicates++
		default:
			ack.Ignored++
		}
	}
	switch {
	case ack.Accepted > 0:
		ack.Status = AckAccepted
	case ack.Duplicates > 0:
		ack.Status = AckDuplicate
	default:
		ack.Status = AckIgnored
	}
	return ack
}

// ingest 处理单条通知，返回其回执分类
func (d *WebhookDispatcher) ingest(ctx context.Context, ad interfaces.PlatformAdapter, n *model.WebhookNotice) string {
	log := d.logger.WithFields(logrus.Fields{
		"platform":   n.Platform,
		"resource":   n.Resource,
		"native_id":  n.NativeID,
		"event_type": n.EventType,
	})
	key := d.guard.NoticeKey(n)

	seen, err := d.guard.Seen(ctx, key)
	if err != nil {
		log.WithError(err).Error("查询幂等键失败")
	}
	if seen {
		log.Debug("重复的webhook事件，跳过")
		return AckDuplicate
	}

	status := model.WebhookStatusReceived
	supported := adapterSupports(ad, n.Resource)
	if n.IsDelete() || !supported {
		status = model.WebhookStatusIgnored
	}
	event := &model.WebhookEvent{
		EventUUID:      uuid.NewString(),
		IdempotencyKey: key,
		Platform:       string(n.Platform),
		Resource:       n.Resource,
		NativeID:       n.NativeID,
		EventType:      n.EventType,
		Payload:        jsonOrEmpty(n.Raw),
		Status:         status,
		ReceivedAt:     time.Now(),
	}

	claimed := false
	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ok, err := d.guard.Claim(ctx, tx, key, n.Platform, n.EventType)
		if err != nil || !ok {
			return err
		}
		claimed = true
		return repository.NewWebhookEventRepository(tx).Create(ctx, event)
	})
	if err != nil {
		log.WithError(err).Error("webhook事件落库失败")
		d.audit.Record(ctx, ActionWebhookRejected, entityTypeOf(n), n.NativeID, model.AuditStatusError,
			map[string]interface{}{"error": err.Error()})
		return AckIgnored
	}
	if !claimed {
		return AckDuplicate
	}

	if n.IsDelete() {
		// 删除事件只审计，不改镜像与映射
		d.audit.Record(ctx, ActionWebhookDelete, entityTypeOf(n), n.NativeID, model.AuditStatusSkipped,
			map[string]interface{}{"event_uuid": event.EventUUID, "event_type": n.EventType})
		return AckAccepted
	}
	if !supported {
		log.Warn("webhook资源不在同步范围内")
		return AckIgnored
	}

	d.enqueue(ctx, event)
	return AckAccepted
}

type enqueueResult int

const (
	enqueued enqueueResult = iota
	enqueueSkipped
	enqueueFull
)

// enqueue 先把 received 改为 queued 再非阻塞入队；状态已被其他入队方改走时跳过，
// 队列满时回退为 received，由 RequeuePending 补偿
func (d *WebhookDispatcher) enqueue(ctx context.Context, event *model.WebhookEvent) enqueueResult {
	log := d.logger.WithField("event_id", event.EventUUID)
	claimed, err := d.events.Transition(ctx, event.EventUUID, model.WebhookStatusReceived, model.WebhookStatusQueued)
	if err != nil {
		log.WithError(err).Error("更新webhook事件状态失败")
		return enqueueSkipped
	}
	if !claimed {
		return enqueueSkipped
	}
	select {
	case d.queue <- event.EventUUID:
		return enqueued
	default:
	}

	_, _ = d.events.Transition(ctx, event.EventUUID, model.WebhookStatusQueued, model.WebhookStatusReceived)
	log.Warn("webhook处理队列已满，等待下次补偿")
	d.audit.Record(ctx, ActionWebhookQueueFull, model.EntityTypeOf(model.PlatformType(event.Platform), event.Resource),
		event.NativeID, model.AuditStatusError, map[string]interface{}{"event_uuid": event.EventUUID})
	return enqueueFull
}

// RequeuePending 把 received 状态的事件重新入队，返回入队条数
func (d *WebhookDispatcher) RequeuePending(ctx context.Context) (int, error) {
	pending, err := d.events.ListByStatus(ctx, model.WebhookStatusReceived, d.cfg.QueueSize)
	if err != nil {
		return 0, fmt.Errorf("读取待处理webhook事件失败: %w", err)
	}
	count := 0
	for _, ev := range pending {
		switch d.enqueue(ctx, ev) {
		case enqueued:
			count++
		case enqueueFull:
			return count, nil
		}
	}
	return count, nil
}

func (d *WebhookDispatcher) worker(id int) {
	defer d.wg.Done()
	for {
		select {
		case <-d.ctx.Done():
			return
		case eventUUID := <-d.queue:
			d.process(eventUUID, id)
		}
	}
}

// process 重新拉取实体（不信任 webhook 中可能过期的数据）→ 更新镜像 → 对齐映射
func (d *WebhookDispatcher) process(eventUUID string, workerID int) {
	ctx, cancel := context.WithTimeout(d.ctx, d.cfg.ProcessTimeout)
	defer cancel()
	log := d.logger.WithFields(logrus.Fields{"event_id": eventUUID, "worker": workerID})

	claimed, err := d.events.Transition(ctx, eventUUID, model.WebhookStatusQueued, model.WebhookStatusProcessing)
	if err != nil {
		log.WithError(err).Error("领取webhook事件失败")
		return
	}
	if !claimed {
		return
	}
	ev, err := d.events.GetByUUID(ctx, eventUUID)
	if err != nil {
		log.WithError(err).Error("读取webhook事件失败")
		return
	}
	platform := model.PlatformType(ev.Platform)
	entityType := model.EntityTypeOf(platform, ev.Resource)
	log = log.WithFields(logrus.Fields{"platform": ev.Platform, "resource": ev.Resource, "native_id": ev.NativeID})

	fail := func(stage string, err error) {
		msg := fmt.Sprintf("%s: %v", stage, err)
		log.WithError(err).Error("webhook事件处理失败")
		_ = d.events.UpdateStatus(context.WithoutCancel(ctx), eventUUID, model.WebhookStatusError, &msg)
		d.audit.Record(ctx, ActionWebhookProcessed, entityType, ev.NativeID, model.AuditStatusError,
			map[string]interface{}{"event_uuid": eventUUID, "stage": stage, "error": err.Error()})
	}

	ad, err := d.adapters.GetAdapter(platform)
	if err != nil {
		fail("adapter", err)
		return
	}
	entity, err := ad.FetchEntity(ctx, ev.Resource, ev.NativeID)
	if errors.Is(err, interfaces.ErrNotFound) {
		msg := "entity no longer exists"
		_ = d.events.UpdateStatus(ctx, eventUUID, model.WebhookStatusIgnored, &msg)
		d.audit.Record(ctx, ActionWebhookProcessed, entityType, ev.NativeID, model.AuditStatusSkipped,
			map[string]interface{}{"event_uuid": eventUUID, "reason": msg})
		return
	}
	if err != nil {
		fail("fetch", err)
		return
	}

	result, err := d.syncer.Apply(ctx, entity, ad.TrackedFields(ev.Resource))
	if err != nil {
		fail("mirror", err)
		return
	}
	if d.reconciler != nil {
		if err := d.reconciler.ReconcileEntity(ctx, platform, ev.Resource, ev.NativeID); err != nil {
			fail("reconcile", err)
			return
		}
	}

	if err := d.events.UpdateStatus(ctx, eventUUID, model.WebhookStatusProcessed, nil); err != nil {
		log.WithError(err).Error("更新webhook事件状态失败")
	}
	d.audit.Record(ctx, ActionWebhookProcessed, entityType, ev.NativeID, model.AuditStatusSuccess,
		map[string]interface{}{"event_uuid": eventUUID, "created": result.Created, "changes": len(result.Changes)})
}

// VerifySignature hex(HMAC-SHA256(secret, body))，常量时间比较
func VerifySignature(secret, signature string, body []byte) bool {
	signature = strings.TrimPrefix(strings.TrimSpace(signature), "sha256=")
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	expectedHex := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(strings.ToLower(signature)), []byte(expectedHex))
}

// Sign 生成签名（测试与本地联调用）
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func adapterSupports(ad interfaces.PlatformAdapter, resource string) bool {
	for _, r := range ad.Resources() {
		if r == resource {
			return true
		}
	}
	return false
}

func entityTypeOf(n *model.WebhookNotice) string {
	return model.EntityTypeOf(n.Platform, n.Resource)
}

func jsonOrEmpty(raw []byte) []byte {
	if len(raw) == 0 {
		return []byte("{}")
	}
	return raw
}
