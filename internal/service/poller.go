package service

import (
	"context"
	"fmt"

	"SyncHub/internal/interfaces"
	"SyncHub/internal/model"

	"github.com/sirupsen/logrus"
)

// JobFunc 定时任务主体，返回本次执行摘要
type JobFunc func(ctx context.Context) (string, error)

// JobResult 一次轮询的统计
type JobResult struct {
	Pages     int `json:"pages"`
	Fetched   int `json:"fetched"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Failed    int `json:"failed"`
}

func (r *JobResult) String() string {
	return fmt.Sprintf("fetched=%d created=%d updated=%d unchanged=%d failed=%d",
		r.Fetched, r.Created, r.Updated, r.Unchanged, r.Failed)
}

// Poller 分页拉取平台实体并写入镜像
type Poller struct {
	adapters AdapterSource
	syncer   *MirrorSyncer
	audit    interfaces.AuditSink
	logger   *logrus.Logger
	maxPages int
}

func NewPoller(adapters AdapterSource, syncer *MirrorSyncer, audit interfaces.AuditSink, logger *logrus.Logger, maxPages int) *Poller {
	if maxPages <= 0 {
		maxPages = 500
	}
	return &Poller{adapters: adapters, syncer: syncer, audit: audit, logger: logger, maxPages: maxPages}
}

// PollJob 生成可注册到 Scheduler 的任务
func (p *Poller) PollJob(platform model.PlatformType, resource string) JobFunc {
	return func(ctx context.Context) (string, error) {
		result, err := p.Poll(ctx, platform, resource)
		if err != nil {
			return result.String(), err
		}
		return result.String(), nil
	}
}

// Poll 按平台返回顺序逐条处理；单个实体失败只计数，拉取失败（含认证失败）中止本次执行
func (p *Poller) Poll(ctx context.Context, platform model.PlatformType, resource string) (*JobResult, error) {
	result := &JobResult{}
	log := p.logger.WithFields(logrus.Fields{"platform": platform, "resource": resource})

	ad, err := p.adapters.GetAdapter(platform)
	if err != nil {
		return result, err
	}
	tracked := ad.TrackedFields(resource)

	for page := 1; page <= p.maxPages; page++ {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("轮询%s/%s中断: %w", platform, resource, err)
		}
		pg, err := ad.FetchPage(ctx, resource, page)
		if err != nil {
			return result, fmt.Errorf("拉取%s/%s第%d页失败: %w", platform, resource, page, err)
		}
		result.Pages++
		if len(pg.Entities) == 0 {
			break
		}

		for _, entity := range pg.Entities {
			result.Fetched++
			applied, err := p.syncer.Apply(ctx, entity, tracked)
			if err != nil {
				result.Failed++
				log.WithError(err).WithField("native_id", entity.NativeID).Error("实体写入镜像失败")
				continue
			}
			switch {
			case applied.Created:
				result.Created++
			case applied.Updated():
				result.Updated++
			default:
				result.Unchanged++
			}
		}
		if !pg.HasMore {
			break
		}
	}

	if result.Created+result.Updated > 0 {
		status := model.AuditStatusSuccess
		if result.Failed > 0 {
			status = model.AuditStatusError
		}
		p.audit.Record(ctx, ActionPollSync, model.EntityTypeOf(platform, resource), "", status, map[string]interface{}{
			"pages":     result.Pages,
			"fetched":   result.Fetched,
			"created":   result.Created,
			"updated":   result.Updated,
			"unchanged": result.Unchanged,
			"failed":    result.Failed,
		})
	}
	log.WithField("result", result.String()).Info("轮询完成")
	return result, nil
}
