package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"SyncHub/internal/adapter"
	_ "SyncHub/internal/adapter/companycam"
	_ "SyncHub/internal/adapter/hubspot"
	_ "SyncHub/internal/adapter/procore"
	"SyncHub/internal/api"
	"SyncHub/internal/config"
	"SyncHub/internal/model"
	"SyncHub/internal/repository"
	"SyncHub/internal/service"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "启动 HTTP 服务、webhook 处理协程与定时任务",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, db, err := bootstrap()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// 1. 令牌 + 适配器（配置文件变更时刷新令牌，运维重新授权后无需重启）
		tokens := service.NewStaticTokenProvider(cfg.Platforms)
		config.WatchPlatforms(func(name string, platforms map[string]config.PlatformConfig) {
			tokens.Reload(platforms)
			log.WithField("file", name).Info("配置文件已变更，平台令牌已刷新")
		})
		registry := adapter.NewPlatformRegistry(cfg, tokens, log)
		if registry.GetPlatformCount() == 0 {
			return errors.New("未配置任何平台，请检查 platforms 配置")
		}

		// 2. 仓储与核心服务
		auditLogs := repository.NewAuditLogRepository(db)
		audit := service.NewAuditRecorder(auditLogs, log)
		mirrors := repository.NewMirrorRepository(db)
		changes := repository.NewChangeRepository(db)
		mappings := repository.NewMappingRepository(db)
		rules := service.NewRuleSet(cfg.Reconcile.Rules)

		syncer := service.NewMirrorSyncer(db, log)
		guard := service.NewIdempotencyGuard(db, cfg.Sync.IdempotencyTTL(), cfg.Sync.IdempotencyBucket())
		matcher := service.NewMatcher(mirrors, mappings, rules, audit, log)
		reconciler := service.NewReconciler(mirrors, changes, mappings, registry, rules, audit, log)

		secrets := make(map[model.PlatformType]string, len(cfg.Platforms))
		for name, p := range cfg.Platforms {
			secrets[model.PlatformType(name)] = p.WebhookSecret
		}
		dispatcher := service.NewWebhookDispatcher(db, registry, guard, syncer, reconciler, audit, log, service.DispatcherConfig{
			Workers:        cfg.Sync.WebhookWorkers,
			QueueSize:      cfg.Sync.WebhookQueueSize,
			ProcessTimeout: time.Duration(cfg.Sync.RunTimeoutSeconds) * time.Second,
			Secrets:        secrets,
		})
		dispatcher.Start(ctx)
		defer dispatcher.Stop()

		// 3. 定时任务
		scheduler, err := newScheduler(cfg, db, log, audit)
		if err != nil {
			return err
		}
		poller := service.NewPoller(registry, syncer, audit, log, cfg.Sync.MaxPages)
		registerPollJobs(scheduler, poller, registry, cfg, log)
		cycle := service.NewSyncCycle(matcher, reconciler, changes, guard, dispatcher, rules, cfg.Sync.RetentionWindow(), audit, log)
		scheduler.Register(service.ReconcileJobName, cycle.Job(), service.JobDefaults{
			Enabled:         cfg.Reconcile.Enabled,
			IntervalMinutes: cfg.Reconcile.IntervalMinutes,
		})
		if err := scheduler.Start(ctx); err != nil {
			return err
		}
		defer scheduler.Stop()

		// 4. HTTP
		gin.SetMode(cfg.Server.Mode)
		r := gin.New()
		r.Use(gin.Recovery(), requestLogger(log))
		if len(cfg.Server.AllowOrigins) > 0 {
			r.Use(corsMiddleware(cfg.Server.AllowOrigins))
		}
		pprof.Register(r)
		api.RegisterRoutes(r, api.Handlers{
			Webhook:    api.NewWebhookHandler(dispatcher, log),
			Automation: api.NewAutomationHandler(scheduler, log),
			Mapping:    api.NewMappingHandler(mappings, matcher, reconciler, log),
			Change:     api.NewChangeHandler(changes, log),
			Audit:      api.NewAuditHandler(auditLogs, log),
		})

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Infof("服务启动成功，端口：%d", cfg.Server.Port)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("HTTP服务异常退出")
				stop()
			}
		}()

		<-ctx.Done()
		log.Info("收到退出信号，开始优雅关闭")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

// newScheduler 配置了 redis.addr 时启用任务租约
func newScheduler(cfg *config.Config, db *gorm.DB, log *logrus.Logger, audit *service.AuditRecorder) (*service.Scheduler, error) {
	opts := []service.SchedulerOption{
		service.WithInitialDelay(time.Duration(cfg.Sync.InitialRunDelaySeconds) * time.Second),
		service.WithRunTimeout(time.Duration(cfg.Sync.RunTimeoutSeconds) * time.Second),
	}
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			return nil, fmt.Errorf("连接Redis失败: %w", err)
		}
		opts = append(opts, service.WithLocker(service.NewRedisLocker(rdb, time.Duration(cfg.Redis.LeaseSeconds)*time.Second)))
		log.WithField("addr", cfg.Redis.Addr).Info("已启用任务租约")
	}
	return service.NewScheduler(repository.NewJobStateRepository(db), audit, log, opts...), nil
}

// registerPollJobs 配置中的轮询任务；未配置 jobs 时为每个平台的每种资源生成默认任务（默认停用）
func registerPollJobs(scheduler *service.Scheduler, poller *service.Poller, registry *adapter.PlatformRegistry, cfg *config.Config, log *logrus.Logger) {
	jobs := cfg.Jobs
	if len(jobs) == 0 {
		jobs = make(map[string]config.JobConfig)
		for _, platform := range registry.ListRegisteredPlatforms() {
			ad, err := registry.GetAdapter(platform)
			if err != nil {
				continue
			}
			for _, resource := range ad.Resources() {
				name := fmt.Sprintf("%s_%s", platform, resource)
				jobs[name] = config.JobConfig{Platform: string(platform), Resource: resource, IntervalMinutes: 15}
			}
		}
	}

	names := make([]string, 0, len(jobs))
	for name := range jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		j := jobs[name]
		scheduler.Register(name, poller.PollJob(model.PlatformType(j.Platform), j.Resource), service.JobDefaults{
			Enabled:         j.Enabled,
			IntervalMinutes: j.IntervalMinutes,
		})
		log.WithFields(logrus.Fields{"job": name, "platform": j.Platform, "resource": j.Resource}).Info("轮询任务已注册")
	}
}

// requestLogger 访问日志
func requestLogger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("request")
	}
}

// corsMiddleware 管理后台跨域访问；"*" 表示放开全部来源
func corsMiddleware(origins []string) gin.HandlerFunc {
	corsConfig := cors.DefaultConfig()
	if len(origins) == 1 && origins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization")
	corsConfig.AddExposeHeaders("Content-Length")
	return cors.New(corsConfig)
}
