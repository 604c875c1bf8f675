package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"SyncHub/internal/interfaces"
	"SyncHub/internal/model"
	"SyncHub/internal/repository"

	"github.com/sirupsen/logrus"
)

// DisabledReasonAuthExpired 认证失效导致的自动停用
const DisabledReasonAuthExpired = "auth_expired"

// ErrInvalidInterval 间隔必须为正
var ErrInvalidInterval = errors.New("interval must be positive")

// JobDefaults 首次注册（库中无状态）时使用的配置
type JobDefaults struct {
	Enabled         bool
	IntervalMinutes int
}

// JobStatus 对外展示的任务状态
type JobStatus struct {
	Name            string     `json:"name"`
	Enabled         bool       `json:"enabled"`
	IntervalMinutes int        `json:"intervalMinutes"`
	IsRunning       bool       `json:"isRunning"`
	LastPollAt      *time.Time `json:"lastPollAt"`
	LastPollResult  string     `json:"lastPollResult"`
	DisabledReason  *string    `json:"disabledReason,omitempty"`
}

// jobHandle 单个任务：定时器 + 运行标志 + 持久化状态
type jobHandle struct {
	name     string
	fn       JobFunc
	defaults JobDefaults
	running  atomic.Bool

	mu    sync.Mutex
	state model.PollJobState
	stop  chan struct{} // 关闭即停止当前定时器
}

// SchedulerOption 可选配置
type SchedulerOption func(*Scheduler)

// WithLocker 多实例部署时启用任务租约
func WithLocker(l Locker) SchedulerOption {
	return func(s *Scheduler) { s.locker = l }
}

// WithInitialDelay 启用后首次执行前的延迟；负数表示不立即执行
func WithInitialDelay(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.initialDelay = d }
}

// WithRunTimeout 单次执行超时
func WithRunTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.runTimeout = d }
}

// WithIntervalUnit 间隔单位，默认分钟
func WithIntervalUnit(d time.Duration) SchedulerOption {
	return func(s *Scheduler) { s.unit = d }
}

// Scheduler 每个任务一个定时器；同一任务单飞执行，运行中到点的 tick 直接跳过
type Scheduler struct {
	states repository.JobStateRepository
	audit  interfaces.AuditSink
	logger *logrus.Logger
	locker Locker

	initialDelay time.Duration
	runTimeout   time.Duration
	unit         time.Duration

	mu     sync.RWMutex
	jobs   map[string]*jobHandle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(states repository.JobStateRepository, audit interfaces.AuditSink, logger *logrus.Logger, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		states:       states,
		audit:        audit,
		logger:       logger,
		initialDelay: 5 * time.Second,
		runTimeout:   10 * time.Minute,
		unit:         time.Minute,
		jobs:         make(map[string]*jobHandle),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	return s
}

// Register 注册任务；须在 Start 之前调用
func (s *Scheduler) Register(name string, fn JobFunc, defaults JobDefaults) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[name] = &jobHandle{name: name, fn: fn, defaults: defaults}
}

// Start 加载持久化状态（无则按默认值创建），启用的任务挂上定时器
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for name, h := range s.jobs {
		state, err := s.states.Get(ctx, name)
		if err != nil {
			return fmt.Errorf("加载任务%s状态失败: %w", name, err)
		}
		if state == nil {
			state = &model.PollJobState{
				JobName:         name,
				Enabled:         h.defaults.Enabled,
				IntervalMinutes: h.defaults.IntervalMinutes,
			}
			if err := s.states.Save(ctx, state); err != nil {
				return fmt.Errorf("初始化任务%s状态失败: %w", name, err)
			}
		}

		h.mu.Lock()
		h.state = *state
		if h.state.Enabled && h.state.IntervalMinutes > 0 {
			s.arm(h, true)
		}
		h.mu.Unlock()

		s.logger.WithFields(logrus.Fields{
			"job":      name,
			"enabled":  state.Enabled,
			"interval": state.IntervalMinutes,
		}).Info("定时任务已加载")
	}
	return nil
}

// Stop 停止所有定时器，等待进行中的执行结束
func (s *Scheduler) Stop() {
	s.cancel()
	s.mu.RLock()
	for _, h := range s.jobs {
		h.mu.Lock()
		s.disarm(h)
		h.mu.Unlock()
	}
	s.mu.RUnlock()
	s.wg.Wait()
}

// Enable 取消旧定时器，持久化 enabled=true，按新间隔重新挂定时器并在短延迟后执行一次
func (s *Scheduler) Enable(ctx context.Context, name string, intervalMinutes int) (JobStatus, error) {
	h, err := s.job(name)
	if err != nil {
		return JobStatus{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	if intervalMinutes > 0 {
		h.state.IntervalMinutes = intervalMinutes
	}
	if h.state.IntervalMinutes <= 0 {
		return s.snapshot(h), ErrInvalidInterval
	}
	h.state.Enabled = true
	h.state.DisabledReason = nil
	if err := s.persist(ctx, h); err != nil {
		return s.snapshot(h), err
	}
	s.arm(h, true)
	s.logger.WithFields(logrus.Fields{"job": name, "interval": h.state.IntervalMinutes}).Info("定时任务已启用")
	return s.snapshot(h), nil
}

// Disable 取消定时器并持久化 enabled=false；进行中的执行不会被中断
func (s *Scheduler) Disable(ctx context.Context, name, reason string) (JobStatus, error) {
	h, err := s.job(name)
	if err != nil {
		return JobStatus{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	s.disableLocked(h, reason)
	if err := s.persist(ctx, h); err != nil {
		return s.snapshot(h), err
	}
	s.logger.WithFields(logrus.Fields{"job": name, "reason": reason}).Info("定时任务已停用")
	return s.snapshot(h), nil
}

// Configure 对应 POST /automation/{job}/config
func (s *Scheduler) Configure(ctx context.Context, name string, enabled bool, intervalMinutes int) (JobStatus, error) {
	if enabled {
		return s.Enable(ctx, name, intervalMinutes)
	}
	h, err := s.job(name)
	if err != nil {
		return JobStatus{}, err
	}
	if intervalMinutes > 0 {
		h.mu.Lock()
		h.state.IntervalMinutes = intervalMinutes
		h.mu.Unlock()
	}
	return s.Disable(ctx, name, "")
}

// Trigger 立即执行一次；已在运行时返回 false
func (s *Scheduler) Trigger(name string) (bool, error) {
	h, err := s.job(name)
	if err != nil {
		return false, err
	}
	started := s.launch(h, "manual")
	if !started {
		s.logger.WithField("job", name).Info("任务正在运行，忽略手动触发")
	}
	return started, nil
}

func (s *Scheduler) Status(name string) (JobStatus, error) {
	h, err := s.job(name)
	if err != nil {
		return JobStatus{}, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return s.snapshot(h), nil
}

// List 按任务名排序
func (s *Scheduler) List() []JobStatus {
	s.mu.RLock()
	handles := make([]*jobHandle, 0, len(s.jobs))
	for _, h := range s.jobs {
		handles = append(handles, h)
	}
	s.mu.RUnlock()

	out := make([]JobStatus, 0, len(handles))
	for _, h := range handles {
		h.mu.Lock()
		out = append(out, s.snapshot(h))
		h.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Scheduler) job(name string) (*jobHandle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("任务%s: %w", name, interfaces.ErrNotFound)
	}
	return h, nil
}

// arm 调用方持有 h.mu
func (s *Scheduler) arm(h *jobHandle, fireSoon bool) {
	s.disarm(h)
	stop := make(chan struct{})
	h.stop = stop
	interval := time.Duration(h.state.IntervalMinutes) * s.unit

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if fireSoon && s.initialDelay >= 0 {
			timer := time.NewTimer(s.initialDelay)
			select {
			case <-timer.C:
				s.tick(h)
			case <-stop:
				timer.Stop()
				return
			case <-s.ctx.Done():
				timer.Stop()
				return
			}
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.tick(h)
			case <-stop:
				return
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

// disarm 调用方持有 h.mu
func (s *Scheduler) disarm(h *jobHandle) {
	if h.stop != nil {
		close(h.stop)
		h.stop = nil
	}
}

func (s *Scheduler) disableLocked(h *jobHandle, reason string) {
	s.disarm(h)
	h.state.Enabled = false
	if reason == "" {
		h.state.DisabledReason = nil
	} else {
		r := reason
		h.state.DisabledReason = &r
	}
}

// tick 持有 h.mu 判断启用状态，停用返回后不会再有定时触发
func (s *Scheduler) tick(h *jobHandle) {
	h.mu.Lock()
	if !h.state.Enabled {
		h.mu.Unlock()
		return
	}
	started := s.launch(h, "timer")
	h.mu.Unlock()
	if !started {
		s.logger.WithField("job", h.name).Warn("上一次执行尚未结束，跳过本次定时触发")
	}
}

// launch 单飞：CAS 抢到运行标志才启动，执行结束无论成败都释放
func (s *Scheduler) launch(h *jobHandle, trigger string) bool {
	if !h.running.CompareAndSwap(false, true) {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer h.running.Store(false)
		s.execute(h, trigger)
	}()
	return true
}

func (s *Scheduler) execute(h *jobHandle, trigger string) {
	log := s.logger.WithFields(logrus.Fields{"job": h.name, "trigger": trigger})
	ctx, cancel := context.WithTimeout(s.ctx, s.runTimeout)
	defer cancel()

	if s.locker != nil {
		lease, err := s.locker.Acquire(ctx, JobLeaseKey(h.name))
		if err != nil {
			result := "error: " + err.Error()
			if errors.Is(err, ErrLeaseHeld) {
				result = "skipped: lease held"
			}
			log.WithError(err).Info("未获得任务租约，跳过本次执行")
			s.finish(ctx, h, result)
			return
		}
		defer func() {
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				log.WithError(err).Warn("释放任务租约失败")
			}
		}()
	}

	summary, err := s.runSafely(ctx, h)
	switch {
	case err == nil:
		log.WithField("result", summary).Info("任务执行完成")
		s.finish(ctx, h, summary)
	case errors.Is(err, interfaces.ErrAuthExpired):
		log.WithError(err).Error("认证失效，任务自动停用")
		s.selfDisable(ctx, h, err)
	default:
		log.WithError(err).Error("任务执行失败，等待下次调度重试")
		s.finish(ctx, h, "error: "+err.Error())
		s.audit.Record(ctx, ActionJobError, "job", h.name, model.AuditStatusError,
			map[string]interface{}{"error": err.Error(), "summary": summary})
	}
}

func (s *Scheduler) runSafely(ctx context.Context, h *jobHandle) (summary string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("任务panic: %v", r)
		}
	}()
	return h.fn(ctx)
}

func (s *Scheduler) finish(ctx context.Context, h *jobHandle, result string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	now := time.Now()
	h.state.LastRunAt = &now
	h.state.LastResult = result
	if err := s.persist(ctx, h); err != nil {
		s.logger.WithError(err).WithField("job", h.name).Error("保存任务状态失败")
	}
}

// selfDisable 认证失败：停用自身、记录原因、写审计，本轮不重试
func (s *Scheduler) selfDisable(ctx context.Context, h *jobHandle, cause error) {
	h.mu.Lock()
	now := time.Now()
	h.state.LastRunAt = &now
	h.state.LastResult = "error: " + cause.Error()
	s.disableLocked(h, DisabledReasonAuthExpired)
	if err := s.persist(ctx, h); err != nil {
		s.logger.WithError(err).WithField("job", h.name).Error("保存任务状态失败")
	}
	h.mu.Unlock()

	s.audit.Record(ctx, ActionJobAuthExpired, "job", h.name, model.AuditStatusError, map[string]interface{}{
		"error":           cause.Error(),
		"disabled_reason": DisabledReasonAuthExpired,
	})
}

// persist 调用方持有 h.mu；执行超时后也要保存状态
func (s *Scheduler) persist(ctx context.Context, h *jobHandle) error {
	state := h.state
	state.JobName = h.name
	return s.states.Save(context.WithoutCancel(ctx), &state)
}

func (s *Scheduler) snapshot(h *jobHandle) JobStatus {
	return JobStatus{
		Name:            h.name,
		Enabled:         h.state.Enabled,
		IntervalMinutes: h.state.IntervalMinutes,
		IsRunning:       h.running.Load(),
		LastPollAt:      h.state.LastRunAt,
		LastPollResult:  h.state.LastResult,
		DisabledReason:  h.state.DisabledReason,
	}
}
