package service

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"SyncHub/internal/interfaces"
	"SyncHub/internal/repository"
	"SyncHub/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, opts ...SchedulerOption) (*Scheduler, repository.JobStateRepository, *testutil.MemoryAudit) {
	db := testutil.NewDB(t)
	states := repository.NewJobStateRepository(db)
	audit := &testutil.MemoryAudit{}
	opts = append([]SchedulerOption{WithInitialDelay(-1), WithRunTimeout(5 * time.Second)}, opts...)
	s := NewScheduler(states, audit, testutil.NewLogger(), opts...)
	t.Cleanup(s.Stop)
	return s, states, audit
}

func TestScheduler_TriggerIsSingleFlight(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	release := make(chan struct{})
	var runs atomic.Int32
	s.Register("procore_projects", func(ctx context.Context) (string, error) {
		runs.Add(1)
		<-release
		return "fetched=1", nil
	}, JobDefaults{Enabled: false, IntervalMinutes: 15})
	require.NoError(t, s.Start(context.Background()))

	started, err := s.Trigger("procore_projects")
	require.NoError(t, err)
	assert.True(t, started)

	started, err = s.Trigger("procore_projects")
	require.NoError(t, err)
	assert.False(t, started, "运行中再次触发应返回 already_running")

	st, err := s.Status("procore_projects")
	require.NoError(t, err)
	assert.True(t, st.IsRunning)

	close(release)
	assert.Eventually(t, func() bool {
		st, _ := s.Status("procore_projects")
		return !st.IsRunning && st.LastPollResult == "fetched=1"
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 1, runs.Load())

	started, err = s.Trigger("procore_projects")
	require.NoError(t, err)
	assert.True(t, started)
}

func TestScheduler_AuthExpiredSelfDisables(t *testing.T) {
	s, states, audit := newTestScheduler(t)
	s.Register("hubspot_deals", func(ctx context.Context) (string, error) {
		return "fetched=0", fmt.Errorf("拉取失败: %w", interfaces.ErrAuthExpired)
	}, JobDefaults{Enabled: true, IntervalMinutes: 15})
	require.NoError(t, s.Start(context.Background()))

	_, err := s.Trigger("hubspot_deals")
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		st, _ := s.Status("hubspot_deals")
		return !st.Enabled && !st.IsRunning
	}, 2*time.Second, 10*time.Millisecond)

	st, err := s.Status("hubspot_deals")
	require.NoError(t, err)
	require.NotNil(t, st.DisabledReason)
	assert.Equal(t, DisabledReasonAuthExpired, *st.DisabledReason)
	require.NotNil(t, st.LastPollAt)

	stored, err := states.Get(context.Background(), "hubspot_deals")
	require.NoError(t, err)
	assert.False(t, stored.Enabled)
	require.NotNil(t, stored.DisabledReason)
	assert.Equal(t, DisabledReasonAuthExpired, *stored.DisabledReason)
	assert.Eventually(t, func() bool { return len(audit.Actions(ActionJobAuthExpired)) == 1 }, time.Second, 10*time.Millisecond)

	// 重新启用清除停用原因
	st, err = s.Enable(context.Background(), "hubspot_deals", 0)
	require.NoError(t, err)
	assert.True(t, st.Enabled)
	assert.Nil(t, st.DisabledReason)
}

func TestScheduler_ErrorKeepsJobEnabled(t *testing.T) {
	s, _, audit := newTestScheduler(t)
	s.Register("companycam_projects", func(ctx context.Context) (string, error) {
		return "", errors.New("timeout")
	}, JobDefaults{Enabled: true, IntervalMinutes: 15})
	require.NoError(t, s.Start(context.Background()))

	_, err := s.Trigger("companycam_projects")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		st, _ := s.Status("companycam_projects")
		return st.LastPollResult == "error: timeout"
	}, 2*time.Second, 10*time.Millisecond)

	st, err := s.Status("companycam_projects")
	require.NoError(t, err)
	assert.True(t, st.Enabled)
	assert.Eventually(t, func() bool { return len(audit.Actions(ActionJobError)) == 1 }, time.Second, 10*time.Millisecond)
}

func TestScheduler_ConfigurePersistsAndReloads(t *testing.T) {
	db := testutil.NewDB(t)
	states := repository.NewJobStateRepository(db)
	noop := func(ctx context.Context) (string, error) { return "ok", nil }

	s := NewScheduler(states, &testutil.MemoryAudit{}, testutil.NewLogger(), WithInitialDelay(-1))
	s.Register("procore_projects", noop, JobDefaults{Enabled: false, IntervalMinutes: 15})
	require.NoError(t, s.Start(context.Background()))

	st, err := s.Configure(context.Background(), "procore_projects", true, 30)
	require.NoError(t, err)
	assert.True(t, st.Enabled)
	assert.Equal(t, 30, st.IntervalMinutes)
	s.Stop()

	// 重启后以库中状态为准，忽略注册时的默认值
	s2 := NewScheduler(states, &testutil.MemoryAudit{}, testutil.NewLogger(), WithInitialDelay(-1))
	t.Cleanup(s2.Stop)
	s2.Register("procore_projects", noop, JobDefaults{Enabled: false, IntervalMinutes: 15})
	require.NoError(t, s2.Start(context.Background()))
	st, err = s2.Status("procore_projects")
	require.NoError(t, err)
	assert.True(t, st.Enabled)
	assert.Equal(t, 30, st.IntervalMinutes)

	st, err = s2.Configure(context.Background(), "procore_projects", false, 0)
	require.NoError(t, err)
	assert.False(t, st.Enabled)
	assert.Nil(t, st.DisabledReason)
	stored, err := states.Get(context.Background(), "procore_projects")
	require.NoError(t, err)
	assert.False(t, stored.Enabled)
	assert.Equal(t, 30, stored.IntervalMinutes)
}

func TestScheduler_TimerFiresRepeatedly(t *testing.T) {
	s, _, _ := newTestScheduler(t, WithInitialDelay(0), WithIntervalUnit(20*time.Millisecond))
	var runs atomic.Int32
	s.Register("hubspot_deals", func(ctx context.Context) (string, error) {
		runs.Add(1)
		return "ok", nil
	}, JobDefaults{Enabled: true, IntervalMinutes: 1})
	require.NoError(t, s.Start(context.Background()))

	assert.Eventually(t, func() bool { return runs.Load() >= 3 }, 2*time.Second, 10*time.Millisecond)

	_, err := s.Disable(context.Background(), "hubspot_deals", "")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		st, _ := s.Status("hubspot_deals")
		return !st.IsRunning
	}, time.Second, 10*time.Millisecond)
	after := runs.Load()
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, after, runs.Load(), "停用后不再触发")
}

func TestScheduler_UnknownJobAndInvalidInterval(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	s.Register("reconcile", func(ctx context.Context) (string, error) { return "", nil }, JobDefaults{})
	require.NoError(t, s.Start(context.Background()))

	_, err := s.Trigger("nope")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	_, err = s.Enable(context.Background(), "reconcile", 0)
	assert.ErrorIs(t, err, ErrInvalidInterval)

	list := s.List()
	require.Len(t, list, 1)
	assert.Equal(t, "reconcile", list[0].Name)
}

func TestScheduler_LeaseHeldSkipsRun(t *testing.T) {
	s, _, _ := newTestScheduler(t, WithLocker(heldLocker{}))
	var runs atomic.Int32
	s.Register("reconcile", func(ctx context.Context) (string, error) {
		runs.Add(1)
		return "ok", nil
	}, JobDefaults{Enabled: false, IntervalMinutes: 15})
	require.NoError(t, s.Start(context.Background()))

	_, err := s.Trigger("reconcile")
	require.NoError(t, err)
	assert.Eventually(t, func() bool {
		st, _ := s.Status("reconcile")
		return st.LastPollResult == "skipped: lease held"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, runs.Load())
}

type heldLocker struct{}

func (heldLocker) Acquire(context.Context, string) (Lease, error) { return nil, ErrLeaseHeld }
