package scheduler

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/okonma/flowrail/internal/store"
)

type fakeRunner struct {
	mu   sync.Mutex
	runs []string
	vars []map[string]any
	err  error
}

func (f *fakeRunner) RunWorkflow(_ context.Context, workflowName string, variables map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, workflowName)
	f.vars = append(f.vars, variables)
	return f.err
}

func (f *fakeRunner) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

func newTestScheduler(t *testing.T) (*Scheduler, *store.MemoryStore, *fakeRunner) {
	t.Helper()
	mem := store.NewMemoryStore()
	runner := &fakeRunner{}
	return New(mem, runner, nil), mem, runner
}

func TestCalculateNextRun(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	from := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)
	next, err := s.CalculateNextRun("0 9 * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC), next)
}

func TestCalculateNextRun_InvalidExpression(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	_, err := s.CalculateNextRun("not a cron", time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a cron")
}

func TestCreateSchedule(t *testing.T) {
	s, mem, _ := newTestScheduler(t)

	sched, err := s.CreateSchedule(context.Background(), "nightly-review", "0 2 * * *",
		json.RawMessage(`{"depth":"full"}`))
	require.NoError(t, err)
	assert.NotEmpty(t, sched.ID)
	assert.True(t, sched.Enabled)
	require.NotNil(t, sched.NextRunAt)
	assert.True(t, sched.NextRunAt.After(time.Now().UTC()))

	stored, err := mem.GetSchedule(context.Background(), sched.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly-review", stored.WorkflowName)
}

func TestCreateSchedule_RejectsBadCron(t *testing.T) {
	s, _, _ := newTestScheduler(t)
	_, err := s.CreateSchedule(context.Background(), "x", "99 99 * * *", nil)
	require.Error(t, err)
}

func TestTick_RunsDueSchedules(t *testing.T) {
	s, mem, runner := newTestScheduler(t)

	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, mem.CreateSchedule(context.Background(), &store.Schedule{
		ID: "due", WorkflowName: "nightly-review", CronExpression: "0 2 * * *",
		Params: json.RawMessage(`{"depth":"full"}`), Enabled: true, NextRunAt: &past,
	}))
	future := time.Now().UTC().Add(time.Hour)
	require.NoError(t, mem.CreateSchedule(context.Background(), &store.Schedule{
		ID: "later", WorkflowName: "weekly-report", CronExpression: "0 2 * * 0",
		Enabled: true, NextRunAt: &future,
	}))

	s.Tick(context.Background())

	require.Equal(t, 1, runner.count())
	assert.Equal(t, "nightly-review", runner.runs[0])
	assert.Equal(t, map[string]any{"depth": "full"}, runner.vars[0])

	// Timestamps advance past now so the next tick does not re-run it.
	updated, err := mem.GetSchedule(context.Background(), "due")
	require.NoError(t, err)
	assert.Equal(t, "success", updated.LastRunStatus)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.After(time.Now().UTC()))
}

func TestTick_SkipsDisabled(t *testing.T) {
	s, mem, runner := newTestScheduler(t)

	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, mem.CreateSchedule(context.Background(), &store.Schedule{
		ID: "off", WorkflowName: "nightly-review", CronExpression: "0 2 * * *",
		Enabled: false, NextRunAt: &past,
	}))

	s.Tick(context.Background())
	assert.Equal(t, 0, runner.count())
}

func TestTick_RecordsRunnerFailure(t *testing.T) {
	s, mem, runner := newTestScheduler(t)
	runner.err = assert.AnError

	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, mem.CreateSchedule(context.Background(), &store.Schedule{
		ID: "failing", WorkflowName: "nightly-review", CronExpression: "0 2 * * *",
		Enabled: true, NextRunAt: &past,
	}))

	s.Tick(context.Background())

	updated, err := mem.GetSchedule(context.Background(), "failing")
	require.NoError(t, err)
	assert.Equal(t, "error", updated.LastRunStatus)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.After(time.Now().UTC()))
}

func TestRecoverMissed(t *testing.T) {
	s, mem, runner := newTestScheduler(t)

	missed := time.Now().UTC().Add(-3 * time.Hour)
	require.NoError(t, mem.CreateSchedule(context.Background(), &store.Schedule{
		ID: "missed", WorkflowName: "nightly-review", CronExpression: "0 2 * * *",
		Enabled: true, NextRunAt: &missed,
	}))

	require.NoError(t, s.RecoverMissed(context.Background()))
	assert.Equal(t, 1, runner.count())
}

func TestStartStop(t *testing.T) {
	s, _, _ := newTestScheduler(t)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())

	// Restartable after a clean stop.
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}
