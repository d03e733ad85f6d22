package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvoss/dynaflow/internal/store"
	"github.com/nvoss/dynaflow/pkg/schema"
)

// mockSchedulerStore satisfies store.Store for scheduler tests.
type mockSchedulerStore struct {
	store.Store
	mu        sync.Mutex
	plans     map[string]*schema.WorkflowPlan
	schedules map[string]*schema.Schedule
	saved     []*schema.WorkflowExecution
}

func newMockSchedulerStore() *mockSchedulerStore {
	return &mockSchedulerStore{
		plans:     make(map[string]*schema.WorkflowPlan),
		schedules: make(map[string]*schema.Schedule),
	}
}

func (m *mockSchedulerStore) GetPlan(_ context.Context, id string) (*schema.WorkflowPlan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "plan not found: %s", id)
	}
	cp := *p
	return &cp, nil
}

func (m *mockSchedulerStore) SaveExecution(_ context.Context, exec *schema.WorkflowExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, exec)
	return nil
}

func (m *mockSchedulerStore) ListSchedules(_ context.Context, filter store.ScheduleFilter) ([]*schema.Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*schema.Schedule
	for _, s := range m.schedules {
		if filter.Enabled != nil && s.Enabled != *filter.Enabled {
			continue
		}
		cp := *s
		result = append(result, &cp)
	}
	return result, nil
}

func (m *mockSchedulerStore) UpdateSchedule(_ context.Context, id string, update store.ScheduleUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schedules[id]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "schedule not found: %s", id)
	}
	if update.Enabled != nil {
		s.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		s.LastRunAt = update.LastRunAt
	}
	if update.NextRunAt != nil {
		s.NextRunAt = update.NextRunAt
	}
	if update.LastRunStatus != "" {
		s.LastRunStatus = update.LastRunStatus
	}
	return nil
}

func (m *mockSchedulerStore) getSchedule(id string) *schema.Schedule {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.schedules[id]
	return &cp
}

// mockRunner records the plans it was asked to run.
type mockRunner struct {
	mu   sync.Mutex
	runs []*schema.WorkflowPlan
	err  error
}

func (r *mockRunner) Run(_ context.Context, plan *schema.WorkflowPlan) (*schema.WorkflowExecution, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.runs = append(r.runs, plan)
	return &schema.WorkflowExecution{
		ExecutionID: "exec-1",
		WorkflowID:  plan.WorkflowID,
		Status:      schema.StatusSuccess,
		StartedAt:   time.Now().UTC(),
	}, nil
}

func (r *mockRunner) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func newTestScheduler(st store.Store, runner PlanRunner) *Scheduler {
	return NewScheduler(st, runner, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func dueSchedule(id, workflowID string) *schema.Schedule {
	past := time.Now().UTC().Add(-time.Minute)
	return &schema.Schedule{
		ID:             id,
		WorkflowID:     workflowID,
		CronExpression: "* * * * *",
		Enabled:        true,
		NextRunAt:      &past,
	}
}

func TestTick_RunsDueSchedule(t *testing.T) {
	st := newMockSchedulerStore()
	st.plans["wf-1"] = &schema.WorkflowPlan{
		WorkflowID: "wf-1",
		Name:       "scheduled",
		Steps:      []schema.ActionStep{{StepID: "a", StepType: schema.StepTypeCustom}},
	}
	st.schedules["s1"] = dueSchedule("s1", "wf-1")

	runner := &mockRunner{}
	s := newTestScheduler(st, runner)

	s.tick(context.Background())

	assert.Equal(t, 1, runner.runCount())
	require.Len(t, st.saved, 1)
	assert.Equal(t, "wf-1", st.saved[0].WorkflowID)

	updated := st.getSchedule("s1")
	assert.Equal(t, "success", updated.LastRunStatus)
	require.NotNil(t, updated.NextRunAt)
	assert.True(t, updated.NextRunAt.After(time.Now().UTC().Add(-time.Second)))
}

func TestTick_SkipsNotDueAndDisabled(t *testing.T) {
	st := newMockSchedulerStore()

	future := time.Now().UTC().Add(time.Hour)
	notDue := dueSchedule("future", "wf-1")
	notDue.NextRunAt = &future
	st.schedules["future"] = notDue

	disabled := dueSchedule("disabled", "wf-1")
	disabled.Enabled = false
	st.schedules["disabled"] = disabled

	runner := &mockRunner{}
	s := newTestScheduler(st, runner)

	s.tick(context.Background())
	assert.Equal(t, 0, runner.runCount())
}

func TestTick_ScheduleModeOverridesPlan(t *testing.T) {
	st := newMockSchedulerStore()
	st.plans["wf-1"] = &schema.WorkflowPlan{
		WorkflowID: "wf-1",
		Name:       "scheduled",
		Mode:       schema.ModeReal,
		Steps:      []schema.ActionStep{{StepID: "a", StepType: schema.StepTypeCustom}},
	}
	sched := dueSchedule("s1", "wf-1")
	sched.Mode = schema.ModeMock
	st.schedules["s1"] = sched

	runner := &mockRunner{}
	s := newTestScheduler(st, runner)
	s.tick(context.Background())

	require.Equal(t, 1, runner.runCount())
	assert.Equal(t, schema.ModeMock, runner.runs[0].Mode)
}

func TestTick_MissingPlanMarksError(t *testing.T) {
	st := newMockSchedulerStore()
	st.schedules["s1"] = dueSchedule("s1", "ghost")

	runner := &mockRunner{}
	s := newTestScheduler(st, runner)
	s.tick(context.Background())

	assert.Equal(t, 0, runner.runCount())
	assert.Equal(t, "error", st.getSchedule("s1").LastRunStatus)
}

func TestTryAcquire_Dedup(t *testing.T) {
	s := newTestScheduler(newMockSchedulerStore(), &mockRunner{})

	assert.True(t, s.tryAcquire("s1"))
	assert.False(t, s.tryAcquire("s1"))
	s.release("s1")
	assert.True(t, s.tryAcquire("s1"))
}

func TestCalculateNextRun(t *testing.T) {
	s := newTestScheduler(newMockSchedulerStore(), &mockRunner{})

	from := time.Date(2025, 6, 1, 10, 30, 0, 0, time.UTC)
	next, err := s.CalculateNextRun("0 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 11, 0, 0, 0, time.UTC), next)

	_, err = s.CalculateNextRun("not a cron", from)
	require.Error(t, err)
}

func TestStartStop(t *testing.T) {
	s := newTestScheduler(newMockSchedulerStore(), &mockRunner{})

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background())) // already started
	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop()) // idempotent

	// Can start again after a clean stop.
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop())
}
