package engine

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvoss/dynaflow/internal/handlers"
	"github.com/nvoss/dynaflow/internal/plugins"
	"github.com/nvoss/dynaflow/internal/resolver"
	"github.com/nvoss/dynaflow/pkg/schema"
)

func newTestExecutor(t *testing.T, dispatcherOpts ...handlers.DispatcherOption) *Executor {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	res := resolver.New(resolver.WithLogger(logger))
	opts := append([]handlers.DispatcherOption{handlers.WithLogger(logger)}, dispatcherOpts...)
	d := handlers.NewDispatcher(res, plugins.NewRegistry(), opts...)

	return NewExecutor(d,
		WithLogger(logger),
		WithIDGenerator(func() string { return "exec-1" }),
	)
}

func TestRun_MockPlanSucceeds(t *testing.T) {
	e := newTestExecutor(t)

	plan := &schema.WorkflowPlan{
		Name: "fetch and shape",
		Mode: schema.ModeMock,
		Steps: []schema.ActionStep{
			{StepID: "a", StepType: schema.StepTypeHTTPRequest,
				Config: map[string]any{"url": "https://api.example.com", "method": "GET"}},
			{StepID: "b", StepType: schema.StepTypeTransform,
				Config: map[string]any{"operation": "template", "template": "x"}},
		},
	}

	exec, err := e.Run(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, "exec-1", exec.ExecutionID)
	assert.Equal(t, schema.WorkflowIDAdHoc, exec.WorkflowID)
	assert.Equal(t, schema.StatusSuccess, exec.Status)
	assert.Empty(t, exec.Error)
	require.NotNil(t, exec.CompletedAt)
	assert.False(t, exec.CompletedAt.Before(exec.StartedAt))

	require.Len(t, exec.StepResults, 2)
	a := exec.StepResults["a"].(map[string]any)
	assert.Equal(t, 200, a["status"])
	assert.Equal(t, "Mock: GET https://api.example.com", a["message"])
	b := exec.StepResults["b"].(map[string]any)
	assert.Equal(t, "Mock data", b["result"])
}

func TestRun_HandlerFailureFailsRun(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "missing", http.StatusNotFound)
	}))
	defer srv.Close()

	e := newTestExecutor(t)

	plan := &schema.WorkflowPlan{
		Name: "failing fetch",
		Steps: []schema.ActionStep{
			{StepID: "a", StepType: schema.StepTypeHTTPRequest,
				Config: map[string]any{"url": srv.URL, "method": "GET"}},
		},
	}

	exec, err := e.Run(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, schema.StatusFailed, exec.Status)
	assert.Equal(t, "a: HTTP 404: missing\n", exec.Error)
	assert.Empty(t, exec.StepResults) // the failed step's result is not stored
}

func TestRun_ShortCircuitSkipsDownstreamHandlers(t *testing.T) {
	slept := false
	e := newTestExecutor(t, handlers.WithSleep(func(time.Duration) { slept = true }))

	plan := &schema.WorkflowPlan{
		Name: "halt propagation",
		Steps: []schema.ActionStep{
			{StepID: "a", StepType: schema.StepTypePlugin, PluginName: "ghost"},
			{StepID: "b", StepType: schema.StepTypeWait, Config: map[string]any{"seconds": 30}},
			{StepID: "c", StepType: schema.StepTypeCustom},
		},
	}

	exec, err := e.Run(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, schema.StatusFailed, exec.Status)
	assert.Equal(t, "a: Plugin 'ghost' not found", exec.Error)
	assert.False(t, slept, "downstream wait handler must not run")
	assert.Empty(t, exec.StepResults)
}

func TestRun_BuildFailureReturnsErrorWithoutExecution(t *testing.T) {
	e := newTestExecutor(t)

	plan := &schema.WorkflowPlan{
		Name: "broken",
		Steps: []schema.ActionStep{
			{StepID: "a", StepType: schema.StepTypeCustom},
			{StepID: "a", StepType: schema.StepTypeCustom},
		},
	}

	exec, err := e.Run(context.Background(), plan)
	require.Error(t, err)
	assert.Nil(t, exec)
	assert.Equal(t, schema.ErrCodeDuplicateStepID, flowCode(t, err))
}

func TestRun_PreservesWorkflowIDAndDefaultsToRealMode(t *testing.T) {
	e := newTestExecutor(t)

	plan := &schema.WorkflowPlan{
		WorkflowID: "wf-42",
		Name:       "stored plan",
		Steps: []schema.ActionStep{
			{StepID: "only", StepType: schema.StepTypeCustom, Config: map[string]any{"k": "v"}},
		},
	}

	exec, err := e.Run(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, "wf-42", exec.WorkflowID)
	only := exec.StepResults["only"].(map[string]any)
	// Real-mode custom steps echo under "config"; mock would use "custom".
	assert.Equal(t, map[string]any{"k": "v"}, only["config"])
}

func TestRun_ResultsFlowBetweenSteps(t *testing.T) {
	e := newTestExecutor(t)

	plan := &schema.WorkflowPlan{
		Name: "threading",
		Steps: []schema.ActionStep{
			{StepID: "seed", StepType: schema.StepTypeCustom,
				Config: map[string]any{"city": "Berlin"}},
			{StepID: "shape", StepType: schema.StepTypeTransform,
				Config: map[string]any{"operation": "template", "template": "city={{seed.config.city}}"}},
			{StepID: "check", StepType: schema.StepTypeCondition,
				Config: map[string]any{"left": "{{shape.result}}", "operator": "==", "right": "city=Berlin"}},
		},
	}

	exec, err := e.Run(context.Background(), plan)
	require.NoError(t, err)
	require.Equal(t, schema.StatusSuccess, exec.Status)

	check := exec.StepResults["check"].(map[string]any)
	assert.Equal(t, true, check["condition_met"])
}

func TestRun_ClockAndTerminalInvariant(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	calls := 0

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	res := resolver.New(resolver.WithLogger(logger))
	d := handlers.NewDispatcher(res, plugins.NewRegistry(), handlers.WithLogger(logger))
	e := NewExecutor(d,
		WithLogger(logger),
		WithClock(func() time.Time {
			calls++
			return base.Add(time.Duration(calls) * time.Second)
		}),
	)

	plan := &schema.WorkflowPlan{
		Name:  "clock",
		Steps: []schema.ActionStep{{StepID: "s", StepType: schema.StepTypeCustom}},
	}

	exec, err := e.Run(context.Background(), plan)
	require.NoError(t, err)

	assert.Equal(t, base.Add(time.Second), exec.StartedAt)
	require.NotNil(t, exec.CompletedAt)
	assert.True(t, exec.CompletedAt.After(exec.StartedAt))

	// Terminal invariant: success with empty error, or failed with non-empty.
	if exec.Status == schema.StatusSuccess {
		assert.Empty(t, exec.Error)
	} else {
		assert.Equal(t, schema.StatusFailed, exec.Status)
		assert.NotEmpty(t, exec.Error)
	}
}
