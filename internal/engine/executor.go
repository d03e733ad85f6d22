package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/nvoss/dynaflow/internal/handlers"
	"github.com/nvoss/dynaflow/internal/logging"
	"github.com/nvoss/dynaflow/pkg/schema"
)

// WorkflowState is the run-scoped accumulation of step results plus the
// first error encountered. It is owned exclusively by one run; results are
// merged monotonically and a step's result is never overwritten.
type WorkflowState struct {
	StepResults map[string]any
	Error       string
}

// Executor walks a plan's graph sequentially, invoking each step's handler
// and recording the outcome into a WorkflowExecution. A single Executor may
// serve many concurrent runs: each run gets its own WorkflowState and the
// only shared collaborators (dispatcher, plugin registry) are read-only.
type Executor struct {
	dispatcher *handlers.Dispatcher
	logger     *slog.Logger
	newID      func() string
	now        func() time.Time
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the executor logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithClock overrides the time source (tests).
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// WithIDGenerator overrides execution ID generation (tests).
func WithIDGenerator(fn func() string) ExecutorOption {
	return func(e *Executor) { e.newID = fn }
}

// NewExecutor creates an Executor dispatching steps through the given
// Dispatcher.
func NewExecutor(d *handlers.Dispatcher, opts ...ExecutorOption) *Executor {
	e := &Executor{
		dispatcher: d,
		logger:     slog.Default(),
		newID:      uuid.NewString,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes the plan and returns its WorkflowExecution record.
// Build failures (duplicate step IDs, unknown dependencies) are returned as
// errors and no execution is recorded. Handler failures terminate the run:
// the error is recorded as "<step_id>: <message>", every downstream step is
// short-circuited, and the execution finalizes as failed.
func (e *Executor) Run(ctx context.Context, plan *schema.WorkflowPlan) (*schema.WorkflowExecution, error) {
	graph, err := BuildGraph(plan)
	if err != nil {
		return nil, err
	}

	mode := plan.Mode
	if mode == "" {
		mode = schema.ModeReal
	}

	workflowID := plan.WorkflowID
	if workflowID == "" {
		workflowID = schema.WorkflowIDAdHoc
	}

	execution := &schema.WorkflowExecution{
		ExecutionID: e.newID(),
		WorkflowID:  workflowID,
		Status:      schema.StatusRunning,
		StartedAt:   e.now(),
	}

	ctx = logging.WithExecutionID(ctx, execution.ExecutionID)
	e.logger.InfoContext(ctx, "run started",
		slog.String("plan", plan.Name),
		slog.String("mode", string(mode)),
		slog.Int("steps", len(graph.Order)))

	state := &WorkflowState{StepResults: make(map[string]any, len(graph.Order))}

	for _, stepID := range graph.Order {
		step := graph.Steps[stepID]
		stepCtx := logging.WithStepID(ctx, stepID)

		// Short-circuit: once the run has failed, downstream nodes
		// propagate the halted state without invoking their handlers.
		if state.Error != "" {
			e.logger.DebugContext(stepCtx, "step skipped after failure")
			continue
		}

		e.logger.InfoContext(stepCtx, "step started",
			slog.String("type", string(step.StepType)),
			slog.String("description", step.Description))

		result := e.dispatcher.Execute(stepCtx, step, state.StepResults, mode)

		if msg, failed := handlerError(result); failed {
			state.Error = fmt.Sprintf("%s: %s", stepID, msg)
			e.logger.ErrorContext(stepCtx, "step failed", slog.String("error", msg))
			continue
		}

		state.StepResults[stepID] = result
		e.logger.InfoContext(stepCtx, "step completed")
	}

	completed := e.now()
	execution.CompletedAt = &completed
	execution.StepResults = state.StepResults
	execution.Error = state.Error
	if state.Error == "" {
		execution.Status = schema.StatusSuccess
	} else {
		execution.Status = schema.StatusFailed
	}

	e.logger.InfoContext(ctx, "run finished", slog.String("status", string(execution.Status)))
	return execution, nil
}

// handlerError inspects a handler result for the {"error": message} failure
// shape.
func handlerError(result map[string]any) (string, bool) {
	v, ok := result["error"]
	if !ok || v == nil {
		return "", false
	}
	msg := fmt.Sprintf("%v", v)
	if msg == "" {
		return "", false
	}
	return msg, true
}
