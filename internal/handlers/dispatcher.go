// Package handlers implements the per-step-type execution logic. Each handler
// is a function of (step config, accumulated results, run mode) returning a
// result map; a map carrying an "error" key signals failure. Handlers never
// let errors escape as Go errors or panics, so the executor detects failure by
// inspecting the result shape alone.
package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nvoss/dynaflow/internal/expressions"
	"github.com/nvoss/dynaflow/internal/plugins"
	"github.com/nvoss/dynaflow/internal/resolver"
	"github.com/nvoss/dynaflow/pkg/schema"
)

// requestTimeout is the fixed timeout applied uniformly to outbound calls.
const requestTimeout = 30 * time.Second

// Dispatcher routes a step to its type-specific handler.
type Dispatcher struct {
	resolver *resolver.Resolver
	registry *plugins.Registry
	client   *http.Client
	cel      *expressions.CELEngine
	expr     *expressions.ExprEngine
	jq       *expressions.JQEngine
	logger   *slog.Logger
	sleep    func(time.Duration)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used by http_request steps.
func WithHTTPClient(c *http.Client) DispatcherOption {
	return func(d *Dispatcher) { d.client = c }
}

// WithLogger sets the dispatcher logger.
func WithLogger(l *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithSleep overrides the sleep function used by wait steps (tests).
func WithSleep(fn func(time.Duration)) DispatcherOption {
	return func(d *Dispatcher) { d.sleep = fn }
}

// NewDispatcher creates a Dispatcher. The resolver and plugin registry are
// required; expression engines are built internally.
func NewDispatcher(res *resolver.Resolver, registry *plugins.Registry, opts ...DispatcherOption) *Dispatcher {
	// CEL setup only fails on invalid environment declarations, which are
	// fixed at compile time here.
	celEngine, _ := expressions.NewCELEngine()

	d := &Dispatcher{
		resolver: res,
		registry: registry,
		client:   &http.Client{Timeout: requestTimeout},
		cel:      celEngine,
		expr:     expressions.NewExprEngine(),
		jq:       expressions.NewJQEngine(),
		logger:   slog.Default(),
		sleep:    time.Sleep,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Execute runs the handler for the step's type. The results map is the
// run-scoped accumulation of prior step results and is never mutated here.
func (d *Dispatcher) Execute(ctx context.Context, step schema.ActionStep, results map[string]any, mode schema.RunMode) map[string]any {
	switch step.StepType {
	case schema.StepTypeHTTPRequest:
		return d.executeHTTPRequest(ctx, step, results, mode)
	case schema.StepTypeTransform:
		return d.executeTransform(ctx, step, results, mode)
	case schema.StepTypeCondition:
		return d.executeCondition(ctx, step, results, mode)
	case schema.StepTypeLoop:
		return d.executeLoop(step, results, mode)
	case schema.StepTypeWait:
		return d.executeWait(step, mode)
	case schema.StepTypePlugin:
		return d.executePlugin(ctx, step, mode)
	case schema.StepTypeCustom:
		return d.executeCustom(step, mode)
	default:
		return errResult("Unknown step type: %s", step.StepType)
	}
}

// errResult builds the {"error": message} failure shape.
func errResult(format string, args ...any) map[string]any {
	return map[string]any{"error": fmt.Sprintf(format, args...)}
}

// stringConfig reads a string config value, or the default when absent or of
// another type.
func stringConfig(config map[string]any, key, defaultVal string) string {
	v, ok := config[key]
	if !ok {
		return defaultVal
	}
	s, ok := v.(string)
	if !ok {
		return defaultVal
	}
	return s
}
