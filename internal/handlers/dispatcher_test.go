package handlers

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nvoss/dynaflow/internal/plugins"
	"github.com/nvoss/dynaflow/internal/resolver"
	"github.com/nvoss/dynaflow/pkg/schema"
)

func newTestDispatcher(t *testing.T, env map[string]string, opts ...DispatcherOption) *Dispatcher {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	res := resolver.New(
		resolver.WithLookup(func(name string) (string, bool) {
			v, ok := env[name]
			return v, ok
		}),
		resolver.WithLogger(logger),
	)

	base := []DispatcherOption{
		WithLogger(logger),
		WithSleep(func(time.Duration) {}),
	}
	return NewDispatcher(res, plugins.NewRegistry(), append(base, opts...)...)
}

func TestExecute_UnknownStepType(t *testing.T) {
	d := newTestDispatcher(t, nil)

	result := d.Execute(context.Background(), schema.ActionStep{
		StepID:   "x",
		StepType: schema.StepType("bogus"),
	}, nil, schema.ModeReal)

	assert.Equal(t, "Unknown step type: bogus", result["error"])
}

func TestExecuteWait(t *testing.T) {
	var slept time.Duration
	d := newTestDispatcher(t, nil, WithSleep(func(dur time.Duration) { slept = dur }))

	step := schema.ActionStep{
		StepID:   "w",
		StepType: schema.StepTypeWait,
		Config:   map[string]any{"seconds": 2},
	}

	result := d.Execute(context.Background(), step, nil, schema.ModeReal)
	assert.Equal(t, "waited", result["status"])
	assert.Equal(t, 2.0, result["seconds"])
	assert.Equal(t, 2*time.Second, slept)
}

func TestExecuteWait_Mock(t *testing.T) {
	d := newTestDispatcher(t, nil, WithSleep(func(time.Duration) {
		t.Fatal("mock wait must not sleep")
	}))

	step := schema.ActionStep{StepID: "w", StepType: schema.StepTypeWait}
	result := d.Execute(context.Background(), step, nil, schema.ModeMock)

	assert.Equal(t, "mock_wait", result["status"])
	assert.Equal(t, 1.0, result["seconds"])
}

func TestExecuteCustom_EchoesConfig(t *testing.T) {
	d := newTestDispatcher(t, nil)

	cfg := map[string]any{"key": "value"}
	step := schema.ActionStep{StepID: "c", StepType: schema.StepTypeCustom, Config: cfg}

	result := d.Execute(context.Background(), step, nil, schema.ModeReal)
	assert.Equal(t, "success", result["status"])
	assert.Equal(t, cfg, result["config"])
}

type echoPlugin struct {
	gotAction string
	gotMode   schema.RunMode
}

func (p *echoPlugin) Name() string        { return "echo" }
func (p *echoPlugin) Description() string { return "echoes its input" }
func (p *echoPlugin) AvailableActions() map[string]string {
	return map[string]string{"echo": "echo the config"}
}
func (p *echoPlugin) Execute(_ context.Context, action string, config map[string]any, mode schema.RunMode) map[string]any {
	p.gotAction = action
	p.gotMode = mode
	return map[string]any{"status": "success", "echo": config["payload"]}
}

func TestExecutePlugin(t *testing.T) {
	registry := plugins.NewRegistry()
	plugin := &echoPlugin{}
	require.NoError(t, registry.Register(plugin))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := NewDispatcher(resolver.New(resolver.WithLogger(logger)), registry, WithLogger(logger))

	step := schema.ActionStep{
		StepID:     "p",
		StepType:   schema.StepTypePlugin,
		PluginName: "echo",
		Config:     map[string]any{"action": "echo", "payload": "hi"},
	}

	result := d.Execute(context.Background(), step, nil, schema.ModeMock)
	assert.Equal(t, "hi", result["echo"])
	assert.Equal(t, "echo", plugin.gotAction)
	assert.Equal(t, schema.ModeMock, plugin.gotMode)
}

func TestExecutePlugin_NotFound(t *testing.T) {
	d := newTestDispatcher(t, nil)

	step := schema.ActionStep{
		StepID:     "p",
		StepType:   schema.StepTypePlugin,
		PluginName: "ghost",
	}

	result := d.Execute(context.Background(), step, nil, schema.ModeReal)
	assert.Equal(t, "Plugin 'ghost' not found", result["error"])
}
