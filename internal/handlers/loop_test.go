package handlers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nvoss/dynaflow/pkg/schema"
)

func loopStep(config map[string]any) schema.ActionStep {
	return schema.ActionStep{StepID: "loop", StepType: schema.StepTypeLoop, Config: config}
}

func TestExecuteLoop_ListFromResultEnvelope(t *testing.T) {
	d := newTestDispatcher(t, nil)
	results := map[string]any{
		"fetch": map[string]any{"result": []any{"a", "b", "c"}},
	}

	result := d.Execute(context.Background(), loopStep(map[string]any{"source": "fetch"}), results, schema.ModeReal)

	assert.Equal(t, "success", result["status"])
	assert.Equal(t, 3, result["iterations"])

	records := result["results"].([]any)
	assert.Equal(t, map[string]any{"item": "a", "processed": true}, records[0])
	assert.Equal(t, map[string]any{"item": "c", "processed": true}, records[2])
}

func TestExecuteLoop_NonListWrappedAsSingleItem(t *testing.T) {
	d := newTestDispatcher(t, nil)
	results := map[string]any{
		"fetch": map[string]any{"result": "only"},
	}

	result := d.Execute(context.Background(), loopStep(map[string]any{"source": "fetch"}), results, schema.ModeReal)

	assert.Equal(t, 1, result["iterations"])
	records := result["results"].([]any)
	assert.Equal(t, map[string]any{"item": "only", "processed": true}, records[0])
}

func TestExecuteLoop_RawListSource(t *testing.T) {
	d := newTestDispatcher(t, nil)
	results := map[string]any{"fetch": []any{1, 2}}

	result := d.Execute(context.Background(), loopStep(map[string]any{"source": "fetch"}), results, schema.ModeReal)
	assert.Equal(t, 2, result["iterations"])
}

func TestExecuteLoop_MissingSourceYieldsEmpty(t *testing.T) {
	d := newTestDispatcher(t, nil)

	tests := []struct {
		name    string
		config  map[string]any
		results map[string]any
	}{
		{"no source key", map[string]any{}, nil},
		{"source not in results", map[string]any{"source": "ghost"}, map[string]any{}},
		{"map source without result envelope", map[string]any{"source": "fetch"},
			map[string]any{"fetch": map[string]any{"status": 200}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := d.Execute(context.Background(), loopStep(tt.config), tt.results, schema.ModeReal)
			assert.Equal(t, 0, result["iterations"])
			assert.Empty(t, result["results"])
		})
	}
}

func TestExecuteLoop_MockFixedIterations(t *testing.T) {
	d := newTestDispatcher(t, nil)

	result := d.Execute(context.Background(), loopStep(map[string]any{"source": "x"}), nil, schema.ModeMock)
	assert.Equal(t, 5, result["iterations"])
	assert.Equal(t, true, result["mock"])
}
