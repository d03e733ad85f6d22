package handlers

import (
	"github.com/nvoss/dynaflow/pkg/schema"
)

// executeCustom is a no-op placeholder step type: it echoes the config back so
// downstream steps can reference it. Reserved for future extension.
func (d *Dispatcher) executeCustom(step schema.ActionStep, mode schema.RunMode) map[string]any {
	if mode == schema.ModeMock {
		return map[string]any{"status": "success", "mock": true, "custom": step.Config}
	}
	return map[string]any{"status": "success", "config": step.Config}
}
