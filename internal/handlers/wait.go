package handlers

import (
	"time"

	"github.com/nvoss/dynaflow/pkg/schema"
)

// executeWait blocks the run for the configured number of seconds (default 1).
// Mock mode records the intended delay without sleeping.
func (d *Dispatcher) executeWait(step schema.ActionStep, mode schema.RunMode) map[string]any {
	seconds := 1.0
	if v, ok := step.Config["seconds"]; ok {
		if f, err := toFloat(v); err == nil {
			seconds = f
		}
	}

	if mode == schema.ModeMock {
		return map[string]any{"status": "mock_wait", "seconds": seconds}
	}

	d.sleep(time.Duration(seconds * float64(time.Second)))
	return map[string]any{"status": "waited", "seconds": seconds}
}
