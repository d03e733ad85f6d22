package handlers

import (
	"github.com/nvoss/dynaflow/pkg/schema"
)

// executeLoop iterates over a prior step's result collection, emitting one
// {item, processed} record per element. A mapping source contributes its
// "result" value; a non-sequence value is treated as a single-item collection.
func (d *Dispatcher) executeLoop(step schema.ActionStep, results map[string]any, mode schema.RunMode) map[string]any {
	config := step.Config

	if mode == schema.ModeMock {
		return map[string]any{"status": "success", "mock": true, "iterations": 5}
	}

	var items any = []any{}
	if source := stringConfig(config, "source", ""); source != "" {
		if sourceData, ok := results[source]; ok {
			if m, isMap := sourceData.(map[string]any); isMap {
				if wrapped, has := m["result"]; has {
					items = wrapped
				}
			} else {
				items = sourceData
			}
		}
	}

	list, ok := items.([]any)
	if !ok {
		list = []any{items}
	}

	records := make([]any, 0, len(list))
	for _, item := range list {
		records = append(records, map[string]any{"item": item, "processed": true})
	}

	return map[string]any{"status": "success", "iterations": len(records), "results": records}
}
