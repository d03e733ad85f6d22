package handlers

import (
	"context"
	"strings"

	"github.com/nvoss/dynaflow/pkg/schema"
)

// executeTransform reshapes a prior step's result. Supported operations:
// template (run-state string substitution), extract_json_path / get_field
// (dot-path extraction with result/data wrapper unwrapping), and jq (a gojq
// query over the source and all step results). Any other operation returns
// the raw source data unchanged.
func (d *Dispatcher) executeTransform(ctx context.Context, step schema.ActionStep, results map[string]any, mode schema.RunMode) map[string]any {
	config := step.Config
	operation := stringConfig(config, "operation", "")

	if mode == schema.ModeMock {
		return map[string]any{"status": "success", "mock": true, "operation": operation, "result": "Mock data"}
	}

	var sourceData any = map[string]any{}
	if source := stringConfig(config, "source", ""); source != "" {
		if data, ok := results[source]; ok {
			sourceData = data
		}
	}

	switch operation {
	case "template":
		result, err := d.resolver.TemplateString(stringConfig(config, "template", ""), results)
		if err != nil {
			return errResult("Transform error: %s", err.Error())
		}
		return map[string]any{"status": "success", "result": result}

	case "extract_json_path", "get_field":
		path := stringConfig(config, "path", "")
		if path == "" {
			path = stringConfig(config, "field", "")
		}
		return map[string]any{"status": "success", "result": extractPath(sourceData, path)}

	case "jq":
		query := stringConfig(config, "query", "")
		value, err := d.jq.Evaluate(ctx, query, map[string]any{
			"steps":  results,
			"source": sourceData,
		})
		if err != nil {
			return errResult("Transform error: %s", err.Error())
		}
		return map[string]any{"status": "success", "result": value}

	default:
		return map[string]any{"status": "success", "result": sourceData}
	}
}

// extractPath walks a dot-separated path into the source data. When the source
// is a mapping wrapped in a "result" or "data" envelope, the wrapper is
// unwrapped before walking. A missing key or non-mapping value terminates the
// walk with a nil result.
func extractPath(source any, path string) any {
	value := source

	if m, ok := source.(map[string]any); ok {
		if wrapped, ok := m["result"].(map[string]any); ok {
			value = wrapped
		} else if wrapped, ok := m["data"].(map[string]any); ok {
			value = wrapped
		}
	}

	if path == "" {
		return value
	}

	for _, part := range strings.Split(path, ".") {
		m, ok := value.(map[string]any)
		if !ok {
			return nil
		}
		value, ok = m[part]
		if !ok || value == nil {
			return nil
		}
	}
	return value
}
