package handlers

import (
	"context"

	"github.com/nvoss/dynaflow/pkg/schema"
)

// executePlugin forwards the step to the named plugin from the registry.
// Mock-mode handling is delegated to the plugin itself.
func (d *Dispatcher) executePlugin(ctx context.Context, step schema.ActionStep, mode schema.RunMode) map[string]any {
	plugin, err := d.registry.Get(step.PluginName)
	if err != nil {
		return errResult("Plugin '%s' not found", step.PluginName)
	}

	action := stringConfig(step.Config, "action", "")
	return plugin.Execute(ctx, action, step.Config, mode)
}
