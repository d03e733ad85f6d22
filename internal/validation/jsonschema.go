// Package validation checks plans against a JSON Schema before they are
// stored or executed. Graph-level rules (dependency direction, cycles) stay in
// the engine; this layer catches shape problems early with readable messages.
package validation

import (
	"encoding/json"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/nvoss/dynaflow/pkg/schema"
)

// planSchemaJSON is the JSON Schema for WorkflowPlan validation.
// Embedded as a constant to avoid filesystem dependencies.
const planSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://dynaflow.dev/schemas/plan.json",
  "type": "object",
  "required": ["name", "steps"],
  "properties": {
    "workflow_id": { "type": "string" },
    "name": {
      "type": "string",
      "minLength": 1
    },
    "description": { "type": "string" },
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": { "$ref": "#/$defs/step" }
    },
    "mode": {
      "type": "string",
      "enum": ["real", "mock"]
    },
    "tags": {
      "type": "array",
      "items": { "type": "string" }
    }
  },
  "additionalProperties": false,
  "$defs": {
    "step": {
      "type": "object",
      "required": ["step_id", "step_type"],
      "properties": {
        "step_id": {
          "type": "string",
          "minLength": 1
        },
        "step_type": {
          "type": "string",
          "enum": ["http_request", "transform", "condition", "loop", "wait", "plugin", "custom"]
        },
        "description": { "type": "string" },
        "config": { "type": "object" },
        "depends_on": {
          "type": "array",
          "items": { "type": "string" }
        },
        "plugin_name": { "type": "string" }
      },
      "additionalProperties": false
    }
  }
}`

// PlanValidator validates plans against the embedded JSON Schema.
// It is safe for concurrent use.
type PlanValidator struct {
	planSchema *jsonschema.Schema
}

// NewPlanValidator compiles the plan schema.
func NewPlanValidator() (*PlanValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	schemaDoc, err := jsonschema.UnmarshalJSON(strings.NewReader(planSchemaJSON))
	if err != nil {
		return nil, fmt.Errorf("unmarshal plan schema: %w", err)
	}
	if err := c.AddResource("https://dynaflow.dev/schemas/plan.json", schemaDoc); err != nil {
		return nil, fmt.Errorf("add plan schema resource: %w", err)
	}

	compiled, err := c.Compile("https://dynaflow.dev/schemas/plan.json")
	if err != nil {
		return nil, fmt.Errorf("compile plan schema: %w", err)
	}

	return &PlanValidator{planSchema: compiled}, nil
}

// ValidatePlan validates a plan's shape.
// Steps must also satisfy rules the schema cannot express: step IDs must be
// unique and plugin steps need a plugin_name.
func (v *PlanValidator) ValidatePlan(plan *schema.WorkflowPlan) error {
	if plan == nil {
		return schema.NewError(schema.ErrCodeValidation, "plan is nil")
	}

	doc, err := toJSONValue(plan)
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, "failed to serialize plan").WithCause(err)
	}

	if err := v.planSchema.Validate(doc); err != nil {
		return toFlowError(err)
	}

	seen := make(map[string]struct{}, len(plan.Steps))
	for _, step := range plan.Steps {
		if _, exists := seen[step.StepID]; exists {
			return schema.NewErrorf(schema.ErrCodeDuplicateStepID,
				"duplicate step_id: %s", step.StepID)
		}
		seen[step.StepID] = struct{}{}

		if step.StepType == schema.StepTypePlugin && step.PluginName == "" {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"step %s: plugin steps require plugin_name", step.StepID).WithStep(step.StepID)
		}
	}

	return nil
}

// toJSONValue round-trips a Go value through JSON encoding/decoding so that
// numeric values become json.Number (required by the jsonschema library).
func toJSONValue(v any) (any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return jsonschema.UnmarshalJSON(strings.NewReader(string(b)))
}

// toFlowError converts a jsonschema.ValidationError into a FlowError carrying
// the individual violations as details.
func toFlowError(err error) *schema.FlowError {
	verr, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}

	violations := collectViolations(verr)
	if len(violations) == 0 {
		return schema.NewError(schema.ErrCodeValidation, verr.Error())
	}

	if len(violations) == 1 {
		return schema.NewError(schema.ErrCodeValidation, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}

	msg := fmt.Sprintf("validation failed with %d errors", len(violations))
	return schema.NewError(schema.ErrCodeValidation, msg).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf error
// messages with their instance locations.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/"
		if len(verr.InstanceLocation) > 0 {
			loc = "/" + strings.Join(verr.InstanceLocation, "/")
		}
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}
