package handlers

import (
	"context"
	"encoding/json"
	"reflect"
	"strconv"

	"github.com/nvoss/dynaflow/pkg/schema"
)

// executeCondition evaluates a comparison and reports it under condition_met.
// Two forms are supported: the classic left/operator/right comparison, and an
// expression config evaluated by CEL (default) or Expr, selected by the
// language key.
func (d *Dispatcher) executeCondition(ctx context.Context, step schema.ActionStep, results map[string]any, mode schema.RunMode) map[string]any {
	config := step.Config

	if mode == schema.ModeMock {
		return map[string]any{"status": "success", "mock": true, "condition_met": true}
	}

	if expression := stringConfig(config, "expression", ""); expression != "" {
		return d.evaluateExpression(ctx, expression, stringConfig(config, "language", "cel"), results)
	}

	left := config["left"]
	operator := stringConfig(config, "operator", "==")
	right := config["right"]

	if s, ok := left.(string); ok {
		resolved, err := d.resolver.TemplateString(s, results)
		if err != nil {
			return errResult("Condition error: %s", err.Error())
		}
		left = resolved
	}

	var met bool
	switch operator {
	case "==":
		met = looseEqual(left, right)
	case "!=":
		met = !looseEqual(left, right)
	case ">", "<":
		lf, err := toFloat(left)
		if err != nil {
			return errResult("Condition error: %s", err.Error())
		}
		rf, err := toFloat(right)
		if err != nil {
			return errResult("Condition error: %s", err.Error())
		}
		if operator == ">" {
			met = lf > rf
		} else {
			met = lf < rf
		}
	default:
		return errResult("Condition error: unsupported operator %q", operator)
	}

	return map[string]any{"status": "success", "condition_met": met}
}

// evaluateExpression runs an expression-form condition through the selected
// engine. The result must be a boolean.
func (d *Dispatcher) evaluateExpression(ctx context.Context, expression, language string, results map[string]any) map[string]any {
	data := map[string]any{"steps": results}

	var (
		value any
		err   error
	)
	switch language {
	case "cel":
		value, err = d.cel.Evaluate(ctx, expression, data)
	case "expr":
		value, err = d.expr.Evaluate(ctx, expression, data)
	default:
		return errResult("Condition error: unknown expression language %q", language)
	}
	if err != nil {
		return errResult("Condition error: %s", err.Error())
	}

	met, ok := value.(bool)
	if !ok {
		return errResult("Condition error: expression %q did not evaluate to a boolean (got %T)", expression, value)
	}
	return map[string]any{"status": "success", "condition_met": met}
}

// looseEqual compares two values with numeric normalization: an int and a
// float carrying the same value compare equal, as JSON decoding may produce
// either.
func looseEqual(a, b any) bool {
	af, aErr := toFloatStrict(a)
	bf, bErr := toFloatStrict(b)
	if aErr == nil && bErr == nil {
		return af == bf
	}
	return reflect.DeepEqual(a, b)
}

// toFloatStrict converts numeric types only; strings are not parsed.
func toFloatStrict(v any) (float64, error) {
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	default:
		return 0, schema.NewErrorf(schema.ErrCodeValidation, "not a number: %v", v)
	}
}

// toFloat converts numbers and numeric strings to float64 for ordering
// comparisons. Non-numeric input is an error, which fails the step.
func toFloat(v any) (float64, error) {
	if f, err := toFloatStrict(v); err == nil {
		return f, nil
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, schema.NewErrorf(schema.ErrCodeValidation, "could not convert %q to float", s)
		}
		return f, nil
	}
	return 0, schema.NewErrorf(schema.ErrCodeValidation, "could not convert %v (%T) to float", v, v)
}
