// Package expressions provides pluggable expression engines used by the
// condition and transform step handlers: CEL and Expr for boolean logic, jq
// for data reshaping.
package expressions

import "context"

// Engine evaluates an expression against the run's accumulated step results.
// The data map carries a single "steps" key (step ID to result value).
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}
