// Package engine builds the dependency graph for a plan and executes it as a
// strictly sequential walk, threading step results through the run-scoped
// state.
package engine

import (
	"github.com/nvoss/dynaflow/pkg/schema"
)

// Synthetic node IDs bounding every graph.
const (
	StartNode = "start"
	EndNode   = "end"
)

// Graph is the in-memory dependency graph of a plan: one node per step plus
// synthetic start and end nodes. Order holds the step IDs in execution order,
// which is always the declared list order (explicit depends_on edges can only
// point backward, so the declared order is a valid topological order, and it
// is the tie-break when several nodes are ready).
type Graph struct {
	Steps map[string]schema.ActionStep // step ID → definition
	Edges map[string][]string          // node ID → dependency node IDs
	Order []string                     // step IDs in execution order
}

// BuildGraph converts the plan's ordered step list into a Graph.
// Steps with explicit depends_on get one edge per listed dependency, which
// must reference an earlier step (no forward references). Steps without
// depends_on are chained after the most recently added node, so plans with no
// explicit dependencies form a strict linear chain rather than a parallel
// fan-out. That chain policy is deliberate and load-bearing: callers rely on
// list-order execution.
func BuildGraph(plan *schema.WorkflowPlan) (*Graph, error) {
	if plan == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "plan is nil")
	}
	if len(plan.Steps) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "plan has no steps")
	}

	g := &Graph{
		Steps: make(map[string]schema.ActionStep, len(plan.Steps)),
		Edges: make(map[string][]string, len(plan.Steps)+2),
		Order: make([]string, 0, len(plan.Steps)),
	}

	lastAdded := StartNode
	for _, step := range plan.Steps {
		if step.StepID == "" {
			return nil, schema.NewError(schema.ErrCodeValidation, "step has empty step_id")
		}
		if _, exists := g.Steps[step.StepID]; exists {
			return nil, schema.NewErrorf(schema.ErrCodeDuplicateStepID,
				"duplicate step_id: %s", step.StepID)
		}

		if len(step.DependsOn) > 0 {
			for _, dep := range step.DependsOn {
				if dep == step.StepID {
					return nil, schema.NewErrorf(schema.ErrCodeCycleDetected,
						"step %s depends on itself", step.StepID)
				}
				if _, exists := g.Steps[dep]; !exists {
					return nil, schema.NewErrorf(schema.ErrCodeUnknownDependency,
						"step %s depends on unknown step: %s", step.StepID, dep)
				}
				g.Edges[step.StepID] = append(g.Edges[step.StepID], dep)
			}
		} else {
			g.Edges[step.StepID] = []string{lastAdded}
		}

		g.Steps[step.StepID] = step
		g.Order = append(g.Order, step.StepID)
		lastAdded = step.StepID
	}

	g.Edges[EndNode] = []string{lastAdded}
	return g, nil
}

// Dependencies returns the dependency node IDs of the given node.
func (g *Graph) Dependencies(id string) []string {
	return g.Edges[id]
}
