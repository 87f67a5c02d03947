// Package graph compiles survey templates into question/answer node graphs
// and executes them one node at a time.
//
// Control flow lives in state.CurrentStep, not in edge predicates: each node
// rewrites the cursor and the runner dispatches on it. That keeps backward
// jumps (a CONDITION branching to an earlier step) as cheap as forward ones.
package graph

import (
	"fmt"

	"github.com/surveyease/surveyease/pkg/models"
	"github.com/surveyease/surveyease/pkg/state"
)

// Graph is a compiled template: the resolved steps plus the set of legal
// node labels.
type Graph struct {
	steps []models.Step
}

// Compile validates the steps and builds the graph. A template with no steps
// or a CONDITION step without exactly two branches is rejected here, before
// any session state exists.
func Compile(steps []models.Step) (*Graph, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("cannot compile a template with no steps")
	}
	for i, step := range steps {
		if step.Type == models.StepCondition && len(step.Branches) < 2 {
			return nil, fmt.Errorf("step %d: condition steps need two branches, got %d", i, len(step.Branches))
		}
	}
	return &Graph{steps: steps}, nil
}

// Steps returns the compiled step list.
func (g *Graph) Steps() []models.Step {
	return g.steps
}

// ValidLabel reports whether a node label addresses a node of this graph.
func (g *Graph) ValidLabel(label state.NodeLabel) bool {
	if label.Kind == state.NodeEnd {
		return true
	}
	return label.Index >= 0 && label.Index < len(g.steps)
}
