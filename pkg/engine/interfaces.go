package engine

import (
	"context"

	"github.com/kce-engine/kce/pkg/graph"
	"github.com/kce-engine/kce/pkg/knowledge"
)

// NodeExecutor realizes a single operation's effect and returns the statement
// delta to merge. The caller merges the delta; Execute itself only mutates kl
// for direct-update operations.
type NodeExecutor interface {
	Execute(ctx context.Context, operationID graph.Term, runID string, kl knowledge.Layer, input *graph.Graph) ([]graph.Statement, error)
}

// RuleEngine performs one priority-ordered pass over all stored rules and
// reports whether the statement set changed.
type RuleEngine interface {
	ApplyRules(ctx context.Context, kl knowledge.Layer, runID string) (bool, error)
}

// PlanExecutor runs an execution plan step by step, fail-fast.
type PlanExecutor interface {
	ExecutePlan(ctx context.Context, plan ExecutionPlan, runID string, kl knowledge.Layer) ExecutionResult
}

// Planner drives a run to a terminal state: goal satisfied, stuck, step
// failure, or iteration budget exhausted.
type Planner interface {
	Solve(ctx context.Context, req SolveRequest) ExecutionResult
}

// SolveRequest carries everything a solve needs.
type SolveRequest struct {
	RunID         string
	Goal          graph.AskQuery
	Initial       []graph.Statement
	Knowledge     knowledge.Layer
	Executor      PlanExecutor
	Rules         RuleEngine
	MaxIterations int
}
