package engine

import (
	"context"
	"fmt"

	"github.com/kce-engine/kce/pkg/audit"
	"github.com/kce-engine/kce/pkg/graph"
	"github.com/kce-engine/kce/pkg/telemetry"
)

// DefaultMaxIterations bounds the planning loop when the caller does not.
const DefaultMaxIterations = 100

// DefaultPlanner drives a run: merge initial state, stabilize, then
// iteratively check the goal, pick the first eligible operation in stable
// order, execute it, and stabilize again. A query or precondition failure is
// treated as "not satisfied", never as success.
type DefaultPlanner struct {
	log     *telemetry.Logger
	auditor audit.Logger
	metrics *telemetry.Metrics
}

// PlannerOption configures a DefaultPlanner.
type PlannerOption func(*DefaultPlanner)

// WithPlannerAuditor installs the audit sink.
func WithPlannerAuditor(a audit.Logger) PlannerOption {
	return func(p *DefaultPlanner) { p.auditor = a }
}

// WithPlannerMetrics installs the metrics collector.
func WithPlannerMetrics(m *telemetry.Metrics) PlannerOption {
	return func(p *DefaultPlanner) { p.metrics = m }
}

// NewPlanner creates a planner.
func NewPlanner(log *telemetry.Logger, opts ...PlannerOption) *DefaultPlanner {
	p := &DefaultPlanner{
		log:     log.NewComponentLogger("planner"),
		auditor: audit.NopLogger{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Solve implements Planner.
func (p *DefaultPlanner) Solve(ctx context.Context, req SolveRequest) ExecutionResult {
	log := p.log.WithRunID(req.RunID)
	maxIterations := req.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}

	p.auditor.LogEvent(audit.Event{
		RunID:  req.RunID,
		Type:   "solve",
		Status: audit.StatusStarted,
		Inputs: map[string]any{
			"initial_statements": len(req.Initial),
			"max_iterations":     maxIterations,
		},
	})

	var plan ExecutionPlan

	if len(req.Initial) > 0 {
		if _, err := req.Knowledge.Merge(req.Initial, RunContext(req.RunID)+":initial"); err != nil {
			return p.finish(req, failureResult(req.RunID,
				fmt.Sprintf("merging initial state: %v", err), plan, -1), 0)
		}
	}
	if err := p.stabilize(ctx, req); err != nil {
		return p.finish(req, failureResult(req.RunID,
			fmt.Sprintf("initial stabilization: %v", err), plan, -1), 0)
	}

	for iteration := 1; iteration <= maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return p.finish(req, failureResult(req.RunID,
				fmt.Sprintf("solve cancelled: %v", err), plan, -1), iteration)
		}

		held, err := req.Knowledge.Ask(req.Goal)
		if err != nil {
			// Goal probe errors never count as satisfaction.
			log.WithError(err).Warn("goal query failed, treating as unsatisfied")
			held = false
		}
		if held {
			log.WithField("iterations", iteration).WithField("plan_length", len(plan)).
				Info("goal satisfied")
			r := successResult(req.RunID, "goal satisfied", plan)
			r.Iterations = iteration
			return p.finish(req, r, iteration)
		}

		opID, found := p.selectOperation(req, log)
		if !found {
			r := failureResult(req.RunID,
				"no executable operation found and goal not satisfied", plan, -1)
			r.Iterations = iteration
			return p.finish(req, r, iteration)
		}

		step := PlanStep{Kind: StepOperation, OperationID: opID}
		plan = append(plan, step)
		log.WithOperation(opID.IRI).WithField("iteration", iteration).Info("executing operation")

		res := req.Executor.ExecutePlan(ctx, ExecutionPlan{step}, req.RunID, req.Knowledge)
		if !res.Succeeded() {
			r := failureResult(req.RunID, res.Message, plan, len(plan)-1)
			r.Iterations = iteration
			return p.finish(req, r, iteration)
		}

		if err := p.stabilize(ctx, req); err != nil {
			r := failureResult(req.RunID,
				fmt.Sprintf("stabilization after %s: %v", opID.IRI, err), plan, -1)
			r.Iterations = iteration
			return p.finish(req, r, iteration)
		}
	}

	err := NewDepthExceededError(maxIterations)
	r := failureResult(req.RunID, err.Error(), plan, -1)
	r.Iterations = maxIterations
	return p.finish(req, r, maxIterations)
}

// selectOperation returns the first operation, in ascending identifier order,
// whose precondition holds. Operations without a precondition are always
// eligible. Definition or query failures while probing a candidate count as
// not eligible.
func (p *DefaultPlanner) selectOperation(req SolveRequest, log *telemetry.Logger) (graph.Term, bool) {
	ids, err := ListOperationIDs(req.Knowledge)
	if err != nil {
		log.WithError(err).Warn("listing operations failed")
		return graph.Term{}, false
	}
	for _, id := range ids {
		op, err := LoadOperation(req.Knowledge, id)
		if err != nil {
			log.WithError(err).WithOperation(id.IRI).Warn("skipping undecodable operation")
			continue
		}
		if op.Precondition == nil {
			return id, true
		}
		held, err := req.Knowledge.Ask(*op.Precondition)
		if err != nil {
			log.WithError(err).WithOperation(id.IRI).Warn("precondition query failed, treating as not met")
			continue
		}
		if held {
			return id, true
		}
	}
	return graph.Term{}, false
}

// stabilize runs one settlement round: reason, one rule pass, and a second
// reasoning pass only if the rules changed anything. Deliberately not a
// fixpoint; repeated planner iterations converge instead.
func (p *DefaultPlanner) stabilize(ctx context.Context, req SolveRequest) error {
	if err := req.Knowledge.Reason(); err != nil {
		return NewQueryError("reasoning", err)
	}
	changed, err := req.Rules.ApplyRules(ctx, req.Knowledge, req.RunID)
	if err != nil {
		return err
	}
	if changed {
		if err := req.Knowledge.Reason(); err != nil {
			return NewQueryError("reasoning after rules", err)
		}
	}
	return nil
}

func (p *DefaultPlanner) finish(req SolveRequest, r ExecutionResult, iterations int) ExecutionResult {
	status := audit.StatusSucceeded
	if !r.Succeeded() {
		status = audit.StatusFailed
	}
	p.metrics.SolveCompleted(string(r.Status), iterations)
	p.auditor.LogEvent(audit.Event{
		RunID:   req.RunID,
		Type:    "solve",
		Status:  status,
		Message: r.Message,
		Outputs: map[string]any{
			"iterations":  iterations,
			"plan_length": len(r.Plan),
		},
	})
	return r
}
