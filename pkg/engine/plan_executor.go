package engine

import (
	"context"
	"fmt"

	"github.com/kce-engine/kce/pkg/audit"
	"github.com/kce-engine/kce/pkg/graph"
	"github.com/kce-engine/kce/pkg/knowledge"
	"github.com/kce-engine/kce/pkg/telemetry"
)

// DefaultPlanExecutor runs plan steps in order, merging each operation's delta
// before the next step. The first failing step aborts the plan; nothing is
// rolled back.
type DefaultPlanExecutor struct {
	node    NodeExecutor
	rules   RuleEngine
	log     *telemetry.Logger
	auditor audit.Logger
	metrics *telemetry.Metrics
}

// PlanExecutorOption configures a DefaultPlanExecutor.
type PlanExecutorOption func(*DefaultPlanExecutor)

// WithPlanExecutorRules installs the rule engine used by rule-barrier steps.
func WithPlanExecutorRules(re RuleEngine) PlanExecutorOption {
	return func(e *DefaultPlanExecutor) { e.rules = re }
}

// WithPlanExecutorAuditor installs the audit sink.
func WithPlanExecutorAuditor(a audit.Logger) PlanExecutorOption {
	return func(e *DefaultPlanExecutor) { e.auditor = a }
}

// WithPlanExecutorMetrics installs the metrics collector.
func WithPlanExecutorMetrics(m *telemetry.Metrics) PlanExecutorOption {
	return func(e *DefaultPlanExecutor) { e.metrics = m }
}

// NewPlanExecutor creates a plan executor delegating operation steps to node.
func NewPlanExecutor(node NodeExecutor, log *telemetry.Logger, opts ...PlanExecutorOption) *DefaultPlanExecutor {
	e := &DefaultPlanExecutor{
		node:    node,
		log:     log.NewComponentLogger("plan_executor"),
		auditor: audit.NopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExecutePlan implements PlanExecutor.
func (e *DefaultPlanExecutor) ExecutePlan(ctx context.Context, plan ExecutionPlan, runID string, kl knowledge.Layer) ExecutionResult {
	log := e.log.WithRunID(runID)

	e.auditor.LogEvent(audit.Event{
		RunID:  runID,
		Type:   "plan",
		Status: audit.StatusStarted,
		Inputs: map[string]any{"steps": len(plan)},
	})

	for i, step := range plan {
		if err := ctx.Err(); err != nil {
			return e.fail(runID, plan, i, fmt.Sprintf("plan cancelled at step %d: %v", i, err))
		}

		if step.Kind == StepRuleBarrier {
			if e.rules == nil {
				return e.fail(runID, plan, i, fmt.Sprintf("rule barrier at step %d but no rule engine configured", i))
			}
			changed, err := e.rules.ApplyRules(ctx, kl, runID)
			if err != nil {
				e.metrics.StepExecuted(string(step.Kind), "failure")
				return e.fail(runID, plan, i, fmt.Sprintf("rule barrier at step %d failed: %v", i, err))
			}
			e.metrics.StepExecuted(string(step.Kind), "success")
			e.auditor.LogEvent(audit.Event{
				RunID:   runID,
				Type:    "step",
				Status:  audit.StatusSucceeded,
				Outputs: map[string]any{"rules_changed": changed},
			})
			continue
		}
		if step.Kind != StepOperation {
			return e.fail(runID, plan, i, fmt.Sprintf("unknown step kind %q at step %d", step.Kind, i))
		}

		stepLog := log.WithOperation(step.OperationID.IRI).WithField("step", i)
		e.auditor.LogEvent(audit.Event{
			RunID:        runID,
			Type:         "step",
			OperationRef: step.OperationID.IRI,
			Status:       audit.StatusStarted,
		})

		delta, err := e.node.Execute(ctx, step.OperationID, runID, kl, graph.New())
		if err != nil {
			e.metrics.StepExecuted(string(step.Kind), "failure")
			e.auditor.LogEvent(audit.Event{
				RunID:        runID,
				Type:         "step",
				OperationRef: step.OperationID.IRI,
				Status:       audit.StatusFailed,
				Message:      err.Error(),
			})
			return e.fail(runID, plan, i, fmt.Sprintf("step %d (%s) failed: %v", i, step.OperationID.IRI, err))
		}

		added, err := kl.Merge(delta, RunContext(runID))
		if err != nil {
			e.metrics.StepExecuted(string(step.Kind), "failure")
			return e.fail(runID, plan, i, fmt.Sprintf("merging step %d delta: %v", i, err))
		}

		e.metrics.StepExecuted(string(step.Kind), "success")
		stepLog.WithField("statements_merged", added).Debug("step completed")
		e.auditor.LogEvent(audit.Event{
			RunID:        runID,
			Type:         "step",
			OperationRef: step.OperationID.IRI,
			Status:       audit.StatusSucceeded,
			Outputs:      map[string]any{"statements_merged": added},
		})
	}

	e.auditor.LogEvent(audit.Event{
		RunID:  runID,
		Type:   "plan",
		Status: audit.StatusCompleted,
	})
	return successResult(runID, "plan executed", plan)
}

func (e *DefaultPlanExecutor) fail(runID string, plan ExecutionPlan, step int, message string) ExecutionResult {
	e.log.WithRunID(runID).Error(message)
	e.auditor.LogEvent(audit.Event{
		RunID:   runID,
		Type:    "plan",
		Status:  audit.StatusFailed,
		Message: message,
	})
	return failureResult(runID, message, plan, step)
}
