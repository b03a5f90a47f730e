package engine

import (
	"context"
	"fmt"

	"github.com/kce-engine/kce/pkg/audit"
	"github.com/kce-engine/kce/pkg/knowledge"
	"github.com/kce-engine/kce/pkg/telemetry"
)

// DefaultRuleEngine performs a single priority-ordered pass over all stored
// rules. It never iterates to fixpoint on its own; the planner's stabilization
// phase decides whether to re-reason.
type DefaultRuleEngine struct {
	log     *telemetry.Logger
	auditor audit.Logger
	metrics *telemetry.Metrics
}

// RuleEngineOption configures a DefaultRuleEngine.
type RuleEngineOption func(*DefaultRuleEngine)

// WithRuleEngineAuditor installs the audit sink.
func WithRuleEngineAuditor(a audit.Logger) RuleEngineOption {
	return func(e *DefaultRuleEngine) { e.auditor = a }
}

// WithRuleEngineMetrics installs the metrics collector.
func WithRuleEngineMetrics(m *telemetry.Metrics) RuleEngineOption {
	return func(e *DefaultRuleEngine) { e.metrics = m }
}

// NewRuleEngine creates a rule engine.
func NewRuleEngine(log *telemetry.Logger, opts ...RuleEngineOption) *DefaultRuleEngine {
	e := &DefaultRuleEngine{
		log:     log.NewComponentLogger("rule_engine"),
		auditor: audit.NopLogger{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ApplyRules implements RuleEngine. Rules run in priority order, highest
// first, ties broken by identifier. A failing rule is logged and skipped; it
// never aborts the pass. The returned flag reports whether the statement set
// actually changed, so a pass over an already-stabilized store returns false
// even when antecedents still hold.
func (e *DefaultRuleEngine) ApplyRules(ctx context.Context, kl knowledge.Layer, runID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, NewQueryError("rule pass cancelled", err)
	}

	rules, err := ListRules(kl)
	if err != nil {
		return false, err
	}

	log := e.log.WithRunID(runID)
	changed := false
	fired := 0

	for _, rule := range rules {
		held, err := kl.Ask(rule.Antecedent)
		if err != nil {
			// Isolation: a failing antecedent probe counts as not held.
			log.WithError(err).WithField("rule", rule.ID.IRI).Warn("antecedent query failed, skipping rule")
			e.auditor.LogEvent(audit.Event{
				RunID:   runID,
				Type:    "rule",
				Status:  audit.StatusSkipped,
				Message: fmt.Sprintf("antecedent query failed for %s: %v", rule.ID.IRI, err),
			})
			continue
		}
		if !held {
			continue
		}

		ruleChanged, err := e.applyConsequent(kl, rule)
		if err != nil {
			log.WithError(err).WithField("rule", rule.ID.IRI).Warn("consequent failed, skipping rule")
			e.auditor.LogEvent(audit.Event{
				RunID:   runID,
				Type:    "rule",
				Status:  audit.StatusSkipped,
				Message: fmt.Sprintf("consequent failed for %s: %v", rule.ID.IRI, err),
			})
			continue
		}

		fired++
		if ruleChanged {
			changed = true
			log.WithField("rule", rule.ID.IRI).WithField("priority", rule.Priority).Debug("rule fired")
		}
	}

	e.metrics.RulePass(fired)
	e.auditor.LogEvent(audit.Event{
		RunID:  runID,
		Type:   "rule-pass",
		Status: audit.StatusCompleted,
		Outputs: map[string]any{
			"rules_evaluated": len(rules),
			"rules_fired":     fired,
			"changed":         changed,
		},
	})
	return changed, nil
}

func (e *DefaultRuleEngine) applyConsequent(kl knowledge.Layer, rule Rule) (bool, error) {
	switch rule.Kind {
	case RuleKindUpdate:
		return kl.Update(*rule.Update)
	case RuleKindConstruct:
		stmts, err := kl.Construct(*rule.Construct)
		if err != nil {
			return false, err
		}
		added, err := kl.Merge(stmts, rule.ID.IRI)
		if err != nil {
			return false, err
		}
		return added > 0, nil
	default:
		return false, NewDefinitionError(fmt.Sprintf("unknown rule kind %q", rule.Kind), nil).
			WithRule(rule.ID.IRI)
	}
}
