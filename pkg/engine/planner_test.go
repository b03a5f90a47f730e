package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/kce-engine/kce/pkg/graph"
	"github.com/kce-engine/kce/pkg/knowledge"
	"github.com/kce-engine/kce/pkg/telemetry"
)

// directOp builds an operation whose effect is a stored update, so planner
// tests run end to end without subprocesses.
func directOp(id string, pre []graph.Pattern, update graph.Update) Operation {
	op := Operation{
		ID: ex(id),
		Invocation: Invocation{
			Kind:   InvocationDirectUpdate,
			Update: &update,
		},
	}
	if len(pre) > 0 {
		op.Precondition = &graph.AskQuery{Patterns: pre}
	}
	return op
}

func groundPattern(s, p, o graph.Term) graph.Pattern {
	return graph.P(graph.T(s), graph.T(p), graph.T(o))
}

func fact(name string) graph.Statement {
	return graph.S(ex(name), ex("holds"), graph.Boolean(true))
}

func factPattern(name string) graph.Pattern {
	return groundPattern(ex(name), ex("holds"), graph.Boolean(true))
}

func newSolveRequest(kl knowledge.Layer, goal graph.AskQuery, initial []graph.Statement) SolveRequest {
	log := telemetry.NewNopLogger()
	node := NewNodeExecutor(log)
	return SolveRequest{
		RunID:         "run-1",
		Goal:          goal,
		Initial:       initial,
		Knowledge:     kl,
		Executor:      NewPlanExecutor(node, log),
		Rules:         NewRuleEngine(log),
		MaxIterations: 20,
	}
}

func planIDs(plan ExecutionPlan) []string {
	out := make([]string, len(plan))
	for i, step := range plan {
		out[i] = step.OperationID.IRI
	}
	return out
}

func TestSolveGoalAlreadySatisfied(t *testing.T) {
	kl := knowledge.NewStore()
	req := newSolveRequest(kl,
		graph.AskQuery{Patterns: []graph.Pattern{factPattern("goal")}},
		[]graph.Statement{fact("goal")},
	)

	res := NewPlanner(telemetry.NewNopLogger()).Solve(context.Background(), req)
	if !res.Succeeded() {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Plan) != 0 {
		t.Errorf("plan = %v, want empty", planIDs(res.Plan))
	}
	if res.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", res.Iterations)
	}
}

func TestSolvePreconditionFreeOperationReachesGoal(t *testing.T) {
	op := directOp("op:finish", nil, graph.Update{
		Insert: []graph.Pattern{factPattern("goal")},
	})
	kl := storeWithOperations(t, op)
	req := newSolveRequest(kl,
		graph.AskQuery{Patterns: []graph.Pattern{factPattern("goal")}},
		nil,
	)

	res := NewPlanner(telemetry.NewNopLogger()).Solve(context.Background(), req)
	if !res.Succeeded() {
		t.Fatalf("result = %+v", res)
	}
	if got := planIDs(res.Plan); len(got) != 1 || got[0] != ex("op:finish").IRI {
		t.Fatalf("plan = %v, want [op:finish]", got)
	}
}

func TestSolveChainsOperations(t *testing.T) {
	// f0 -> opA -> f1 -> opB -> f2 (the goal). Each operation consumes its
	// trigger fact, so it is eligible exactly once.
	opA := directOp("op:a", []graph.Pattern{factPattern("f0")}, graph.Update{
		Delete: []graph.Pattern{factPattern("f0")},
		Insert: []graph.Pattern{factPattern("f1")},
	})
	opB := directOp("op:b", []graph.Pattern{factPattern("f1")}, graph.Update{
		Delete: []graph.Pattern{factPattern("f1")},
		Insert: []graph.Pattern{factPattern("f2")},
	})
	kl := storeWithOperations(t, opA, opB)
	req := newSolveRequest(kl,
		graph.AskQuery{Patterns: []graph.Pattern{factPattern("f2")}},
		[]graph.Statement{fact("f0")},
	)

	res := NewPlanner(telemetry.NewNopLogger()).Solve(context.Background(), req)
	if !res.Succeeded() {
		t.Fatalf("result = %+v", res)
	}
	got := planIDs(res.Plan)
	if len(got) != 2 || got[0] != ex("op:a").IRI || got[1] != ex("op:b").IRI {
		t.Fatalf("plan = %v, want [op:a op:b]", got)
	}
}

func TestSolveSelectsFirstEligibleInStableOrder(t *testing.T) {
	// Both operations are eligible; the identifier order decides.
	mk := func(id string) Operation {
		return directOp(id, []graph.Pattern{factPattern("f0")}, graph.Update{
			Delete: []graph.Pattern{factPattern("f0")},
			Insert: []graph.Pattern{factPattern("goal")},
		})
	}
	goal := graph.AskQuery{Patterns: []graph.Pattern{factPattern("goal")}}

	for range 3 {
		kl := storeWithOperations(t, mk("op:zz"), mk("op:aa"))
		req := newSolveRequest(kl, goal, []graph.Statement{fact("f0")})

		res := NewPlanner(telemetry.NewNopLogger()).Solve(context.Background(), req)
		if !res.Succeeded() {
			t.Fatalf("result = %+v", res)
		}
		got := planIDs(res.Plan)
		if len(got) != 1 || got[0] != ex("op:aa").IRI {
			t.Fatalf("plan = %v, want [op:aa]", got)
		}
	}
}

func TestSolvePreconditionGating(t *testing.T) {
	// op:aa sorts first but its precondition never holds; op:bb must run.
	blocked := directOp("op:aa", []graph.Pattern{factPattern("never")}, graph.Update{
		Insert: []graph.Pattern{factPattern("goal")},
	})
	eligible := directOp("op:bb", []graph.Pattern{factPattern("f0")}, graph.Update{
		Delete: []graph.Pattern{factPattern("f0")},
		Insert: []graph.Pattern{factPattern("goal")},
	})
	kl := storeWithOperations(t, blocked, eligible)
	req := newSolveRequest(kl,
		graph.AskQuery{Patterns: []graph.Pattern{factPattern("goal")}},
		[]graph.Statement{fact("f0")},
	)

	res := NewPlanner(telemetry.NewNopLogger()).Solve(context.Background(), req)
	if !res.Succeeded() {
		t.Fatalf("result = %+v", res)
	}
	got := planIDs(res.Plan)
	if len(got) != 1 || got[0] != ex("op:bb").IRI {
		t.Fatalf("plan = %v, want [op:bb]", got)
	}
}

func TestSolveStuck(t *testing.T) {
	op := directOp("op:a", []graph.Pattern{factPattern("never")}, graph.Update{
		Insert: []graph.Pattern{factPattern("goal")},
	})
	kl := storeWithOperations(t, op)
	req := newSolveRequest(kl,
		graph.AskQuery{Patterns: []graph.Pattern{factPattern("goal")}},
		nil,
	)

	res := NewPlanner(telemetry.NewNopLogger()).Solve(context.Background(), req)
	if res.Succeeded() {
		t.Fatal("stuck solve succeeded")
	}
	if !strings.Contains(res.Message, "no executable operation") {
		t.Errorf("message = %q", res.Message)
	}
	if len(res.Plan) != 0 {
		t.Errorf("plan = %v, want empty", planIDs(res.Plan))
	}
}

func TestSolveDepthExceeded(t *testing.T) {
	// Always eligible, never reaches the goal: the iteration budget must end
	// the run.
	op := directOp("op:spin", []graph.Pattern{factPattern("f0")}, graph.Update{
		Insert: []graph.Pattern{factPattern("noise")},
	})
	kl := storeWithOperations(t, op)
	req := newSolveRequest(kl,
		graph.AskQuery{Patterns: []graph.Pattern{factPattern("goal")}},
		[]graph.Statement{fact("f0")},
	)
	req.MaxIterations = 3

	res := NewPlanner(telemetry.NewNopLogger()).Solve(context.Background(), req)
	if res.Succeeded() {
		t.Fatal("unbounded solve succeeded")
	}
	if !strings.Contains(res.Message, "maximum planning depth") {
		t.Errorf("message = %q", res.Message)
	}
	if res.Iterations != 3 {
		t.Errorf("iterations = %d, want 3", res.Iterations)
	}
	if len(res.Plan) != 3 {
		t.Errorf("plan length = %d, want 3", len(res.Plan))
	}
}

func TestSolveStepFailureFailsRun(t *testing.T) {
	op := directOp("op:a", nil, graph.Update{
		Insert: []graph.Pattern{factPattern("f1")},
	})
	kl := storeWithOperations(t, op)
	req := newSolveRequest(kl,
		graph.AskQuery{Patterns: []graph.Pattern{factPattern("goal")}},
		nil,
	)
	log := telemetry.NewNopLogger()
	req.Executor = NewPlanExecutor(&fakeNodeExecutor{
		execute: func(id graph.Term) ([]graph.Statement, error) {
			return nil, NewInvocationError("exploded", nil).WithOperation(id.IRI)
		},
	}, log)

	res := NewPlanner(log).Solve(context.Background(), req)
	if res.Succeeded() {
		t.Fatal("solve succeeded despite step failure")
	}
	if res.FailedStep != 0 {
		t.Errorf("FailedStep = %d, want 0", res.FailedStep)
	}
	if !strings.Contains(res.Message, "exploded") {
		t.Errorf("message = %q, want underlying cause", res.Message)
	}
}

func TestSolveStepFailureMessageCarriesStderr(t *testing.T) {
	// A failing script's stderr must surface in the run's failure message,
	// not only in the structured error details.
	script := writeScript(t, `echo "boom" >&2; exit 1`)
	op := Operation{
		ID: ex("op:failing"),
		Invocation: Invocation{
			Kind:       InvocationExternalProcess,
			ScriptPath: script,
			ArgStyle:   ArgStylePositional,
		},
	}
	kl := storeWithOperations(t, op)
	req := newSolveRequest(kl,
		graph.AskQuery{Patterns: []graph.Pattern{factPattern("goal")}},
		nil,
	)

	res := NewPlanner(telemetry.NewNopLogger()).Solve(context.Background(), req)
	if res.Succeeded() {
		t.Fatal("solve succeeded despite failing script")
	}
	if !strings.Contains(res.Message, "boom") {
		t.Errorf("message = %q, want captured stderr", res.Message)
	}
}

func TestSolveRuleDerivesGoal(t *testing.T) {
	// No operations at all: stabilization alone satisfies the goal.
	rule := Rule{
		ID:       ex("rule:promote"),
		Priority: 1,
		Kind:     RuleKindConstruct,
		Antecedent: graph.AskQuery{Patterns: []graph.Pattern{
			factPattern("raw"),
		}},
		Construct: &graph.ConstructQuery{
			Template: []graph.Pattern{factPattern("goal")},
			Where:    []graph.Pattern{factPattern("raw")},
		},
	}
	kl := storeWithRules(t, rule)
	req := newSolveRequest(kl,
		graph.AskQuery{Patterns: []graph.Pattern{factPattern("goal")}},
		[]graph.Statement{fact("raw")},
	)

	res := NewPlanner(telemetry.NewNopLogger()).Solve(context.Background(), req)
	if !res.Succeeded() {
		t.Fatalf("result = %+v", res)
	}
	if len(res.Plan) != 0 {
		t.Errorf("plan = %v, want empty", planIDs(res.Plan))
	}
}

// askErrorLayer fails Ask queries touching one predicate, for exercising the
// "query errors never count as satisfied" contract.
type askErrorLayer struct {
	knowledge.Layer
	failOn graph.Term
}

func (l *askErrorLayer) Ask(q graph.AskQuery) (bool, error) {
	for _, p := range q.Patterns {
		if !p.Predicate.IsVar() && p.Predicate.Term == l.failOn {
			return false, fmt.Errorf("synthetic query failure")
		}
	}
	return l.Layer.Ask(q)
}

func TestSolveGoalQueryErrorIsNotSatisfaction(t *testing.T) {
	kl := &askErrorLayer{Layer: knowledge.NewStore(), failOn: ex("poisoned")}
	req := newSolveRequest(kl,
		graph.AskQuery{Patterns: []graph.Pattern{
			groundPattern(ex("goal"), ex("poisoned"), graph.Boolean(true)),
		}},
		nil,
	)

	res := NewPlanner(telemetry.NewNopLogger()).Solve(context.Background(), req)
	if res.Succeeded() {
		t.Fatal("erroring goal query counted as satisfied")
	}
}

func TestSolvePreconditionQueryErrorIsNotEligible(t *testing.T) {
	poisoned := directOp("op:aa", []graph.Pattern{
		groundPattern(ex("x"), ex("poisoned"), graph.Boolean(true)),
	}, graph.Update{
		Insert: []graph.Pattern{factPattern("goal")},
	})
	healthy := directOp("op:bb", nil, graph.Update{
		Insert: []graph.Pattern{factPattern("goal")},
	})
	base := storeWithOperations(t, poisoned, healthy)
	if _, err := base.Merge([]graph.Statement{
		graph.S(ex("x"), ex("poisoned"), graph.Boolean(true)),
	}, ""); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	kl := &askErrorLayer{Layer: base, failOn: ex("poisoned")}

	req := newSolveRequest(kl,
		graph.AskQuery{Patterns: []graph.Pattern{factPattern("goal")}},
		nil,
	)

	res := NewPlanner(telemetry.NewNopLogger()).Solve(context.Background(), req)
	if !res.Succeeded() {
		t.Fatalf("result = %+v", res)
	}
	got := planIDs(res.Plan)
	if len(got) != 1 || got[0] != ex("op:bb").IRI {
		t.Fatalf("plan = %v, want [op:bb]", got)
	}
}

func TestSolveCancelledContext(t *testing.T) {
	kl := knowledge.NewStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := NewPlanner(telemetry.NewNopLogger()).Solve(ctx, newSolveRequest(kl,
		graph.AskQuery{Patterns: []graph.Pattern{factPattern("goal")}}, nil))
	if res.Succeeded() {
		t.Fatal("cancelled solve succeeded")
	}
}
