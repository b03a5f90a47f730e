package engine

import (
	"context"
	"strings"
	"testing"

	"github.com/kce-engine/kce/pkg/graph"
	"github.com/kce-engine/kce/pkg/knowledge"
	"github.com/kce-engine/kce/pkg/telemetry"
)

// fakeNodeExecutor is a hand-rolled NodeExecutor double.
type fakeNodeExecutor struct {
	execute func(operationID graph.Term) ([]graph.Statement, error)
	calls   []graph.Term
}

func (f *fakeNodeExecutor) Execute(_ context.Context, operationID graph.Term, _ string, _ knowledge.Layer, _ *graph.Graph) ([]graph.Statement, error) {
	f.calls = append(f.calls, operationID)
	return f.execute(operationID)
}

func TestExecutePlanMergesEachStepDelta(t *testing.T) {
	node := &fakeNodeExecutor{
		execute: func(id graph.Term) ([]graph.Statement, error) {
			return []graph.Statement{graph.S(id, ex("ran"), graph.Boolean(true))}, nil
		},
	}
	exec := NewPlanExecutor(node, telemetry.NewNopLogger())
	kl := knowledge.NewStore()
	plan := ExecutionPlan{
		{Kind: StepOperation, OperationID: ex("op:a")},
		{Kind: StepOperation, OperationID: ex("op:b")},
	}

	res := exec.ExecutePlan(context.Background(), plan, "run-1", kl)
	if !res.Succeeded() {
		t.Fatalf("result = %+v", res)
	}
	if res.FailedStep != -1 {
		t.Errorf("FailedStep = %d, want -1", res.FailedStep)
	}
	for _, id := range []graph.Term{ex("op:a"), ex("op:b")} {
		if !askPresent(t, kl, id, ex("ran"), graph.Boolean(true)) {
			t.Errorf("delta for %v not merged", id)
		}
	}
	if got := kl.MergedInContext(RunContext("run-1")); got != 2 {
		t.Errorf("run context merged %d statements, want 2", got)
	}
}

func TestExecutePlanPropagatesOperationOutputs(t *testing.T) {
	script := writeScript(t, `echo '{"answer": 42}'`)
	op := Operation{
		ID: ex("op:compute"),
		Outputs: []OutputParameter{
			{Name: "answer", BoundProperty: ex("hasAnswer"), Datatype: graph.DatatypeInteger},
		},
		Invocation: Invocation{
			Kind:       InvocationExternalProcess,
			ScriptPath: script,
			ArgStyle:   ArgStylePositional,
		},
	}
	kl := storeWithOperations(t, op)

	log := telemetry.NewNopLogger()
	exec := NewPlanExecutor(NewNodeExecutor(log), log)
	res := exec.ExecutePlan(context.Background(), ExecutionPlan{
		{Kind: StepOperation, OperationID: op.ID},
	}, "run-1", kl)
	if !res.Succeeded() {
		t.Fatalf("result = %+v", res)
	}

	// The reported output is now queryable in the knowledge layer.
	bindings, err := kl.Query([]graph.Pattern{
		graph.P(graph.V("s"), graph.T(ex("hasAnswer")), graph.V("v")),
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(bindings) != 1 || bindings[0]["v"] != graph.Integer(42) {
		t.Fatalf("bindings = %v", bindings)
	}
}

func TestExecutePlanFailFast(t *testing.T) {
	node := &fakeNodeExecutor{
		execute: func(id graph.Term) ([]graph.Statement, error) {
			if id == ex("op:b") {
				return nil, NewInvocationError("exploded", nil).WithOperation(id.IRI)
			}
			return []graph.Statement{graph.S(id, ex("ran"), graph.Boolean(true))}, nil
		},
	}
	exec := NewPlanExecutor(node, telemetry.NewNopLogger())
	kl := knowledge.NewStore()
	plan := ExecutionPlan{
		{Kind: StepOperation, OperationID: ex("op:a")},
		{Kind: StepOperation, OperationID: ex("op:b")},
		{Kind: StepOperation, OperationID: ex("op:c")},
	}

	res := exec.ExecutePlan(context.Background(), plan, "run-1", kl)
	if res.Succeeded() {
		t.Fatal("plan succeeded despite failing step")
	}
	if res.FailedStep != 1 {
		t.Errorf("FailedStep = %d, want 1", res.FailedStep)
	}
	if !strings.Contains(res.Message, "exploded") {
		t.Errorf("message = %q, want underlying cause", res.Message)
	}
	if len(node.calls) != 2 {
		t.Errorf("executed %d steps, want 2 (no step after the failure)", len(node.calls))
	}
	// Effects of completed steps stay merged; there is no rollback.
	if !askPresent(t, kl, ex("op:a"), ex("ran"), graph.Boolean(true)) {
		t.Error("first step's delta was lost")
	}
}

func TestExecutePlanRuleBarrier(t *testing.T) {
	rule := Rule{
		ID:       ex("rule:promote"),
		Priority: 1,
		Kind:     RuleKindUpdate,
		Antecedent: graph.AskQuery{Patterns: []graph.Pattern{
			graph.P(graph.T(ex("op:a")), graph.T(ex("ran")), graph.T(graph.Boolean(true))),
		}},
		Update: &graph.Update{
			Insert: []graph.Pattern{
				graph.P(graph.T(ex("op:a")), graph.T(ex("verified")), graph.T(graph.Boolean(true))),
			},
		},
	}
	kl := storeWithRules(t, rule)

	node := &fakeNodeExecutor{
		execute: func(id graph.Term) ([]graph.Statement, error) {
			return []graph.Statement{graph.S(id, ex("ran"), graph.Boolean(true))}, nil
		},
	}
	log := telemetry.NewNopLogger()
	exec := NewPlanExecutor(node, log, WithPlanExecutorRules(NewRuleEngine(log)))

	res := exec.ExecutePlan(context.Background(), ExecutionPlan{
		{Kind: StepOperation, OperationID: ex("op:a")},
		{Kind: StepRuleBarrier},
	}, "run-1", kl)
	if !res.Succeeded() {
		t.Fatalf("result = %+v", res)
	}
	if !askPresent(t, kl, ex("op:a"), ex("verified"), graph.Boolean(true)) {
		t.Fatal("rule barrier did not apply rules")
	}
}

func TestExecutePlanRuleBarrierWithoutRuleEngine(t *testing.T) {
	node := &fakeNodeExecutor{
		execute: func(id graph.Term) ([]graph.Statement, error) { return nil, nil },
	}
	exec := NewPlanExecutor(node, telemetry.NewNopLogger())

	res := exec.ExecutePlan(context.Background(), ExecutionPlan{
		{Kind: StepRuleBarrier},
	}, "run-1", knowledge.NewStore())
	if res.Succeeded() {
		t.Fatal("barrier without a rule engine succeeded")
	}
	if res.FailedStep != 0 {
		t.Errorf("FailedStep = %d, want 0", res.FailedStep)
	}
}

func TestExecutePlanCancelledContext(t *testing.T) {
	node := &fakeNodeExecutor{
		execute: func(id graph.Term) ([]graph.Statement, error) { return nil, nil },
	}
	exec := NewPlanExecutor(node, telemetry.NewNopLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := exec.ExecutePlan(ctx, ExecutionPlan{
		{Kind: StepOperation, OperationID: ex("op:a")},
	}, "run-1", knowledge.NewStore())
	if res.Succeeded() {
		t.Fatal("plan succeeded under cancelled context")
	}
	if len(node.calls) != 0 {
		t.Errorf("executed %d steps under cancelled context", len(node.calls))
	}
}

func TestExecutePlanEmptyPlan(t *testing.T) {
	node := &fakeNodeExecutor{
		execute: func(id graph.Term) ([]graph.Statement, error) { return nil, nil },
	}
	exec := NewPlanExecutor(node, telemetry.NewNopLogger())

	res := exec.ExecutePlan(context.Background(), nil, "run-1", knowledge.NewStore())
	if !res.Succeeded() {
		t.Fatalf("empty plan failed: %+v", res)
	}
}
