package engine

import "github.com/kce-engine/kce/pkg/graph"

// InvocationKind selects how an operation's effect is realized.
type InvocationKind string

const (
	// InvocationExternalProcess runs a subprocess and merges its reported
	// outputs.
	InvocationExternalProcess InvocationKind = "external-process"
	// InvocationDirectUpdate applies a stored statement-level update with no
	// subprocess.
	InvocationDirectUpdate InvocationKind = "direct-update"
)

// ArgStyle selects how resolved inputs are handed to a subprocess.
type ArgStyle string

const (
	// ArgStylePositional passes lexical input values as ordered argv entries.
	ArgStylePositional ArgStyle = "positional"
	// ArgStyleStdinJSON writes a single JSON object of named inputs to the
	// subprocess's stdin.
	ArgStyleStdinJSON ArgStyle = "stdin-json"
)

// InputParameter declares one value an operation consumes. BoundProperty is
// the predicate whose object supplies the value.
type InputParameter struct {
	Name          string
	BoundProperty graph.Term
	Datatype      string
	Required      bool
	Order         int
}

// OutputParameter declares one value an operation produces. If Fixed is set,
// the parameter asserts that constant regardless of subprocess output.
type OutputParameter struct {
	Name          string
	BoundProperty graph.Term
	Datatype      string
	Fixed         *graph.Term
}

// Invocation describes how to realize an operation's effect.
type Invocation struct {
	Kind        InvocationKind
	Interpreter string
	ScriptPath  string
	ArgStyle    ArgStyle

	// Update is the stored mutation for direct-update operations.
	Update *graph.Update
}

// Operation is a decoded operation definition.
type Operation struct {
	ID           graph.Term
	Inputs       []InputParameter
	Outputs      []OutputParameter
	Invocation   Invocation
	Precondition *graph.AskQuery
}

// RuleKind selects a rule's consequent form.
type RuleKind string

const (
	// RuleKindUpdate applies a statement-level update when the antecedent
	// holds.
	RuleKindUpdate RuleKind = "update"
	// RuleKindConstruct merges constructed statements when the antecedent
	// holds.
	RuleKindConstruct RuleKind = "construct"
)

// Rule is a decoded rule definition. Exactly one of Update or Construct is
// set, matching Kind.
type Rule struct {
	ID         graph.Term
	Priority   int
	Kind       RuleKind
	Antecedent graph.AskQuery
	Update     *graph.Update
	Construct  *graph.ConstructQuery
}

// StepKind distinguishes plan step varieties.
type StepKind string

const (
	// StepOperation executes one operation.
	StepOperation StepKind = "operation"
	// StepRuleBarrier runs one rule pass before the plan continues.
	StepRuleBarrier StepKind = "rule-barrier"
)

// PlanStep is one entry in a realized execution plan. OperationID is unset for
// rule barriers.
type PlanStep struct {
	Kind        StepKind
	OperationID graph.Term
}

// ExecutionPlan is an ordered sequence of steps. The planner grows one
// incrementally; it is a record of what ran, not a lookahead.
type ExecutionPlan []PlanStep

// Status is a run's terminal status.
type Status string

const (
	// StatusSuccess means the goal held.
	StatusSuccess Status = "success"
	// StatusFailure covers stuck runs, step failures, and exhausted budgets.
	StatusFailure Status = "failure"
)

// ExecutionResult is the outcome of a solve or of executing a plan.
type ExecutionResult struct {
	Status     Status
	Message    string
	RunID      string
	Plan       ExecutionPlan
	Iterations int

	// FailedStep is the index of the failing plan step, or -1.
	FailedStep int
}

// Succeeded reports whether the result is a success.
func (r ExecutionResult) Succeeded() bool { return r.Status == StatusSuccess }

func successResult(runID, message string, plan ExecutionPlan) ExecutionResult {
	return ExecutionResult{
		Status:     StatusSuccess,
		Message:    message,
		RunID:      runID,
		Plan:       plan,
		FailedStep: -1,
	}
}

func failureResult(runID, message string, plan ExecutionPlan, failedStep int) ExecutionResult {
	return ExecutionResult{
		Status:     StatusFailure,
		Message:    message,
		RunID:      runID,
		Plan:       plan,
		FailedStep: failedStep,
	}
}
