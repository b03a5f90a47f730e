package engine

import (
	"fmt"
	"strings"

	"github.com/kce-engine/kce/pkg/graph"
)

// The encoder materializes typed definitions as statements under the
// vocabulary in vocab.go. The definitions loader calls it once at load time;
// everything downstream reads the statements back through pattern queries.

type encoder struct {
	stmts []graph.Statement
	scope string
	seq   int
}

func newEncoder(scope string) *encoder {
	return &encoder{scope: scope}
}

func (e *encoder) emit(s, p, o graph.Term) {
	e.stmts = append(e.stmts, graph.S(s, p, o))
}

// node mints a fresh blank node scoped to the definition being encoded, so
// structure nodes of distinct definitions never collide.
func (e *encoder) node(role string) graph.Term {
	e.seq++
	return graph.Blank(fmt.Sprintf("%s/%s/%d", e.scope, role, e.seq))
}

func (e *encoder) patternTerm(pt graph.PatternTerm) graph.Term {
	if pt.IsVar() {
		return graph.URI(VarNS + pt.Var)
	}
	return pt.Term
}

func (e *encoder) patterns(owner, pred graph.Term, patterns []graph.Pattern) {
	for i, pat := range patterns {
		p := e.node("pattern")
		e.emit(owner, pred, p)
		e.emit(p, PredPatternIndex, graph.Integer(int64(i)))
		e.emit(p, PredPatternSubject, e.patternTerm(pat.Subject))
		e.emit(p, PredPatternPredicate, e.patternTerm(pat.Predicate))
		e.emit(p, PredPatternObject, e.patternTerm(pat.Object))
	}
}

func (e *encoder) askQuery(owner, pred graph.Term, q graph.AskQuery) {
	n := e.node("query")
	e.emit(owner, pred, n)
	e.patterns(n, PredHasPattern, q.Patterns)
}

func (e *encoder) update(owner, pred graph.Term, u graph.Update) {
	n := e.node("update")
	e.emit(owner, pred, n)
	e.patterns(n, PredDeletePattern, u.Delete)
	e.patterns(n, PredInsertPattern, u.Insert)
	e.patterns(n, PredWherePattern, u.Where)
}

func (e *encoder) construct(owner, pred graph.Term, c graph.ConstructQuery) {
	n := e.node("construct")
	e.emit(owner, pred, n)
	e.patterns(n, PredTemplatePattern, c.Template)
	e.patterns(n, PredWherePattern, c.Where)
}

// EncodeOperation returns the statements that represent the operation.
func EncodeOperation(op Operation) ([]graph.Statement, error) {
	if !op.ID.IsURI() {
		return nil, NewDefinitionError("operation id must be a URI", nil)
	}
	e := newEncoder(op.ID.IRI)
	e.emit(op.ID, PredType, ClassOperation)

	for _, in := range op.Inputs {
		if in.Name == "" || !in.BoundProperty.IsURI() {
			return nil, NewDefinitionError(
				fmt.Sprintf("input parameter %q needs a name and a URI bound property", in.Name),
				nil).WithOperation(op.ID.IRI)
		}
		n := e.node("input")
		e.emit(op.ID, PredHasInput, n)
		e.emit(n, PredParamName, graph.String(in.Name))
		e.emit(n, PredBoundProperty, in.BoundProperty)
		if in.Datatype != "" {
			e.emit(n, PredParamDatatype, graph.String(in.Datatype))
		}
		e.emit(n, PredParamRequired, graph.Boolean(in.Required))
		e.emit(n, PredParamOrder, graph.Integer(int64(in.Order)))
	}

	for _, out := range op.Outputs {
		if out.Name == "" || !out.BoundProperty.IsURI() {
			return nil, NewDefinitionError(
				fmt.Sprintf("output parameter %q needs a name and a URI bound property", out.Name),
				nil).WithOperation(op.ID.IRI)
		}
		n := e.node("output")
		e.emit(op.ID, PredHasOutput, n)
		e.emit(n, PredParamName, graph.String(out.Name))
		e.emit(n, PredBoundProperty, out.BoundProperty)
		if out.Datatype != "" {
			e.emit(n, PredParamDatatype, graph.String(out.Datatype))
		}
		if out.Fixed != nil {
			e.emit(n, PredFixedValue, *out.Fixed)
		}
	}

	inv := e.node("invocation")
	e.emit(op.ID, PredInvocation, inv)
	switch op.Invocation.Kind {
	case InvocationExternalProcess:
		if op.Invocation.ScriptPath == "" {
			return nil, NewDefinitionError("external-process invocation needs a script path", nil).
				WithOperation(op.ID.IRI)
		}
		e.emit(inv, PredInvocationKind, graph.String(string(InvocationExternalProcess)))
		e.emit(inv, PredScriptPath, graph.String(op.Invocation.ScriptPath))
		if op.Invocation.Interpreter != "" {
			e.emit(inv, PredInterpreter, graph.String(op.Invocation.Interpreter))
		}
		style := op.Invocation.ArgStyle
		if style == "" {
			style = ArgStylePositional
		}
		e.emit(inv, PredArgStyle, graph.String(string(style)))
	case InvocationDirectUpdate:
		if op.Invocation.Update == nil {
			return nil, NewDefinitionError("direct-update invocation needs an update", nil).
				WithOperation(op.ID.IRI)
		}
		e.emit(inv, PredInvocationKind, graph.String(string(InvocationDirectUpdate)))
		e.update(inv, PredHasUpdate, *op.Invocation.Update)
	default:
		return nil, NewDefinitionError(
			fmt.Sprintf("unknown invocation kind %q", op.Invocation.Kind), nil).
			WithOperation(op.ID.IRI)
	}

	if op.Precondition != nil {
		e.askQuery(op.ID, PredPrecondition, *op.Precondition)
	}
	return e.stmts, nil
}

// EncodeRule returns the statements that represent the rule.
func EncodeRule(r Rule) ([]graph.Statement, error) {
	if !r.ID.IsURI() {
		return nil, NewDefinitionError("rule id must be a URI", nil)
	}
	e := newEncoder(r.ID.IRI)
	e.emit(r.ID, PredType, ClassRule)
	e.emit(r.ID, PredPriority, graph.Integer(int64(r.Priority)))
	e.askQuery(r.ID, PredAntecedent, r.Antecedent)

	switch r.Kind {
	case RuleKindUpdate:
		if r.Update == nil {
			return nil, NewDefinitionError("update rule needs an update consequent", nil).
				WithRule(r.ID.IRI)
		}
		e.emit(r.ID, PredRuleKind, graph.String(string(RuleKindUpdate)))
		e.update(r.ID, PredConsequentUpdate, *r.Update)
	case RuleKindConstruct:
		if r.Construct == nil {
			return nil, NewDefinitionError("construct rule needs a construct consequent", nil).
				WithRule(r.ID.IRI)
		}
		e.emit(r.ID, PredRuleKind, graph.String(string(RuleKindConstruct)))
		e.construct(r.ID, PredConsequentConstruct, *r.Construct)
	default:
		return nil, NewDefinitionError(fmt.Sprintf("unknown rule kind %q", r.Kind), nil).
			WithRule(r.ID.IRI)
	}
	return e.stmts, nil
}

// DecodePatternTerm reverses the variable encoding applied by the encoder.
func DecodePatternTerm(t graph.Term) graph.PatternTerm {
	if t.IsURI() && strings.HasPrefix(t.IRI, VarNS) {
		return graph.V(strings.TrimPrefix(t.IRI, VarNS))
	}
	return graph.T(t)
}
