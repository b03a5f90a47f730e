package engine

import (
	"fmt"
	"sort"

	"github.com/kce-engine/kce/pkg/graph"
	"github.com/kce-engine/kce/pkg/knowledge"
)

// The decoder half of the metadata codec. All reads go through the knowledge
// layer's pattern queries; a store that was loaded by a different front end is
// indistinguishable from one loaded by the YAML loader.

// ListOperationIDs returns every stored operation identifier in ascending
// lexical order. The stable order is what makes operation selection
// deterministic.
func ListOperationIDs(kl knowledge.Layer) ([]graph.Term, error) {
	bindings, err := kl.Query([]graph.Pattern{
		graph.P(graph.V("op"), graph.T(PredType), graph.T(ClassOperation)),
	})
	if err != nil {
		return nil, NewQueryError("listing operations", err)
	}
	ids := make([]graph.Term, 0, len(bindings))
	seen := make(map[graph.Term]struct{}, len(bindings))
	for _, b := range bindings {
		id := b["op"]
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].IRI < ids[j].IRI })
	return ids, nil
}

// LoadOperation decodes one operation definition from the knowledge layer.
func LoadOperation(kl knowledge.Layer, id graph.Term) (*Operation, error) {
	exists, err := kl.Ask(graph.AskQuery{Patterns: []graph.Pattern{
		graph.P(graph.T(id), graph.T(PredType), graph.T(ClassOperation)),
	}})
	if err != nil {
		return nil, NewQueryError("probing operation", err).WithOperation(id.IRI)
	}
	if !exists {
		return nil, NewDefinitionError("operation not found", nil).WithOperation(id.IRI)
	}

	op := &Operation{ID: id}

	inputs, err := decodeParameterNodes(kl, id, PredHasInput)
	if err != nil {
		return nil, err
	}
	for _, n := range inputs {
		p, err := decodeInputParameter(kl, id, n)
		if err != nil {
			return nil, err
		}
		op.Inputs = append(op.Inputs, p)
	}
	sort.SliceStable(op.Inputs, func(i, j int) bool {
		if op.Inputs[i].Order != op.Inputs[j].Order {
			return op.Inputs[i].Order < op.Inputs[j].Order
		}
		return op.Inputs[i].Name < op.Inputs[j].Name
	})

	outputs, err := decodeParameterNodes(kl, id, PredHasOutput)
	if err != nil {
		return nil, err
	}
	for _, n := range outputs {
		p, err := decodeOutputParameter(kl, id, n)
		if err != nil {
			return nil, err
		}
		op.Outputs = append(op.Outputs, p)
	}
	sort.SliceStable(op.Outputs, func(i, j int) bool {
		return op.Outputs[i].Name < op.Outputs[j].Name
	})

	inv, err := decodeInvocation(kl, id)
	if err != nil {
		return nil, err
	}
	op.Invocation = inv

	pre, ok, err := decodeAskQuery(kl, id, PredPrecondition)
	if err != nil {
		return nil, err
	}
	if ok {
		op.Precondition = &pre
	}
	return op, nil
}

// ListRules decodes every stored rule, ordered by priority descending and
// identifier ascending.
func ListRules(kl knowledge.Layer) ([]Rule, error) {
	bindings, err := kl.Query([]graph.Pattern{
		graph.P(graph.V("rule"), graph.T(PredType), graph.T(ClassRule)),
	})
	if err != nil {
		return nil, NewQueryError("listing rules", err)
	}
	seen := make(map[graph.Term]struct{}, len(bindings))
	var rules []Rule
	for _, b := range bindings {
		id := b["rule"]
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		r, err := loadRule(kl, id)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].ID.IRI < rules[j].ID.IRI
	})
	return rules, nil
}

func loadRule(kl knowledge.Layer, id graph.Term) (Rule, error) {
	r := Rule{ID: id}

	prio, ok, err := queryObject(kl, id, PredPriority)
	if err != nil {
		return r, NewQueryError("reading rule priority", err).WithRule(id.IRI)
	}
	if ok {
		r.Priority = int(prio.Int)
	}

	ante, ok, err := decodeAskQuery(kl, id, PredAntecedent)
	if err != nil {
		return r, err
	}
	if !ok {
		return r, NewDefinitionError("rule has no antecedent", nil).WithRule(id.IRI)
	}
	r.Antecedent = ante

	kindTerm, ok, err := queryObject(kl, id, PredRuleKind)
	if err != nil {
		return r, NewQueryError("reading rule kind", err).WithRule(id.IRI)
	}
	if !ok {
		return r, NewDefinitionError("rule has no kind", nil).WithRule(id.IRI)
	}
	switch RuleKind(kindTerm.Str) {
	case RuleKindUpdate:
		r.Kind = RuleKindUpdate
		node, ok, err := queryObject(kl, id, PredConsequentUpdate)
		if err != nil || !ok {
			return r, NewDefinitionError("update rule has no update consequent", err).WithRule(id.IRI)
		}
		u, err := decodeUpdate(kl, node)
		if err != nil {
			return r, NewDefinitionError("decoding update consequent", err).WithRule(id.IRI)
		}
		r.Update = &u
	case RuleKindConstruct:
		r.Kind = RuleKindConstruct
		node, ok, err := queryObject(kl, id, PredConsequentConstruct)
		if err != nil || !ok {
			return r, NewDefinitionError("construct rule has no construct consequent", err).WithRule(id.IRI)
		}
		tmpl, err := decodePatterns(kl, node, PredTemplatePattern)
		if err != nil {
			return r, NewDefinitionError("decoding construct template", err).WithRule(id.IRI)
		}
		where, err := decodePatterns(kl, node, PredWherePattern)
		if err != nil {
			return r, NewDefinitionError("decoding construct where", err).WithRule(id.IRI)
		}
		r.Construct = &graph.ConstructQuery{Template: tmpl, Where: where}
	default:
		return r, NewDefinitionError(fmt.Sprintf("unknown rule kind %q", kindTerm.Str), nil).WithRule(id.IRI)
	}
	return r, nil
}

func decodeInvocation(kl knowledge.Layer, opID graph.Term) (Invocation, error) {
	node, ok, err := queryObject(kl, opID, PredInvocation)
	if err != nil {
		return Invocation{}, NewQueryError("reading invocation", err).WithOperation(opID.IRI)
	}
	if !ok {
		return Invocation{}, NewDefinitionError("operation has no invocation", nil).WithOperation(opID.IRI)
	}
	kindTerm, ok, err := queryObject(kl, node, PredInvocationKind)
	if err != nil || !ok {
		return Invocation{}, NewDefinitionError("invocation has no kind", err).WithOperation(opID.IRI)
	}

	inv := Invocation{Kind: InvocationKind(kindTerm.Str)}
	switch inv.Kind {
	case InvocationExternalProcess:
		script, ok, err := queryObject(kl, node, PredScriptPath)
		if err != nil || !ok {
			return inv, NewDefinitionError("external-process invocation has no script path", err).
				WithOperation(opID.IRI)
		}
		inv.ScriptPath = script.Str
		if interp, ok, err := queryObject(kl, node, PredInterpreter); err == nil && ok {
			inv.Interpreter = interp.Str
		}
		inv.ArgStyle = ArgStylePositional
		if style, ok, err := queryObject(kl, node, PredArgStyle); err == nil && ok {
			switch ArgStyle(style.Str) {
			case ArgStylePositional, ArgStyleStdinJSON:
				inv.ArgStyle = ArgStyle(style.Str)
			default:
				return inv, NewDefinitionError(
					fmt.Sprintf("unknown argument style %q", style.Str), nil).WithOperation(opID.IRI)
			}
		}
	case InvocationDirectUpdate:
		unode, ok, err := queryObject(kl, node, PredHasUpdate)
		if err != nil || !ok {
			return inv, NewDefinitionError("direct-update invocation has no update", err).
				WithOperation(opID.IRI)
		}
		u, err := decodeUpdate(kl, unode)
		if err != nil {
			return inv, NewDefinitionError("decoding invocation update", err).WithOperation(opID.IRI)
		}
		inv.Update = &u
	default:
		return inv, NewDefinitionError(
			fmt.Sprintf("unknown invocation kind %q", kindTerm.Str), nil).WithOperation(opID.IRI)
	}
	return inv, nil
}

func decodeInputParameter(kl knowledge.Layer, opID, node graph.Term) (InputParameter, error) {
	var p InputParameter
	name, ok, err := queryObject(kl, node, PredParamName)
	if err != nil || !ok {
		return p, NewDefinitionError("input parameter has no name", err).WithOperation(opID.IRI)
	}
	p.Name = name.Str

	bound, ok, err := queryObject(kl, node, PredBoundProperty)
	if err != nil || !ok {
		return p, NewDefinitionError(
			fmt.Sprintf("input parameter %q has no bound property", p.Name), err).
			WithOperation(opID.IRI)
	}
	p.BoundProperty = bound

	if dt, ok, err := queryObject(kl, node, PredParamDatatype); err == nil && ok {
		p.Datatype = dt.Str
	}
	if req, ok, err := queryObject(kl, node, PredParamRequired); err == nil && ok {
		p.Required = req.Bool
	}
	if order, ok, err := queryObject(kl, node, PredParamOrder); err == nil && ok {
		p.Order = int(order.Int)
	}
	return p, nil
}

func decodeOutputParameter(kl knowledge.Layer, opID, node graph.Term) (OutputParameter, error) {
	var p OutputParameter
	name, ok, err := queryObject(kl, node, PredParamName)
	if err != nil || !ok {
		return p, NewDefinitionError("output parameter has no name", err).WithOperation(opID.IRI)
	}
	p.Name = name.Str

	bound, ok, err := queryObject(kl, node, PredBoundProperty)
	if err != nil || !ok {
		return p, NewDefinitionError(
			fmt.Sprintf("output parameter %q has no bound property", p.Name), err).
			WithOperation(opID.IRI)
	}
	p.BoundProperty = bound

	if dt, ok, err := queryObject(kl, node, PredParamDatatype); err == nil && ok {
		p.Datatype = dt.Str
	}
	if fixed, ok, err := queryObject(kl, node, PredFixedValue); err == nil && ok {
		f := fixed
		p.Fixed = &f
	}
	return p, nil
}

func decodeAskQuery(kl knowledge.Layer, owner, pred graph.Term) (graph.AskQuery, bool, error) {
	node, ok, err := queryObject(kl, owner, pred)
	if err != nil {
		return graph.AskQuery{}, false, NewQueryError("reading query node", err)
	}
	if !ok {
		return graph.AskQuery{}, false, nil
	}
	patterns, err := decodePatterns(kl, node, PredHasPattern)
	if err != nil {
		return graph.AskQuery{}, false, NewDefinitionError("decoding query patterns", err)
	}
	return graph.AskQuery{Patterns: patterns}, true, nil
}

func decodeUpdate(kl knowledge.Layer, node graph.Term) (graph.Update, error) {
	del, err := decodePatterns(kl, node, PredDeletePattern)
	if err != nil {
		return graph.Update{}, err
	}
	ins, err := decodePatterns(kl, node, PredInsertPattern)
	if err != nil {
		return graph.Update{}, err
	}
	where, err := decodePatterns(kl, node, PredWherePattern)
	if err != nil {
		return graph.Update{}, err
	}
	return graph.Update{Delete: del, Insert: ins, Where: where}, nil
}

// decodePatterns reads the ordered pattern list hanging off a query node.
func decodePatterns(kl knowledge.Layer, owner, pred graph.Term) ([]graph.Pattern, error) {
	bindings, err := kl.Query([]graph.Pattern{
		graph.P(graph.T(owner), graph.T(pred), graph.V("n")),
		graph.P(graph.V("n"), graph.T(PredPatternIndex), graph.V("i")),
		graph.P(graph.V("n"), graph.T(PredPatternSubject), graph.V("s")),
		graph.P(graph.V("n"), graph.T(PredPatternPredicate), graph.V("p")),
		graph.P(graph.V("n"), graph.T(PredPatternObject), graph.V("o")),
	})
	if err != nil {
		return nil, err
	}
	type indexed struct {
		idx int64
		pat graph.Pattern
	}
	rows := make([]indexed, 0, len(bindings))
	for _, b := range bindings {
		rows = append(rows, indexed{
			idx: b["i"].Int,
			pat: graph.Pattern{
				Subject:   DecodePatternTerm(b["s"]),
				Predicate: DecodePatternTerm(b["p"]),
				Object:    DecodePatternTerm(b["o"]),
			},
		})
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].idx < rows[j].idx })
	out := make([]graph.Pattern, len(rows))
	for i, r := range rows {
		out[i] = r.pat
	}
	return out, nil
}

// decodeParameterNodes returns the structure nodes for inputs or outputs in a
// stable order.
func decodeParameterNodes(kl knowledge.Layer, opID, pred graph.Term) ([]graph.Term, error) {
	bindings, err := kl.Query([]graph.Pattern{
		graph.P(graph.T(opID), graph.T(pred), graph.V("n")),
	})
	if err != nil {
		return nil, NewQueryError("listing parameters", err).WithOperation(opID.IRI)
	}
	nodes := make([]graph.Term, 0, len(bindings))
	seen := make(map[graph.Term]struct{}, len(bindings))
	for _, b := range bindings {
		n := b["n"]
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].IRI < nodes[j].IRI })
	return nodes, nil
}

// queryObject returns the single object for (subject, predicate, ?o), if any.
func queryObject(kl knowledge.Layer, subject, predicate graph.Term) (graph.Term, bool, error) {
	bindings, err := kl.Query([]graph.Pattern{
		graph.P(graph.T(subject), graph.T(predicate), graph.V("o")),
	})
	if err != nil {
		return graph.Term{}, false, err
	}
	if len(bindings) == 0 {
		return graph.Term{}, false, nil
	}
	return bindings[0]["o"], true, nil
}
