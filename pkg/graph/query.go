package graph

import (
	"fmt"
	"sort"
)

// Query evaluates the conjunction of patterns against the graph and returns
// one binding per solution. Patterns are joined left to right; results are
// deterministic given identical graph contents (statement insertion order).
func (g *Graph) Query(patterns []Pattern) []Binding {
	bindings := []Binding{{}}
	for _, pat := range patterns {
		var next []Binding
		for _, b := range bindings {
			next = append(next, g.matchPattern(pat, b)...)
		}
		if len(next) == 0 {
			return nil
		}
		bindings = next
	}
	return bindings
}

// Ask reports whether at least one binding satisfies the query.
func (g *Graph) Ask(q AskQuery) bool {
	if len(q.Patterns) == 0 {
		return true
	}
	return len(g.Query(q.Patterns)) > 0
}

// Construct instantiates the query template once per solution of its Where
// clause and returns the resulting statements, deduplicated in order of
// production. Template patterns with variables unbound by Where are an error.
func (g *Graph) Construct(q ConstructQuery) ([]Statement, error) {
	bindings := []Binding{{}}
	if len(q.Where) > 0 {
		bindings = g.Query(q.Where)
	}
	seen := make(map[Statement]struct{})
	var out []Statement
	for _, b := range bindings {
		for _, tmpl := range q.Template {
			st, err := instantiate(tmpl, b)
			if err != nil {
				return nil, err
			}
			if _, dup := seen[st]; dup {
				continue
			}
			seen[st] = struct{}{}
			out = append(out, st)
		}
	}
	return out, nil
}

// Apply executes an update in place: Delete templates are removed and Insert
// templates added, once per solution of Where. It reports whether the graph
// changed.
func (g *Graph) Apply(u Update) (bool, error) {
	bindings := []Binding{{}}
	if len(u.Where) > 0 {
		bindings = g.Query(u.Where)
	}

	var toDelete, toInsert []Statement
	for _, b := range bindings {
		for _, tmpl := range u.Delete {
			st, err := instantiate(tmpl, b)
			if err != nil {
				return false, err
			}
			toDelete = append(toDelete, st)
		}
		for _, tmpl := range u.Insert {
			st, err := instantiate(tmpl, b)
			if err != nil {
				return false, err
			}
			toInsert = append(toInsert, st)
		}
	}

	changed := false
	for _, st := range toDelete {
		if g.Remove(st) {
			changed = true
		}
	}
	for _, st := range toInsert {
		if g.Add(st) {
			changed = true
		}
	}
	return changed, nil
}

// matchPattern extends the given binding with every statement the pattern
// matches under it.
func (g *Graph) matchPattern(pat Pattern, base Binding) []Binding {
	var out []Binding
	for _, st := range g.order {
		b := base
		extended := false

		bind := func(pt PatternTerm, actual Term) bool {
			if pt.IsVar() {
				if bound, ok := b[pt.Var]; ok {
					return bound == actual
				}
				if !extended {
					b = b.Clone()
					extended = true
				}
				b[pt.Var] = actual
				return true
			}
			return pt.Term == actual
		}

		if !bind(pat.Subject, st.Subject) {
			continue
		}
		if !bind(pat.Predicate, st.Predicate) {
			continue
		}
		if !bind(pat.Object, st.Object) {
			continue
		}
		if !extended {
			b = base.Clone()
		}
		out = append(out, b)
	}
	return out
}

// instantiate substitutes binding values into a template pattern, producing a
// ground statement.
func instantiate(tmpl Pattern, b Binding) (Statement, error) {
	resolve := func(pt PatternTerm) (Term, error) {
		if !pt.IsVar() {
			return pt.Term, nil
		}
		t, ok := b[pt.Var]
		if !ok {
			return Term{}, fmt.Errorf("unbound variable ?%s in template", pt.Var)
		}
		return t, nil
	}

	s, err := resolve(tmpl.Subject)
	if err != nil {
		return Statement{}, err
	}
	p, err := resolve(tmpl.Predicate)
	if err != nil {
		return Statement{}, err
	}
	o, err := resolve(tmpl.Object)
	if err != nil {
		return Statement{}, err
	}
	return Statement{Subject: s, Predicate: p, Object: o}, nil
}

// SortBindings orders bindings lexicographically by the named variables, for
// stable presentation of query results.
func SortBindings(bindings []Binding, vars ...string) {
	sort.SliceStable(bindings, func(i, j int) bool {
		for _, v := range vars {
			a, b := bindings[i][v].String(), bindings[j][v].String()
			if a != b {
				return a < b
			}
		}
		return false
	})
}
