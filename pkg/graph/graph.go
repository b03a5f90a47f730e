package graph

// Graph is an in-memory statement set. Insertion order is preserved for
// deterministic iteration; re-inserting an existing statement is a no-op.
// Graph is not safe for concurrent use; callers that share a graph across
// goroutines must serialize access.
type Graph struct {
	index map[Statement]struct{}
	order []Statement
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{index: make(map[Statement]struct{})}
}

// NewWith returns a graph seeded with the given statements.
func NewWith(stmts ...Statement) *Graph {
	g := New()
	g.AddAll(stmts)
	return g
}

// Add inserts a statement, reporting whether the graph changed.
func (g *Graph) Add(st Statement) bool {
	if _, ok := g.index[st]; ok {
		return false
	}
	g.index[st] = struct{}{}
	g.order = append(g.order, st)
	return true
}

// AddAll inserts all statements, returning the number actually added.
func (g *Graph) AddAll(stmts []Statement) int {
	added := 0
	for _, st := range stmts {
		if g.Add(st) {
			added++
		}
	}
	return added
}

// Remove deletes a statement, reporting whether it was present.
func (g *Graph) Remove(st Statement) bool {
	if _, ok := g.index[st]; !ok {
		return false
	}
	delete(g.index, st)
	for i, cur := range g.order {
		if cur == st {
			g.order = append(g.order[:i], g.order[i+1:]...)
			break
		}
	}
	return true
}

// Has reports whether the statement is present.
func (g *Graph) Has(st Statement) bool {
	_, ok := g.index[st]
	return ok
}

// Len returns the number of statements.
func (g *Graph) Len() int { return len(g.order) }

// Statements returns a copy of all statements in insertion order.
func (g *Graph) Statements() []Statement {
	out := make([]Statement, len(g.order))
	copy(out, g.order)
	return out
}

// Clone returns an independent copy of the graph.
func (g *Graph) Clone() *Graph {
	c := New()
	c.AddAll(g.order)
	return c
}

// Match returns statements matching the given terms; a zero Term in any
// position acts as a wildcard. Results are in insertion order.
func (g *Graph) Match(subject, predicate, object Term) []Statement {
	var out []Statement
	for _, st := range g.order {
		if !subject.IsZero() && st.Subject != subject {
			continue
		}
		if !predicate.IsZero() && st.Predicate != predicate {
			continue
		}
		if !object.IsZero() && st.Object != object {
			continue
		}
		out = append(out, st)
	}
	return out
}

// FirstObject returns the object of the first statement matching
// (subject, predicate, *), if any.
func (g *Graph) FirstObject(subject, predicate Term) (Term, bool) {
	for _, st := range g.order {
		if !subject.IsZero() && st.Subject != subject {
			continue
		}
		if st.Predicate == predicate {
			return st.Object, true
		}
	}
	return Term{}, false
}
