package knowledge

import (
	"testing"

	"github.com/kce-engine/kce/pkg/graph"
)

func ex(s string) graph.Term { return graph.URI("urn:example:" + s) }

func TestStoreMergeCountsNewStatements(t *testing.T) {
	s := NewStore()

	added, err := s.Merge([]graph.Statement{
		graph.S(ex("a"), ex("p"), graph.Integer(1)),
		graph.S(ex("a"), ex("p"), graph.Integer(2)),
	}, "urn:ctx:one")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if added != 2 {
		t.Fatalf("added = %d, want 2", added)
	}

	added, err = s.Merge([]graph.Statement{
		graph.S(ex("a"), ex("p"), graph.Integer(1)),
	}, "urn:ctx:two")
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if added != 0 {
		t.Fatalf("duplicate merge added = %d, want 0", added)
	}
	if got := s.MergedInContext("urn:ctx:one"); got != 2 {
		t.Errorf("MergedInContext(one) = %d, want 2", got)
	}
	if got := s.MergedInContext("urn:ctx:two"); got != 0 {
		t.Errorf("MergedInContext(two) = %d, want 0", got)
	}
}

func TestStoreUpdateReportsChange(t *testing.T) {
	s := NewStore()

	u := graph.Update{
		Insert: []graph.Pattern{graph.P(graph.T(ex("a")), graph.T(ex("p")), graph.T(graph.Integer(1)))},
	}
	changed, err := s.Update(u)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !changed {
		t.Fatal("first update reported no change")
	}

	changed, err = s.Update(u)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if changed {
		t.Fatal("repeated update reported a change")
	}
}

func TestStoreQueryAndAsk(t *testing.T) {
	s := NewStore(WithStatements(
		graph.S(ex("a"), ex("type"), ex("Widget")),
		graph.S(ex("b"), ex("type"), ex("Widget")),
	))

	bindings, err := s.Query([]graph.Pattern{
		graph.P(graph.V("w"), graph.T(ex("type")), graph.T(ex("Widget"))),
	})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(bindings) != 2 {
		t.Fatalf("got %d bindings, want 2", len(bindings))
	}

	ok, err := s.Ask(graph.AskQuery{Patterns: []graph.Pattern{
		graph.P(graph.T(ex("a")), graph.T(ex("type")), graph.T(ex("Widget"))),
	}})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !ok {
		t.Fatal("Ask = false for present statement")
	}
}

// typeReasoner derives (s, derivedFrom, Widget) for every widget. It is
// deliberately idempotent.
type typeReasoner struct{}

func (typeReasoner) Derive(g *graph.Graph) ([]graph.Statement, error) {
	var out []graph.Statement
	for _, st := range g.Match(graph.Term{}, ex("type"), ex("Widget")) {
		out = append(out, graph.S(st.Subject, ex("derivedFrom"), ex("Widget")))
	}
	return out, nil
}

func TestStoreReasonMergesDerivedStatements(t *testing.T) {
	s := NewStore(
		WithReasoner(typeReasoner{}),
		WithStatements(graph.S(ex("a"), ex("type"), ex("Widget"))),
	)

	if err := s.Reason(); err != nil {
		t.Fatalf("Reason: %v", err)
	}
	ok, err := s.Ask(graph.AskQuery{Patterns: []graph.Pattern{
		graph.P(graph.T(ex("a")), graph.T(ex("derivedFrom")), graph.T(ex("Widget"))),
	}})
	if err != nil {
		t.Fatalf("Ask: %v", err)
	}
	if !ok {
		t.Fatal("derived statement not present after Reason")
	}

	before := s.Len()
	if err := s.Reason(); err != nil {
		t.Fatalf("Reason: %v", err)
	}
	if s.Len() != before {
		t.Fatal("second Reason pass grew the store")
	}
}

func TestStoreSnapshotIsIndependent(t *testing.T) {
	s := NewStore(WithStatements(graph.S(ex("a"), ex("p"), graph.Integer(1))))
	snap := s.Snapshot()

	if _, err := s.Merge([]graph.Statement{graph.S(ex("b"), ex("p"), graph.Integer(2))}, ""); err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if snap.Len() != 1 {
		t.Fatalf("snapshot grew to %d statements", snap.Len())
	}
}
