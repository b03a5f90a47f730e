package graph

import "testing"

func widgetGraph() *Graph {
	ex := func(s string) Term { return URI("urn:example:" + s) }
	return NewWith(
		S(ex("w1"), ex("type"), ex("Widget")),
		S(ex("w1"), ex("width"), Integer(10)),
		S(ex("w2"), ex("type"), ex("Widget")),
		S(ex("w2"), ex("width"), Integer(20)),
		S(ex("g1"), ex("type"), ex("Gadget")),
	)
}

func TestQueryJoin(t *testing.T) {
	ex := func(s string) Term { return URI("urn:example:" + s) }
	g := widgetGraph()

	bindings := g.Query([]Pattern{
		P(V("w"), T(ex("type")), T(ex("Widget"))),
		P(V("w"), T(ex("width")), V("width")),
	})
	if len(bindings) != 2 {
		t.Fatalf("got %d bindings, want 2", len(bindings))
	}
	SortBindings(bindings, "w")
	if bindings[0]["w"] != ex("w1") || bindings[0]["width"] != Integer(10) {
		t.Errorf("first binding = %v", bindings[0])
	}
	if bindings[1]["w"] != ex("w2") || bindings[1]["width"] != Integer(20) {
		t.Errorf("second binding = %v", bindings[1])
	}
}

func TestQueryJoinRespectsEarlierBindings(t *testing.T) {
	ex := func(s string) Term { return URI("urn:example:" + s) }
	g := widgetGraph()

	// ?w must be the same subject in both patterns.
	bindings := g.Query([]Pattern{
		P(V("w"), T(ex("width")), T(Integer(10))),
		P(V("w"), T(ex("type")), V("t")),
	})
	if len(bindings) != 1 {
		t.Fatalf("got %d bindings, want 1", len(bindings))
	}
	if bindings[0]["t"] != ex("Widget") {
		t.Errorf("t = %v, want Widget", bindings[0]["t"])
	}
}

func TestQueryNoSolutions(t *testing.T) {
	ex := func(s string) Term { return URI("urn:example:" + s) }
	g := widgetGraph()

	bindings := g.Query([]Pattern{
		P(V("w"), T(ex("height")), V("h")),
	})
	if bindings != nil {
		t.Fatalf("got %d bindings, want none", len(bindings))
	}
}

func TestAsk(t *testing.T) {
	ex := func(s string) Term { return URI("urn:example:" + s) }
	g := widgetGraph()

	if !g.Ask(AskQuery{Patterns: []Pattern{P(V("w"), T(ex("type")), T(ex("Widget")))}}) {
		t.Error("Ask = false for satisfiable query")
	}
	if g.Ask(AskQuery{Patterns: []Pattern{P(V("w"), T(ex("type")), T(ex("Sprocket")))}}) {
		t.Error("Ask = true for unsatisfiable query")
	}
	if !g.Ask(AskQuery{}) {
		t.Error("empty Ask = false, want vacuous true")
	}
}

func TestConstruct(t *testing.T) {
	ex := func(s string) Term { return URI("urn:example:" + s) }
	g := widgetGraph()

	stmts, err := g.Construct(ConstructQuery{
		Template: []Pattern{P(V("w"), T(ex("sized")), T(Boolean(true)))},
		Where:    []Pattern{P(V("w"), T(ex("width")), V("x"))},
	})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	if len(stmts) != 2 {
		t.Fatalf("got %d statements, want 2", len(stmts))
	}
}

func TestConstructUnboundTemplateVariable(t *testing.T) {
	ex := func(s string) Term { return URI("urn:example:" + s) }
	g := widgetGraph()

	_, err := g.Construct(ConstructQuery{
		Template: []Pattern{P(V("missing"), T(ex("p")), T(Integer(1)))},
		Where:    []Pattern{P(V("w"), T(ex("width")), V("x"))},
	})
	if err == nil {
		t.Fatal("expected error for unbound template variable")
	}
}

func TestConstructDeduplicates(t *testing.T) {
	ex := func(s string) Term { return URI("urn:example:" + s) }
	g := widgetGraph()

	// Two widgets collapse into one ground template statement.
	stmts, err := g.Construct(ConstructQuery{
		Template: []Pattern{P(T(ex("summary")), T(ex("hasWidgets")), T(Boolean(true)))},
		Where:    []Pattern{P(V("w"), T(ex("type")), T(ex("Widget")))},
	})
	if err != nil {
		t.Fatalf("Construct: %v", err)
	}
	if len(stmts) != 1 {
		t.Fatalf("got %d statements, want 1", len(stmts))
	}
}

func TestApplyInsertDelete(t *testing.T) {
	ex := func(s string) Term { return URI("urn:example:" + s) }
	g := widgetGraph()

	changed, err := g.Apply(Update{
		Delete: []Pattern{P(V("w"), T(ex("width")), V("x"))},
		Insert: []Pattern{P(V("w"), T(ex("measured")), T(Boolean(true)))},
		Where:  []Pattern{P(V("w"), T(ex("width")), V("x"))},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !changed {
		t.Fatal("Apply reported no change")
	}
	if g.Ask(AskQuery{Patterns: []Pattern{P(V("w"), T(ex("width")), V("x"))}}) {
		t.Error("width statements survived delete")
	}
	if len(g.Match(Term{}, ex("measured"), Term{})) != 2 {
		t.Error("expected two measured statements")
	}
}

func TestApplyGroundInsertWithoutWhere(t *testing.T) {
	ex := func(s string) Term { return URI("urn:example:" + s) }
	g := New()

	changed, err := g.Apply(Update{
		Insert: []Pattern{P(T(ex("a")), T(ex("p")), T(Integer(1)))},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !changed || g.Len() != 1 {
		t.Fatalf("changed=%v len=%d, want true/1", changed, g.Len())
	}

	// Re-applying the same insert is a no-op.
	changed, err = g.Apply(Update{
		Insert: []Pattern{P(T(ex("a")), T(ex("p")), T(Integer(1)))},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if changed {
		t.Fatal("idempotent insert reported a change")
	}
}

func TestApplyNoSolutionsIsNoOp(t *testing.T) {
	ex := func(s string) Term { return URI("urn:example:" + s) }
	g := widgetGraph()
	before := g.Len()

	changed, err := g.Apply(Update{
		Insert: []Pattern{P(V("w"), T(ex("tall")), T(Boolean(true)))},
		Where:  []Pattern{P(V("w"), T(ex("height")), V("h"))},
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if changed || g.Len() != before {
		t.Fatalf("update with empty Where solutions changed the graph")
	}
}
