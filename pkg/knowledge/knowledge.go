// Package knowledge defines the Knowledge Layer contract consumed by the
// engine and provides an in-memory implementation. The engine core depends
// only on the Layer interface; richer triple stores can be substituted as
// long as each call executes atomically.
package knowledge

import "github.com/kce-engine/kce/pkg/graph"

// Layer is the abstract Knowledge Layer: the mutable statement set plus the
// reasoning trigger. Every method executes atomically with respect to the
// others; callers running independent runs concurrently rely on that.
type Layer interface {
	// Query returns one binding per solution of the pattern conjunction.
	Query(patterns []graph.Pattern) ([]graph.Binding, error)

	// Ask reports whether the boolean query holds.
	Ask(q graph.AskQuery) (bool, error)

	// Construct evaluates the query and returns the instantiated statements
	// without merging them.
	Construct(q graph.ConstructQuery) ([]graph.Statement, error)

	// Update applies a statement-level mutation and reports whether the
	// statement set actually changed.
	Update(u graph.Update) (bool, error)

	// Merge bulk-inserts statements and returns how many were new. A
	// non-empty context tags the insertion for provenance; it does not
	// partition visibility.
	Merge(stmts []graph.Statement, context string) (int, error)

	// Reason runs the configured closure routine over the current statement
	// set, merging any derived statements.
	Reason() error
}

// Reasoner derives entailed statements from the current statement set. The
// closure routine itself is an external collaborator; implementations are
// expected to be deterministic.
type Reasoner interface {
	Derive(g *graph.Graph) ([]graph.Statement, error)
}

// NopReasoner derives nothing. It is the default when no ontology closure is
// configured.
type NopReasoner struct{}

// Derive implements Reasoner.
func (NopReasoner) Derive(*graph.Graph) ([]graph.Statement, error) { return nil, nil }
