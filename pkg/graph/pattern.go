package graph

// PatternTerm is one position of a triple pattern: either a bound term or a
// named variable.
type PatternTerm struct {
	Term Term
	Var  string
}

// V returns a variable pattern term.
func V(name string) PatternTerm {
	return PatternTerm{Var: name}
}

// T returns a bound pattern term.
func T(t Term) PatternTerm {
	return PatternTerm{Term: t}
}

// IsVar reports whether the position is a variable.
func (p PatternTerm) IsVar() bool { return p.Var != "" }

// String implements fmt.Stringer.
func (p PatternTerm) String() string {
	if p.IsVar() {
		return "?" + p.Var
	}
	return p.Term.String()
}

// Pattern is a triple pattern: a statement whose positions may be variables.
type Pattern struct {
	Subject   PatternTerm
	Predicate PatternTerm
	Object    PatternTerm
}

// P is shorthand for constructing a pattern.
func P(subject, predicate, object PatternTerm) Pattern {
	return Pattern{Subject: subject, Predicate: predicate, Object: object}
}

// Binding maps variable names to the terms they matched.
type Binding map[string]Term

// Clone returns an independent copy of the binding.
func (b Binding) Clone() Binding {
	c := make(Binding, len(b))
	for k, v := range b {
		c[k] = v
	}
	return c
}

// AskQuery is a boolean query: true iff at least one binding satisfies all
// patterns.
type AskQuery struct {
	Patterns []Pattern
}

// ConstructQuery instantiates Template once per binding of Where.
type ConstructQuery struct {
	Template []Pattern
	Where    []Pattern
}

// Update is a statement-level mutation. Delete and Insert are templates
// instantiated once per binding of Where; with an empty Where they are
// instantiated once against the empty binding and must be ground.
type Update struct {
	Delete []Pattern
	Insert []Pattern
	Where  []Pattern
}
