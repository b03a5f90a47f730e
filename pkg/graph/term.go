// Package graph provides the statement model shared by every engine
// component: terms, statements, the in-memory statement set, and the
// structured pattern queries evaluated against it.
package graph

import (
	"fmt"
	"strconv"
)

// TermKind discriminates the three term variants.
type TermKind uint8

const (
	// KindURI is a named identifier.
	KindURI TermKind = iota + 1
	// KindLiteral is a typed scalar value.
	KindLiteral
	// KindBlank is an anonymous node.
	KindBlank
)

// Common literal datatypes. Datatype is informational; the native Go type of
// the literal value is authoritative.
const (
	DatatypeString  = "string"
	DatatypeInteger = "integer"
	DatatypeFloat   = "float"
	DatatypeBoolean = "boolean"
)

// Term is a tagged union: a URI identifier, a typed literal scalar, or an
// anonymous node. Terms are comparable and can be used as map keys.
type Term struct {
	Kind TermKind

	// IRI holds the identifier for KindURI, or the label for KindBlank.
	IRI string

	// Literal scalar. Exactly one of these is meaningful for KindLiteral,
	// selected by Datatype.
	Str      string
	Int      int64
	Float    float64
	Bool     bool
	Datatype string
}

// URI returns a named identifier term.
func URI(iri string) Term {
	return Term{Kind: KindURI, IRI: iri}
}

// Blank returns an anonymous node term with the given label.
func Blank(label string) Term {
	return Term{Kind: KindBlank, IRI: label}
}

// String returns a string literal term.
func String(v string) Term {
	return Term{Kind: KindLiteral, Str: v, Datatype: DatatypeString}
}

// Integer returns an integer literal term.
func Integer(v int64) Term {
	return Term{Kind: KindLiteral, Int: v, Datatype: DatatypeInteger}
}

// Float returns a floating-point literal term.
func Float(v float64) Term {
	return Term{Kind: KindLiteral, Float: v, Datatype: DatatypeFloat}
}

// Boolean returns a boolean literal term.
func Boolean(v bool) Term {
	return Term{Kind: KindLiteral, Bool: v, Datatype: DatatypeBoolean}
}

// Literal converts a native Go scalar into a literal term. Integer widths are
// normalized to int64. Unsupported values are stringified.
func Literal(v any) Term {
	switch x := v.(type) {
	case string:
		return String(x)
	case bool:
		return Boolean(x)
	case int:
		return Integer(int64(x))
	case int32:
		return Integer(int64(x))
	case int64:
		return Integer(x)
	case float32:
		return Float(float64(x))
	case float64:
		return Float(x)
	case Term:
		return x
	default:
		return String(fmt.Sprint(v))
	}
}

// IsURI reports whether the term is a named identifier.
func (t Term) IsURI() bool { return t.Kind == KindURI }

// IsLiteral reports whether the term is a literal scalar.
func (t Term) IsLiteral() bool { return t.Kind == KindLiteral }

// IsBlank reports whether the term is an anonymous node.
func (t Term) IsBlank() bool { return t.Kind == KindBlank }

// IsZero reports whether the term is the zero value (no variant set).
func (t Term) IsZero() bool { return t.Kind == 0 }

// Value returns the native Go value of a literal, or the identifier string
// for URIs and blank nodes.
func (t Term) Value() any {
	switch t.Kind {
	case KindLiteral:
		switch t.Datatype {
		case DatatypeInteger:
			return t.Int
		case DatatypeFloat:
			return t.Float
		case DatatypeBoolean:
			return t.Bool
		default:
			return t.Str
		}
	default:
		return t.IRI
	}
}

// Lexical returns the canonical string form of the term's value, as used for
// positional subprocess arguments.
func (t Term) Lexical() string {
	switch t.Kind {
	case KindLiteral:
		switch t.Datatype {
		case DatatypeInteger:
			return strconv.FormatInt(t.Int, 10)
		case DatatypeFloat:
			return strconv.FormatFloat(t.Float, 'g', -1, 64)
		case DatatypeBoolean:
			return strconv.FormatBool(t.Bool)
		default:
			return t.Str
		}
	default:
		return t.IRI
	}
}

// String implements fmt.Stringer with an N-Triples-like rendering.
func (t Term) String() string {
	switch t.Kind {
	case KindURI:
		return "<" + t.IRI + ">"
	case KindBlank:
		return "_:" + t.IRI
	case KindLiteral:
		if t.Datatype == DatatypeString {
			return strconv.Quote(t.Str)
		}
		return t.Lexical()
	default:
		return "?"
	}
}

// Statement is one atomic (subject, predicate, object) fact.
type Statement struct {
	Subject   Term
	Predicate Term
	Object    Term
}

// S is shorthand for constructing a statement.
func S(subject, predicate, object Term) Statement {
	return Statement{Subject: subject, Predicate: predicate, Object: object}
}

// String implements fmt.Stringer.
func (s Statement) String() string {
	return fmt.Sprintf("%s %s %s .", s.Subject, s.Predicate, s.Object)
}
