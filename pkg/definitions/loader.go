// Package definitions loads operation and rule definitions from YAML and
// materializes them as statements for the knowledge layer. The engine core
// never sees YAML; it reads the encoded statements back through pattern
// queries.
package definitions

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/kce-engine/kce/pkg/engine"
	"github.com/kce-engine/kce/pkg/graph"
	"github.com/kce-engine/kce/pkg/telemetry"
)

// Document is the root of a definitions file.
type Document struct {
	Prefixes   map[string]string `yaml:"prefixes"`
	Operations []OperationDef    `yaml:"operations" validate:"dive"`
	Rules      []RuleDef         `yaml:"rules" validate:"dive"`
}

// OperationDef declares one operation.
type OperationDef struct {
	ID           string        `yaml:"id" validate:"required"`
	Precondition []TripleDef   `yaml:"precondition"`
	Inputs       []InputDef    `yaml:"inputs" validate:"dive"`
	Outputs      []OutputDef   `yaml:"outputs" validate:"dive"`
	Invocation   InvocationDef `yaml:"invocation" validate:"required"`
}

// InputDef declares one input parameter.
type InputDef struct {
	Name          string `yaml:"name" validate:"required"`
	BoundProperty string `yaml:"boundProperty" validate:"required"`
	Datatype      string `yaml:"datatype" validate:"omitempty,oneof=string integer float boolean"`
	Required      bool   `yaml:"required"`
	Order         int    `yaml:"order"`
}

// OutputDef declares one output parameter.
type OutputDef struct {
	Name          string `yaml:"name" validate:"required"`
	BoundProperty string `yaml:"boundProperty" validate:"required"`
	Datatype      string `yaml:"datatype" validate:"omitempty,oneof=string integer float boolean"`
	FixedValue    any    `yaml:"fixedValue"`
}

// InvocationDef declares how an operation executes.
type InvocationDef struct {
	Kind        string     `yaml:"kind" validate:"required,oneof=external-process direct-update"`
	Script      string     `yaml:"script"`
	Interpreter string     `yaml:"interpreter"`
	ArgStyle    string     `yaml:"argStyle" validate:"omitempty,oneof=positional stdin-json"`
	Update      *UpdateDef `yaml:"update"`
}

// UpdateDef declares a statement-level mutation.
type UpdateDef struct {
	Delete []TripleDef `yaml:"delete"`
	Insert []TripleDef `yaml:"insert"`
	Where  []TripleDef `yaml:"where"`
}

// RuleDef declares one rule.
type RuleDef struct {
	ID         string        `yaml:"id" validate:"required"`
	Priority   int           `yaml:"priority"`
	Kind       string        `yaml:"kind" validate:"required,oneof=update construct"`
	Antecedent []TripleDef   `yaml:"antecedent" validate:"required,min=1"`
	Update     *UpdateDef    `yaml:"update"`
	Construct  *ConstructDef `yaml:"construct"`
}

// ConstructDef declares a construct consequent.
type ConstructDef struct {
	Template []TripleDef `yaml:"template" validate:"required,min=1"`
	Where    []TripleDef `yaml:"where"`
}

// TripleDef is one pattern written as a three-element YAML sequence. Strings
// starting with "?" are variables; prefixed names expand against the
// document's prefixes; other strings become URIs or string literals by shape;
// numbers and booleans become typed literals.
type TripleDef []any

// Loader parses and validates definitions files.
type Loader struct {
	log      *telemetry.Logger
	validate *validator.Validate
}

// NewLoader creates a loader.
func NewLoader(log *telemetry.Logger) *Loader {
	return &Loader{
		log:      log.NewComponentLogger("definitions"),
		validate: validator.New(),
	}
}

// LoadFile parses one definitions file. Relative script paths resolve against
// the file's directory.
func (l *Loader) LoadFile(path string) ([]graph.Statement, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewDefinitionError(fmt.Sprintf("reading %s", path), err)
	}
	stmts, err := l.Load(data, filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	l.log.WithField("file", path).WithField("statements", len(stmts)).Debug("definitions loaded")
	return stmts, nil
}

// Load parses definitions from raw YAML. baseDir, if non-empty, anchors
// relative script paths.
func (l *Loader) Load(data []byte, baseDir string) ([]graph.Statement, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, engine.NewDefinitionError("parsing definitions YAML", err)
	}
	if err := l.validate.Struct(&doc); err != nil {
		return nil, engine.NewDefinitionError("validating definitions", err)
	}

	var stmts []graph.Statement
	for _, opDef := range doc.Operations {
		op, err := buildOperation(&doc, opDef, baseDir)
		if err != nil {
			return nil, err
		}
		encoded, err := engine.EncodeOperation(op)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, encoded...)
	}
	for _, ruleDef := range doc.Rules {
		rule, err := buildRule(&doc, ruleDef)
		if err != nil {
			return nil, err
		}
		encoded, err := engine.EncodeRule(rule)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, encoded...)
	}
	return stmts, nil
}

func buildOperation(doc *Document, def OperationDef, baseDir string) (engine.Operation, error) {
	op := engine.Operation{}

	id, err := resolveURI(doc, def.ID)
	if err != nil {
		return op, engine.NewDefinitionError(fmt.Sprintf("operation id %q", def.ID), err)
	}
	op.ID = id

	for _, in := range def.Inputs {
		bound, err := resolveURI(doc, in.BoundProperty)
		if err != nil {
			return op, engine.NewDefinitionError(
				fmt.Sprintf("input %q bound property", in.Name), err).WithOperation(id.IRI)
		}
		op.Inputs = append(op.Inputs, engine.InputParameter{
			Name:          in.Name,
			BoundProperty: bound,
			Datatype:      in.Datatype,
			Required:      in.Required,
			Order:         in.Order,
		})
	}

	for _, out := range def.Outputs {
		bound, err := resolveURI(doc, out.BoundProperty)
		if err != nil {
			return op, engine.NewDefinitionError(
				fmt.Sprintf("output %q bound property", out.Name), err).WithOperation(id.IRI)
		}
		param := engine.OutputParameter{
			Name:          out.Name,
			BoundProperty: bound,
			Datatype:      out.Datatype,
		}
		if out.FixedValue != nil {
			fixed, err := groundTerm(doc, out.FixedValue)
			if err != nil {
				return op, engine.NewDefinitionError(
					fmt.Sprintf("output %q fixed value", out.Name), err).WithOperation(id.IRI)
			}
			param.Fixed = &fixed
		}
		op.Outputs = append(op.Outputs, param)
	}

	switch def.Invocation.Kind {
	case string(engine.InvocationExternalProcess):
		if def.Invocation.Script == "" {
			return op, engine.NewDefinitionError("external-process invocation needs a script", nil).
				WithOperation(id.IRI)
		}
		script := def.Invocation.Script
		if baseDir != "" && !filepath.IsAbs(script) {
			script = filepath.Join(baseDir, script)
		}
		style := engine.ArgStyle(def.Invocation.ArgStyle)
		if style == "" {
			style = engine.ArgStylePositional
		}
		op.Invocation = engine.Invocation{
			Kind:        engine.InvocationExternalProcess,
			ScriptPath:  script,
			Interpreter: def.Invocation.Interpreter,
			ArgStyle:    style,
		}
	case string(engine.InvocationDirectUpdate):
		if def.Invocation.Update == nil {
			return op, engine.NewDefinitionError("direct-update invocation needs an update", nil).
				WithOperation(id.IRI)
		}
		update, err := buildUpdate(doc, *def.Invocation.Update)
		if err != nil {
			return op, engine.NewDefinitionError("invocation update", err).WithOperation(id.IRI)
		}
		op.Invocation = engine.Invocation{
			Kind:   engine.InvocationDirectUpdate,
			Update: &update,
		}
	}

	if len(def.Precondition) > 0 {
		patterns, err := buildPatterns(doc, def.Precondition)
		if err != nil {
			return op, engine.NewDefinitionError("precondition", err).WithOperation(id.IRI)
		}
		op.Precondition = &graph.AskQuery{Patterns: patterns}
	}
	return op, nil
}

func buildRule(doc *Document, def RuleDef) (engine.Rule, error) {
	rule := engine.Rule{Priority: def.Priority}

	id, err := resolveURI(doc, def.ID)
	if err != nil {
		return rule, engine.NewDefinitionError(fmt.Sprintf("rule id %q", def.ID), err)
	}
	rule.ID = id

	antecedent, err := buildPatterns(doc, def.Antecedent)
	if err != nil {
		return rule, engine.NewDefinitionError("antecedent", err).WithRule(id.IRI)
	}
	rule.Antecedent = graph.AskQuery{Patterns: antecedent}

	switch def.Kind {
	case string(engine.RuleKindUpdate):
		if def.Update == nil {
			return rule, engine.NewDefinitionError("update rule needs an update", nil).WithRule(id.IRI)
		}
		update, err := buildUpdate(doc, *def.Update)
		if err != nil {
			return rule, engine.NewDefinitionError("update consequent", err).WithRule(id.IRI)
		}
		rule.Kind = engine.RuleKindUpdate
		rule.Update = &update
	case string(engine.RuleKindConstruct):
		if def.Construct == nil {
			return rule, engine.NewDefinitionError("construct rule needs a construct", nil).WithRule(id.IRI)
		}
		template, err := buildPatterns(doc, def.Construct.Template)
		if err != nil {
			return rule, engine.NewDefinitionError("construct template", err).WithRule(id.IRI)
		}
		where, err := buildPatterns(doc, def.Construct.Where)
		if err != nil {
			return rule, engine.NewDefinitionError("construct where", err).WithRule(id.IRI)
		}
		rule.Kind = engine.RuleKindConstruct
		rule.Construct = &graph.ConstructQuery{Template: template, Where: where}
	}
	return rule, nil
}

func buildUpdate(doc *Document, def UpdateDef) (graph.Update, error) {
	del, err := buildPatterns(doc, def.Delete)
	if err != nil {
		return graph.Update{}, err
	}
	ins, err := buildPatterns(doc, def.Insert)
	if err != nil {
		return graph.Update{}, err
	}
	where, err := buildPatterns(doc, def.Where)
	if err != nil {
		return graph.Update{}, err
	}
	return graph.Update{Delete: del, Insert: ins, Where: where}, nil
}

func buildPatterns(doc *Document, triples []TripleDef) ([]graph.Pattern, error) {
	patterns := make([]graph.Pattern, 0, len(triples))
	for i, triple := range triples {
		if len(triple) != 3 {
			return nil, fmt.Errorf("pattern %d has %d elements, want 3", i, len(triple))
		}
		s, err := patternTerm(doc, triple[0])
		if err != nil {
			return nil, fmt.Errorf("pattern %d subject: %w", i, err)
		}
		p, err := patternTerm(doc, triple[1])
		if err != nil {
			return nil, fmt.Errorf("pattern %d predicate: %w", i, err)
		}
		o, err := patternTerm(doc, triple[2])
		if err != nil {
			return nil, fmt.Errorf("pattern %d object: %w", i, err)
		}
		patterns = append(patterns, graph.P(s, p, o))
	}
	return patterns, nil
}

func patternTerm(doc *Document, v any) (graph.PatternTerm, error) {
	if s, ok := v.(string); ok && strings.HasPrefix(s, "?") {
		name := strings.TrimPrefix(s, "?")
		if name == "" {
			return graph.PatternTerm{}, fmt.Errorf("empty variable name")
		}
		return graph.V(name), nil
	}
	t, err := groundTerm(doc, v)
	if err != nil {
		return graph.PatternTerm{}, err
	}
	return graph.T(t), nil
}

func groundTerm(doc *Document, v any) (graph.Term, error) {
	switch x := v.(type) {
	case string:
		if x == "" {
			return graph.Term{}, fmt.Errorf("empty term")
		}
		if isURIShape(x) {
			return graph.URI(x), nil
		}
		if expanded, ok := expandPrefix(doc, x); ok {
			return graph.URI(expanded), nil
		}
		return graph.String(x), nil
	case bool:
		return graph.Boolean(x), nil
	case int:
		return graph.Integer(int64(x)), nil
	case int64:
		return graph.Integer(x), nil
	case float64:
		return graph.Float(x), nil
	default:
		return graph.Term{}, fmt.Errorf("unsupported term value %v (%T)", v, v)
	}
}

// resolveURI requires the value to denote an identifier, expanded or literal.
func resolveURI(doc *Document, s string) (graph.Term, error) {
	if isURIShape(s) {
		return graph.URI(s), nil
	}
	if expanded, ok := expandPrefix(doc, s); ok {
		return graph.URI(expanded), nil
	}
	return graph.Term{}, fmt.Errorf("%q is not a URI or known prefixed name", s)
}

func expandPrefix(doc *Document, s string) (string, bool) {
	prefix, rest, found := strings.Cut(s, ":")
	if !found || rest == "" {
		return "", false
	}
	base, ok := doc.Prefixes[prefix]
	if !ok {
		return "", false
	}
	return base + rest, true
}

func isURIShape(s string) bool {
	for _, prefix := range []string{"http://", "https://", "urn:"} {
		if strings.HasPrefix(s, prefix) && len(s) > len(prefix) {
			return true
		}
	}
	return false
}
