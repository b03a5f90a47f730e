package definitions

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kce-engine/kce/pkg/engine"
	"github.com/kce-engine/kce/pkg/graph"
)

// ProblemDoc is the YAML form of a solve request: the goal patterns and the
// initial ground facts.
type ProblemDoc struct {
	Prefixes map[string]string `yaml:"prefixes"`
	Goal     []TripleDef       `yaml:"goal" validate:"required,min=1"`
	Initial  []TripleDef       `yaml:"initial"`
}

// Problem is a parsed solve request.
type Problem struct {
	Goal    graph.AskQuery
	Initial []graph.Statement
}

// LoadProblemFile parses a problem file.
func (l *Loader) LoadProblemFile(path string) (*Problem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, engine.NewDefinitionError(fmt.Sprintf("reading %s", path), err)
	}
	return l.LoadProblem(data)
}

// LoadProblem parses a problem from raw YAML.
func (l *Loader) LoadProblem(data []byte) (*Problem, error) {
	var doc ProblemDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, engine.NewDefinitionError("parsing problem YAML", err)
	}
	if err := l.validate.Struct(&doc); err != nil {
		return nil, engine.NewDefinitionError("validating problem", err)
	}

	defs := &Document{Prefixes: doc.Prefixes}
	goal, err := buildPatterns(defs, doc.Goal)
	if err != nil {
		return nil, engine.NewDefinitionError("goal", err)
	}

	initial := make([]graph.Statement, 0, len(doc.Initial))
	for i, triple := range doc.Initial {
		if len(triple) != 3 {
			return nil, engine.NewDefinitionError(
				fmt.Sprintf("initial fact %d has %d elements, want 3", i, len(triple)), nil)
		}
		for _, v := range triple {
			if s, ok := v.(string); ok && strings.HasPrefix(s, "?") {
				return nil, engine.NewDefinitionError(
					fmt.Sprintf("initial fact %d contains variable %q, facts must be ground", i, s), nil)
			}
		}
		s, err := groundTerm(defs, triple[0])
		if err != nil {
			return nil, engine.NewDefinitionError(fmt.Sprintf("initial fact %d subject", i), err)
		}
		p, err := groundTerm(defs, triple[1])
		if err != nil {
			return nil, engine.NewDefinitionError(fmt.Sprintf("initial fact %d predicate", i), err)
		}
		o, err := groundTerm(defs, triple[2])
		if err != nil {
			return nil, engine.NewDefinitionError(fmt.Sprintf("initial fact %d object", i), err)
		}
		initial = append(initial, graph.S(s, p, o))
	}
	return &Problem{
		Goal:    graph.AskQuery{Patterns: goal},
		Initial: initial,
	}, nil
}
