package knowledge

import (
	"fmt"
	"sync"

	"github.com/kce-engine/kce/pkg/graph"
)

// Store is the in-memory Layer implementation. A single mutex serializes all
// access, so each query/update is atomic and independent runs sharing one
// store are isolated at the statement-operation level.
type Store struct {
	mu       sync.RWMutex
	g        *graph.Graph
	reasoner Reasoner

	// contexts counts statements merged per context tag, for provenance
	// inspection only.
	contexts map[string]int
}

// Option configures a Store.
type Option func(*Store)

// WithReasoner installs the closure routine invoked by Reason.
func WithReasoner(r Reasoner) Option {
	return func(s *Store) { s.reasoner = r }
}

// WithStatements seeds the store.
func WithStatements(stmts ...graph.Statement) Option {
	return func(s *Store) { s.g.AddAll(stmts) }
}

// NewStore returns an empty in-memory store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		g:        graph.New(),
		reasoner: NopReasoner{},
		contexts: make(map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Query implements Layer.
func (s *Store) Query(patterns []graph.Pattern) ([]graph.Binding, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.g.Query(patterns), nil
}

// Ask implements Layer.
func (s *Store) Ask(q graph.AskQuery) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.g.Ask(q), nil
}

// Construct implements Layer.
func (s *Store) Construct(q graph.ConstructQuery) ([]graph.Statement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.g.Construct(q)
}

// Update implements Layer.
func (s *Store) Update(u graph.Update) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	changed, err := s.g.Apply(u)
	if err != nil {
		return false, fmt.Errorf("update: %w", err)
	}
	return changed, nil
}

// Merge implements Layer.
func (s *Store) Merge(stmts []graph.Statement, context string) (int, error) {
	if len(stmts) == 0 {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	added := s.g.AddAll(stmts)
	if context != "" {
		s.contexts[context] += added
	}
	return added, nil
}

// Reason implements Layer: one pass of the configured closure routine, with
// derived statements merged back into the store.
func (s *Store) Reason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	derived, err := s.reasoner.Derive(s.g)
	if err != nil {
		return fmt.Errorf("reasoning: %w", err)
	}
	s.g.AddAll(derived)
	return nil
}

// Len returns the current statement count.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.g.Len()
}

// Snapshot returns an independent copy of the current statement set.
func (s *Store) Snapshot() *graph.Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.g.Clone()
}

// MergedInContext returns how many statements were merged under the given
// context tag.
func (s *Store) MergedInContext(context string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.contexts[context]
}
