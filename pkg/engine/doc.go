// Package engine implements the planning and execution core: the
// goal-directed Planner, the forward-chaining RuleEngine, the step-level
// PlanExecutor, and the NodeExecutor that bridges declarative state with
// externally executed operations.
//
// The engine consumes state exclusively through the knowledge.Layer
// interface. Operation and rule definitions are themselves statements in the
// knowledge base, written under the vocabulary in vocab.go; the metadata
// codec reads them back via pattern queries.
package engine
