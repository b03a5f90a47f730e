package engine

import "github.com/kce-engine/kce/pkg/graph"

// Vocabulary for operation and rule metadata. Definitions are materialized as
// statements under these identifiers by the definitions loader and read back
// by the metadata codec; the engine never parses definition files itself.
const (
	vocabNS = "urn:kce:vocab:"

	// VarNS prefixes URIs that encode query variables inside stored
	// definitions.
	VarNS = "urn:kce:var:"
)

var (
	// PredType asserts a definition's class.
	PredType = graph.URI(vocabNS + "type")

	// ClassOperation marks an operation definition subject.
	ClassOperation = graph.URI(vocabNS + "Operation")
	// ClassRule marks a rule definition subject.
	ClassRule = graph.URI(vocabNS + "Rule")

	// Parameter structure.
	PredHasInput      = graph.URI(vocabNS + "hasInputParameter")
	PredHasOutput     = graph.URI(vocabNS + "hasOutputParameter")
	PredParamName     = graph.URI(vocabNS + "parameterName")
	PredBoundProperty = graph.URI(vocabNS + "boundProperty")
	PredParamDatatype = graph.URI(vocabNS + "datatype")
	PredParamRequired = graph.URI(vocabNS + "required")
	PredParamOrder    = graph.URI(vocabNS + "parameterOrder")
	PredFixedValue    = graph.URI(vocabNS + "fixedValue")

	// Invocation structure.
	PredInvocation     = graph.URI(vocabNS + "invocation")
	PredInvocationKind = graph.URI(vocabNS + "invocationKind")
	PredScriptPath     = graph.URI(vocabNS + "scriptPath")
	PredInterpreter    = graph.URI(vocabNS + "interpreter")
	PredArgStyle       = graph.URI(vocabNS + "argumentStyle")
	PredPrecondition   = graph.URI(vocabNS + "precondition")

	// Rule structure.
	PredPriority            = graph.URI(vocabNS + "priority")
	PredRuleKind            = graph.URI(vocabNS + "ruleKind")
	PredAntecedent          = graph.URI(vocabNS + "antecedent")
	PredConsequentUpdate    = graph.URI(vocabNS + "consequentUpdate")
	PredConsequentConstruct = graph.URI(vocabNS + "consequentConstruct")

	// Query/update structure: patterns hang off query nodes, one node per
	// pattern, ordered by PredPatternIndex.
	PredHasPattern       = graph.URI(vocabNS + "hasPattern")
	PredInsertPattern    = graph.URI(vocabNS + "insertPattern")
	PredDeletePattern    = graph.URI(vocabNS + "deletePattern")
	PredWherePattern     = graph.URI(vocabNS + "wherePattern")
	PredTemplatePattern  = graph.URI(vocabNS + "templatePattern")
	PredHasUpdate        = graph.URI(vocabNS + "hasUpdate")
	PredPatternIndex     = graph.URI(vocabNS + "patternIndex")
	PredPatternSubject   = graph.URI(vocabNS + "patternSubject")
	PredPatternPredicate = graph.URI(vocabNS + "patternPredicate")
	PredPatternObject    = graph.URI(vocabNS + "patternObject")
)

// RunContext returns the provenance context tag for a run's merged effects.
func RunContext(runID string) string {
	return "urn:kce:run:" + runID
}

// ContextSubject returns the run-scoped subject that an operation's declared
// outputs are attached to. Distinct runs never share a context subject.
func ContextSubject(runID string, operationID graph.Term) graph.Term {
	return graph.URI("urn:kce:run:" + runID + ":ctx:" + operationID.IRI)
}
