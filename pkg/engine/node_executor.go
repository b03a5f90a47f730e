package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/kce-engine/kce/pkg/audit"
	"github.com/kce-engine/kce/pkg/graph"
	"github.com/kce-engine/kce/pkg/knowledge"
	"github.com/kce-engine/kce/pkg/telemetry"
)

// DefaultSubprocessTimeout bounds each operation subprocess unless configured
// otherwise.
const DefaultSubprocessTimeout = 30 * time.Second

// Subprocess stdout keys carrying graph instructions rather than declared
// output values. The legacy key is accepted for scripts written against the
// older contract.
const (
	graphInstructionsKey       = "_graph_instructions"
	graphInstructionsLegacyKey = "_rdf_instructions"
)

// graphInstructions is the structured escape hatch in subprocess output for
// effects beyond declared parameters, such as minting new entities.
type graphInstructions struct {
	CreateEntities []createEntity `json:"create_entities"`
	UpdateEntities []updateEntity `json:"update_entities"`
	AddLinks       []addLink      `json:"add_links"`
}

type createEntity struct {
	URI        string         `json:"uri"`
	Type       string         `json:"type"`
	Properties map[string]any `json:"properties"`
}

type updateEntity struct {
	URI             string         `json:"uri"`
	PropertiesToSet map[string]any `json:"properties_to_set"`
}

type addLink struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`
	Object    string `json:"object"`
}

// DefaultNodeExecutor realizes operations: it resolves declared inputs, runs
// the subprocess (or applies the stored update), and converts declared outputs
// and graph instructions into a statement delta for the caller to merge.
type DefaultNodeExecutor struct {
	log     *telemetry.Logger
	auditor audit.Logger
	metrics *telemetry.Metrics
	timeout time.Duration
	workDir string
}

// NodeExecutorOption configures a DefaultNodeExecutor.
type NodeExecutorOption func(*DefaultNodeExecutor)

// WithSubprocessTimeout overrides the per-invocation timeout.
func WithSubprocessTimeout(d time.Duration) NodeExecutorOption {
	return func(e *DefaultNodeExecutor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithWorkDir sets the working directory for subprocesses. Relative script
// paths resolve against it.
func WithWorkDir(dir string) NodeExecutorOption {
	return func(e *DefaultNodeExecutor) { e.workDir = dir }
}

// WithNodeExecutorAuditor installs the audit sink.
func WithNodeExecutorAuditor(a audit.Logger) NodeExecutorOption {
	return func(e *DefaultNodeExecutor) { e.auditor = a }
}

// WithNodeExecutorMetrics installs the metrics collector.
func WithNodeExecutorMetrics(m *telemetry.Metrics) NodeExecutorOption {
	return func(e *DefaultNodeExecutor) { e.metrics = m }
}

// NewNodeExecutor creates a node executor with the default timeout.
func NewNodeExecutor(log *telemetry.Logger, opts ...NodeExecutorOption) *DefaultNodeExecutor {
	e := &DefaultNodeExecutor{
		log:     log.NewComponentLogger("node_executor"),
		auditor: audit.NopLogger{},
		timeout: DefaultSubprocessTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute implements NodeExecutor. Inputs resolve from the supplied input
// graph first, falling back to the knowledge layer for values the caller did
// not stage. The returned delta is not merged here except for direct-update
// operations, whose stored update applies in place.
func (e *DefaultNodeExecutor) Execute(ctx context.Context, operationID graph.Term, runID string, kl knowledge.Layer, input *graph.Graph) ([]graph.Statement, error) {
	op, err := LoadOperation(kl, operationID)
	if err != nil {
		return nil, err
	}

	log := e.log.WithRunID(runID).WithOperation(op.ID.IRI)

	if op.Invocation.Kind == InvocationDirectUpdate {
		if _, err := kl.Update(*op.Invocation.Update); err != nil {
			return nil, NewInvocationError("applying direct update", err).WithOperation(op.ID.IRI)
		}
		log.Debug("direct update applied")
		return nil, nil
	}

	resolved, err := e.resolveInputs(op, kl, input)
	if err != nil {
		return nil, err
	}

	e.auditor.LogEvent(audit.Event{
		RunID:        runID,
		Type:         "node",
		OperationRef: op.ID.IRI,
		Status:       audit.StatusStarted,
		Inputs:       inputValues(resolved),
	})

	stdout, err := e.runSubprocess(ctx, op, resolved, log)
	if err != nil {
		e.auditor.LogEvent(audit.Event{
			RunID:        runID,
			Type:         "node",
			OperationRef: op.ID.IRI,
			Status:       audit.StatusFailed,
			Message:      err.Error(),
		})
		return nil, err
	}

	delta, outputs, err := e.decodeOutputs(op, runID, stdout, log)
	if err != nil {
		e.auditor.LogEvent(audit.Event{
			RunID:        runID,
			Type:         "node",
			OperationRef: op.ID.IRI,
			Status:       audit.StatusFailed,
			Message:      err.Error(),
		})
		return nil, err
	}

	e.auditor.LogEvent(audit.Event{
		RunID:        runID,
		Type:         "node",
		OperationRef: op.ID.IRI,
		Status:       audit.StatusSucceeded,
		Outputs:      outputs,
	})
	return delta, nil
}

// resolvedInput pairs a declared parameter with the term that satisfied it. A
// zero Term marks a missing optional input.
type resolvedInput struct {
	param InputParameter
	value graph.Term
}

func (e *DefaultNodeExecutor) resolveInputs(op *Operation, kl knowledge.Layer, input *graph.Graph) ([]resolvedInput, error) {
	resolved := make([]resolvedInput, 0, len(op.Inputs))
	for _, param := range op.Inputs {
		value, ok := lookupInput(param.BoundProperty, kl, input)
		if !ok && param.Required {
			return nil, NewInvocationError(
				fmt.Sprintf("required input %q has no value for property %s", param.Name, param.BoundProperty.IRI),
				nil).WithOperation(op.ID.IRI)
		}
		resolved = append(resolved, resolvedInput{param: param, value: value})
	}
	return resolved, nil
}

func lookupInput(boundProperty graph.Term, kl knowledge.Layer, input *graph.Graph) (graph.Term, bool) {
	if input != nil {
		if v, ok := input.FirstObject(graph.Term{}, boundProperty); ok {
			return v, true
		}
	}
	bindings, err := kl.Query([]graph.Pattern{
		graph.P(graph.V("s"), graph.T(boundProperty), graph.V("v")),
	})
	if err != nil || len(bindings) == 0 {
		return graph.Term{}, false
	}
	return bindings[0]["v"], true
}

func (e *DefaultNodeExecutor) runSubprocess(ctx context.Context, op *Operation, inputs []resolvedInput, log *telemetry.Logger) ([]byte, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if e.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	var argv []string
	if op.Invocation.ArgStyle == ArgStylePositional {
		for _, in := range inputs {
			if in.value.IsZero() {
				argv = append(argv, "")
				continue
			}
			argv = append(argv, in.value.Lexical())
		}
	}

	var cmd *exec.Cmd
	if op.Invocation.Interpreter != "" {
		cmd = exec.CommandContext(runCtx, op.Invocation.Interpreter,
			append([]string{op.Invocation.ScriptPath}, argv...)...)
	} else {
		cmd = exec.CommandContext(runCtx, op.Invocation.ScriptPath, argv...)
	}
	cmd.Dir = e.workDir

	if op.Invocation.ArgStyle == ArgStyleStdinJSON {
		payload := make(map[string]any, len(inputs))
		for _, in := range inputs {
			if in.value.IsZero() {
				continue
			}
			payload[in.param.Name] = in.value.Value()
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, NewInvocationError("encoding stdin payload", err).WithOperation(op.ID.IRI)
		}
		cmd.Stdin = bytes.NewReader(data)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Bound the post-kill wait too: a grandchild holding the pipe write end
	// must not stall Run past the deadline.
	cmd.WaitDelay = time.Second

	log.WithField("script", op.Invocation.ScriptPath).WithField("args", argv).Debug("invoking subprocess")
	start := time.Now()
	err := cmd.Run()
	e.metrics.SubprocessObserved(time.Since(start))

	if err != nil {
		if runCtx.Err() != nil && ctx.Err() == nil {
			return nil, NewInvocationError(
				withStderr(fmt.Sprintf("subprocess timed out after %s", e.timeout), &stderr), runCtx.Err()).
				WithOperation(op.ID.IRI).
				WithDetail("stderr", stderr.String())
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, NewInvocationError(
				withStderr(fmt.Sprintf("subprocess exited with code %d", exitErr.ExitCode()), &stderr), err).
				WithOperation(op.ID.IRI).
				WithDetail("stderr", stderr.String())
		}
		return nil, NewInvocationError("spawning subprocess", err).WithOperation(op.ID.IRI)
	}
	return stdout.Bytes(), nil
}

// withStderr appends captured stderr to a failure message so it survives into
// the run's result message, not just the structured details.
func withStderr(message string, stderr *bytes.Buffer) string {
	s := strings.TrimSpace(stderr.String())
	if s == "" {
		return message
	}
	return fmt.Sprintf("%s, stderr: %s", message, s)
}

func (e *DefaultNodeExecutor) decodeOutputs(op *Operation, runID string, stdout []byte, log *telemetry.Logger) ([]graph.Statement, map[string]any, error) {
	reported := make(map[string]any)
	if trimmed := bytes.TrimSpace(stdout); len(trimmed) > 0 {
		if err := json.Unmarshal(trimmed, &reported); err != nil {
			return nil, nil, NewInvocationError("subprocess stdout is not a JSON object", err).
				WithOperation(op.ID.IRI).
				WithDetail("stdout", string(trimmed))
		}
	}

	declared := make(map[string]OutputParameter, len(op.Outputs))
	for _, out := range op.Outputs {
		declared[out.Name] = out
	}

	ctxSubject := ContextSubject(runID, op.ID)
	var delta []graph.Statement
	outputs := make(map[string]any)

	for _, out := range op.Outputs {
		if out.Fixed != nil {
			// Fixed values assert unconditionally, whatever the script said.
			delta = append(delta, graph.S(ctxSubject, out.BoundProperty, *out.Fixed))
			outputs[out.Name] = out.Fixed.Value()
			continue
		}
		raw, ok := reported[out.Name]
		if !ok {
			continue
		}
		term, err := outputTerm(raw, out.Datatype)
		if err != nil {
			return nil, nil, NewInvocationError(
				fmt.Sprintf("output %q: %v", out.Name, err), nil).WithOperation(op.ID.IRI)
		}
		delta = append(delta, graph.S(ctxSubject, out.BoundProperty, term))
		outputs[out.Name] = term.Value()
	}

	for key, raw := range reported {
		if key == graphInstructionsKey || key == graphInstructionsLegacyKey {
			stmts, err := e.decodeInstructions(op, raw, log)
			if err != nil {
				return nil, nil, err
			}
			delta = append(delta, stmts...)
			continue
		}
		if _, ok := declared[key]; !ok {
			log.WithField("key", key).Warn("subprocess reported undeclared output, ignoring")
		}
	}
	return delta, outputs, nil
}

func (e *DefaultNodeExecutor) decodeInstructions(op *Operation, raw any, log *telemetry.Logger) ([]graph.Statement, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, NewInvocationError("encoding graph instructions", err).WithOperation(op.ID.IRI)
	}
	var instr graphInstructions
	if err := json.Unmarshal(data, &instr); err != nil {
		return nil, NewInvocationError("malformed graph instructions", err).WithOperation(op.ID.IRI)
	}

	var stmts []graph.Statement
	for _, ent := range instr.CreateEntities {
		subject, ok := uriTerm(ent.URI)
		if !ok {
			log.WithField("uri", ent.URI).Warn("create_entities entry has no valid uri, skipping")
			continue
		}
		if typ, ok := uriTerm(ent.Type); ok {
			stmts = append(stmts, graph.S(subject, PredType, typ))
		}
		stmts = append(stmts, propertyStatements(subject, ent.Properties)...)
	}
	for _, ent := range instr.UpdateEntities {
		subject, ok := uriTerm(ent.URI)
		if !ok {
			log.WithField("uri", ent.URI).Warn("update_entities entry has no valid uri, skipping")
			continue
		}
		stmts = append(stmts, propertyStatements(subject, ent.PropertiesToSet)...)
	}
	for _, link := range instr.AddLinks {
		s, okS := uriTerm(link.Subject)
		p, okP := uriTerm(link.Predicate)
		o, okO := uriTerm(link.Object)
		if !okS || !okP || !okO {
			log.WithField("link", link).Warn("add_links entry has a non-URI position, skipping")
			continue
		}
		stmts = append(stmts, graph.S(s, p, o))
	}
	return stmts, nil
}

func propertyStatements(subject graph.Term, properties map[string]any) []graph.Statement {
	var stmts []graph.Statement
	for prop, value := range properties {
		pred, ok := uriTerm(prop)
		if !ok {
			continue
		}
		stmts = append(stmts, graph.S(subject, pred, jsonTerm(value)))
	}
	return stmts
}

// outputTerm converts a JSON output value into a term, honoring the declared
// datatype where the JSON representation is ambiguous.
func outputTerm(raw any, datatype string) (graph.Term, error) {
	switch v := raw.(type) {
	case string:
		switch datatype {
		case graph.DatatypeInteger:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return graph.Term{}, fmt.Errorf("expected integer, got %q", v)
			}
			return graph.Integer(n), nil
		case graph.DatatypeFloat:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return graph.Term{}, fmt.Errorf("expected float, got %q", v)
			}
			return graph.Float(f), nil
		case graph.DatatypeBoolean:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return graph.Term{}, fmt.Errorf("expected boolean, got %q", v)
			}
			return graph.Boolean(b), nil
		}
		if t, ok := uriTerm(v); ok && datatype == "" {
			return t, nil
		}
		return graph.String(v), nil
	case bool:
		return graph.Boolean(v), nil
	case float64:
		// encoding/json decodes every number as float64.
		if datatype == graph.DatatypeInteger || (datatype == "" && v == float64(int64(v))) {
			return graph.Integer(int64(v)), nil
		}
		return graph.Float(v), nil
	case nil:
		return graph.Term{}, fmt.Errorf("null value")
	default:
		return graph.Term{}, fmt.Errorf("unsupported value type %T", raw)
	}
}

// jsonTerm converts an instruction property value leniently: strings that look
// like identifiers become URIs, everything else becomes a literal.
func jsonTerm(raw any) graph.Term {
	if s, ok := raw.(string); ok {
		if t, ok := uriTerm(s); ok {
			return t
		}
		return graph.String(s)
	}
	if f, ok := raw.(float64); ok && f == float64(int64(f)) {
		return graph.Integer(int64(f))
	}
	return graph.Literal(raw)
}

// uriTerm recognizes identifier-shaped strings.
func uriTerm(s string) (graph.Term, bool) {
	for _, prefix := range []string{"http://", "https://", "urn:"} {
		if strings.HasPrefix(s, prefix) && len(s) > len(prefix) {
			return graph.URI(s), true
		}
	}
	return graph.Term{}, false
}

func inputValues(inputs []resolvedInput) map[string]any {
	out := make(map[string]any, len(inputs))
	for _, in := range inputs {
		if in.value.IsZero() {
			continue
		}
		out[in.param.Name] = in.value.Value()
	}
	return out
}
