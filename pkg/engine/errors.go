package engine

import (
	"errors"
	"fmt"
)

// ErrorClass categorizes engine failures for reporting and for the planner's
// gating decisions.
type ErrorClass string

const (
	// ErrorClassDefinition covers malformed or incomplete stored definitions.
	ErrorClassDefinition ErrorClass = "definition"
	// ErrorClassInvocation covers failures invoking an operation: spawn
	// errors, non-zero exits, timeouts, unparseable output.
	ErrorClassInvocation ErrorClass = "invocation"
	// ErrorClassQuery covers knowledge-layer query failures.
	ErrorClassQuery ErrorClass = "query"
	// ErrorClassDepth marks exhaustion of the planner's iteration budget.
	ErrorClassDepth ErrorClass = "depth-exceeded"
)

// EngineError is the classified error type used throughout the engine.
type EngineError struct {
	Class     ErrorClass
	Message   string
	Operation string
	Rule      string
	Err       error
	Details   map[string]any
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Operation != "" {
		msg += fmt.Sprintf(" (operation: %s)", e.Operation)
	}
	if e.Rule != "" {
		msg += fmt.Sprintf(" (rule: %s)", e.Rule)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the wrapped error.
func (e *EngineError) Unwrap() error { return e.Err }

// Is matches on error class.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// WithOperation attaches the offending operation identifier.
func (e *EngineError) WithOperation(op string) *EngineError {
	e.Operation = op
	return e
}

// WithRule attaches the offending rule identifier.
func (e *EngineError) WithRule(rule string) *EngineError {
	e.Rule = rule
	return e
}

// WithDetail attaches a structured detail field.
func (e *EngineError) WithDetail(key string, value any) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewDefinitionError creates a definition-class error.
func NewDefinitionError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassDefinition, Message: message, Err: err}
}

// NewInvocationError creates an invocation-class error.
func NewInvocationError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassInvocation, Message: message, Err: err}
}

// NewQueryError creates a query-class error.
func NewQueryError(message string, err error) *EngineError {
	return &EngineError{Class: ErrorClassQuery, Message: message, Err: err}
}

// NewDepthExceededError creates a depth-exceeded error.
func NewDepthExceededError(maxIterations int) *EngineError {
	return &EngineError{
		Class:   ErrorClassDepth,
		Message: fmt.Sprintf("maximum planning depth of %d iterations reached", maxIterations),
	}
}

// IsDefinitionError reports whether err is definition-class.
func IsDefinitionError(err error) bool { return hasClass(err, ErrorClassDefinition) }

// IsInvocationError reports whether err is invocation-class.
func IsInvocationError(err error) bool { return hasClass(err, ErrorClassInvocation) }

// IsQueryError reports whether err is query-class.
func IsQueryError(err error) bool { return hasClass(err, ErrorClassQuery) }

// IsDepthExceeded reports whether err is a depth-exceeded error.
func IsDepthExceeded(err error) bool { return hasClass(err, ErrorClassDepth) }

func hasClass(err error, class ErrorClass) bool {
	var e *EngineError
	if !errors.As(err, &e) {
		return false
	}
	return e.Class == class
}
