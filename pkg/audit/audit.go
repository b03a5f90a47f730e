// Package audit implements the engine's logging port: every component reports
// run lifecycle events through a Logger. Sinks include structured logs and a
// SQLite-backed event store.
package audit

import (
	"time"

	"github.com/kce-engine/kce/pkg/telemetry"
)

// Event statuses.
const (
	StatusStarted   = "started"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
)

// Event is one audit record emitted at segment/step boundaries and after rule
// passes.
type Event struct {
	RunID        string
	Type         string
	OperationRef string
	Status       string
	Inputs       map[string]any
	Outputs      map[string]any
	Message      string
	At           time.Time
}

// Logger is the logging port produced by the engine for its collaborators.
// Implementations must not fail the caller: auditing is best-effort.
type Logger interface {
	LogEvent(e Event)
}

// NopLogger discards all events.
type NopLogger struct{}

// LogEvent implements Logger.
func (NopLogger) LogEvent(Event) {}

// LogSink writes events to a telemetry logger.
type LogSink struct {
	log *telemetry.Logger
}

// NewLogSink returns a Logger that forwards events to structured logs.
func NewLogSink(log *telemetry.Logger) *LogSink {
	return &LogSink{log: log.NewComponentLogger("audit")}
}

// LogEvent implements Logger.
func (s *LogSink) LogEvent(e Event) {
	l := s.log.WithRunID(e.RunID).
		WithField("event_type", e.Type).
		WithField("status", e.Status)
	if e.OperationRef != "" {
		l = l.WithOperation(e.OperationRef)
	}
	if len(e.Inputs) > 0 {
		l = l.WithField("inputs", e.Inputs)
	}
	if len(e.Outputs) > 0 {
		l = l.WithField("outputs", e.Outputs)
	}
	switch e.Status {
	case StatusFailed:
		l.Error(e.Message)
	default:
		if e.Message == "" {
			l.Debug(e.Type)
		} else {
			l.Debug(e.Message)
		}
	}
}

// MultiLogger fans events out to several sinks.
type MultiLogger []Logger

// LogEvent implements Logger.
func (m MultiLogger) LogEvent(e Event) {
	for _, l := range m {
		l.LogEvent(e)
	}
}

// Now stamps an event with the current time if unset and returns it.
func Now(e Event) Event {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	return e
}
