// Package telemetry provides structured logging and Prometheus metrics for
// the engine. Components receive an explicit *Logger; there is no package
// global.
package telemetry

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LoggingConfig controls logger construction.
type LoggingConfig struct {
	// Level is one of trace, debug, info, warn, error.
	Level string
	// Format is "json" or "console".
	Format string
	// Output is "stdout", "stderr", or a file path.
	Output string
}

// Logger wraps zerolog.Logger with engine-specific field helpers.
type Logger struct {
	zlog zerolog.Logger
}

// NewLogger creates a logger from the given configuration.
func NewLogger(cfg LoggingConfig) (*Logger, error) {
	var writer io.Writer
	switch cfg.Output {
	case "", "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	default:
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, err
		}
		writer = file
	}

	if cfg.Format == "console" {
		writer = zerolog.ConsoleWriter{Out: writer, TimeFormat: time.RFC3339}
	}

	zlog := zerolog.New(writer).With().Timestamp().Logger().Level(parseLogLevel(cfg.Level))
	return &Logger{zlog: zlog}, nil
}

// NewNopLogger returns a logger that discards everything. Used as the default
// in constructors and tests.
func NewNopLogger() *Logger {
	return &Logger{zlog: zerolog.Nop()}
}

// NewComponentLogger returns a child logger tagged with a component name.
func (l *Logger) NewComponentLogger(component string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("component", component).Logger()}
}

// WithRunID returns a child logger tagged with a run id.
func (l *Logger) WithRunID(runID string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("run_id", runID).Logger()}
}

// WithOperation returns a child logger tagged with an operation reference.
func (l *Logger) WithOperation(operationRef string) *Logger {
	return &Logger{zlog: l.zlog.With().Str("operation", operationRef).Logger()}
}

// WithField returns a child logger with one additional field.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{zlog: l.zlog.With().Interface(key, value).Logger()}
}

// WithError returns a child logger carrying an error field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{zlog: l.zlog.With().Err(err).Logger()}
}

// Trace logs at trace level.
func (l *Logger) Trace(msg string) { l.zlog.Trace().Msg(msg) }

// Tracef logs a formatted message at trace level.
func (l *Logger) Tracef(format string, args ...any) { l.zlog.Trace().Msgf(format, args...) }

// Debug logs at debug level.
func (l *Logger) Debug(msg string) { l.zlog.Debug().Msg(msg) }

// Debugf logs a formatted message at debug level.
func (l *Logger) Debugf(format string, args ...any) { l.zlog.Debug().Msgf(format, args...) }

// Info logs at info level.
func (l *Logger) Info(msg string) { l.zlog.Info().Msg(msg) }

// Infof logs a formatted message at info level.
func (l *Logger) Infof(format string, args ...any) { l.zlog.Info().Msgf(format, args...) }

// Warn logs at warn level.
func (l *Logger) Warn(msg string) { l.zlog.Warn().Msg(msg) }

// Warnf logs a formatted message at warn level.
func (l *Logger) Warnf(format string, args ...any) { l.zlog.Warn().Msgf(format, args...) }

// Error logs at error level.
func (l *Logger) Error(msg string) { l.zlog.Error().Msg(msg) }

// Errorf logs a formatted message at error level.
func (l *Logger) Errorf(format string, args ...any) { l.zlog.Error().Msgf(format, args...) }

func parseLogLevel(level string) zerolog.Level {
	switch level {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
