// Package logging provides the structured logger used across the TURN
// client transport. Shape (LogLevel, LoggerConfig, WithFields) is carried
// over from the teacher's pkg/logging/structured_logger.go; the backing
// handler is swapped from log/slog to zerolog, since zerolog (not slog) is
// the teacher module's declared structured-logging dependency.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents the logging level.
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// LoggerConfig configures the structured logger.
type LoggerConfig struct {
	Level   LogLevel
	Output  io.Writer
	Console bool // human-readable console writer instead of JSON lines

	ServiceName string
	Component   string // e.g. "sockdriver", "turn.session", "adapter"
}

// StructuredLogger wraps a zerolog.Logger with the base fields every log
// line from this module carries (service, component).
type StructuredLogger struct {
	zl zerolog.Logger
}

// NewStructuredLogger creates a new structured logger.
func NewStructuredLogger(config *LoggerConfig) *StructuredLogger {
	if config == nil {
		config = &LoggerConfig{
			Level:       LevelInfo,
			Output:      os.Stderr,
			ServiceName: "turnclient",
		}
	}
	out := config.Output
	if out == nil {
		out = os.Stderr
	}
	if config.Console {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	zl := zerolog.New(out).
		Level(config.Level.zerolog()).
		With().
		Timestamp().
		Str("service", config.ServiceName).
		Logger()
	if config.Component != "" {
		zl = zl.With().Str("component", config.Component).Logger()
	}

	return &StructuredLogger{zl: zl}
}

// WithFields returns a logger that always attaches the given key/value
// pairs (an even-length list of string keys and values).
func (sl *StructuredLogger) WithFields(kv ...string) *StructuredLogger {
	ctx := sl.zl.With()
	for i := 0; i+1 < len(kv); i += 2 {
		ctx = ctx.Str(kv[i], kv[i+1])
	}
	return &StructuredLogger{zl: ctx.Logger()}
}

func (sl *StructuredLogger) Debug(msg string, kv ...string) { sl.log(sl.zl.Debug(), msg, kv) }
func (sl *StructuredLogger) Info(msg string, kv ...string)  { sl.log(sl.zl.Info(), msg, kv) }
func (sl *StructuredLogger) Warn(msg string, kv ...string)  { sl.log(sl.zl.Warn(), msg, kv) }

// Error logs msg with err attached, plus any extra key/value pairs.
func (sl *StructuredLogger) Error(msg string, err error, kv ...string) {
	ev := sl.zl.Error()
	if err != nil {
		ev = ev.Err(err)
	}
	sl.log(ev, msg, kv)
}

func (sl *StructuredLogger) log(ev *zerolog.Event, msg string, kv []string) {
	for i := 0; i+1 < len(kv); i += 2 {
		ev = ev.Str(kv[i], kv[i+1])
	}
	ev.Msg(msg)
}
