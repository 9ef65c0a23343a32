// Package logging provides the structured logger used across the runner,
// guest agent, and mediation proxies.
//
// The teacher repository references a `github.com/R3E-Network/service_layer/
// internal/logging` package throughout internal/middleware (WithField-style
// calls, LogSecurityEvent, trace/user context keys) but the package itself
// was not part of the retrieved source tree. It is rebuilt here from those
// call sites, backed by logrus the way system/framework/service_engine.go
// backs its own entries.
package logging

import (
	"context"
	"os"

	"github.com/sirupsen/logrus"
)

type ctxKey int

const (
	traceIDKey ctxKey = iota
	runIDKey
)

// Logger wraps a logrus entry with the fields the runner cares about: a
// run id, a component name, and structured key/value pairs.
type Logger struct {
	entry *logrus.Entry
}

// New creates a Logger for the named component, writing JSON lines to
// stderr so the supervisor's own stdout is left free for the report.
func New(component string) *Logger {
	base := logrus.New()
	base.SetOutput(os.Stderr)
	base.SetFormatter(&logrus.JSONFormatter{})
	return &Logger{entry: base.WithField("component", component)}
}

// WithField returns a derived Logger carrying one extra structured field.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithFields returns a derived Logger carrying several extra fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithError returns a derived Logger carrying an error field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

func (l *Logger) Debug(args ...any) { l.entry.Debug(args...) }
func (l *Logger) Info(args ...any)  { l.entry.Info(args...) }
func (l *Logger) Warn(args ...any)  { l.entry.Warn(args...) }
func (l *Logger) Error(args ...any) { l.entry.Error(args...) }

func (l *Logger) Debugf(format string, args ...any) { l.entry.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }

// LogSecurityEvent records a quota/blocklist trip with structured fields,
// the same shape internal/middleware/ratelimit.go logs on rejection.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, fields map[string]any) {
	entry := l.entry.WithField("security_event", event).WithField("run_id", GetRunID(ctx))
	for k, v := range fields {
		entry = entry.WithField(k, v)
	}
	entry.Warn("security event")
}

// WithRunID attaches a run identifier to the context for downstream logs.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// GetRunID extracts the run identifier previously attached with WithRunID.
func GetRunID(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}

// WithTraceID attaches a trace identifier to the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

// GetTraceID extracts the trace identifier previously attached with
// WithTraceID.
func GetTraceID(ctx context.Context) string {
	v, _ := ctx.Value(traceIDKey).(string)
	return v
}
