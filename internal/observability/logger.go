// internal/observability/logger.go
package observability

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// SLogger is a wrapper for a zap sugared logger with OpenTelemetry integration
type SLogger struct {
	*zap.SugaredLogger
	level *zap.AtomicLevel
}

const (
	traceIDKey = "trace_id"
	spanIDKey  = "span_id"
)

// NewLogger constructs a new sugared logger with OpenTelemetry integration
func NewLogger(level zapcore.Level, options ...zap.Option) (*SLogger, error) {
	config := zap.NewProductionConfig()
	config.Level = zap.NewAtomicLevelAt(level)
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	baseLogger, err := config.Build(options...)
	if err != nil {
		return nil, err
	}

	logger := newSLogger(baseLogger)
	logger.level = &config.Level
	logger.Info("Initialized Logger level:" + config.Level.String())

	return logger, nil
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *SLogger {
	return newSLogger(zap.NewNop())
}

// SetLevel changes the level of a logger built by NewLogger. Other loggers
// keep their level.
func (l *SLogger) SetLevel(level zapcore.Level) {
	if l.level == nil || l.level.Level() == level {
		return
	}
	l.level.SetLevel(level)
	l.Infow("Logger level changed", "level", level.String())
}

func newSLogger(logger *zap.Logger) *SLogger {
	return &SLogger{
		SugaredLogger: logger.Sugar(),
	}
}

// getTraceInfo gets the trace and span metadata from context
func getTraceInfo(ctx context.Context) (trace.TraceID, trace.SpanID, bool) {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return trace.TraceID{}, trace.SpanID{}, false
	}

	return span.SpanContext().TraceID(), span.SpanContext().SpanID(), true
}

// withTrace prepends the trace and span ids found in ctx to keysAndValues.
func withTrace(ctx context.Context, keysAndValues []interface{}) []interface{} {
	traceID, spanID, ok := getTraceInfo(ctx)
	if !ok {
		return keysAndValues
	}

	kv := make([]interface{}, 0, len(keysAndValues)+4)
	kv = append(kv, traceIDKey, traceID.String(), spanIDKey, spanID.String())
	return append(kv, keysAndValues...)
}

// LogWithContext logs a message with trace context at the specified level
func (l *SLogger) LogWithContext(ctx context.Context, level zapcore.Level, msg string, keysAndValues ...interface{}) {
	kv := withTrace(ctx, keysAndValues)

	switch level {
	case zapcore.ErrorLevel:
		l.Errorw(msg, kv...)
	case zapcore.WarnLevel:
		l.Warnw(msg, kv...)
	case zapcore.DebugLevel:
		l.Debugw(msg, kv...)
	default:
		l.Infow(msg, kv...)
	}
}

// InfoCtx logs a message with trace context
func (l *SLogger) InfoCtx(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.Infow(msg, withTrace(ctx, keysAndValues)...)
}

// WarnCtx logs a warning with trace context
func (l *SLogger) WarnCtx(ctx context.Context, msg string, keysAndValues ...interface{}) {
	l.Warnw(msg, withTrace(ctx, keysAndValues)...)
}

// ErrorCtx logs an error with trace context
func (l *SLogger) ErrorCtx(ctx context.Context, err error, keysAndValues ...interface{}) {
	l.Errorw(err.Error(), withTrace(ctx, keysAndValues)...)
}

// GetTraceID returns the trace ID from context
func GetTraceID(ctx context.Context) (string, bool) {
	span := trace.SpanFromContext(ctx)
	if !span.SpanContext().IsValid() {
		return "", false
	}
	return span.SpanContext().TraceID().String(), true
}

// NewTestLogger creates a logger for testing
func NewTestLogger() (*SLogger, *observer.ObservedLogs, error) {
	core, observedLogs := observer.New(zapcore.DebugLevel)
	observedOpt := zap.WrapCore(func(zapcore.Core) zapcore.Core {
		return core
	})

	baseLogger, err := zap.NewDevelopment(observedOpt)
	if err != nil {
		return nil, nil, err
	}

	return newSLogger(baseLogger), observedLogs, nil
}
