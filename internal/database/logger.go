// internal/database/logger.go
package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/avivl/conference-lock/internal/observability"
	"gorm.io/gorm"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm/logger"
)

// GormLogger routes gorm's logging into the service logger
type GormLogger struct {
	l             *observability.SLogger
	logLevel      logger.LogLevel
	slowThreshold time.Duration
}

// NewGormLogger creates a gorm logger at the named level
func NewGormLogger(l *observability.SLogger, level string, slowThreshold time.Duration) logger.Interface {
	var logLevel logger.LogLevel
	switch strings.ToLower(level) {
	case "silent":
		logLevel = logger.Silent
	case "error":
		logLevel = logger.Error
	case "info":
		logLevel = logger.Info
	default:
		logLevel = logger.Warn
	}

	return &GormLogger{l: l, logLevel: logLevel, slowThreshold: slowThreshold}
}

// LogMode sets the log level for the logger
func (g *GormLogger) LogMode(level logger.LogLevel) logger.Interface {
	newLogger := *g
	newLogger.logLevel = level
	return &newLogger
}

func (g *GormLogger) Info(ctx context.Context, msg string, data ...interface{}) {
	if g.logLevel >= logger.Info {
		g.l.InfoCtx(ctx, fmt.Sprintf(msg, data...), "source", "database")
	}
}

func (g *GormLogger) Warn(ctx context.Context, msg string, data ...interface{}) {
	if g.logLevel >= logger.Warn {
		g.l.WarnCtx(ctx, fmt.Sprintf(msg, data...), "source", "database")
	}
}

func (g *GormLogger) Error(ctx context.Context, msg string, data ...interface{}) {
	if g.logLevel >= logger.Error {
		g.l.ErrorCtx(ctx, errors.New(fmt.Sprintf(msg, data...)), "source", "database")
	}
}

// Trace logs SQL operations. Record-not-found is an expected outcome and is not logged as an error.
func (g *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.logLevel <= logger.Silent {
		return
	}

	elapsed := time.Since(begin)
	sql, rows := fc()
	fields := []interface{}{"elapsed", elapsed.String(), "rows", rows, "sql", sql, "source", "database"}

	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && g.logLevel >= logger.Error:
		g.l.ErrorCtx(ctx, err, fields...)
	case g.slowThreshold > 0 && elapsed > g.slowThreshold && g.logLevel >= logger.Warn:
		g.l.WarnCtx(ctx, "Slow SQL Query", fields...)
	case g.logLevel >= logger.Info:
		g.l.LogWithContext(ctx, zapcore.DebugLevel, "SQL Query", fields...)
	}
}
