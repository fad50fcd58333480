// internal/observability/observabilityconfig.go
package observability

import "go.uber.org/zap/zapcore"

// LogLevel represents logging levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "LOG_LEVELS_DEBUGLEVEL"
	LogLevelInfo  LogLevel = "LOG_LEVELS_INFOLEVEL"
	LogLevelWarn  LogLevel = "LOG_LEVELS_WARNLEVEL"
	LogLevelError LogLevel = "LOG_LEVELS_ERRORLEVEL"
)

// GetZapLevel converts LogLevel to zapcore.Level
func (l LogLevel) GetZapLevel() zapcore.Level {
	switch l {
	case LogLevelDebug:
		return zapcore.DebugLevel
	case LogLevelWarn:
		return zapcore.WarnLevel
	case LogLevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Exporter names accepted by Config.TracesExporter and Config.MetricsExporter.
const (
	ExporterNone       = "none"
	ExporterOTLP       = "otlp"
	ExporterStdout     = "stdout"
	ExporterPrometheus = "prometheus"
)

// Config represents OpenTelemetry configuration
type Config struct {
	ServiceName     string `mapstructure:"serviceName" yaml:"serviceName"`
	ServiceVersion  string `mapstructure:"serviceVersion" yaml:"serviceVersion"`
	Environment     string `mapstructure:"environment" yaml:"environment"`
	OTelEndpoint    string `mapstructure:"otelEndpoint" yaml:"otelEndpoint"`
	TracesExporter  string `mapstructure:"tracesExporter" yaml:"tracesExporter"`
	MetricsExporter string `mapstructure:"metricsExporter" yaml:"metricsExporter"`
}

// LoggerConfig represents logging configuration
type LoggerConfig struct {
	Level LogLevel `mapstructure:"level" yaml:"level"`
}
