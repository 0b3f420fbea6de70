package telemetry

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// SetupLogger creates the process-wide structured logger. Production config
// with JSON output; development environments get console encoding with
// colored levels.
func SetupLogger(level, environment string) (*zap.Logger, error) {
	var logLevel zapcore.Level

	switch strings.ToLower(level) {
	case "debug":
		logLevel = zapcore.DebugLevel
	case "info":
		logLevel = zapcore.InfoLevel
	case "warn", "warning":
		logLevel = zapcore.WarnLevel
	case "error":
		logLevel = zapcore.ErrorLevel
	default:
		logLevel = zapcore.InfoLevel
	}

	var cfg zap.Config
	if environment == "development" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(logLevel)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}

	return logger, nil
}

// WithTrace returns a logger annotated with trace correlation fields so log
// lines can be joined against the span store.
func WithTrace(logger *zap.Logger, traceID, spanID string) *zap.Logger {
	if traceID == "" {
		return logger
	}
	fields := []zap.Field{zap.String("trace_id", traceID)}
	if spanID != "" {
		fields = append(fields, zap.String("span_id", spanID))
	}
	return logger.With(fields...)
}
