package logging

import (
	"context"
	"fmt"
	"os"
	"time"
)

type contextKey string

const (
	lineageKey  contextKey = "lineage_id"
	templateKey contextKey = "template"
)

// ContextWithLineage tags ctx with the id of the rendering it belongs to
func ContextWithLineage(ctx context.Context, lineageID string) context.Context {
	return context.WithValue(ctx, lineageKey, lineageID)
}

// ContextWithTemplate tags ctx with the template currently being executed
func ContextWithTemplate(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, templateKey, name)
}

// LineageFromContext returns the lineage id stored on ctx, or ""
func LineageFromContext(ctx context.Context) string {
	id, _ := ctx.Value(lineageKey).(string)
	return id
}

// NewDefaultLogger creates a stdout logger at LOG_LEVEL
func NewDefaultLogger() Logger {
	logger, err := NewZapLogger(LogConfig{
		Level:      ParseLevel(os.Getenv("LOG_LEVEL")),
		TimeFormat: time.RFC3339,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize default zap logger: %v", err))
	}
	return logger
}

// InitGlobalLogger initializes the global logger from LOG_LEVEL and LOG_FILE.
// Output goes to stdout unless LOG_FILE names a file to append to.
func InitGlobalLogger() error {
	config := LogConfig{
		Level:      ParseLevel(os.Getenv("LOG_LEVEL")),
		TimeFormat: time.RFC3339,
	}

	logFileName := os.Getenv("LOG_FILE")
	if logFileName != "" {
		file, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", logFileName, err)
		}
		config.Output = file
	}

	logger, err := NewZapLogger(config)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	SetGlobalLogger(logger)

	logger.Debug("Logger initialized",
		Field{"level", config.Level.String()},
		Field{"log_file", logFileName},
	)
	return nil
}

// MustSync flushes any buffered log entries for zap loggers
func MustSync() {
	if zapLogger, ok := GetGlobalLogger().(*ZapAdapter); ok {
		_ = zapLogger.Sync()
	}
}

// WithFields is a convenience function to add fields to the global logger
func WithFields(fields ...Field) Logger {
	return GetGlobalLogger().WithFields(fields...)
}

// String creates a string field
func String(key, value string) Field {
	return Field{Key: key, Value: value}
}

// Int creates an int field
func Int(key string, value int) Field {
	return Field{Key: key, Value: value}
}

// Duration creates a duration field
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, Value: value}
}

// Err creates an error field with key "error"
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}
