// Package logging provides the unified logging interface for HALOAlign.
// It supports structured logging with JSON or console format, log levels,
// run/rank/trace context injection and rotated file output, backed by zap.
package logging

import (
	"context"
	"fmt"
	"os"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// ============================================================================
// Logger Interface
// ============================================================================

// Logger defines the unified logging interface
type Logger interface {
	// Debug logs a debug message
	Debug(msg string, fields ...Field)

	// Info logs an info message
	Info(msg string, fields ...Field)

	// Warn logs a warning message
	Warn(msg string, fields ...Field)

	// Error logs an error message
	Error(msg string, fields ...Field)

	// Fatal logs a fatal message and exits
	Fatal(msg string, fields ...Field)

	// With adds fields to logger context
	With(fields ...Field) Logger

	// WithContext adds run, rank and trace identifiers from context
	WithContext(ctx context.Context) Logger

	// Sync flushes any buffered log entries
	Sync() error
}

// Field represents a log field
type Field = zapcore.Field

// ============================================================================
// ZapLogger Implementation
// ============================================================================

// ZapLogger wraps zap.Logger to implement Logger interface
type ZapLogger struct {
	logger *zap.Logger
	level  zap.AtomicLevel
}

// NewZapLogger creates a new ZapLogger instance. Output "file" goes through
// a rotating writer.
func NewZapLogger(cfg LogConfig) (*ZapLogger, error) {
	if cfg.Output == "file" && cfg.FilePath != "" {
		return NewZapLoggerWithRotation(cfg)
	}

	zapConfig := buildZapConfig(cfg)
	logger, err := zapConfig.Build(buildOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return &ZapLogger{logger: logger, level: zapConfig.Level}, nil
}

// NewZapLoggerWithRotation creates logger with file rotation
func NewZapLoggerWithRotation(cfg LogConfig) (*ZapLogger, error) {
	if cfg.FilePath == "" {
		return nil, fmt.Errorf("file path is required for rotated logging")
	}

	writer := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    cfg.MaxSize, // megabytes
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge, // days
		Compress:   cfg.Compress,
	}

	level := zap.NewAtomicLevelAt(parseLogLevel(cfg.Level))
	core := zapcore.NewCore(buildEncoder(cfg), zapcore.AddSync(writer), level)
	return &ZapLogger{logger: zap.New(core, buildOptions(cfg)...), level: level}, nil
}

// NewZapLoggerFromCore wraps an existing zap core, e.g. an observer in tests.
// The atomic level starts at the lowest level the core enables.
func NewZapLoggerFromCore(core zapcore.Core) *ZapLogger {
	level := zap.NewAtomicLevelAt(zapcore.LevelOf(core))
	filtered, err := zapcore.NewIncreaseLevelCore(core, level)
	if err != nil {
		filtered = core
	}
	return &ZapLogger{logger: zap.New(filtered), level: level}
}

func buildOptions(cfg LogConfig) []zap.Option {
	opts := []zap.Option{zap.AddCallerSkip(1)}
	if cfg.EnableCaller {
		opts = append(opts, zap.AddCaller())
	}
	if cfg.EnableStacktrace {
		opts = append(opts, zap.AddStacktrace(zapcore.ErrorLevel))
	}
	return opts
}

// Debug logs a debug message
func (l *ZapLogger) Debug(msg string, fields ...Field) {
	l.logger.Debug(msg, fields...)
}

// Info logs an info message
func (l *ZapLogger) Info(msg string, fields ...Field) {
	l.logger.Info(msg, fields...)
}

// Warn logs a warning message
func (l *ZapLogger) Warn(msg string, fields ...Field) {
	l.logger.Warn(msg, fields...)
}

// Error logs an error message
func (l *ZapLogger) Error(msg string, fields ...Field) {
	l.logger.Error(msg, fields...)
}

// Fatal logs a fatal message and exits
func (l *ZapLogger) Fatal(msg string, fields ...Field) {
	l.logger.Fatal(msg, fields...)
}

// With adds fields to logger context
func (l *ZapLogger) With(fields ...Field) Logger {
	return &ZapLogger{logger: l.logger.With(fields...), level: l.level}
}

// WithContext adds run, rank and trace identifiers from context
func (l *ZapLogger) WithContext(ctx context.Context) Logger {
	fields := extractContextFields(ctx)
	if len(fields) == 0 {
		return l
	}
	return l.With(fields...)
}

// Sync flushes any buffered log entries
func (l *ZapLogger) Sync() error {
	return l.logger.Sync()
}

// SetLevel changes the level of this logger and every logger derived from it
func (l *ZapLogger) SetLevel(level string) {
	l.level.SetLevel(parseLogLevel(level))
}

// Level returns the current level name
func (l *ZapLogger) Level() string {
	return l.level.Level().String()
}

// ============================================================================
// Configuration
// ============================================================================

// LogConfig defines logging configuration
type LogConfig struct {
	// Log level (debug, info, warn, error, fatal)
	Level string

	// Log format (json, console)
	Format string

	// Output (stdout, stderr, file)
	Output string

	// File path (if output is file)
	FilePath string

	// Max file size in MB
	MaxSize int

	// Max backup files
	MaxBackups int

	// Max age in days
	MaxAge int

	// Enable compression
	Compress bool

	// Enable development mode
	Development bool

	// Enable caller info
	EnableCaller bool

	// Enable stacktrace
	EnableStacktrace bool
}

func buildZapConfig(cfg LogConfig) zap.Config {
	var zapConfig zap.Config
	if cfg.Development {
		zapConfig = zap.NewDevelopmentConfig()
	} else {
		zapConfig = zap.NewProductionConfig()
	}

	zapConfig.Level = zap.NewAtomicLevelAt(parseLogLevel(cfg.Level))
	zapConfig.Encoding = "json"
	if cfg.Format == "console" {
		zapConfig.Encoding = "console"
	}

	switch cfg.Output {
	case "stderr":
		zapConfig.OutputPaths = []string{"stderr"}
	default:
		zapConfig.OutputPaths = []string{"stdout"}
	}
	zapConfig.ErrorOutputPaths = []string{"stderr"}
	zapConfig.EncoderConfig = buildEncoderConfig(cfg)

	return zapConfig
}

func buildEncoder(cfg LogConfig) zapcore.Encoder {
	encoderConfig := buildEncoderConfig(cfg)
	if cfg.Format == "console" {
		return zapcore.NewConsoleEncoder(encoderConfig)
	}
	return zapcore.NewJSONEncoder(encoderConfig)
}

func buildEncoderConfig(cfg LogConfig) zapcore.EncoderConfig {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "timestamp",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "message",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	if cfg.Development {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000")
	}

	return encoderConfig
}

func parseLogLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// ============================================================================
// Context Integration
// ============================================================================

type contextKey string

const (
	runIDKey contextKey = "run_id"
	rankKey  contextKey = "rank"
)

// WithRunID adds the training run ID to context
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// WithRank adds the process rank to context
func WithRank(ctx context.Context, rank int) context.Context {
	return context.WithValue(ctx, rankKey, rank)
}

// GetTraceID retrieves the trace ID of the active span in context
func GetTraceID(ctx context.Context) string {
	if sc := oteltrace.SpanContextFromContext(ctx); sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// GetRunID retrieves the run ID from context
func GetRunID(ctx context.Context) string {
	if runID, ok := ctx.Value(runIDKey).(string); ok {
		return runID
	}
	return ""
}

// GetRank retrieves the process rank from context, -1 when absent
func GetRank(ctx context.Context) int {
	if rank, ok := ctx.Value(rankKey).(int); ok {
		return rank
	}
	return -1
}

func extractContextFields(ctx context.Context) []Field {
	if ctx == nil {
		return nil
	}

	var fields []Field
	if traceID := GetTraceID(ctx); traceID != "" {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	if runID := GetRunID(ctx); runID != "" {
		fields = append(fields, zap.String("run_id", runID))
	}
	if rank := GetRank(ctx); rank >= 0 {
		fields = append(fields, zap.Int("rank", rank))
	}

	return fields
}

// ============================================================================
// Field Constructors
// ============================================================================

// String creates a string field
func String(key, val string) Field {
	return zap.String(key, val)
}

// Int creates an int field
func Int(key string, val int) Field {
	return zap.Int(key, val)
}

// Bool creates a bool field
func Bool(key string, val bool) Field {
	return zap.Bool(key, val)
}

// Error creates an error field
func Error(err error) Field {
	return zap.Error(err)
}

// Duration creates a duration field
func Duration(key string, val time.Duration) Field {
	return zap.Duration(key, val)
}

// ============================================================================
// No-op Logger
// ============================================================================

// NoopLogger is a logger that does nothing
type NoopLogger struct{}

// NewNoopLogger creates a no-op logger
func NewNoopLogger() Logger {
	return &NoopLogger{}
}

func (l *NoopLogger) Debug(msg string, fields ...Field)      {}
func (l *NoopLogger) Info(msg string, fields ...Field)       {}
func (l *NoopLogger) Warn(msg string, fields ...Field)       {}
func (l *NoopLogger) Error(msg string, fields ...Field)      {}
func (l *NoopLogger) Fatal(msg string, fields ...Field)      { os.Exit(1) }
func (l *NoopLogger) With(fields ...Field) Logger            { return l }
func (l *NoopLogger) WithContext(ctx context.Context) Logger { return l }
func (l *NoopLogger) Sync() error                            { return nil }

//Personal.AI order the ending
