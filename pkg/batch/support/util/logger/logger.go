// Package logger provides the logging utility for the chunkbatch framework.
// It exposes printf-style package functions backed by a shared zap logger so that
// framework code, GORM output and fx lifecycle events all end up on one sink.
package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel is a type representing the logging level.
type LogLevel int

const (
	// LevelDebug is the log level used for detailed debugging information.
	LevelDebug LogLevel = iota
	// LevelInfo is the log level used for general informational messages.
	LevelInfo
	// LevelWarn is the log level used for potential issues or warning messages.
	LevelWarn
	// LevelError is the log level used for error messages.
	LevelError
	// LevelFatal is the log level used for fatal error messages that cause application termination.
	LevelFatal
)

var (
	mu    sync.RWMutex
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base  = newZap(os.Stderr)
	sugar = base.Sugar()
)

// newZap builds the console logger used by every package function.
func newZap(out zapcore.WriteSyncer) *zap.Logger {
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeCaller = zapcore.ShortCallerEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.Lock(out), level)
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.FatalLevel))
}

// SetLogLevel sets the global log level for the framework.
// Valid string values are "DEBUG", "INFO", "WARN", "ERROR", "FATAL" (case-insensitive).
// An unknown value falls back to INFO and is reported as a warning.
func SetLogLevel(lvl string) {
	switch strings.ToUpper(lvl) {
	case "DEBUG":
		level.SetLevel(zapcore.DebugLevel)
	case "INFO":
		level.SetLevel(zapcore.InfoLevel)
	case "WARN", "WARNING":
		level.SetLevel(zapcore.WarnLevel)
	case "ERROR":
		level.SetLevel(zapcore.ErrorLevel)
	case "FATAL":
		level.SetLevel(zapcore.FatalLevel)
	default:
		level.SetLevel(zapcore.InfoLevel)
		Warnf("Unknown log level '%s' specified. Defaulting to INFO level.", lvl)
	}
}

// GetLogLevel returns the currently active log level.
func GetLogLevel() LogLevel {
	switch level.Level() {
	case zapcore.DebugLevel:
		return LevelDebug
	case zapcore.WarnLevel:
		return LevelWarn
	case zapcore.ErrorLevel:
		return LevelError
	case zapcore.FatalLevel, zapcore.PanicLevel, zapcore.DPanicLevel:
		return LevelFatal
	default:
		return LevelInfo
	}
}

// SetOutput redirects all log output to the given writer. Intended for tests.
func SetOutput(out zapcore.WriteSyncer) {
	mu.Lock()
	defer mu.Unlock()
	base = newZap(out)
	sugar = base.Sugar()
}

// Zap returns the underlying zap logger.
func Zap() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// With returns a structured child logger carrying the given fields.
func With(fields ...zap.Field) *zap.Logger {
	return Zap().WithOptions(zap.AddCallerSkip(-1)).With(fields...)
}

// Sync flushes buffered log entries.
func Sync() error {
	return Zap().Sync()
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

// Debugf formats and outputs a DEBUG level log message.
//
// format: A format string in the same format as `fmt.Printf`.
// v: Arguments to pass to the format string.
func Debugf(format string, v ...interface{}) {
	current().Debugf(format, v...)
}

// Infof formats and outputs an INFO level log message.
//
// format: A format string in the same format as `fmt.Printf`.
// v: Arguments to pass to the format string.
func Infof(format string, v ...interface{}) {
	current().Infof(format, v...)
}

// Warnf formats and outputs a WARN level log message.
func Warnf(format string, v ...interface{}) {
	current().Warnf(format, v...)
}

// Errorf formats and outputs an ERROR level log message.
func Errorf(format string, v ...interface{}) {
	current().Errorf(format, v...)
}

// Fatalf formats and outputs a FATAL level log message,
// then terminates the program by calling os.Exit(1).
func Fatalf(format string, v ...interface{}) {
	current().Fatalf(format, v...)
}
