// Package log wraps a process-wide zap SugaredLogger.
package log

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is the configured verbosity.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var (
	global *zap.SugaredLogger
	mu     sync.RWMutex
)

// Config holds logger configuration.
type Config struct {
	Level  Level
	Format string // "console" or "json"
}

// DefaultConfig returns info-level console logging.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Format: "console"}
}

// Init replaces the global logger.
func Init(cfg Config) {
	l := build(cfg).Sugar()
	mu.Lock()
	defer mu.Unlock()
	global = l
}

// Set installs an existing logger, typically zap.NewNop() in tests.
func Set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	global = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

func zapLevel(level Level) zapcore.Level {
	switch level {
	case LevelDebug:
		return zapcore.DebugLevel
	case LevelWarn:
		return zapcore.WarnLevel
	case LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func build(cfg Config) *zap.Logger {
	enc := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(enc)
	} else {
		encoder = zapcore.NewConsoleEncoder(enc)
	}
	core := zapcore.NewCore(encoder, zapcore.AddSync(os.Stderr), zapLevel(cfg.Level))
	return zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.ErrorLevel))
}

// Get returns the global logger, initializing defaults on first use.
func Get() *zap.SugaredLogger {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l != nil {
		return l
	}

	fresh := build(DefaultConfig()).Sugar()
	mu.Lock()
	defer mu.Unlock()
	if global == nil {
		global = fresh
	}
	return global
}

func Debug(msg string, kv ...any) { Get().Debugw(msg, kv...) }
func Info(msg string, kv ...any)  { Get().Infow(msg, kv...) }
func Warn(msg string, kv ...any)  { Get().Warnw(msg, kv...) }
func Error(msg string, kv ...any) { Get().Errorw(msg, kv...) }

// With returns a child logger carrying the given fields. Unlike the
// package helpers it is called directly, so the helper frame skip is undone.
func With(kv ...any) *zap.SugaredLogger {
	return Get().WithOptions(zap.AddCallerSkip(-1)).With(kv...)
}

// Sync flushes buffered entries.
func Sync() error {
	mu.RLock()
	l := global
	mu.RUnlock()
	if l == nil {
		return nil
	}
	return l.Sync()
}
