package logger

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Default to INFO in production, DEBUG in development
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	baseOnce sync.Once
	base     *zap.Logger
)

// Logger is a component-scoped wrapper around a shared zap logger
type Logger struct {
	component string
	sugar     *zap.SugaredLogger
}

func root() *zap.Logger {
	baseOnce.Do(func() {
		if IsDevelopment() {
			level.SetLevel(zapcore.DebugLevel)
		}
		if lvl := os.Getenv("LOG_LEVEL"); lvl != "" {
			if parsed, err := zapcore.ParseLevel(strings.ToLower(lvl)); err == nil {
				level.SetLevel(parsed)
			}
		}

		var cfg zap.Config
		if IsDevelopment() {
			cfg = zap.NewDevelopmentConfig()
		} else {
			cfg = zap.NewProductionConfig()
			cfg.EncoderConfig.TimeKey = "timestamp"
			cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		}
		cfg.Level = level

		l, err := cfg.Build(zap.AddCallerSkip(1))
		if err != nil {
			l = zap.NewNop()
		}
		base = l
	})
	return base
}

// New creates a new logger for a specific component
func New(component string) *Logger {
	return &Logger{
		component: component,
		sugar:     root().With(zap.String("component", component)).Sugar(),
	}
}

// SetLevel changes the minimum level at runtime ("debug", "info", "warn", "error")
func SetLevel(name string) error {
	parsed, err := zapcore.ParseLevel(strings.ToLower(name))
	if err != nil {
		return err
	}
	root()
	level.SetLevel(parsed)
	return nil
}

// Debug logs debug information
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs information messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs warning messages
func (l *Logger) Warn(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// Sync flushes buffered log entries
func Sync() {
	_ = root().Sync()
}

// GetAppEnv returns the current application environment
func GetAppEnv() string {
	env := os.Getenv("ENV")
	if env == "" {
		return "development" // Default to development
	}
	return env
}

// IsDevelopment returns true if the current environment is development
func IsDevelopment() bool {
	return GetAppEnv() == "development"
}
