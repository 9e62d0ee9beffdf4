// Package logger provides meshbus's structured logging.
//
// It wraps the standard library's log/slog with a per-subsystem handler
// cache so callers can do:
//
//	var log = logger.Logger("discovery")
//	log.Info("peer advertised", "topic", topic, "node", nodeID)
//
// Level and format are configured via environment variables:
//
//	MESHBUS_LOG_LEVEL=discovery=debug,registry=warn,info
//	MESHBUS_LOG_FORMAT=json
package logger

import (
	"io"
	"log/slog"
	"sync"
)

var (
	loggers  sync.Map // map[string]*slog.Logger
	handlers sync.Map // map[string]*subsystemHandler

	globalLogger     *slog.Logger
	globalLoggerOnce sync.Once
)

// Logger returns the Logger for subsystem, creating and caching it on
// first use per the current MESHBUS_LOG_LEVEL/MESHBUS_LOG_FORMAT
// configuration.
func Logger(subsystem string) *slog.Logger {
	if l, ok := loggers.Load(subsystem); ok {
		return l.(*slog.Logger)
	}

	cfg := ConfigFromEnv()
	level := cfg.LevelForSubsystem(subsystem)

	handler := newHandler(subsystem, level, cfg.Format)
	log := slog.New(handler)

	actual, _ := loggers.LoadOrStore(subsystem, log)
	if h, ok := handler.(*subsystemHandler); ok {
		handlers.Store(subsystem, h)
	}

	return actual.(*slog.Logger)
}

// GlobalLogger returns the default Logger for code with no specific
// subsystem, and for fx.WithLogger fallbacks.
func GlobalLogger() *slog.Logger {
	globalLoggerOnce.Do(func() {
		globalLogger = Logger("meshbus")
	})
	return globalLogger
}

// SetLevel adjusts a single subsystem's level at runtime.
func SetLevel(subsystem string, level slog.Level) {
	if h, ok := handlers.Load(subsystem); ok {
		h.(*subsystemHandler).SetLevel(level)
	}
}

// SetGlobalLevel adjusts every cached subsystem's level at once.
func SetGlobalLevel(level slog.Level) {
	handlers.Range(func(_, value any) bool {
		value.(*subsystemHandler).SetLevel(level)
		return true
	})
}

// Discard returns a Logger that drops everything, for use in tests.
func Discard() *slog.Logger {
	return slog.New(DiscardHandler())
}

// With returns subsystem's Logger with args bound as default attributes.
func With(subsystem string, args ...any) *slog.Logger {
	return Logger(subsystem).With(args...)
}

// Debug logs at debug level under subsystem.
func Debug(subsystem, msg string, args ...any) {
	Logger(subsystem).Debug(msg, args...)
}

// Info logs at info level under subsystem.
func Info(subsystem, msg string, args ...any) {
	Logger(subsystem).Info(msg, args...)
}

// Warn logs at warn level under subsystem.
func Warn(subsystem, msg string, args ...any) {
	Logger(subsystem).Warn(msg, args...)
}

// Error logs at error level under subsystem.
func Error(subsystem, msg string, args ...any) {
	Logger(subsystem).Error(msg, args...)
}

// SetOutput redirects every logger's output, including loggers already
// created. Call it early in process startup.
func SetOutput(w io.Writer) {
	globalOutputMu.Lock()
	globalOutput = w
	globalOutputMu.Unlock()
}
