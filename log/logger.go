package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
)

// LogLevel represents logging severity
type LogLevel int

const (
	// LogLevelDebug for detailed debugging information
	LogLevelDebug LogLevel = iota
	// LogLevelInfo for general informational messages
	LogLevelInfo
	// LogLevelWarn for warning messages
	LogLevelWarn
	// LogLevelError for error messages
	LogLevelError
	// LogLevelNone disables all logging
	LogLevelNone
)

const defaultPrefix = "[settinggen] "

// Logger is the logging contract shared by every engine component.
type Logger interface {
	Debug(format string, v ...any)
	Info(format string, v ...any)
	Warn(format string, v ...any)
	Error(format string, v ...any)
}

// DefaultLogger implements Logger using Go's standard log package
type DefaultLogger struct {
	logger *log.Logger
	level  LogLevel
}

// NewDefaultLogger creates a logger writing to stderr
func NewDefaultLogger(level LogLevel) *DefaultLogger {
	return NewCustomLogger(os.Stderr, level)
}

// NewCustomLogger creates a logger with custom output
func NewCustomLogger(out io.Writer, level LogLevel) *DefaultLogger {
	return &DefaultLogger{
		logger: log.New(out, defaultPrefix, log.LstdFlags),
		level:  level,
	}
}

func (l *DefaultLogger) logf(level LogLevel, format string, v ...any) {
	if l.level <= level {
		l.logger.Printf("["+level.String()+"] "+format, v...)
	}
}

// Debug logs debug messages
func (l *DefaultLogger) Debug(format string, v ...any) { l.logf(LogLevelDebug, format, v...) }

// Info logs informational messages
func (l *DefaultLogger) Info(format string, v ...any) { l.logf(LogLevelInfo, format, v...) }

// Warn logs warning messages
func (l *DefaultLogger) Warn(format string, v ...any) { l.logf(LogLevelWarn, format, v...) }

// Error logs error messages
func (l *DefaultLogger) Error(format string, v ...any) { l.logf(LogLevelError, format, v...) }

// NoOpLogger discards everything. Tests use it to keep output quiet.
type NoOpLogger struct{}

func (NoOpLogger) Debug(format string, v ...any) {}
func (NoOpLogger) Info(format string, v ...any)  {}
func (NoOpLogger) Warn(format string, v ...any)  {}
func (NoOpLogger) Error(format string, v ...any) {}

// String returns the string representation of LogLevel
func (l LogLevel) String() string {
	switch l {
	case LogLevelDebug:
		return "DEBUG"
	case LogLevelInfo:
		return "INFO"
	case LogLevelWarn:
		return "WARN"
	case LogLevelError:
		return "ERROR"
	case LogLevelNone:
		return "NONE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", l)
	}
}

// ParseLevel maps a config string such as "debug" or "WARN" to a LogLevel.
// Unknown values yield LogLevelInfo.
func ParseLevel(s string) LogLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LogLevelDebug
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	case "none", "off", "disable":
		return LogLevelNone
	default:
		return LogLevelInfo
	}
}

// OrDefault returns l, or the package-level logger when l is nil.
func OrDefault(l Logger) Logger {
	if l == nil {
		return defaultLogger
	}
	return l
}

// Package-level logger (default is DefaultLogger with info level)
var defaultLogger Logger = NewDefaultLogger(LogLevelInfo)

// SetDefaultLogger sets the package-level logger
func SetDefaultLogger(logger Logger) {
	defaultLogger = logger
}

// GetDefaultLogger returns the current package-level logger
func GetDefaultLogger() Logger {
	return defaultLogger
}

// SetLogLevel creates and sets a default logger with the specified log level
func SetLogLevel(level LogLevel) {
	defaultLogger = NewDefaultLogger(level)
}

// Debug logs a debug message using the package-level logger
func Debug(format string, v ...any) {
	defaultLogger.Debug(format, v...)
}

// Info logs an informational message using the package-level logger
func Info(format string, v ...any) {
	defaultLogger.Info(format, v...)
}

// Warn logs a warning message using the package-level logger
func Warn(format string, v ...any) {
	defaultLogger.Warn(format, v...)
}

// Error logs an error message using the package-level logger
func Error(format string, v ...any) {
	defaultLogger.Error(format, v...)
}
