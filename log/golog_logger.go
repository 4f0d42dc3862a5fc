package log

import (
	"github.com/kataras/golog"
)

// GologLogger implements Logger on top of kataras/golog
type GologLogger struct {
	logger *golog.Logger
	level  LogLevel
}

var _ Logger = (*GologLogger)(nil)

// NewGologLogger wraps an existing golog.Logger at info level
func NewGologLogger(logger *golog.Logger) *GologLogger {
	l := &GologLogger{logger: logger}
	l.SetLevel(LogLevelInfo)
	return l
}

// Debug logs debug messages
func (l *GologLogger) Debug(format string, v ...any) {
	if l.level <= LogLevelDebug {
		l.logger.Debugf(format, v...)
	}
}

// Info logs informational messages
func (l *GologLogger) Info(format string, v ...any) {
	if l.level <= LogLevelInfo {
		l.logger.Infof(format, v...)
	}
}

// Warn logs warning messages
func (l *GologLogger) Warn(format string, v ...any) {
	if l.level <= LogLevelWarn {
		l.logger.Warnf(format, v...)
	}
}

// Error logs error messages
func (l *GologLogger) Error(format string, v ...any) {
	if l.level <= LogLevelError {
		l.logger.Errorf(format, v...)
	}
}

// SetLevel sets the level on both the wrapper and the underlying golog instance
func (l *GologLogger) SetLevel(level LogLevel) {
	l.level = level

	gologLevel := "info"
	switch level {
	case LogLevelDebug:
		gologLevel = "debug"
	case LogLevelWarn:
		gologLevel = "warn"
	case LogLevelError:
		gologLevel = "error"
	case LogLevelNone:
		gologLevel = "disable"
	}

	l.logger.SetLevel(gologLevel)
}

// GetLevel returns the current log level
func (l *GologLogger) GetLevel() LogLevel {
	return l.level
}
