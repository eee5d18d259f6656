// Package logx provides structured logging for the anchorwatch daemon
package logx

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LogLevel represents the logging level
type LogLevel int

const (
	DebugLevel LogLevel = iota
	InfoLevel
	WarnLevel
	ErrorLevel
)

// Logger provides structured JSON logging
type Logger struct {
	level LogLevel
	base  *logrus.Logger
	entry *logrus.Entry
}

// New creates a new structured logger writing to stdout
func New(levelStr string) *Logger {
	return NewWithWriter(levelStr, os.Stdout)
}

// NewWithWriter creates a logger writing JSON lines to w
func NewWithWriter(levelStr string, w io.Writer) *Logger {
	level := parseLevel(levelStr)

	base := logrus.New()
	base.SetOutput(w)
	base.SetLevel(toLogrus(level))
	base.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime:  "ts",
			logrus.FieldKeyLevel: "level",
			logrus.FieldKeyMsg:   "msg",
		},
	})

	return &Logger{
		level: level,
		base:  base,
		entry: logrus.NewEntry(base),
	}
}

// parseLevel converts string to LogLevel
func parseLevel(levelStr string) LogLevel {
	switch strings.ToLower(levelStr) {
	case "debug", "trace":
		return DebugLevel
	case "info":
		return InfoLevel
	case "warn", "warning":
		return WarnLevel
	case "error":
		return ErrorLevel
	default:
		return InfoLevel
	}
}

func toLogrus(level LogLevel) logrus.Level {
	switch level {
	case DebugLevel:
		return logrus.DebugLevel
	case WarnLevel:
		return logrus.WarnLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}

// levelString converts LogLevel to string
func levelString(level LogLevel) string {
	switch level {
	case DebugLevel:
		return "debug"
	case InfoLevel:
		return "info"
	case WarnLevel:
		return "warn"
	case ErrorLevel:
		return "error"
	default:
		return "unknown"
	}
}

// Level returns the configured level name
func (l *Logger) Level() string {
	return levelString(l.level)
}

// SetLevel changes the level at runtime
func (l *Logger) SetLevel(levelStr string) {
	l.level = parseLevel(levelStr)
	l.base.SetLevel(toLogrus(l.level))
}

// With returns a child logger that always carries the given key/value pairs
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{
		level: l.level,
		base:  l.base,
		entry: l.entry.WithFields(fields(keysAndValues)),
	}
}

func fields(keysAndValues []interface{}) logrus.Fields {
	f := make(logrus.Fields, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		if err, ok := keysAndValues[i+1].(error); ok {
			f[key] = err.Error()
			continue
		}
		f[key] = keysAndValues[i+1]
	}
	return f
}

func (l *Logger) log(level LogLevel, msg string, keysAndValues ...interface{}) {
	if level < l.level {
		return
	}
	e := l.entry
	if len(keysAndValues) > 0 {
		e = e.WithFields(fields(keysAndValues))
	}
	e.Log(toLogrus(level), msg)
}

// Debug logs a debug message
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.log(DebugLevel, msg, keysAndValues...)
}

// Info logs an info message
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.log(InfoLevel, msg, keysAndValues...)
}

// Warn logs a warning message
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.log(WarnLevel, msg, keysAndValues...)
}

// Error logs an error message
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.log(ErrorLevel, msg, keysAndValues...)
}

// LogStateChange records a state machine transition
func (l *Logger) LogStateChange(component, from, to, reason string, extra map[string]interface{}) {
	kv := []interface{}{"component", component, "from", from, "to", to, "reason", reason}
	kv = appendMap(kv, extra)
	l.Info("state_change", kv...)
}

// LogVerbose logs a debug-level event with a field map
func (l *Logger) LogVerbose(event string, extra map[string]interface{}) {
	l.Debug(event, appendMap(nil, extra)...)
}

// LogDataFlow logs data moving through a component
func (l *Logger) LogDataFlow(component, operation, kind string, count int, extra map[string]interface{}) {
	kv := []interface{}{"component", component, "operation", operation, "kind", kind, "count", count}
	kv = appendMap(kv, extra)
	l.Debug("data_flow", kv...)
}

func appendMap(kv []interface{}, m map[string]interface{}) []interface{} {
	for k, v := range m {
		kv = append(kv, k, v)
	}
	return kv
}
