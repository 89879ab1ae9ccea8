// Package logging provides leveled console output for the activity agent
// and collector. The collected events are the durable record; these lines
// are for operators watching a process in real time.
package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Level represents log severity.
type Level string

const (
	LevelDebug Level = "DEBUG"
	LevelInfo  Level = "INFO"
	LevelWarn  Level = "WARN"
	LevelError Level = "ERROR"
)

// ParseLevel converts a config string such as "debug" into a Level.
// Unknown strings map to LevelInfo.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return LevelDebug
	case "WARN", "WARNING":
		return LevelWarn
	case "ERROR":
		return LevelError
	default:
		return LevelInfo
	}
}

// Logger writes leveled key=value lines.
type Logger struct {
	mu        *sync.Mutex
	output    io.Writer
	minLevel  Level
	component string
	session   string
}

var levelPriority = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// New creates a new Logger writing to stdout at INFO.
func New() *Logger {
	return &Logger{
		mu:       &sync.Mutex{},
		output:   os.Stdout,
		minLevel: LevelInfo,
	}
}

// Discard returns a logger that drops everything. Used as the default
// when a component is built without one.
func Discard() *Logger {
	l := New()
	l.output = io.Discard
	l.minLevel = LevelError
	return l
}

// WithComponent returns a new logger with the given component name.
func (l *Logger) WithComponent(component string) *Logger {
	c := l.clone()
	c.component = component
	return c
}

// WithSession returns a new logger that tags every line with a session id.
func (l *Logger) WithSession(sessionID string) *Logger {
	c := l.clone()
	c.session = sessionID
	return c
}

func (l *Logger) clone() *Logger {
	return &Logger{
		mu:        l.mu,
		output:    l.output,
		minLevel:  l.minLevel,
		component: l.component,
		session:   l.session,
	}
}

// SetLevel sets the minimum log level.
func (l *Logger) SetLevel(level Level) {
	l.minLevel = level
}

// SetOutput sets the output writer (default: stdout).
func (l *Logger) SetOutput(w io.Writer) {
	l.output = w
}

// Debug logs a debug message.
func (l *Logger) Debug(msg string, fields ...map[string]interface{}) {
	l.log(LevelDebug, msg, fields...)
}

// Info logs an info message.
func (l *Logger) Info(msg string, fields ...map[string]interface{}) {
	l.log(LevelInfo, msg, fields...)
}

// Warn logs a warning message.
func (l *Logger) Warn(msg string, fields ...map[string]interface{}) {
	l.log(LevelWarn, msg, fields...)
}

// Error logs an error message.
func (l *Logger) Error(msg string, fields ...map[string]interface{}) {
	l.log(LevelError, msg, fields...)
}

// formatFields formats fields as key=value pairs in key order.
func formatFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, fields[k]))
	}
	return " " + strings.Join(parts, " ")
}

// log writes: LEVEL TIMESTAMP [component] message key=value ...
func (l *Logger) log(level Level, msg string, fields ...map[string]interface{}) {
	if levelPriority[level] < levelPriority[l.minLevel] {
		return
	}

	timestamp := time.Now().UTC().Format("2006-01-02T15:04:05.000Z")

	merged := make(map[string]interface{})
	if l.session != "" {
		merged["session"] = l.session
	}
	if len(fields) > 0 {
		for k, v := range fields[0] {
			merged[k] = v
		}
	}
	fieldStr := formatFields(merged)

	var line string
	if l.component != "" {
		line = fmt.Sprintf("%-5s %s [%s] %s%s\n", level, timestamp, l.component, msg, fieldStr)
	} else {
		line = fmt.Sprintf("%-5s %s %s%s\n", level, timestamp, msg, fieldStr)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.output.Write([]byte(line))
}

// --- Tracker lifecycle helpers ---

// EventDropped logs an event rejected by the per-minute cap.
func (l *Logger) EventDropped(eventType string, limit int) {
	l.Debug("event_dropped", map[string]interface{}{
		"type":  eventType,
		"limit": limit,
	})
}

// TaskSwitch logs a change of the active task.
func (l *Logger) TaskSwitch(from, to string, spent time.Duration) {
	l.Info("task_switch", map[string]interface{}{
		"from":  from,
		"to":    to,
		"spent": spent.Round(time.Second).String(),
	})
}

// BatchSent logs a delivered batch.
func (l *Logger) BatchSent(batchID string, events, bytes int, reliable bool) {
	l.Debug("batch_sent", map[string]interface{}{
		"batch":    batchID,
		"events":   events,
		"bytes":    bytes,
		"reliable": reliable,
	})
}

// BatchTrimmed logs a batch that exceeded the size cap and was re-encoded.
func (l *Logger) BatchTrimmed(events, bytes, limit int) {
	l.Warn("batch_trimmed", map[string]interface{}{
		"events": events,
		"bytes":  bytes,
		"limit":  limit,
	})
}

// BatchRequeued logs a failed delivery whose events went back on the queue.
func (l *Logger) BatchRequeued(events int, retryIn time.Duration, err error) {
	fields := map[string]interface{}{
		"events":   events,
		"retry_in": retryIn.String(),
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	l.Warn("batch_requeued", fields)
}

// BatchStored logs a batch persisted by the collector.
func (l *Logger) BatchStored(batchID string, events int, duration time.Duration) {
	l.Debug("batch_stored", map[string]interface{}{
		"batch":    batchID,
		"events":   events,
		"duration": duration.String(),
	})
}
