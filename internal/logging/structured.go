// Package logging provides structured JSON logging for aaroh components.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// Level represents log severity
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

var levelRank = map[Level]int{
	LevelDebug: 0,
	LevelInfo:  1,
	LevelWarn:  2,
	LevelError: 3,
}

// Event represents a structured log event
type Event struct {
	Timestamp string                 `json:"ts"`
	Level     Level                  `json:"level"`
	Component string                 `json:"component"`
	Event     string                 `json:"event"`
	Session   string                 `json:"session,omitempty"`
	Conn      string                 `json:"conn,omitempty"`
	Duration  int64                  `json:"duration_ms,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Extra     map[string]interface{} `json:"extra,omitempty"`
}

var (
	outMu    sync.Mutex
	out      io.Writer = os.Stderr
	minLevel           = LevelInfo
)

// SetOutput redirects all loggers. Stdout is reserved for protocol traffic, so the default is stderr.
func SetOutput(w io.Writer) {
	outMu.Lock()
	defer outMu.Unlock()
	out = w
}

// SetLevel sets the minimum level emitted.
func SetLevel(l Level) {
	outMu.Lock()
	defer outMu.Unlock()
	if _, ok := levelRank[l]; ok {
		minLevel = l
	}
}

// Logger provides structured logging
type Logger struct {
	component string
	session   string
	conn      string
}

// New creates a new logger for a component
func New(component string) *Logger {
	return &Logger{component: component}
}

// WithSession sets the session context
func (l *Logger) WithSession(session string) *Logger {
	return &Logger{
		component: l.component,
		session:   session,
		conn:      l.conn,
	}
}

// WithConn sets the client connection context
func (l *Logger) WithConn(conn string) *Logger {
	return &Logger{
		component: l.component,
		session:   l.session,
		conn:      conn,
	}
}

// log emits a structured log event
func (l *Logger) log(level Level, event string, extra map[string]interface{}, err error) {
	e := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Component: l.component,
		Event:     event,
		Session:   l.session,
		Conn:      l.conn,
		Extra:     extra,
	}

	if err != nil {
		e.Error = err.Error()
	}

	emit(e)
}

func emit(e Event) {
	outMu.Lock()
	defer outMu.Unlock()
	if levelRank[e.Level] < levelRank[minLevel] {
		return
	}
	data, _ := json.Marshal(e)
	fmt.Fprintln(out, string(data))
}

// Debug logs a debug event
func (l *Logger) Debug(event string, extra map[string]interface{}) {
	l.log(LevelDebug, event, extra, nil)
}

// Info logs an info event
func (l *Logger) Info(event string, extra map[string]interface{}) {
	l.log(LevelInfo, event, extra, nil)
}

// Warn logs a warning event
func (l *Logger) Warn(event string, extra map[string]interface{}, err error) {
	l.log(LevelWarn, event, extra, err)
}

// Error logs an error event
func (l *Logger) Error(event string, extra map[string]interface{}, err error) {
	l.log(LevelError, event, extra, err)
}

// TimedEvent logs an event with duration
func (l *Logger) TimedEvent(event string, start time.Time, extra map[string]interface{}) {
	emit(Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     LevelInfo,
		Component: l.component,
		Event:     event,
		Session:   l.session,
		Conn:      l.conn,
		Duration:  time.Since(start).Milliseconds(),
		Extra:     extra,
	})
}

// RecognitionEvent logs the outcome of one recognizer call.
func RecognitionEvent(session string, sequence int, chord string, duration time.Duration, err error) {
	e := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     LevelDebug,
		Component: "recognizer",
		Event:     "recognize",
		Session:   session,
		Duration:  duration.Milliseconds(),
		Extra: map[string]interface{}{
			"sequence": sequence,
			"chord":    chord,
		},
	}

	if err != nil {
		e.Level = LevelWarn
		e.Error = err.Error()
	}

	emit(e)
}

// SessionEvent logs a session lifecycle transition.
func SessionEvent(session, from, to string, reason string) {
	e := Event{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     LevelInfo,
		Component: "session",
		Event:     "transition",
		Session:   session,
		Extra: map[string]interface{}{
			"from": from,
			"to":   to,
		},
	}
	if reason != "" {
		e.Extra["reason"] = reason
	}

	emit(e)
}
