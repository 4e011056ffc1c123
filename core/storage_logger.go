package core

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

type sessionLoggerKey struct{}

// ContextWithSessionLogger returns a new context carrying the session logger.
func ContextWithSessionLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, sessionLoggerKey{}, logger)
}

// SessionLoggerFromContext extracts the session logger from the context, or nil.
func SessionLoggerFromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(sessionLoggerKey{}).(*Logger); ok {
		return l
	}
	return nil
}

// LoggerFromContext returns the session logger when present and fallback otherwise.
func LoggerFromContext(ctx context.Context, fallback *Logger) *Logger {
	if l := SessionLoggerFromContext(ctx); l != nil {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return GetLogger()
}

// SessionHeader is the first line of every consultation log file.
type SessionHeader struct {
	JobID     string `json:"job_id"`
	RoomName  string `json:"room_name,omitempty"`
	StartedAt string `json:"started_at"`
}

// LogEntry is a single log line written after the header.
type LogEntry struct {
	Timestamp string         `json:"ts"`
	Level     string         `json:"level"`
	Message   string         `json:"msg"`
	Attrs     map[string]any `json:"attrs,omitempty"`
}

// LogWriter is a destination for session log entries.
type LogWriter interface {
	Write(level, msg string, attrs map[string]any)
	Close()
}

// SessionLogWriter appends JSON lines to <dir>/<job>.jsonl. A sibling
// <job>.active file exists for as long as the writer is open.
type SessionLogWriter struct {
	mu     sync.Mutex
	file   *os.File
	logDir string
	jobID  string
}

func NewSessionLogWriter(logDir, jobID, roomName string) (*SessionLogWriter, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("session log: mkdir %q: %w", logDir, err)
	}

	path := filepath.Join(logDir, jobID+".jsonl")
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("session log: create %q: %w", path, err)
	}

	header, err := sonic.Marshal(SessionHeader{
		JobID:     jobID,
		RoomName:  roomName,
		StartedAt: time.Now().UTC().Format(time.RFC3339),
	})
	if err == nil {
		f.Write(append(header, '\n'))
	}

	if af, err := os.Create(filepath.Join(logDir, jobID+".active")); err == nil {
		af.Close()
	}

	return &SessionLogWriter{file: f, logDir: logDir, jobID: jobID}, nil
}

func (w *SessionLogWriter) Write(level, msg string, attrs map[string]any) {
	line, err := sonic.Marshal(LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Message:   msg,
		Attrs:     stringifyErrors(attrs),
	})
	if err != nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file != nil {
		w.file.Write(append(line, '\n'))
	}
}

// Close closes the file and removes the .active marker.
func (w *SessionLogWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file != nil {
		w.file.Close()
		w.file = nil
	}
	os.Remove(filepath.Join(w.logDir, w.jobID+".active"))
}

// error values marshal to {} otherwise
func stringifyErrors(attrs map[string]any) map[string]any {
	if len(attrs) == 0 {
		return attrs
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if err, ok := v.(error); ok {
			out[k] = err.Error()
			continue
		}
		out[k] = v
	}
	return out
}

// NewSessionLogger tees every line to the base logger and to writer.
func NewSessionLogger(base *Logger, writer LogWriter) *Logger {
	handler := func(level string, msg string, attrs map[string]any) {
		if base.handlerFunc != nil {
			base.handlerFunc(level, msg, attrs)
		}
		writer.Write(level, msg, attrs)
	}
	return NewLogger(handler)
}
