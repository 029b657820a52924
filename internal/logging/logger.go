package logging

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// InvocationLog is one entry of the invocation log.
type InvocationLog struct {
	Timestamp  time.Time `json:"timestamp"`
	RequestID  string    `json:"request_id"`
	TraceID    string    `json:"trace_id,omitempty"`
	Operation  string    `json:"operation"`
	Class      string    `json:"class"`
	Files      []string  `json:"files,omitempty"`
	Format     string    `json:"format"`
	Rows       int       `json:"rows"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Error      string    `json:"error,omitempty"`
	OutputSize int       `json:"output_size"`
	FromCache  bool      `json:"from_cache,omitempty"`
}

// Logger writes invocation summaries to the operational logger and,
// optionally, as JSON lines to a file.
type Logger struct {
	mu      sync.Mutex
	file    *os.File
	console bool
}

var defaultLogger = &Logger{console: true}

// Default returns the process-wide invocation logger.
func Default() *Logger {
	return defaultLogger
}

// SetOutput appends JSON entries to the file at path.
func (l *Logger) SetOutput(path string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	l.file = f
	return nil
}

// SetConsole enables or disables the operational log summary.
func (l *Logger) SetConsole(enabled bool) {
	l.mu.Lock()
	l.console = enabled
	l.mu.Unlock()
}

// Log records one invocation.
func (l *Logger) Log(entry *InvocationLog) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	if l.console {
		args := []any{
			"request_id", entry.RequestID,
			"operation", entry.Operation,
			"rows", entry.Rows,
			"duration_ms", entry.DurationMs,
		}
		if entry.FromCache {
			args = append(args, "cached", true)
		}
		log := OpWithTrace(entry.TraceID, "")
		if entry.Success {
			log.Info("invocation completed", args...)
		} else {
			log.Warn("invocation failed", append(args, "kind", entry.ErrorKind, "error", entry.Error)...)
		}
	}

	if l.file != nil {
		data, _ := json.Marshal(entry)
		l.file.Write(append(data, '\n'))
	}
}

// Close closes the log file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}
