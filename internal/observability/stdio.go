package observability

import (
	"io"
	"os"
	"sync"
	"time"

	json "github.com/goccy/go-json"
)

// StdioLogger writes one JSON object per log line.
type StdioLogger struct {
	mu    sync.Mutex
	out   io.Writer
	debug bool
}

// NewStdioLogger creates a logger writing to stderr. Debug lines are dropped
// unless verbose is set.
func NewStdioLogger(verbose bool) *StdioLogger {
	return &StdioLogger{out: os.Stderr, debug: verbose}
}

// NewWriterLogger creates a logger writing to the supplied writer.
func NewWriterLogger(w io.Writer, verbose bool) *StdioLogger {
	return &StdioLogger{out: w, debug: verbose}
}

// Debug implements Logger.
func (l *StdioLogger) Debug(msg string, fields ...Field) {
	if !l.debug {
		return
	}
	l.emit("debug", msg, fields)
}

// Info implements Logger.
func (l *StdioLogger) Info(msg string, fields ...Field) { l.emit("info", msg, fields) }

// Error implements Logger.
func (l *StdioLogger) Error(msg string, fields ...Field) { l.emit("error", msg, fields) }

func (l *StdioLogger) emit(level, msg string, fields []Field) {
	entry := make(map[string]any, len(fields)+3)
	entry["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level
	entry["msg"] = msg
	for _, f := range fields {
		if f.Key == "" {
			continue
		}
		entry[f.Key] = f.Value
	}
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	l.mu.Lock()
	_, _ = l.out.Write(append(line, '\n'))
	l.mu.Unlock()
}
