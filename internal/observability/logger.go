// Package observability carries the process-wide structured logger that the
// solver, the simulator and the supporting packages log through. The default
// discards everything; main installs a real implementation at startup.
package observability

// Field is one key/value attribute attached to a log line.
type Field struct {
	Key   string
	Value any
}

// F builds a Field inline at the call site.
func F(key string, value any) Field { return Field{Key: key, Value: value} }

// Logger is the minimal leveled interface the rest of the code depends on.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Error(msg string, fields ...Field)
}

// nopLogger drops every line. It backs the global until SetLogger runs, so
// library code can log unconditionally.
type nopLogger struct{}

func (nopLogger) Debug(string, ...Field) {}
func (nopLogger) Info(string, ...Field)  {}
func (nopLogger) Error(string, ...Field) {}

var active Logger = nopLogger{}

// SetLogger replaces the process-wide logger. Passing nil restores the
// discarding default.
func SetLogger(l Logger) {
	if l == nil {
		active = nopLogger{}
		return
	}
	active = l
}

// Log returns the process-wide logger.
func Log() Logger { return active }
