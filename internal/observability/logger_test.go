package observability

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type recordingLogger struct {
	debugs int
	infos  int
	errors int
}

func (r *recordingLogger) Debug(string, ...Field) { r.debugs++ }
func (r *recordingLogger) Info(string, ...Field)  { r.infos++ }
func (r *recordingLogger) Error(string, ...Field) { r.errors++ }

func TestSetLoggerOverridesGlobal(t *testing.T) {
	recorder := new(recordingLogger)
	SetLogger(recorder)
	t.Cleanup(func() { SetLogger(nil) })

	Log().Debug("test")
	require.Equal(t, 1, recorder.debugs)

	SetLogger(nil)
	Log().Info("noop")
	require.Equal(t, 0, recorder.infos)
}

func TestStdioLoggerEmitsJSONLines(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger(&buf, false)

	logger.Debug("hidden")
	logger.Info("solve finished", F("cells", 1200), F("", "dropped"))

	out := buf.String()
	require.Equal(t, 1, strings.Count(out, "\n"))
	require.Contains(t, out, `"msg":"solve finished"`)
	require.Contains(t, out, `"cells":1200`)
	require.NotContains(t, out, "dropped")
}
