package observability

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for input, want := range tests {
		assert.Equal(t, want, ParseLevel(input), "ParseLevel(%q)", input)
	}
}

func TestLoggerWritesConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "tracker.log")

	logger := NewLogger(LoggerOptions{Path: path, Level: "info", Format: "json", Console: &console})
	logger.With("run_id", "abc").Info("Section completed", "section", "JT", "records", 12)
	logger.Debug("hidden")
	require.NoError(t, logger.Close())

	assert.Contains(t, console.String(), `"section":"JT"`)
	assert.Contains(t, console.String(), `"run_id":"abc"`)
	assert.NotContains(t, console.String(), "hidden")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "Section completed")
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.IncPage("JT")
	m.IncRejection("missing_price")
	m.AddChanges(1, 1)
	m.SetRunSuccess(true)
	assert.NoError(t, m.WriteTextfile("ignored.prom"))
}

func TestMetricsTextfile(t *testing.T) {
	m := NewMetrics()
	m.IncPage("JT")
	m.IncPage("JT")
	m.IncRejection("missing_identifier")
	m.AddChanges(3, 1)
	m.SetRunSuccess(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.PagesTotal.WithLabelValues("JT")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.ItemsChanged))

	path := filepath.Join(t.TempDir(), "metrics", "tracker.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `stamp_tracker_pages_total{section="JT"} 2`)
	assert.Contains(t, string(data), "stamp_tracker_last_run_success 1")
}
