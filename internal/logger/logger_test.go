package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_WritesTextToWriter(t *testing.T) {
	var buf bytes.Buffer

	log, closer, err := New("", slog.LevelInfo, &buf)
	require.NoError(t, err)
	defer closer.Close()

	log.Debug("hidden")
	log.Info("proxy ready", "rule", "/ws")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=\"proxy ready\"")
	assert.Contains(t, out, "rule=/ws")
}

func TestNew_WritesJSONToLogDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	log, closer, err := New(dir, slog.LevelDebug, nil)
	require.NoError(t, err)

	log.Debug("file changed", "path", "index.html")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, FileName))
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &rec))
	assert.Equal(t, "file changed", rec["msg"])
	assert.Equal(t, "index.html", rec["path"])
	assert.Equal(t, "DEBUG", rec["level"])
}

func TestTee(t *testing.T) {
	var info, debug bytes.Buffer
	log := slog.New(Tee(
		slog.NewTextHandler(&info, &slog.HandlerOptions{Level: slog.LevelInfo}),
		slog.NewJSONHandler(&debug, &slog.HandlerOptions{Level: slog.LevelDebug}),
	)).With("component", "watcher")

	log.Debug("scanning")
	log.WithGroup("event").Info("file changed", "path", "app.js")

	assert.NotContains(t, info.String(), "scanning")
	assert.Contains(t, info.String(), "component=watcher")
	assert.Contains(t, info.String(), "event.path=app.js")

	lines := bytes.Split(bytes.TrimSpace(debug.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)
	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &rec))
	assert.Equal(t, "watcher", rec["component"])
	assert.Equal(t, map[string]any{"path": "app.js"}, rec["event"])
}
