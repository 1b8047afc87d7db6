package livereload

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/devserver/internal/eventbus"
)

type change struct {
	eventType string
	payload   map[string]string
}

type chanPublisher chan change

func (c chanPublisher) Publish(eventType string, payload map[string]string) {
	c <- change{eventType: eventType, payload: payload}
}

func startWatcher(t *testing.T, root string) chanPublisher {
	t.Helper()
	events := make(chanPublisher, 16)
	w, err := NewWatcher(root, 50*time.Millisecond, events, slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return events
}

func next(t *testing.T, events chanPublisher) change {
	t.Helper()
	select {
	case c := <-events:
		return c
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for file change event")
		return change{}
	}
}

func assertQuiet(t *testing.T, events chanPublisher) {
	t.Helper()
	select {
	case c := <-events:
		t.Fatalf("unexpected event: %+v", c)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_PublishesChanges(t *testing.T) {
	root := t.TempDir()
	events := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "index.html"), []byte("<p>hi</p>"), 0600))

	c := next(t, events)
	assert.Equal(t, eventbus.FileChanged, c.eventType)
	assert.Equal(t, "index.html", c.payload["path"])
}

func TestWatcher_DebouncesBursts(t *testing.T) {
	root := t.TempDir()
	events := startWatcher(t, root)

	for _, name := range []string{"a.js", "b.js", "c.js"} {
		require.NoError(t, os.WriteFile(filepath.Join(root, name), []byte(name), 0600))
	}

	c := next(t, events)
	assert.Equal(t, "3", c.payload["count"])
	assert.Equal(t, "c.js", c.payload["path"])
	assertQuiet(t, events)
}

func TestWatcher_WatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	events := startWatcher(t, root)

	sub := filepath.Join(root, "components")
	require.NoError(t, os.Mkdir(sub, 0750))
	assert.Equal(t, "components", next(t, events).payload["path"])

	require.NoError(t, os.WriteFile(filepath.Join(sub, "chat.js"), []byte("x"), 0600))
	assert.Equal(t, "components/chat.js", next(t, events).payload["path"])
}

func TestWatcher_SkipsIgnoredPaths(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, "node_modules"), 0750))
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0750))
	events := startWatcher(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "node_modules", "dep.js"), []byte("x"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".git", "HEAD"), []byte("x"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".env"), []byte("x"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(root, "main.js~"), []byte("x"), 0600))
	assertQuiet(t, events)
}

func TestNewWatcher_MissingRoot(t *testing.T) {
	_, err := NewWatcher(filepath.Join(t.TempDir(), "missing"), 0, make(chanPublisher), slog.Default())
	assert.Error(t, err)
}

func TestIgnored(t *testing.T) {
	tests := map[string]bool{
		"node_modules": true,
		".git":         true,
		".env":         true,
		"main.js~":     true,
		".main.js.swp": true,
		"index.html":   false,
		".":            false,
		"src":          false,
	}
	for name, want := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, want, ignored(name))
		})
	}
}
