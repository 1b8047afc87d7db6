package eventbus_test

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shaharia-lab/devserver/internal/eventbus"
)

func TestPublishAndReceive(t *testing.T) {
	bus := eventbus.New(slog.Default(), 2)
	defer bus.Close()

	var received []eventbus.Event
	var mu sync.Mutex

	bus.Subscribe(eventbus.FileChanged, func(e eventbus.Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
	})

	bus.Publish(eventbus.FileChanged, map[string]string{"path": "index.html"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, eventbus.FileChanged, received[0].Type)
	assert.Equal(t, "index.html", received[0].Payload["path"])
	assert.False(t, received[0].Timestamp.IsZero())
}

func TestTopicFiltering(t *testing.T) {
	bus := eventbus.New(nil, 1)

	var files, upstream, all int32
	bus.Subscribe(eventbus.FileChanged, func(eventbus.Event) { atomic.AddInt32(&files, 1) })
	bus.Subscribe("upstream.*", func(eventbus.Event) { atomic.AddInt32(&upstream, 1) })
	bus.Subscribe("*", func(eventbus.Event) { atomic.AddInt32(&all, 1) })

	bus.Publish(eventbus.FileChanged, nil)
	bus.Publish(eventbus.UpstreamDown, nil)
	bus.Publish(eventbus.UpstreamUp, nil)
	bus.Close()

	assert.EqualValues(t, 1, atomic.LoadInt32(&files))
	assert.EqualValues(t, 2, atomic.LoadInt32(&upstream))
	assert.EqualValues(t, 3, atomic.LoadInt32(&all))
}

func TestEventMatches(t *testing.T) {
	e := eventbus.Event{Type: "upstream.down"}

	assert.True(t, e.Matches("*"))
	assert.True(t, e.Matches("upstream.down"))
	assert.True(t, e.Matches("upstream.*"))
	assert.False(t, e.Matches("upstream.up"))
	assert.False(t, e.Matches("file.*"))
	assert.False(t, e.Matches("upstream"))
}

func TestListenerPanicDoesNotCrash(t *testing.T) {
	bus := eventbus.New(slog.Default(), 1)

	var goodCalled int32

	bus.Subscribe("*", func(eventbus.Event) {
		panic("intentional panic in listener")
	})
	bus.Subscribe("*", func(eventbus.Event) {
		atomic.AddInt32(&goodCalled, 1)
	})

	bus.Publish("panic.event", nil)
	bus.Close()

	// The second listener should still have been called.
	assert.EqualValues(t, 1, atomic.LoadInt32(&goodCalled))
}

func TestClose(t *testing.T) {
	bus := eventbus.New(slog.Default(), 2)

	var count int32
	bus.Subscribe("*", func(eventbus.Event) {
		atomic.AddInt32(&count, 1)
	})

	for i := 0; i < 5; i++ {
		bus.Publish("evt", nil)
	}

	// Close waits for all workers to finish processing.
	bus.Close()
	assert.EqualValues(t, 5, atomic.LoadInt32(&count))

	// Publishing after close is dropped rather than panicking.
	assert.NotPanics(t, func() { bus.Publish("late", nil) })
	assert.NotPanics(t, bus.Close)
	assert.EqualValues(t, 5, atomic.LoadInt32(&count))
}

func TestDefaultWorkers(t *testing.T) {
	// workers <= 0 should use default without panicking.
	bus := eventbus.New(slog.Default(), 0)
	require.NotNil(t, bus)
	bus.Close()
}
