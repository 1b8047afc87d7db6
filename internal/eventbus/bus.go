// Package eventbus provides an in-memory, asynchronous event bus connecting the
// file watcher and upstream prober to the live-reload hub and the logs.
// Events are dispatched through a buffered channel and processed by a worker pool.
package eventbus

import (
	"log/slog"
	"sync"
	"time"
)

const (
	defaultWorkers    = 3
	defaultBufferSize = 100
)

// EventBus is the interface for publishing events and managing subscribers.
type EventBus interface {
	// Publish enqueues an event with the given type and payload.
	// It never blocks: if the buffer is full, the event is dropped and a warning is logged.
	Publish(eventType string, payload map[string]string)

	// Subscribe registers a listener for events matching topic (see Event.Matches).
	Subscribe(topic string, listener Listener)

	// Close stops accepting new events and waits for all pending events to be processed.
	Close()
}

type subscription struct {
	topic    string
	listener Listener
}

// inMemoryBus is the default EventBus implementation.
type inMemoryBus struct {
	ch      chan Event
	subs    []subscription
	mu      sync.RWMutex
	wg      sync.WaitGroup
	workers int
	logger  *slog.Logger

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a new in-memory EventBus with the specified number of worker goroutines.
// If workers is <= 0, defaultWorkers (3) is used. Use a single worker when
// listeners depend on delivery order.
func New(logger *slog.Logger, workers int) EventBus {
	if workers <= 0 {
		workers = defaultWorkers
	}
	if logger == nil {
		logger = slog.Default()
	}
	b := &inMemoryBus{
		ch:      make(chan Event, defaultBufferSize),
		workers: workers,
		logger:  logger,
		closed:  make(chan struct{}),
	}
	b.startWorkers()
	return b
}

func (b *inMemoryBus) startWorkers() {
	for i := 0; i < b.workers; i++ {
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for e := range b.ch {
				b.dispatch(e)
			}
		}()
	}
}

// dispatch calls every listener subscribed to a matching topic. A panicking
// listener is logged and does not affect the others.
func (b *inMemoryBus) dispatch(e Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		if !e.Matches(s.topic) {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("eventbus: listener panicked",
						"event", e.Type, "topic", s.topic, "panic", r)
				}
			}()
			s.listener(e)
		}()
	}
}

func (b *inMemoryBus) Publish(eventType string, payload map[string]string) {
	e := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Payload:   payload,
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	select {
	case <-b.closed:
		b.logger.Debug("eventbus: closed, dropping event", "event", eventType)
		return
	default:
	}

	select {
	case b.ch <- e:
	default:
		b.logger.Warn("eventbus: buffer full, dropping event", "event", eventType)
	}
}

func (b *inMemoryBus) Subscribe(topic string, listener Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{topic: topic, listener: listener})
}

// Close drains and closes the event channel, then waits for all workers to finish.
// It is safe to call more than once.
func (b *inMemoryBus) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		close(b.closed)
		close(b.ch)
		b.mu.Unlock()
	})
	b.wg.Wait()
}
