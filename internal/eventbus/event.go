package eventbus

import (
	"strings"
	"time"
)

// Event types published by the dev server.
const (
	FileChanged  = "file.changed"
	UpstreamUp   = "upstream.up"
	UpstreamDown = "upstream.down"
)

// Event represents a dev-server event published to the bus.
type Event struct {
	Type      string            `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Payload   map[string]string `json:"payload"`
}

// Listener is a function that handles an event.
type Listener func(Event)

// Matches reports whether the event belongs to topic. A topic is either an
// exact type ("file.changed"), a dotted prefix ending in ".*" ("upstream.*"),
// or "*" for everything.
func (e Event) Matches(topic string) bool {
	switch {
	case topic == "*":
		return true
	case strings.HasSuffix(topic, ".*"):
		return strings.HasPrefix(e.Type, strings.TrimSuffix(topic, "*"))
	default:
		return e.Type == topic
	}
}
