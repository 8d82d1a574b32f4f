package observability

import (
	"sync"

	"github.com/nupi-ai/edbridge/internal/eventbus"
)

type counterKey struct {
	topic  eventbus.Topic
	source eventbus.Source
}

// EventCounter tallies bus traffic per topic and producing component.
// Register it with eventbus.WithObserver.
type EventCounter struct {
	mu     sync.Mutex
	counts map[counterKey]uint64
}

func NewEventCounter() *EventCounter {
	return &EventCounter{counts: make(map[counterKey]uint64)}
}

// OnPublish implements eventbus.Observer. Envelopes without a topic are ignored.
func (c *EventCounter) OnPublish(env eventbus.Envelope) {
	if env.Topic == "" {
		return
	}
	source := env.Source
	if source == "" {
		source = eventbus.SourceUnknown
	}
	c.mu.Lock()
	c.counts[counterKey{topic: env.Topic, source: source}]++
	c.mu.Unlock()
}

// Count returns the number of events seen on topic from any source.
func (c *EventCounter) Count(topic eventbus.Topic) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var total uint64
	for key, n := range c.counts {
		if key.topic == topic {
			total += n
		}
	}
	return total
}

// Snapshot returns per-topic totals.
func (c *EventCounter) Snapshot() map[eventbus.Topic]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[eventbus.Topic]uint64)
	for key, n := range c.counts {
		out[key.topic] += n
	}
	return out
}

// BySource breaks the per-topic totals down by the component that published them.
func (c *EventCounter) BySource() map[eventbus.Topic]map[eventbus.Source]uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[eventbus.Topic]map[eventbus.Source]uint64)
	for key, n := range c.counts {
		sources, ok := out[key.topic]
		if !ok {
			sources = make(map[eventbus.Source]uint64)
			out[key.topic] = sources
		}
		sources[key.source] = n
	}
	return out
}
