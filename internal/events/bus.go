// Package events provides a small in-process pub/sub bus. Components get a
// *Bus injected at construction instead of inheriting emitter behavior.
package events

import (
	"sync"

	"github.com/classpilot/aihub-go/internal/domain"
)

// Handler receives every event published on a subscribed topic.
type Handler func(topic domain.EventTopic, payload any)

// Bus is a synchronous fan-out bus. Publish calls handlers inline, in
// subscription order; handlers must not block.
type Bus struct {
	mu       sync.RWMutex
	handlers map[domain.EventTopic][]Handler
	all      []Handler
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{handlers: make(map[domain.EventTopic][]Handler)}
}

// Subscribe registers a handler for one topic.
func (b *Bus) Subscribe(topic domain.EventTopic, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], h)
}

// SubscribeAll registers a handler for every topic. Used by the logging
// and metrics sinks.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish delivers payload to all handlers of topic. Safe for concurrent use.
func (b *Bus) Publish(topic domain.EventTopic, payload any) {
	b.mu.RLock()
	topical := b.handlers[topic]
	all := b.all
	b.mu.RUnlock()

	for _, h := range topical {
		h(topic, payload)
	}
	for _, h := range all {
		h(topic, payload)
	}
}
