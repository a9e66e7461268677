// Package events fans pipeline events out to SSE and WebSocket listeners.
package events

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"shiprelay/internal/metrics"
)

const (
	TopicOrders = "orders"
	TopicSweep  = "sweep"
)

type Event struct {
	ID   string         `json:"id"`
	Type string         `json:"type"`
	TS   string         `json:"ts"`
	Data map[string]any `json:"data,omitempty"`
}

// New stamps an event with a fresh id and the current time.
func New(eventType string, data map[string]any) Event {
	return Event{ID: "evt_" + uuid.NewString(), Type: eventType, TS: time.Now().UTC().Format(time.RFC3339), Data: data}
}

type Broker interface {
	Subscribe(topic string) chan Event
	Unsubscribe(topic string, ch chan Event)
	Publish(topic string, evt Event)
}

// DefaultBuffer is the subscriber channel size for topics without an override.
const DefaultBuffer = 16

// Memory is an in-process broker. A subscriber whose buffer is full misses the
// event; drops are counted per topic instead of stalling the publisher.
type Memory struct {
	// Buffers overrides the channel size per topic. A sweep emits one event per
	// pending shipment in a single burst.
	Buffers map[string]int

	mu     sync.Mutex
	topics map[string][]chan Event
}

func NewMemory() *Memory {
	return &Memory{
		Buffers: map[string]int{TopicSweep: 256},
		topics:  map[string][]chan Event{},
	}
}

func (b *Memory) Subscribe(topic string) chan Event {
	size := DefaultBuffer
	if n, ok := b.Buffers[topic]; ok && n > 0 {
		size = n
	}
	ch := make(chan Event, size)
	b.mu.Lock()
	b.topics[topic] = append(b.topics[topic], ch)
	b.mu.Unlock()
	return ch
}

// Unsubscribe closes ch once; repeated calls are ignored.
func (b *Memory) Unsubscribe(topic string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.topics[topic]
	i := slices.Index(subs, ch)
	if i < 0 {
		return
	}
	subs = slices.Delete(subs, i, i+1)
	if len(subs) == 0 {
		delete(b.topics, topic)
	} else {
		b.topics[topic] = subs
	}
	close(ch)
}

func (b *Memory) Publish(topic string, evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.topics[topic] {
		deliver(ch, topic, evt)
	}
}

func deliver(ch chan Event, topic string, evt Event) {
	select {
	case ch <- evt:
	default:
		metrics.EventsDropped.WithLabelValues(topic).Inc()
	}
}

// Nop discards everything; used when nothing listens.
type Nop struct{}

func (Nop) Subscribe(string) chan Event { return make(chan Event) }

func (Nop) Unsubscribe(string, chan Event) {}

func (Nop) Publish(string, Event) {}
