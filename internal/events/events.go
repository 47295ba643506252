// Package events provides the best-effort in-process notification
// channel. Delivery is fire-and-forget with no persistence: slow
// subscribers drop events, and consumers reconstruct state by polling
// the proposal store, which remains the sole source of truth.
package events

import (
	"sync"
	"time"
)

// Event types emitted over the bus.
const (
	TypeProposalCreated  = "proposal:created"
	TypeProposalApproved = "proposal:approved"
	TypeProposalRejected = "proposal:rejected"
	TypeTestStarted      = "proposal:test-started"
	TypeTestFinished     = "proposal:test-finished"
	TypeTestFailed       = "proposal:test-failed"
	TypeProposalApplied  = "proposal:applied"
)

// Event is one notification published on the bus.
type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
	At      time.Time      `json:"at"`
}

const subscriberBuffer = 64

// Bus fans events out to subscribers. Publish never blocks.
type Bus struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Event
}

// NewBus returns an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a new subscriber channel. The returned cancel func
// unregisters it and closes the channel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, subscriberBuffer)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber without blocking.
// A subscriber whose buffer is full misses the event.
func (b *Bus) Publish(eventType string, payload map[string]any) {
	ev := Event{Type: eventType, Payload: payload, At: time.Now().UTC()}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
