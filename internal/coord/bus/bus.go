// Package bus provides the publish/subscribe primitive used for all
// cross-participant coordination traffic.
//
// Delivery is at-most-once and unordered across subscribers. Nothing is
// buffered for absent subscribers; liveness is covered by periodic heartbeat
// envelopes, not guaranteed delivery.
package bus

import (
	"context"
	"log"
	"sync"

	"github.com/openparlor/parlor/internal/coord/envelope"
)

// Handler consumes a single envelope. Handlers re-check envelope.Resolve
// before acting; the bus does not filter deliveries.
type Handler func(ctx context.Context, env envelope.Envelope)

// Bus fans envelopes out to current subscribers.
type Bus interface {
	// Publish validates env once at ingress and delivers it to every
	// current subscriber. A malformed envelope is dropped and reported to
	// the publisher; it never reaches a subscriber.
	Publish(ctx context.Context, env envelope.Envelope) error
	// Subscribe registers a handler and returns its cancel function.
	Subscribe(handler Handler) (cancel func())
}

// Memory is an in-process Bus implementation.
type Memory struct {
	mu          sync.Mutex
	subscribers map[int]Handler
	nextID      int
}

// NewMemory creates an empty in-process bus.
func NewMemory() *Memory {
	return &Memory{subscribers: make(map[int]Handler)}
}

// Publish implements Bus. Validation happens here, once, so subscribers never
// re-validate envelope shape.
func (b *Memory) Publish(ctx context.Context, env envelope.Envelope) error {
	if err := env.Validate(); err != nil {
		log.Printf("bus dropped malformed envelope source_id=%s kind=%s: %v", env.SourceID, env.Kind, err)
		return err
	}

	b.mu.Lock()
	handlers := make([]Handler, 0, len(b.subscribers))
	for _, h := range b.subscribers {
		handlers = append(handlers, h)
	}
	b.mu.Unlock()

	// Map iteration order above already makes cross-subscriber ordering
	// unspecified, which matches the delivery contract.
	for _, h := range handlers {
		h(ctx, env)
	}
	return nil
}

// Subscribe implements Bus.
func (b *Memory) Subscribe(handler Handler) (cancel func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers[id] = handler
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}
