// Package bus carries domain events to the other services (balance, webhook
// dispatch, reporting). Events are appended to the log before they are
// published, so a consumer never sees an event the store could still reject.
package bus

import (
	"context"
	"log"
	"sync"

	"github.com/pagolivre/psp/internal/domain"
)

// Publisher is the outbound side of the message bus.
type Publisher interface {
	Publish(ctx context.Context, evt domain.Event) error
}

// Handler consumes one published event.
type Handler func(ctx context.Context, evt domain.Event) error

// InProcessBus fans events out to subscribers registered per event type.
// Subscriber failures are logged, not propagated: the event log is the
// durable record and consumers re-read from it on recovery.
type InProcessBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewInProcessBus() *InProcessBus {
	return &InProcessBus{handlers: make(map[string][]Handler)}
}

// Subscribe registers a handler for an event type. "*" receives everything.
func (b *InProcessBus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

func (b *InProcessBus) Publish(ctx context.Context, evt domain.Event) error {
	b.mu.RLock()
	handlers := append([]Handler{}, b.handlers[evt.Type]...)
	handlers = append(handlers, b.handlers["*"]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		if err := h(ctx, evt); err != nil {
			log.Printf("[bus] WARNING: handler failed for %s v%d of %s: %v",
				evt.Type, evt.Version, evt.AggregateID, err)
		}
	}
	return nil
}
