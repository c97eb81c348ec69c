// Package eventbus delivers registry events to in-process observers.
// Delivery is synchronous on the publisher's goroutine so observers see
// events in exactly the order the registry produced them.
package eventbus

import (
	"context"
	"sync"

	"github.com/felixgeelhaar/gantry/internal/adapters/logging"
	"github.com/felixgeelhaar/gantry/internal/domain/registry"
	"github.com/felixgeelhaar/gantry/internal/ports"
)

// Handler receives one event. Handlers run on the registry's coordinator
// goroutine and must not block or call back into the registry.
type Handler func(registry.Event)

// Bus fans events out to subscribed handlers.
type Bus struct {
	logger ports.Logger

	mu   sync.RWMutex
	subs []*subscriber
	next int
}

type subscriber struct {
	id int
	fn Handler
}

var _ registry.Notifier = (*Bus)(nil)

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report handler panics.
func WithLogger(logger ports.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{logger: logging.NewNopLogger()}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a handler for every event and returns a function
// that removes it. Unsubscribing twice is harmless.
func (b *Bus) Subscribe(fn Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &subscriber{id: b.next, fn: fn}
	b.next++
	b.subs = append(b.subs, sub)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == sub.id {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish implements registry.Notifier. A panicking handler is logged
// and skipped; it never takes down the publisher or its neighbors.
func (b *Bus) Publish(ctx context.Context, event registry.Event) {
	b.mu.RLock()
	subs := make([]*subscriber, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.deliver(ctx, sub, event)
	}
}

func (b *Bus) deliver(ctx context.Context, sub *subscriber, event registry.Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(ctx, "event handler panicked",
				ports.F("kind", string(event.Kind)), ports.F("panic", r))
		}
	}()
	sub.fn(event)
}
