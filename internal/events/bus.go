// Package events provides the in-process event bus connecting the monitoring
// core to its observers. The core publishes typed domain events; subscribers
// such as the notification bridge render them however they like. Delivery is
// asynchronous so a slow subscriber can never stall a liquidation.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/wkoss/polystop/internal/domain"
)

// deliveryTimeout bounds how long one subscriber may take per event.
const deliveryTimeout = 10 * time.Second

// Handler processes a single event. Handlers run on their own goroutine and
// must be safe for concurrent use.
type Handler func(ctx context.Context, ev domain.Event)

type subscription struct {
	types   map[domain.EventType]bool // empty = all types
	handler Handler
}

// Bus is a typed publish/subscribe event bus. Publish never blocks on
// subscribers and never returns an error to the publisher; event delivery is
// strictly best-effort.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	wg     sync.WaitGroup
	logger *slog.Logger
}

// NewBus creates an empty Bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		logger: logger.With(slog.String("component", "event_bus")),
	}
}

// Subscribe registers a handler for the given event types. With no types the
// handler receives every event. Subscribe must not be called concurrently
// with Publish during startup wiring; after that the bus is read-only.
func (b *Bus) Subscribe(handler Handler, types ...domain.EventType) {
	typeSet := make(map[domain.EventType]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{types: typeSet, handler: handler})
}

// Publish delivers ev to every matching subscriber on its own goroutine.
// Subscriber panics are recovered and logged.
func (b *Bus) Publish(ev domain.Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, sub := range subs {
		if len(sub.types) > 0 && !sub.types[ev.Type()] {
			continue
		}

		b.wg.Add(1)
		go func(h Handler) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("subscriber panicked",
						slog.String("event", string(ev.Type())),
						slog.Any("panic", r))
				}
			}()

			ctx, cancel := context.WithTimeout(context.Background(), deliveryTimeout)
			defer cancel()
			h(ctx, ev)
		}(sub.handler)
	}
}

// Drain blocks until all in-flight deliveries complete. Called on shutdown
// after publishers have stopped.
func (b *Bus) Drain() {
	b.wg.Wait()
}
