package events

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/wkoss/polystop/internal/domain"
)

func newTestBus() *Bus {
	return NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type recorder struct {
	mu   sync.Mutex
	seen []domain.EventType
}

func (r *recorder) handle(ctx context.Context, ev domain.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, ev.Type())
}

func (r *recorder) events() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.EventType(nil), r.seen...)
}

func TestBus_DeliversToAllSubscribersWithoutFilter(t *testing.T) {
	bus := newTestBus()
	a, b := &recorder{}, &recorder{}
	bus.Subscribe(a.handle)
	bus.Subscribe(b.handle)

	bus.Publish(domain.CycleError{Err: "boom", At: time.Now()})
	bus.Drain()

	assert.Equal(t, []domain.EventType{domain.EventCycleError}, a.events())
	assert.Equal(t, []domain.EventType{domain.EventCycleError}, b.events())
}

func TestBus_TypeFilter(t *testing.T) {
	bus := newTestBus()
	r := &recorder{}
	bus.Subscribe(r.handle, domain.EventTriggerFired)

	bus.Publish(domain.CycleError{Err: "boom", At: time.Now()})
	bus.Publish(domain.TriggerFired{At: time.Now()})
	bus.Drain()

	assert.Equal(t, []domain.EventType{domain.EventTriggerFired}, r.events())
}

func TestBus_PublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	bus := newTestBus()
	release := make(chan struct{})
	bus.Subscribe(func(ctx context.Context, ev domain.Event) {
		<-release
	})

	done := make(chan struct{})
	go func() {
		bus.Publish(domain.CycleError{Err: "boom", At: time.Now()})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a slow subscriber")
	}

	close(release)
	bus.Drain()
}

func TestBus_SubscriberPanicIsRecovered(t *testing.T) {
	bus := newTestBus()
	r := &recorder{}
	bus.Subscribe(func(ctx context.Context, ev domain.Event) {
		panic("bad handler")
	})
	bus.Subscribe(r.handle)

	bus.Publish(domain.CycleError{Err: "boom", At: time.Now()})
	bus.Drain()

	// The healthy subscriber still got the event.
	assert.Len(t, r.events(), 1)
}

func TestBus_DrainWaitsForInflightDeliveries(t *testing.T) {
	bus := newTestBus()
	var delivered bool
	var mu sync.Mutex
	bus.Subscribe(func(ctx context.Context, ev domain.Event) {
		time.Sleep(20 * time.Millisecond)
		mu.Lock()
		delivered = true
		mu.Unlock()
	})

	bus.Publish(domain.CycleError{Err: "boom", At: time.Now()})
	bus.Drain()

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, delivered)
}
