// Package bus is the in-process event bus producers publish lifecycle
// events to. Each subscriber consumes from its own buffered channel on a
// dedicated goroutine, so one slow consumer never reorders or loses
// events for another.
package bus

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Mindburn-Labs/halyard/pkg/provisioning"
)

// Handler consumes one event. Handlers run sequentially per subscriber;
// a handler that panics is logged and the subscriber keeps running.
type Handler func(ctx context.Context, event *provisioning.LocalEvent)

// DefaultBufferSize is the per-subscriber channel depth.
const DefaultBufferSize = 1024

// Bus fans published events out to every subscriber in publish order.
type Bus struct {
	logger  *slog.Logger
	bufSize int

	mu          sync.Mutex
	closed      bool
	subscribers []*subscriber
	wg          sync.WaitGroup
}

type subscriber struct {
	name    string
	ch      chan *provisioning.LocalEvent
	handler Handler
}

// Option configures a Bus.
type Option func(*Bus)

// WithBufferSize overrides the per-subscriber channel depth.
func WithBufferSize(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.bufSize = n
		}
	}
}

// WithLogger overrides the default logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bus) {
		b.logger = logger
	}
}

func New(opts ...Option) *Bus {
	b := &Bus{
		logger:  slog.Default().With("component", "bus"),
		bufSize: DefaultBufferSize,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a named handler. Must be called before the first
// Publish that should reach it; subscribing after Close is a no-op.
func (b *Bus) Subscribe(name string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	sub := &subscriber{
		name:    name,
		ch:      make(chan *provisioning.LocalEvent, b.bufSize),
		handler: handler,
	}
	b.subscribers = append(b.subscribers, sub)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for event := range sub.ch {
			b.dispatch(sub, event)
		}
	}()
}

func (b *Bus) dispatch(sub *subscriber, event *provisioning.LocalEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("subscriber panicked",
				"subscriber", sub.name, "event_id", event.ID, "panic", r)
		}
	}()
	sub.handler(context.Background(), event)
}

// Publish delivers the event to every subscriber's queue. When a queue is
// full Publish blocks, trading producer latency for ordered, lossless
// delivery. Returns once every subscriber has the event buffered.
func (b *Bus) Publish(ctx context.Context, event *provisioning.LocalEvent) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		b.logger.WarnContext(ctx, "publish on closed bus dropped", "event_id", event.ID)
		return
	}
	subs := make([]*subscriber, len(b.subscribers))
	copy(subs, b.subscribers)
	b.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.ch <- event:
		default:
			b.logger.WarnContext(ctx, "subscriber queue full, publish blocking",
				"subscriber", sub.name, "event_id", event.ID)
			sub.ch <- event
		}
	}
}

// Close stops accepting publishes and waits for subscribers to drain
// their queues.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subscribers
	b.mu.Unlock()

	for _, sub := range subs {
		close(sub.ch)
	}
	b.wg.Wait()
}
