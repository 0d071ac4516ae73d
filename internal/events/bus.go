package events

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/modelrelay/modelrelay/internal/metrics"
)

const defaultBufferSize = 1000

// Handler consumes events. Handlers run on the bus goroutine, so a slow
// handler delays other handlers but never the publishers.
type Handler func(Event)

// Bus is a bounded asynchronous fan-out. Publish is non-blocking: when the
// buffer is full the event is dropped and counted rather than stalling a
// request. Losing a monitoring event is cheaper than adding latency to
// traffic that is already degraded.
type Bus struct {
	logger *slog.Logger
	ch     chan Event

	mu       sync.RWMutex
	handlers []Handler

	dropped   atomic.Int64
	published atomic.Int64

	closed   atomic.Bool
	stopOnce sync.Once
	quit     chan struct{}
	done     chan struct{}
}

// NewBus creates and starts a bus. bufferSize <= 0 applies the default.
func NewBus(logger *slog.Logger, bufferSize int) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}
	b := &Bus{
		logger: logger,
		ch:     make(chan Event, bufferSize),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go b.run()
	return b
}

// Subscribe registers a handler for all events. Subscriptions are expected at
// startup; there is no unsubscribe.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	b.handlers = append(b.handlers, h)
	b.mu.Unlock()
}

// Publish enqueues an event without blocking. Returns false when the event
// was dropped, either because the buffer is full or the bus is closed.
func (b *Bus) Publish(ev Event) bool {
	if b.closed.Load() {
		b.dropped.Add(1)
		return false
	}
	select {
	case b.ch <- ev:
		b.published.Add(1)
		return true
	default:
		b.dropped.Add(1)
		metrics.EventsDropped.Inc()
		return false
	}
}

// Stats reports published and dropped totals.
func (b *Bus) Stats() (published, dropped int64) {
	return b.published.Load(), b.dropped.Load()
}

// Close stops the bus after draining buffered events.
func (b *Bus) Close() {
	b.stopOnce.Do(func() {
		b.closed.Store(true)
		close(b.quit)
		<-b.done
	})
}

func (b *Bus) run() {
	defer close(b.done)
	for {
		select {
		case ev := <-b.ch:
			b.deliver(ev)
		case <-b.quit:
			// Drain whatever is already buffered, then stop.
			for {
				select {
				case ev := <-b.ch:
					b.deliver(ev)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) deliver(ev Event) {
	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()

	for _, h := range handlers {
		b.dispatch(h, ev)
	}
}

// dispatch isolates handler panics so one bad subscriber cannot kill the bus.
func (b *Bus) dispatch(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked", "event_type", string(ev.Type), "panic", r)
		}
	}()
	h(ev)
}
