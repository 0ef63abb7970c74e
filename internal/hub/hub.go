// ABOUTME: In-memory fan-out hub delivering events to live observers.
// ABOUTME: Each observer has a bounded buffer so a slow one never blocks the rest.

package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// DefaultBufferSize is the per-observer event buffer.
const DefaultBufferSize = 64

// Overflow selects what happens when an observer's buffer is full.
type Overflow string

const (
	// OverflowDisconnect unregisters the observer and closes its channel.
	OverflowDisconnect Overflow = "disconnect"
	// OverflowDropOldest discards the oldest buffered event to make room.
	OverflowDropOldest Overflow = "drop_oldest"
)

// Option configures a Hub.
type Option func(*Hub)

// WithBufferSize sets the per-observer buffer size.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.bufferSize = n
		}
	}
}

// WithOverflow sets the overflow policy.
func WithOverflow(o Overflow) Option {
	return func(h *Hub) {
		if o == OverflowDisconnect || o == OverflowDropOldest {
			h.overflow = o
		}
	}
}

// Observer is one registered delivery target.
type Observer struct {
	id      string
	ch      chan Event
	dropped atomic.Int64
}

// ID returns the observer's identifier.
func (o *Observer) ID() string { return o.id }

// Events returns the delivery channel. It is closed when the observer is
// unregistered.
func (o *Observer) Events() <-chan Event { return o.ch }

// Dropped returns how many events were discarded for this observer.
func (o *Observer) Dropped() int64 { return o.dropped.Load() }

// Hub fans published events out to every registered observer.
type Hub struct {
	mu         sync.RWMutex
	observers  map[string]*Observer
	bufferSize int
	overflow   Overflow
	closed     bool
	published  atomic.Int64
	logger     *slog.Logger
}

// NewHub creates a hub. Pass nil logger for default.
func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		observers:  make(map[string]*Observer),
		bufferSize: DefaultBufferSize,
		overflow:   OverflowDisconnect,
		logger:     logger.With("component", "hub"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register adds an observer. It is unregistered automatically when ctx is done.
// Registering on a closed hub returns an observer whose channel is already closed.
func (h *Hub) Register(ctx context.Context) *Observer {
	o := &Observer{
		id: uuid.New().String(),
		ch: make(chan Event, h.bufferSize),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(o.ch)
		return o
	}
	h.observers[o.id] = o
	total := len(h.observers)
	h.mu.Unlock()

	h.logger.Debug("observer registered", "observer_id", o.id, "total_observers", total)

	go func() {
		<-ctx.Done()
		h.Unregister(o.id)
	}()

	return o
}

// Unregister removes an observer and closes its channel. Unknown ids are ignored.
func (h *Hub) Unregister(id string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	o, ok := h.observers[id]
	if !ok {
		return
	}
	delete(h.observers, id)
	close(o.ch)

	h.logger.Debug("observer unregistered",
		"observer_id", id,
		"dropped", o.Dropped(),
		"total_observers", len(h.observers))
}

// Publish delivers e to every observer without blocking. Sends happen under the
// read lock so they never race Unregister closing a channel. Observers that
// overflow under the disconnect policy are unregistered after the pass.
func (h *Hub) Publish(e Event) {
	h.published.Add(1)

	var overflowed []string

	h.mu.RLock()
	for id, o := range h.observers {
		if h.deliver(o, e) {
			continue
		}
		overflowed = append(overflowed, id)
	}
	h.mu.RUnlock()

	for _, id := range overflowed {
		h.logger.Warn("disconnecting slow observer", "observer_id", id, "event_type", e.Kind)
		h.Unregister(id)
	}
}

// deliver attempts a non-blocking send and reports false only when the
// observer must be disconnected.
func (h *Hub) deliver(o *Observer, e Event) bool {
	select {
	case o.ch <- e:
		return true
	default:
	}

	o.dropped.Add(1)
	if h.overflow == OverflowDisconnect {
		return false
	}

	// Drop oldest: make room, then retry once. A concurrent publisher may win
	// the freed slot, in which case this event is dropped instead.
	select {
	case <-o.ch:
	default:
	}
	select {
	case o.ch <- e:
	default:
	}
	return true
}

// Send delivers e to a single observer without blocking. It returns false if
// the observer is unknown or its buffer is full.
func (h *Hub) Send(id string, e Event) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	o, ok := h.observers[id]
	if !ok {
		return false
	}
	select {
	case o.ch <- e:
		return true
	default:
		o.dropped.Add(1)
		return false
	}
}

// Count returns the number of registered observers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.observers)
}

// Published returns the number of events published since creation.
func (h *Hub) Published() int64 {
	return h.published.Load()
}

// Closed reports whether Close has been called.
func (h *Hub) Closed() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.closed
}

// Close unregisters every observer and refuses new registrations.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, o := range h.observers {
		close(o.ch)
		delete(h.observers, id)
	}
	h.closed = true

	h.logger.Debug("hub closed")
}
