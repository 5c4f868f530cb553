package push

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Sink receives decoded events from a transport.
type Sink interface {
	Dispatch(event string, payload json.RawMessage)
}

// Transport is a connection to the push source that feeds a Sink.
type Transport interface {
	Connect(ctx context.Context) error
	Close() error
	IsConnected() bool
}

type subscription struct {
	id      string
	event   string
	handler func(payload json.RawMessage)
}

// Dispatcher is the process-wide event registry sitting behind a Transport.
// Components attach and detach handlers; the transport owns delivery.
type Dispatcher struct {
	mu     sync.RWMutex
	events map[string][]subscription
	index  map[string]string // subscription id -> event
	logger *slog.Logger
}

// NewDispatcher creates an empty Dispatcher. A nil logger means slog.Default().
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		events: make(map[string][]subscription),
		index:  make(map[string]string),
		logger: logger.With("component", "dispatcher"),
	}
}

// On registers handler for event and returns its subscription id.
func (d *Dispatcher) On(event string, handler func(payload json.RawMessage)) string {
	id := uuid.New().String()

	d.mu.Lock()
	d.events[event] = append(d.events[event], subscription{id: id, event: event, handler: handler})
	d.index[id] = event
	count := len(d.events[event])
	d.mu.Unlock()

	d.logger.Debug("handler registered", "event", event, "subscriptionId", id, "handlers", count)
	return id
}

// Off removes the registration with the given id. Unknown ids are ignored.
func (d *Dispatcher) Off(id string) {
	d.mu.Lock()
	event, exists := d.index[id]
	if !exists {
		d.mu.Unlock()
		return
	}
	delete(d.index, id)

	subs := d.events[event]
	kept := make([]subscription, 0, len(subs))
	for _, s := range subs {
		if s.id != id {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		delete(d.events, event)
	} else {
		d.events[event] = kept
	}
	count := len(kept)
	d.mu.Unlock()

	d.logger.Debug("handler removed", "event", event, "subscriptionId", id, "handlers", count)
}

// Dispatch calls every handler registered for event, in registration order.
// Handlers run outside the lock so they may call On or Off.
func (d *Dispatcher) Dispatch(event string, payload json.RawMessage) {
	d.mu.RLock()
	subs := make([]subscription, len(d.events[event]))
	copy(subs, d.events[event])
	d.mu.RUnlock()

	if len(subs) == 0 {
		d.logger.Debug("no handlers for event", "event", event)
		return
	}
	for _, s := range subs {
		s.handler(payload)
	}
}

// Stats returns the number of events with handlers and the total handler count.
func (d *Dispatcher) Stats() (events, handlers int) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	events = len(d.events)
	for _, subs := range d.events {
		handlers += len(subs)
	}
	return events, handlers
}
