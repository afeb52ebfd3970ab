package app

import (
	"context"
	"sync"

	charmLog "github.com/charmbracelet/log"
	"github.com/hylla/flode/internal/domain"
)

// Handler consumes a single published event. A handler's failure is a
// side-effect failure: the triggering transition has already been durably
// committed, so the dispatcher logs the error and moves on. It never rolls
// back or re-raises into the caller.
type Handler func(ctx context.Context, event domain.Event) error

// EventSource is the drain contract both aggregates satisfy through their
// embedded event buffer.
type EventSource interface {
	Events() []domain.Event
	ClearEvents()
}

// Dispatcher drains aggregate event buffers after the caller has persisted
// the aggregate, publishing each event to the registered handlers. Dispatch
// is synchronous per event: all handlers for one event run to completion
// before the next event is published.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	catchAll []Handler
	logger   *charmLog.Logger
}

// NewDispatcher constructs an empty dispatcher.
func NewDispatcher(logger *charmLog.Logger) *Dispatcher {
	if logger == nil {
		logger = charmLog.Default()
	}
	return &Dispatcher{
		handlers: map[string][]Handler{},
		logger:   logger,
	}
}

// Register subscribes a handler to one event name.
func (d *Dispatcher) Register(eventName string, h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[eventName] = append(d.handlers[eventName], h)
}

// RegisterAll subscribes a handler to every event regardless of name. Used
// by the ledger and audit consumers.
func (d *Dispatcher) RegisterAll(h Handler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.catchAll = append(d.catchAll, h)
}

// Dispatch drains one aggregate's buffer in FIFO order and publishes each
// event. The buffer is cleared only after publication completes, so a
// context cancellation mid-drain leaves undelivered events in place for the
// caller to retry (handlers are idempotent by contract).
func (d *Dispatcher) Dispatch(ctx context.Context, src EventSource) {
	events := src.Events()
	for _, event := range events {
		if ctx.Err() != nil {
			d.logger.Warn("event dispatch interrupted",
				"aggregate_id", event.AggregateID, "event", event.Name, "err", ctx.Err())
			return
		}
		d.publish(ctx, event)
	}
	src.ClearEvents()
}

// DispatchAll processes multiple aggregates concurrently. Events within one
// aggregate stay strictly ordered; ordering across aggregates is not
// guaranteed.
func (d *Dispatcher) DispatchAll(ctx context.Context, srcs ...EventSource) {
	var wg sync.WaitGroup
	for _, src := range srcs {
		wg.Add(1)
		go func(src EventSource) {
			defer wg.Done()
			d.Dispatch(ctx, src)
		}(src)
	}
	wg.Wait()
}

// publish invokes every registered handler for one event.
func (d *Dispatcher) publish(ctx context.Context, event domain.Event) {
	d.mu.RLock()
	named := d.handlers[event.Name]
	catchAll := d.catchAll
	d.mu.RUnlock()

	for _, h := range catchAll {
		if err := h(ctx, event); err != nil {
			d.logger.Error("event handler failed",
				"event", event.Name, "aggregate_id", event.AggregateID, "err", err)
		}
	}
	for _, h := range named {
		if err := h(ctx, event); err != nil {
			d.logger.Error("event handler failed",
				"event", event.Name, "aggregate_id", event.AggregateID, "err", err)
		}
	}
}
