// Package events is the in-process publish/subscribe bus shared by the progressive providers.
package events

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"

	"github.com/Digital-Creators-Team/slot-progressives/logging"
	"github.com/rs/zerolog"
)

type handler struct {
	owner any
	fn    func(any)
}

// Bus delivers events synchronously in the publisher's goroutine.
// Handlers must not publish while holding a lock they also take when handling.
type Bus struct {
	logger zerolog.Logger

	mu       sync.RWMutex
	handlers map[reflect.Type][]handler
	all      []handler
}

// NewBus creates an empty bus
func NewBus(logger zerolog.Logger) *Bus {
	return &Bus{
		logger:   logging.WithComponent(logger, "event_bus"),
		handlers: make(map[reflect.Type][]handler),
	}
}

// Subscribe registers fn for events of type E on behalf of owner
func Subscribe[E any](b *Bus, owner any, fn func(E)) {
	t := reflect.TypeOf((*E)(nil)).Elem()

	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], handler{
		owner: owner,
		fn:    func(evt any) { fn(evt.(E)) },
	})
}

// SubscribeAll registers fn for every published event
func (b *Bus) SubscribeAll(owner any, fn func(any)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, handler{owner: owner, fn: fn})
}

// UnsubscribeAll revokes every subscription made by owner
func (b *Bus) UnsubscribeAll(owner any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for t, hs := range b.handlers {
		kept := hs[:0:0]
		for _, h := range hs {
			if h.owner != owner {
				kept = append(kept, h)
			}
		}
		if len(kept) == 0 {
			delete(b.handlers, t)
		} else {
			b.handlers[t] = kept
		}
	}

	kept := b.all[:0:0]
	for _, h := range b.all {
		if h.owner != owner {
			kept = append(kept, h)
		}
	}
	b.all = kept
}

// Publish delivers evt to typed subscribers, then to catch-all subscribers.
// A panicking handler is logged and does not stop delivery to the others.
func (b *Bus) Publish(evt any) {
	if evt == nil {
		return
	}
	t := reflect.TypeOf(evt)

	b.mu.RLock()
	targets := make([]handler, 0, len(b.handlers[t])+len(b.all))
	targets = append(targets, b.handlers[t]...)
	targets = append(targets, b.all...)
	b.mu.RUnlock()

	for _, h := range targets {
		b.deliver(t, h, evt)
	}
}

// HasSubscribers reports whether anyone listens for events of type E
func HasSubscribers[E any](b *Bus) bool {
	t := reflect.TypeOf((*E)(nil)).Elem()
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[t]) > 0 || len(b.all) > 0
}

func (b *Bus) deliver(t reflect.Type, h handler, evt any) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error().
				Str("event", t.String()).
				Str("panic", fmt.Sprintf("%v", r)).
				Str("stack_trace", string(debug.Stack())).
				Msg("Panic recovered in event handler")
		}
	}()
	h.fn(evt)
}
