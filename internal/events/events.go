// Package events defines the domain events emitted while the local mirror
// is reconciled, and a synchronous bus that delivers them.
package events

import (
	"sync"

	"pocketsync/internal/model"
)

// Kind names an event variant.
type Kind string

const (
	KindReady      Kind = "ready"
	KindDiscovered Kind = "discovered"
	KindCreated    Kind = "created"
	KindReacted    Kind = "reacted"
)

// Event is one of Ready, Discovered, Created or Reacted.
type Event interface {
	Kind() Kind
}

// Ready signals the transport is operational.
type Ready struct{}

// Discovered is the first observation of a message id, whatever the cause.
type Discovered struct {
	Message model.Message `json:"message"`
}

// Created is the first observation of a message id observed with cause create.
type Created struct {
	Message model.Message `json:"message"`
}

// Reacted carries the reaction delta of a message observed with cause update.
type Reacted struct {
	Message model.Message   `json:"message"`
	Added   model.Reactions `json:"added"`
	Removed model.Reactions `json:"removed"`
}

func (Ready) Kind() Kind      { return KindReady }
func (Discovered) Kind() Kind { return KindDiscovered }
func (Created) Kind() Kind    { return KindCreated }
func (Reacted) Kind() Kind    { return KindReacted }

// Handler receives events synchronously on the publishing goroutine.
type Handler func(Event)

// Bus fans events out to subscribed handlers in subscription order.
type Bus struct {
	mu       sync.RWMutex
	next     int
	handlers []subscription
}

type subscription struct {
	id int
	fn Handler
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	id := b.next
	b.handlers = append(b.handlers, subscription{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.handlers {
			if s.id == id {
				b.handlers = append(b.handlers[:i:i], b.handlers[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers e to every handler before returning.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	hs := make([]subscription, len(b.handlers))
	copy(hs, b.handlers)
	b.mu.RUnlock()
	for _, s := range hs {
		s.fn(e)
	}
}

// OnReady subscribes a handler for Ready only.
func (b *Bus) OnReady(fn func()) func() {
	return b.Subscribe(func(e Event) {
		if _, ok := e.(Ready); ok {
			fn()
		}
	})
}

// OnDiscovered subscribes a handler for Discovered only.
func (b *Bus) OnDiscovered(fn func(model.Message)) func() {
	return b.Subscribe(func(e Event) {
		if d, ok := e.(Discovered); ok {
			fn(d.Message)
		}
	})
}

// OnCreated subscribes a handler for Created only.
func (b *Bus) OnCreated(fn func(model.Message)) func() {
	return b.Subscribe(func(e Event) {
		if c, ok := e.(Created); ok {
			fn(c.Message)
		}
	})
}

// OnReacted subscribes a handler for Reacted only.
func (b *Bus) OnReacted(fn func(msg model.Message, added, removed model.Reactions)) func() {
	return b.Subscribe(func(e Event) {
		if r, ok := e.(Reacted); ok {
			fn(r.Message, r.Added, r.Removed)
		}
	})
}
