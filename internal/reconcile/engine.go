// Package reconcile keeps the local mirror of messages and turns observed
// message states into domain events.
package reconcile

import (
	"slices"
	"strings"

	"pocketsync/internal/events"
	"pocketsync/internal/metrics"
	"pocketsync/internal/model"
)

// MirrorPolicy controls whether Sync writes observed states back to the mirror.
type MirrorPolicy int

const (
	// RecordObserved stores every synced message as the new mirror state
	// after its events are published, so later updates diff incrementally.
	RecordObserved MirrorPolicy = iota
	// ReadOnly never writes from Sync. Diffs are computed against whatever
	// was loaded with Seed.
	ReadOnly
)

// Option configures an Engine.
type Option func(*Engine)

func WithPolicy(p MirrorPolicy) Option { return func(e *Engine) { e.policy = p } }

// WithBus publishes to an existing bus instead of a fresh one.
func WithBus(b *events.Bus) Option { return func(e *Engine) { e.bus = b } }

// Engine owns the mirror. It is driven by a single transport goroutine and
// is not safe for concurrent Sync calls.
type Engine struct {
	mirror map[string]model.Message
	bus    *events.Bus
	policy MirrorPolicy
}

func New(opts ...Option) *Engine {
	e := &Engine{mirror: make(map[string]model.Message)}
	for _, o := range opts {
		o(e)
	}
	if e.bus == nil {
		e.bus = &events.Bus{}
	}
	return e
}

func (e *Engine) Bus() *events.Bus     { return e.bus }
func (e *Engine) Policy() MirrorPolicy { return e.policy }

// Ready publishes the Ready event.
func (e *Engine) Ready() { e.publish(events.Ready{}) }

// Seed loads known message states without emitting events.
func (e *Engine) Seed(msgs ...model.Message) {
	for _, m := range msgs {
		e.mirror[m.ID] = m
	}
}

// Message returns the mirror entry for id.
func (e *Engine) Message(id string) (model.Message, bool) {
	m, ok := e.mirror[id]
	return m, ok
}

func (e *Engine) Len() int { return len(e.mirror) }

// Messages returns the mirror ordered by creation time, oldest first.
func (e *Engine) Messages() []model.Message {
	out := make([]model.Message, 0, len(e.mirror))
	for _, m := range e.mirror {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b model.Message) int {
		if c := a.Timestamps.Created.Compare(b.Timestamps.Created); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Sync classifies an observed message state and publishes the resulting
// events: Reacted for every update, then Discovered and, for creates,
// Created when the id is not in the mirror.
func (e *Engine) Sync(msg model.Message, cause model.Cause) {
	original, known := e.mirror[msg.ID]
	if cause == model.CauseUpdate {
		var added, removed model.Reactions
		if known {
			added = exclude(msg.Reactions, original.Reactions)
			removed = exclude(original.Reactions, msg.Reactions)
		} else {
			added = msg.Reactions
			removed = model.Reactions{Hearts: []model.UserRef{}, Poops: []model.UserRef{}}
		}
		e.publish(events.Reacted{Message: msg, Added: added, Removed: removed})
	}
	if !known {
		e.publish(events.Discovered{Message: msg})
		if cause == model.CauseCreate {
			e.publish(events.Created{Message: msg})
		}
	}
	if e.policy == RecordObserved {
		e.mirror[msg.ID] = msg
	}
}

func (e *Engine) publish(ev events.Event) {
	metrics.IncEvent(string(ev.Kind()))
	e.bus.Publish(ev)
}

// exclude returns the entries of from whose id is absent from values,
// list by list, keeping the order of from.
func exclude(from, values model.Reactions) model.Reactions {
	return model.Reactions{
		Hearts: excludeRefs(from.Hearts, values.Hearts),
		Poops:  excludeRefs(from.Poops, values.Poops),
	}
}

func excludeRefs(from, values []model.UserRef) []model.UserRef {
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		seen[v.ID] = struct{}{}
	}
	out := make([]model.UserRef, 0, len(from))
	for _, r := range from {
		if _, ok := seen[r.ID]; !ok {
			out = append(out, r)
		}
	}
	return out
}
