// Package eventbus implements the typed event bus spec.md §6 describes: a
// closed set of event kinds, emitted at-least-once to local subscribers with
// no persistence, each carrying a tenant id subscribers filter by. Grounded
// on the teacher's absence of an event layer (sqvect is request/response
// only) plus the tenant/admin-scoped fan-out pattern used by
// hieuntg81-alfred-ai's adapter layer for routing provider events; built as
// a small closed-set pub/sub rather than reaching for a message broker,
// since spec.md explicitly scopes this to in-process subscribers only.
package eventbus

import (
	"sync"

	"github.com/hsgraph/hsg/pkg/logging"
)

// Kind is one of the closed set of event kinds spec.md §6 names.
type Kind string

const (
	MemoryAdded          Kind = "MEMORY_ADDED"
	MemoryUpdated        Kind = "MEMORY_UPDATED"
	MemoryDeleted        Kind = "MEMORY_DELETED"
	TemporalFactCreated  Kind = "TEMPORAL_FACT_CREATED"
	TemporalFactUpdated  Kind = "TEMPORAL_FACT_UPDATED"
	TemporalFactDeleted  Kind = "TEMPORAL_FACT_DELETED"
	TemporalEdgeCreated  Kind = "TEMPORAL_EDGE_CREATED"
	TemporalEdgeUpdated  Kind = "TEMPORAL_EDGE_UPDATED"
	TemporalEdgeDeleted  Kind = "TEMPORAL_EDGE_DELETED"
	IDESuggestion        Kind = "IDE_SUGGESTION"
	IDESessionUpdate     Kind = "IDE_SESSION_UPDATE"
)

// Event is the envelope every subscriber receives. TenantID is nil for the
// global bucket. Payload carries kind-specific data (e.g. the memory id).
type Event struct {
	Kind     Kind
	TenantID *string
	Payload  map[string]any
}

// Subscriber receives events matching its tenant scope. IsAdmin subscribers
// receive events for every tenant; others only their own (nil == global).
type Subscriber struct {
	TenantID *string
	IsAdmin  bool
	Ch       chan Event
}

// Bus is an in-process, at-least-once, unpersisted pub/sub for Event. There
// is no reflection or dynamic kind registration: Kind is a closed set.
type Bus struct {
	mu   sync.RWMutex
	subs []*Subscriber
	log  logging.Logger
}

// New returns an empty Bus.
func New(log logging.Logger) *Bus {
	if log == nil {
		log = logging.Nop()
	}
	return &Bus{log: log}
}

// Subscribe registers a new subscriber and returns its event channel. The
// channel is buffered so a slow subscriber cannot block publishers; events
// are dropped (and logged) if the buffer is full, matching the
// at-least-once-to-willing-subscribers contract rather than guaranteeing
// delivery to a wedged one.
func (b *Bus) Subscribe(tenantID *string, isAdmin bool) *Subscriber {
	sub := &Subscriber{TenantID: tenantID, IsAdmin: isAdmin, Ch: make(chan Event, 64)}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes sub from the bus and closes its channel.
func (b *Bus) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub.Ch)
			return
		}
	}
}

// Publish fans e out to every subscriber whose tenant scope matches
// (admins receive every event; others only their own tenant, nil meaning
// the global bucket).
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !sub.IsAdmin && !sameTenant(sub.TenantID, e.TenantID) {
			continue
		}
		select {
		case sub.Ch <- e:
		default:
			b.log.Warnw("eventbus: dropping event, subscriber buffer full", "kind", e.Kind)
		}
	}
}

func sameTenant(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
