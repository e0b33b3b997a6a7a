// Package events is the change-notification bus between page writers and the
// views that render pages. Events carry only their kind; observers re-query
// the repository for fresh state.
package events

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/kittclouds/voton/pkg/metrics"
)

// Kind identifies what happened.
type Kind int

const (
	// Changed means a page was created or mutated.
	Changed Kind = iota + 1
	// Deleted means a page, a subtree or the whole table was removed.
	Deleted
)

func (k Kind) String() string {
	switch k {
	case Changed:
		return "changed"
	case Deleted:
		return "deleted"
	default:
		return "unknown"
	}
}

// Handler receives an event. It runs synchronously on the publisher's
// goroutine.
type Handler func(Kind)

// Bus is a synchronous broadcast registry. The zero value is not usable; use
// NewBus.
type Bus struct {
	mu        sync.RWMutex
	nextID    uint64
	observers map[uint64]observer
	log       zerolog.Logger
}

type observer struct {
	fn    Handler
	kinds map[Kind]bool // nil means every kind
}

// NewBus creates an empty bus.
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		observers: make(map[uint64]observer),
		log:       log,
	}
}

// Subscription is a registration handle. Call Unsubscribe to stop receiving
// events.
type Subscription struct {
	bus  *Bus
	id   uint64
	once sync.Once
}

// Unsubscribe removes the observer. Safe to call more than once and from
// inside a handler.
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.observers, s.id)
		s.bus.mu.Unlock()
	})
}

// Subscribe registers fn for the given kinds, or for every kind when none are
// given. Observers registered after an event do not see it.
func (b *Bus) Subscribe(fn Handler, kinds ...Kind) *Subscription {
	var filter map[Kind]bool
	if len(kinds) > 0 {
		filter = make(map[Kind]bool, len(kinds))
		for _, k := range kinds {
			filter[k] = true
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.observers[id] = observer{fn: fn, kinds: filter}
	return &Subscription{bus: b, id: id}
}

// Publish delivers kind to every observer registered at dispatch time.
// Handlers run without the bus lock held, so they may query the repository,
// publish, or unsubscribe. A panicking handler is logged and skipped.
func (b *Bus) Publish(kind Kind) {
	b.mu.RLock()
	targets := make([]observer, 0, len(b.observers))
	for _, o := range b.observers {
		if o.kinds == nil || o.kinds[kind] {
			targets = append(targets, o)
		}
	}
	b.mu.RUnlock()

	metrics.EventsPublished.WithLabelValues(kind.String()).Inc()

	for _, o := range targets {
		b.dispatch(o.fn, kind)
	}
}

func (b *Bus) dispatch(fn Handler, kind Kind) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error().Interface("panic", r).Str("kind", kind.String()).Msg("observer panicked")
		}
	}()
	fn(kind)
}

// Len returns the number of registered observers.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.observers)
}
