package dummytransport

import (
	"sync"

	"github.com/trezcool/darasa/core/collab"
)

// Broadcaster records published events instead of delivering them;
// meant for tests and local development without a live transport.
type Broadcaster struct {
	mu     sync.Mutex
	events []collab.Event
}

var _ collab.Broadcaster = (*Broadcaster)(nil)

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{}
}

func (b *Broadcaster) Publish(ev collab.Event) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
}

// Events returns a copy of everything published so far.
func (b *Broadcaster) Events() []collab.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]collab.Event(nil), b.events...)
}

// EventsOfType filters published events by type.
func (b *Broadcaster) EventsOfType(t collab.EventType) []collab.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var evs []collab.Event
	for _, ev := range b.events {
		if ev.Type == t {
			evs = append(evs, ev)
		}
	}
	return evs
}

func (b *Broadcaster) Reset() {
	b.mu.Lock()
	b.events = nil
	b.mu.Unlock()
}
