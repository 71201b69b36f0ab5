package events

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// Bus fans events out to subscribers filtered by kind.
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscription]struct{}
}

type subscription struct {
	ch    chan Event
	kinds map[Kind]bool
}

func (s *subscription) wants(k Kind) bool {
	return len(s.kinds) == 0 || s.kinds[k]
}

// NewBus creates an empty bus
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscription]struct{})}
}

// Subscribe returns a channel receiving the given kinds (every kind when none are given)
// and a cancel func that closes it.
func (b *Bus) Subscribe(buffer int, kinds ...Kind) (<-chan Event, func()) {
	sub := &subscription{
		ch:    make(chan Event, buffer),
		kinds: make(map[Kind]bool, len(kinds)),
	}
	for _, k := range kinds {
		sub.kinds[k] = true
	}

	b.mu.Lock()
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, sub)
			close(sub.ch)
			b.mu.Unlock()
		})
	}
	return sub.ch, cancel
}

// Publish delivers e to every interested subscriber without blocking.
// A subscriber whose buffer is full misses the event.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs {
		if !sub.wants(e.Kind()) {
			continue
		}
		select {
		case sub.ch <- e:
		default:
			log.Warn().Str("event_type", string(e.Kind())).Msg("subscriber buffer full, dropping event")
		}
	}
}
