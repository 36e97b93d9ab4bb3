package manager

import (
	"sync"

	"github.com/ernie/konsole/internal/domain"
)

// broadcaster fans events out to every subscriber without blocking the
// emitter. Slow subscribers lose events rather than stall tracker dispatch.
type broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan domain.Event
	next   int
	closed bool
}

func newBroadcaster() *broadcaster {
	return &broadcaster{subs: make(map[int]chan domain.Event)}
}

func (b *broadcaster) subscribe(buffer int) (<-chan domain.Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.Event, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.next
	b.next++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(ch)
			}
		})
	}
}

func (b *broadcaster) publish(ev domain.Event) (dropped int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			dropped++
		}
	}
	return dropped
}

func (b *broadcaster) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

// Subscribe returns a channel receiving every event the manager emits, and a
// func that unsubscribes and closes it. The channel is also closed by Stop.
func (m *Manager) Subscribe(buffer int) (<-chan domain.Event, func()) {
	if buffer <= 0 {
		buffer = 100
	}
	return m.events.subscribe(buffer)
}

// emitEvent sends an event to all subscribers
func (m *Manager) emitEvent(ev domain.Event) {
	if dropped := m.events.publish(ev); dropped > 0 {
		m.logger.Warn("subscriber buffer full, dropping event", "event", ev.Type, "tracker", ev.Tracker, "dropped", dropped)
	}
}

func (m *Manager) notice(action, level, message string) {
	m.logger.Info("notice", "action", action, "msg", message)
	m.emitEvent(domain.NewEvent(domain.EventNotice, "", domain.Notice{Action: action, Message: message, Level: level}))
}
