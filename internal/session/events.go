package session

import (
	"context"
	"sync"
	"time"
)

// EventKind names a session transition.
type EventKind string

const (
	EventStarted    EventKind = "started"
	EventEnded      EventKind = "ended"
	EventForceEnded EventKind = "force_ended"
	EventRenewed    EventKind = "renewed"
	EventRefreshed  EventKind = "refreshed"
)

// Event describes one transition of the managed session.
type Event struct {
	Kind      EventKind
	SessionID string
	UserID    string
	// Reason is set for ended and force_ended events, and for a started event
	// that replaced a live session.
	Reason string
	At     time.Time
}

const subscriberBuffer = 16

// hub fans events out to subscribers.
type hub struct {
	mu   sync.RWMutex
	subs map[int]chan Event
	next int
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan Event)}
}

func (h *hub) subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, subscriberBuffer)

	h.mu.Lock()
	id := h.next
	h.next++
	h.subs[id] = ch
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs, id)
		close(ch)
		h.mu.Unlock()
	}()
	return ch
}

// publish never blocks; a subscriber with a full buffer misses the event.
func (h *hub) publish(evt Event) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	dropped := 0
	for _, ch := range h.subs {
		select {
		case ch <- evt:
		default:
			dropped++
		}
	}
	return dropped
}

// Subscribe returns a channel of session transitions, closed when ctx ends.
// A subscriber that falls more than a buffer behind misses events.
func (m *Manager) Subscribe(ctx context.Context) <-chan Event {
	return m.events.subscribe(ctx)
}

func (m *Manager) emit(evt Event) {
	if dropped := m.events.publish(evt); dropped > 0 {
		m.log.Warn().Str("event", string(evt.Kind)).Int("dropped", dropped).Msg("slow session subscribers missed an event")
	}
}
