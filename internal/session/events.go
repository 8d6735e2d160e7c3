package session

import (
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

type EventType string

const (
	EventSessionStarted   EventType = "session.started"
	EventSessionCompleted EventType = "session.completed"
	EventSessionAbandoned EventType = "session.abandoned"
	EventSessionError     EventType = "session.error"
	EventFieldExtracted   EventType = "field.extracted"
)

// Event is one domain event emitted on a session transition.
type Event struct {
	ID         string            `json:"id"`
	Type       EventType         `json:"type"`
	SessionID  string            `json:"sessionId"`
	Fields     map[string]string `json:"fields"`
	OccurredAt time.Time         `json:"occurredAt"`
}

func NewEvent(eventType EventType, sessionID string, fields map[string]string) Event {
	return Event{
		ID:         ulid.Make().String(),
		Type:       eventType,
		SessionID:  sessionID,
		Fields:     fields,
		OccurredAt: time.Now().UTC(),
	}
}

// Bus fans domain events out to subscribers. Publishing never blocks the
// state machine: a subscriber that falls behind loses events rather than
// stalling session progression (deliveries reconcile via status fields).
type Bus struct {
	mu     sync.RWMutex
	subs   []chan Event
	size   int
	closed bool
}

func NewBus(size int) *Bus {
	if size <= 0 {
		size = 64
	}
	return &Bus{size: size}
}

func (b *Bus) Subscribe() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.size)
	b.subs = append(b.subs, ch)
	return ch
}

func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for _, ch := range b.subs {
		close(ch)
	}
}
