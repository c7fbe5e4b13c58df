// Package events carries notifications from the core to the UI boundary.
//
// The Bus keeps a bounded, sequenced history for incremental reads and fans
// each event out to live subscribers. Publishing never blocks: a subscriber
// whose channel is full misses the event and can catch up through Since.
package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Type names an event kind.
type Type string

const (
	BackendExited   Type = "backend-exited"
	SettingsUpdated Type = "settings-updated"
	MappingProgress Type = "mapping-progress"
	Shortcut        Type = "shortcut"
)

// Event is a sequenced payload consumed by UI subscribers.
type Event struct {
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Type      Type            `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Publisher is the sending side used by components.
type Publisher interface {
	Publish(t Type, payload any) Event
}

// Bus stores recent events and broadcasts new ones.
type Bus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
	subs      map[chan Event]struct{}
}

// NewBus creates a bus retaining up to maxEvents (default 500).
func NewBus(maxEvents int) *Bus {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	return &Bus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		subs:      make(map[chan Event]struct{}),
	}
}

// Publish marshals payload, assigns sequence and timestamp, and delivers the
// event to subscribers. A payload that fails to marshal is dropped from the
// event, which is still published.
func (b *Bus) Publish(t Type, payload any) Event {
	ev := Event{Type: t, Timestamp: time.Now().UTC()}
	if payload != nil {
		if raw, err := json.Marshal(payload); err == nil {
			ev.Payload = raw
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextSeq++
	ev.Seq = b.nextSeq
	b.events = append(b.events, ev)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return ev
}

// Since returns retained events with sequence strictly greater than seq.
func (b *Bus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Event
	for _, ev := range b.events {
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}

// Subscribe registers a live subscriber. The returned cancel func
// unregisters and closes the channel; it is safe to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Discard is a Publisher that drops everything.
type Discard struct{}

func (Discard) Publish(t Type, _ any) Event { return Event{Type: t} }
