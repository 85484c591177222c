package events

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// DefaultCapacity is the ring size for the lifecycle event log.
const DefaultCapacity = 10000

// defaultSubscriberBuffer bounds the per-subscriber channel. A subscriber
// that falls this far behind starts losing events.
const defaultSubscriberBuffer = 256

var droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "bridge_events_dropped_total",
	Help: "Events dropped on full subscriber buffers",
}, []string{"log"})

// Log is an append-only ring with subscriber fan-out.
type Log struct {
	name string

	mu     sync.Mutex
	ring   []Event
	start  int // index of oldest entry
	count  int
	nextID uint64
	subs   map[uint64]chan Event
}

// NewLog creates a ring holding the last capacity events. name labels the
// drop metric.
func NewLog(name string, capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		name: name,
		ring: make([]Event, capacity),
		subs: make(map[uint64]chan Event),
	}
}

// Append timestamps the event, pushes it into the ring, and fans it out.
// Never blocks: full subscriber buffers drop the event and count it.
func (l *Log) Append(eventType string, fields map[string]any) Event {
	ev := Event{Type: eventType, TS: time.Now(), Fields: fields}

	l.mu.Lock()
	idx := (l.start + l.count) % len(l.ring)
	if l.count == len(l.ring) {
		l.start = (l.start + 1) % len(l.ring)
	} else {
		l.count++
	}
	l.ring[idx] = ev

	for _, ch := range l.subs {
		select {
		case ch <- ev:
		default:
			droppedTotal.WithLabelValues(l.name).Inc()
		}
	}
	l.mu.Unlock()

	return ev
}

// Subscribe registers a handler channel. The returned function unsubscribes
// and closes the channel; it is safe to call once.
func (l *Log) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, defaultSubscriberBuffer)

	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.subs[id] = ch
	l.mu.Unlock()

	unsub := func() {
		l.mu.Lock()
		if _, ok := l.subs[id]; ok {
			delete(l.subs, id)
			close(ch)
		}
		l.mu.Unlock()
	}
	return ch, unsub
}

// ReplaySince returns events with TS >= threshold, oldest first. Used to
// rehydrate chat history when a client connects.
func (l *Log) ReplaySince(threshold time.Time) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []Event
	for i := 0; i < l.count; i++ {
		ev := l.ring[(l.start+i)%len(l.ring)]
		if !ev.TS.Before(threshold) {
			out = append(out, ev)
		}
	}
	return out
}

// Recent returns up to limit most recent events, oldest first.
func (l *Log) Recent(limit int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	if limit <= 0 || limit > l.count {
		limit = l.count
	}
	out := make([]Event, 0, limit)
	for i := l.count - limit; i < l.count; i++ {
		out = append(out, l.ring[(l.start+i)%len(l.ring)])
	}
	return out
}

// SubscriberCount returns the number of live subscribers.
func (l *Log) SubscriberCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.subs)
}
