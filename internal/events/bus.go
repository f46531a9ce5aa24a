// Package events fans session events out to multiple subscribers.
//
// Publish never blocks: if a subscriber's channel is full the event is
// dropped for that subscriber and counted.
package events

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/e7canasta/focus-sensor/internal/types"
)

var (
	// ErrSubscriberExists is returned when Subscribe is called with a duplicate id
	ErrSubscriberExists = errors.New("events: subscriber id already exists")
	// ErrSubscriberNotFound is returned when Unsubscribe is called with an unknown id
	ErrSubscriberNotFound = errors.New("events: subscriber id not found")
	// ErrBusClosed is returned when operations are attempted on a closed bus
	ErrBusClosed = errors.New("events: bus is closed")
	// ErrNilChannel is returned when Subscribe is given a nil channel
	ErrNilChannel = errors.New("events: nil channel provided")
)

// Type identifies an event
type Type string

const (
	TypeSessionStarted Type = "session_started"
	TypeFocusLost      Type = "focus_lost"
	TypeSessionSummary Type = "session_summary"
)

// Event is one session occurrence
type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"session_id"`
	Timestamp time.Time `json:"timestamp"`

	// focus_lost
	FrameSeq       uint64  `json:"frame_seq,omitempty"`
	AverageEAR     float64 `json:"average_ear,omitempty"`
	FocusLossCount int     `json:"focus_loss_count,omitempty"`

	// session_summary
	Summary *types.SessionSummary `json:"summary,omitempty"`
}

// Stats contains global and per-subscriber metrics
type Stats struct {
	TotalPublished uint64                     `json:"total_published"`
	TotalSent      uint64                     `json:"total_sent"`
	TotalDropped   uint64                     `json:"total_dropped"`
	Subscribers    map[string]SubscriberStats `json:"subscribers"`
}

// SubscriberStats tracks one subscriber
type SubscriberStats struct {
	Sent    uint64 `json:"sent"`
	Dropped uint64 `json:"dropped"`
}

type subscriberStats struct {
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Bus distributes events to subscribers. Safe for concurrent use.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan<- Event
	stats       map[string]*subscriberStats
	closed      bool

	totalPublished atomic.Uint64
}

// New creates an event bus
func New() *Bus {
	return &Bus{
		subscribers: make(map[string]chan<- Event),
		stats:       make(map[string]*subscriberStats),
	}
}

// Subscribe registers a channel to receive events
func (b *Bus) Subscribe(id string, ch chan<- Event) error {
	if ch == nil {
		return ErrNilChannel
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; exists {
		return ErrSubscriberExists
	}

	b.subscribers[id] = ch
	b.stats[id] = &subscriberStats{}
	return nil
}

// Unsubscribe removes a subscriber. The channel is not closed.
func (b *Bus) Unsubscribe(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	if _, exists := b.subscribers[id]; !exists {
		return ErrSubscriberNotFound
	}

	delete(b.subscribers, id)
	delete(b.stats, id)
	return nil
}

// Publish sends the event to every subscriber without blocking.
// Publishing on a closed bus is a no-op.
func (b *Bus) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	b.totalPublished.Add(1)

	for id, ch := range b.subscribers {
		select {
		case ch <- ev:
			b.stats[id].sent.Add(1)
		default:
			b.stats[id].dropped.Add(1)
		}
	}
}

// Stats returns a snapshot of bus statistics
func (b *Bus) Stats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := make(map[string]SubscriberStats, len(b.stats))
	var sent, dropped uint64
	for id, s := range b.stats {
		ss := SubscriberStats{Sent: s.sent.Load(), Dropped: s.dropped.Load()}
		subs[id] = ss
		sent += ss.Sent
		dropped += ss.Dropped
	}

	return Stats{
		TotalPublished: b.totalPublished.Load(),
		TotalSent:      sent,
		TotalDropped:   dropped,
		Subscribers:    subs,
	}
}

// Close stops the bus. Subscriber channels are left open; their owners close them.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}
	b.closed = true
	return nil
}

// DropRate returns dropped / (sent + dropped), 0 when nothing was delivered
func DropRate(stats Stats) float64 {
	total := stats.TotalSent + stats.TotalDropped
	if total == 0 {
		return 0
	}
	return float64(stats.TotalDropped) / float64(total)
}
