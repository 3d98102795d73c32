// Package feed owns the streaming side of the monitor: workers that hold one
// CLOB WebSocket connection each and forward decoded events into bounded
// inboxes, and supervisors that restart dead workers under a bounded-retry
// policy. Workers never touch book or strategy state; the consumer loop
// drains inboxes on its own cadence.
package feed

import (
	"sync"

	"github.com/alanyoungcy/clobwatch/internal/domain"
)

const (
	// DefaultInboxCapacity bounds the number of events buffered per worker.
	DefaultInboxCapacity = 50

	// inboxDropBatch is how many of the oldest events are discarded when the
	// inbox is full. Freshness beats completeness: book state self-heals from
	// the next snapshot.
	inboxDropBatch = 25
)

// Inbox is a bounded FIFO of feed events written by exactly one worker and
// drained by the consumer loop. It is the only structure shared between the
// two; overflow drops the oldest half rather than blocking the worker.
type Inbox struct {
	mu       sync.Mutex
	events   []domain.FeedEvent
	capacity int
	dropped  uint64
}

// NewInbox creates an Inbox with the given capacity. Non-positive capacities
// fall back to DefaultInboxCapacity.
func NewInbox(capacity int) *Inbox {
	if capacity <= 0 {
		capacity = DefaultInboxCapacity
	}
	return &Inbox{capacity: capacity}
}

// Push appends an event. When the inbox is full the oldest half is dropped
// first so the newest events always fit.
func (b *Inbox) Push(ev domain.FeedEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) >= b.capacity {
		drop := inboxDropBatch
		if drop > len(b.events) {
			drop = len(b.events)
		}
		b.events = append(b.events[:0], b.events[drop:]...)
		b.dropped += uint64(drop)
	}
	b.events = append(b.events, ev)
}

// TryDrain removes and returns all buffered events in arrival order. It never
// blocks: if a worker holds the lock mid-push, TryDrain returns nil and the
// caller picks the events up on its next pass.
func (b *Inbox) TryDrain() []domain.FeedEvent {
	if !b.mu.TryLock() {
		return nil
	}
	defer b.mu.Unlock()

	out := b.events
	b.events = nil
	return out
}

// Len returns the number of buffered events.
func (b *Inbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Dropped returns the total number of events discarded due to overflow.
func (b *Inbox) Dropped() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
