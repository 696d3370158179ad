// SPDX-License-Identifier: MIT

package stream

import (
	"context"
	"sync"
	"time"
)

// Window is the contiguous id range a topic currently retains. Ok is false
// for a topic with no retained events, in which case Min and Max are
// meaningless.
type Window struct {
	Min, Max uint64
	Ok       bool
}

// Buffer is the bounded replay window. Appends are idempotent per (topic,
// seq); eviction removes from the low end only, so the retained range is
// always contiguous.
type Buffer interface {
	// Append stores an event. A repeated seq for the same topic is a no-op;
	// a seq at or below the retained maximum that is not a duplicate fails
	// with ErrSequencingInvariant.
	Append(ctx context.Context, ev Event) error
	// Range returns all retained events with seq > afterSeq, oldest first.
	Range(ctx context.Context, topic string, afterSeq uint64) ([]Event, error)
	// Window reports the retained bounds for a topic.
	Window(ctx context.Context, topic string) (Window, error)
	// Size reports the number of retained events for a topic.
	Size(ctx context.Context, topic string) (int, error)
}

// MemoryBuffer is the in-process backend for single-worker deployments.
// Trimming happens opportunistically on every append; there is no background
// sweeper inside the engine.
type MemoryBuffer struct {
	mu       sync.RWMutex
	topics   map[string][]Event
	maxItems int
	maxAge   time.Duration
	clock    func() time.Time
}

// NewMemoryBuffer creates an in-process replay buffer. maxAge <= 0 disables
// age-based eviction.
func NewMemoryBuffer(maxItems int, maxAge time.Duration) *MemoryBuffer {
	return &MemoryBuffer{
		topics:   make(map[string][]Event),
		maxItems: maxItems,
		maxAge:   maxAge,
		clock:    time.Now,
	}
}

// Append stores ev and trims the topic's window.
func (b *MemoryBuffer) Append(_ context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.topics[ev.Topic]
	if n := len(entries); n > 0 {
		max := entries[n-1].Seq
		if ev.Seq == max || (ev.Seq < max && b.contains(entries, ev.Seq)) {
			// duplicate append, no-op
			return nil
		}
		if ev.Seq <= max {
			return ErrSequencingInvariant
		}
	}
	entries = append(entries, ev)
	b.topics[ev.Topic] = b.trim(entries)
	return nil
}

// contains reports whether seq is retained. Entries are sorted by seq.
func (b *MemoryBuffer) contains(entries []Event, seq uint64) bool {
	lo, hi := 0, len(entries)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case entries[mid].Seq == seq:
			return true
		case entries[mid].Seq < seq:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return false
}

// trim drops entries from the low end until count and age bounds hold.
func (b *MemoryBuffer) trim(entries []Event) []Event {
	drop := 0
	if b.maxItems > 0 && len(entries) > b.maxItems {
		drop = len(entries) - b.maxItems
	}
	if b.maxAge > 0 {
		cutoff := b.clock().Add(-b.maxAge)
		for drop < len(entries) && entries[drop].PublishedAt.Before(cutoff) {
			drop++
		}
	}
	if drop == 0 {
		return entries
	}
	// copy instead of re-slicing so evicted entries can be collected
	out := make([]Event, len(entries)-drop)
	copy(out, entries[drop:])
	return out
}

// Range returns retained events with seq > afterSeq, oldest first.
func (b *MemoryBuffer) Range(_ context.Context, topic string, afterSeq uint64) ([]Event, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries := b.topics[topic]
	start := 0
	for start < len(entries) && entries[start].Seq <= afterSeq {
		start++
	}
	if start >= len(entries) {
		return nil, nil
	}
	out := make([]Event, len(entries)-start)
	copy(out, entries[start:])
	return out, nil
}

// Window reports the retained bounds for topic.
func (b *MemoryBuffer) Window(_ context.Context, topic string) (Window, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries := b.topics[topic]
	if len(entries) == 0 {
		return Window{}, nil
	}
	return Window{Min: entries[0].Seq, Max: entries[len(entries)-1].Seq, Ok: true}, nil
}

// Size reports the number of retained events for topic.
func (b *MemoryBuffer) Size(_ context.Context, topic string) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.topics[topic]), nil
}
