// SPDX-License-Identifier: MIT

package stream

import (
	"context"
	"sync"
)

// Sequencer assigns per-topic event ids. Next returns a value strictly
// greater than every previously returned value for that topic, across all
// processes and restarts. A failed call never advances the counter.
type Sequencer interface {
	Next(ctx context.Context, topic string) (uint64, error)
}

// LocalSequencer is an in-memory atomic counter per topic, valid only for
// single-worker deployments. Counters are seeded from the replay buffer's
// retained maximum so a warm restart reusing local state never reissues ids.
type LocalSequencer struct {
	mu       sync.Mutex
	counters map[string]uint64
	seed     Buffer // optional, consulted once per topic
}

// NewLocalSequencer creates a local sequencer. seed may be nil.
func NewLocalSequencer(seed Buffer) *LocalSequencer {
	return &LocalSequencer{
		counters: make(map[string]uint64),
		seed:     seed,
	}
}

// Next assigns the next id for topic.
func (s *LocalSequencer) Next(ctx context.Context, topic string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.counters[topic]
	if !ok && s.seed != nil {
		w, err := s.seed.Window(ctx, topic)
		if err != nil {
			return 0, err
		}
		if w.Ok {
			cur = w.Max
		}
	}
	cur++
	s.counters[topic] = cur
	return cur, nil
}
