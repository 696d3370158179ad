// SPDX-License-Identifier: MIT

package stream

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuGH/seqstream/internal/config"
)

func TestEnginePublishAssignsContiguousIDs(t *testing.T) {
	e := newTestEngine(100, 16, config.PolicyDropOldest, time.Minute)
	ctx := context.Background()

	for want := uint64(1); want <= 5; want++ {
		seq, err := e.Publish(ctx, "orders", []byte(`{"n":1}`))
		require.NoError(t, err)
		assert.Equal(t, want, seq)
	}

	// topics do not share a counter
	seq, err := e.Publish(ctx, "invoices", []byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)
}

func TestEnginePublishStoresEnvelope(t *testing.T) {
	e := newTestEngine(100, 16, config.PolicyDropOldest, time.Minute)
	ctx := context.Background()

	payload := []byte(`{"order_id":"o-1","total":42}`)
	seq, err := e.Publish(ctx, "orders", payload)
	require.NoError(t, err)

	evs, err := e.buf.Range(ctx, "orders", 0)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	ev := evs[0]
	assert.Equal(t, 1, ev.V)
	assert.Equal(t, seq, ev.Seq)
	assert.Equal(t, "orders", ev.Topic)
	assert.Equal(t, "update", ev.Name)
	assert.JSONEq(t, string(payload), string(ev.Payload))
	assert.False(t, ev.PublishedAt.IsZero())
	assert.Equal(t, time.UTC, ev.PublishedAt.Location())
}

func TestEngineConcurrentPublishersStayMonotonic(t *testing.T) {
	e := newTestEngine(10000, 16, config.PolicyDropOldest, time.Minute)
	ctx := context.Background()

	const workers = 8
	const perWorker = 100

	var wg sync.WaitGroup
	seqs := make(chan uint64, workers*perWorker)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				seq, err := e.Publish(ctx, "orders", []byte(`{}`))
				if err != nil {
					t.Error(err)
					return
				}
				seqs <- seq
			}
		}()
	}
	wg.Wait()
	close(seqs)

	seen := make(map[uint64]bool, workers*perWorker)
	for s := range seqs {
		assert.False(t, seen[s], "sequence %d issued twice", s)
		seen[s] = true
	}
	assert.Len(t, seen, workers*perWorker)

	w, err := e.buf.Window(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), w.Min)
	assert.Equal(t, uint64(workers*perWorker), w.Max)
}

type stuckSequencer struct{}

func (stuckSequencer) Next(context.Context, string) (uint64, error) {
	return 0, ErrBackendUnavailable
}

func TestEnginePublishFailsWhenSequencerDown(t *testing.T) {
	e := newEngine(stuckSequencer{}, NewMemoryBuffer(10, time.Hour), NewHub(16, config.PolicyDropOldest), time.Minute, zerolog.Nop())

	_, err := e.Publish(context.Background(), "orders", []byte(`{}`))
	assert.ErrorIs(t, err, ErrBackendUnavailable)
}

// replaySequencer reissues an already-used id, simulating a broken shared
// counter. The buffer must refuse the append.
type replaySequencer struct{ seqs []uint64 }

func (r *replaySequencer) Next(context.Context, string) (uint64, error) {
	s := r.seqs[0]
	if len(r.seqs) > 1 {
		r.seqs = r.seqs[1:]
	}
	return s, nil
}

func TestEnginePublishRejectsSequenceRegression(t *testing.T) {
	e := newEngine(&replaySequencer{seqs: []uint64{5, 3}}, NewMemoryBuffer(10, time.Hour), NewHub(16, config.PolicyDropOldest), time.Minute, zerolog.Nop())
	ctx := context.Background()

	_, err := e.Publish(ctx, "orders", []byte(`{}`))
	require.NoError(t, err)

	_, err = e.Publish(ctx, "orders", []byte(`{}`))
	assert.ErrorIs(t, err, ErrSequencingInvariant)
}

func TestEngineSnapshot(t *testing.T) {
	e := newTestEngine(100, 16, config.PolicyDropOldest, time.Minute)
	ctx := context.Background()

	snap, err := e.Snapshot(ctx, "orders")
	require.NoError(t, err)
	assert.False(t, snap.Retained)
	assert.Zero(t, snap.Subscribers)

	for i := 0; i < 3; i++ {
		_, err := e.Publish(ctx, "orders", []byte(`{}`))
		require.NoError(t, err)
	}
	s := e.Open(ctx, "orders", testIdentity(), nil)
	defer func() {
		s.Close()
		waitClosed(t, s)
	}()

	snap, err = e.Snapshot(ctx, "orders")
	require.NoError(t, err)
	assert.Equal(t, "orders", snap.Topic)
	assert.Equal(t, 1, snap.Subscribers)
	assert.Equal(t, uint64(1), snap.MinSeq)
	assert.Equal(t, uint64(3), snap.MaxSeq)
	assert.Equal(t, 3, snap.Size)
	assert.True(t, snap.Retained)
	assert.Equal(t, string(config.BackendMemory), snap.Backend)

	raw, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"min_seq":1`)

	assert.Contains(t, e.Topics(), "orders")
}

func TestEngineMemoryBackendFromConfig(t *testing.T) {
	cfg := config.Config{
		Backend:           config.BackendMemory,
		BufferMaxItems:    10,
		BufferMaxAge:      time.Hour,
		SessionQueueSize:  16,
		Backpressure:      config.PolicyDropOldest,
		HeartbeatInterval: time.Minute,
	}
	e, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	assert.Equal(t, config.BackendMemory, e.Backend())
	_, err = e.Publish(context.Background(), "orders", []byte(`{}`))
	assert.NoError(t, err)
}
