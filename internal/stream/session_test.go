// SPDX-License-Identifier: MIT

package stream

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ManuGH/seqstream/internal/auth"
	"github.com/ManuGH/seqstream/internal/config"
)

func newTestEngine(maxItems, queueSize int, policy config.BackpressurePolicy, heartbeat time.Duration) *Engine {
	buf := NewMemoryBuffer(maxItems, time.Hour)
	return newEngine(NewLocalSequencer(buf), buf, NewHub(queueSize, policy), heartbeat, zerolog.Nop())
}

func testIdentity() auth.Identity {
	return auth.Identity{Subject: "t_test", Carrier: auth.CarrierHeader}
}

func nextFrame(t *testing.T, s *Session) Frame {
	t.Helper()
	select {
	case f, ok := <-s.Frames():
		require.True(t, ok, "frames channel closed early")
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}
	return Frame{}
}

func waitClosed(t *testing.T, s *Session) {
	t.Helper()
	// the frame channel must be drained for run to make progress
	go func() {
		for range s.Frames() { //nolint:revive
		}
	}()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for session close")
	}
}

func TestSessionLiveDelivery(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e := newTestEngine(100, 16, config.PolicyDropOldest, time.Minute)
	ctx := context.Background()

	s := e.Open(ctx, "orders", testIdentity(), nil)

	for i := 1; i <= 3; i++ {
		_, err := e.Publish(ctx, "orders", []byte(`{"n":1}`))
		require.NoError(t, err)
	}

	for want := uint64(1); want <= 3; want++ {
		f := nextFrame(t, s)
		require.Equal(t, FrameEvent, f.Type)
		assert.Equal(t, want, f.Event.Seq)
		assert.Equal(t, "orders", f.Event.Topic)
	}
	assert.Equal(t, uint64(3), s.LastDeliveredSeq())

	s.Close()
	waitClosed(t, s)
	assert.Equal(t, ReasonClientGone, s.CloseReason())
	assert.NoError(t, s.Err())
}

func TestSessionResumeReplaysAfterCursor(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e := newTestEngine(100, 16, config.PolicyDropOldest, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.Publish(ctx, "orders", []byte(`{}`))
		require.NoError(t, err)
	}

	cursor := uint64(1)
	s := e.Open(ctx, "orders", testIdentity(), &cursor)

	// strictly-after semantics: event 1 is not replayed
	f := nextFrame(t, s)
	require.Equal(t, FrameEvent, f.Type)
	assert.Equal(t, uint64(2), f.Event.Seq)
	f = nextFrame(t, s)
	assert.Equal(t, uint64(3), f.Event.Seq)

	// the session is live now; a fresh publish flows through
	_, err := e.Publish(ctx, "orders", []byte(`{}`))
	require.NoError(t, err)
	f = nextFrame(t, s)
	assert.Equal(t, uint64(4), f.Event.Seq)

	s.Close()
	waitClosed(t, s)
}

func TestSessionResumeGapSendsReset(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e := newTestEngine(2, 16, config.PolicyDropOldest, time.Minute)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := e.Publish(ctx, "orders", []byte(`{}`))
		require.NoError(t, err)
	}
	// retention evicted down to [4,5]; cursor 1 needs event 2

	cursor := uint64(1)
	s := e.Open(ctx, "orders", testIdentity(), &cursor)

	f := nextFrame(t, s)
	assert.Equal(t, FrameReset, f.Type)

	waitClosed(t, s)
	assert.Equal(t, ReasonReset, s.CloseReason())
	assert.NoError(t, s.Err())
}

func TestSessionCatchupLiveBoundary(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e := newTestEngine(100, 16, config.PolicyDropOldest, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.Publish(ctx, "orders", []byte(`{}`))
		require.NoError(t, err)
	}

	cursor := uint64(0)
	s := e.Open(ctx, "orders", testIdentity(), &cursor)

	// events racing the catchup drain reach the session via the hub queue
	// and via the replay window; they must still arrive exactly once
	for i := 0; i < 3; i++ {
		_, err := e.Publish(ctx, "orders", []byte(`{}`))
		require.NoError(t, err)
	}

	for want := uint64(1); want <= 6; want++ {
		f := nextFrame(t, s)
		require.Equal(t, FrameEvent, f.Type)
		assert.Equal(t, want, f.Event.Seq, "no duplicate, no gap across the catchup/live boundary")
	}

	s.Close()
	waitClosed(t, s)
}

func TestSessionCursorAtWindowMax(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e := newTestEngine(100, 16, config.PolicyDropOldest, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := e.Publish(ctx, "orders", []byte(`{}`))
		require.NoError(t, err)
	}

	cursor := uint64(3)
	s := e.Open(ctx, "orders", testIdentity(), &cursor)

	_, err := e.Publish(ctx, "orders", []byte(`{}`))
	require.NoError(t, err)

	// nothing to replay; the first frame is the live event
	f := nextFrame(t, s)
	require.Equal(t, FrameEvent, f.Type)
	assert.Equal(t, uint64(4), f.Event.Seq)

	s.Close()
	waitClosed(t, s)
}

func TestSessionHeartbeat(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e := newTestEngine(100, 16, config.PolicyDropOldest, 25*time.Millisecond)
	ctx := context.Background()

	s := e.Open(ctx, "orders", testIdentity(), nil)

	f := nextFrame(t, s)
	assert.Equal(t, FrameHeartbeat, f.Type)
	assert.Nil(t, f.Event)
	assert.Equal(t, uint64(0), s.LastDeliveredSeq(), "a heartbeat carries no sequence")

	s.Close()
	waitClosed(t, s)
}

func TestSessionSlowConsumerDisconnect(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e := newTestEngine(100, 1, config.PolicyDisconnect, time.Minute)
	ctx := context.Background()

	s := e.Open(ctx, "orders", testIdentity(), nil)

	// the session's transport never reads a frame, so its queue fills and
	// the disconnect policy marks it for termination
	for i := 0; i < 10; i++ {
		_, err := e.Publish(ctx, "orders", []byte(`{}`))
		require.NoError(t, err)
		select {
		case <-s.Done():
			i = 10
		case <-time.After(10 * time.Millisecond):
		}
	}

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("slow consumer was not disconnected")
	}
	assert.Equal(t, ReasonSlowConsumer, s.CloseReason())

	// a killed subscriber must not linger in the hub
	for range s.Frames() { //nolint:revive
	}
	assert.Equal(t, 0, e.hub.SubscriberCount("orders"))
}

type failingBuffer struct{}

func (failingBuffer) Append(context.Context, Event) error { return ErrBackendUnavailable }
func (failingBuffer) Range(context.Context, string, uint64) ([]Event, error) {
	return nil, ErrBackendUnavailable
}
func (failingBuffer) Window(context.Context, string) (Window, error) {
	return Window{}, ErrBackendUnavailable
}
func (failingBuffer) Size(context.Context, string) (int, error) { return 0, ErrBackendUnavailable }

func TestSessionBackendFailureClosesWithError(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e := newEngine(NewLocalSequencer(nil), failingBuffer{}, NewHub(16, config.PolicyDropOldest), time.Minute, zerolog.Nop())
	ctx := context.Background()

	cursor := uint64(1)
	s := e.Open(ctx, "orders", testIdentity(), &cursor)

	waitClosed(t, s)
	assert.Equal(t, ReasonError, s.CloseReason())
	assert.ErrorIs(t, s.Err(), ErrBackendUnavailable)
}

func TestSessionContextCancelPropagates(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	e := newTestEngine(100, 16, config.PolicyDropOldest, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())

	s := e.Open(ctx, "orders", testIdentity(), nil)
	cancel()

	waitClosed(t, s)
	assert.Equal(t, ReasonClientGone, s.CloseReason())
}
