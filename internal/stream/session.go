// SPDX-License-Identifier: MIT

package stream

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ManuGH/seqstream/internal/auth"
	"github.com/ManuGH/seqstream/internal/metrics"
)

// CloseReason classifies why a session ended. Clients and operators can log
// or alert on it; there is no ambiguous silent close.
type CloseReason string

const (
	// ReasonClientGone is a normal client disconnect or cancelled request.
	ReasonClientGone CloseReason = "client_gone"
	// ReasonSlowConsumer means the backpressure policy disconnected the
	// session; the client should reconnect and resume from its last id.
	ReasonSlowConsumer CloseReason = "slow_consumer"
	// ReasonReset means the client's resume point fell out of the replay
	// window and a reset signal was sent. Expected path, not a fault.
	ReasonReset CloseReason = "reset"
	// ReasonError is a fatal delivery or backend error.
	ReasonError CloseReason = "error"
)

// Session owns one long-lived client connection from handshake to close.
// It replays missed events on open, then forwards live events, delivering
// frames to the transport over a channel. A session is single-use: resuming
// after a disconnect always creates a new Session.
type Session struct {
	ID          string
	Topic       string
	Identity    auth.Identity
	ConnectedAt time.Time

	frames        chan Frame
	cancel        context.CancelFunc
	done          chan struct{}
	reason        CloseReason
	err           error
	lastDelivered atomic.Uint64
	logger        zerolog.Logger
}

// Frames is the ordered delivery stream to the transport. It is closed when
// the session ends.
func (s *Session) Frames() <-chan Frame { return s.frames }

// Done is closed when the session has fully terminated.
func (s *Session) Done() <-chan struct{} { return s.done }

// Close terminates the session and cancels all pending waits.
func (s *Session) Close() { s.cancel() }

// LastDeliveredSeq reports the id of the last event handed to the transport.
func (s *Session) LastDeliveredSeq() uint64 { return s.lastDelivered.Load() }

// CloseReason reports why the session ended. Valid only after Done.
func (s *Session) CloseReason() CloseReason { return s.reason }

// Err reports the fatal error for ReasonError closes, nil otherwise.
func (s *Session) Err() error { return s.err }

type sendOutcome int

const (
	sendOK sendOutcome = iota
	sendCancelled
	sendKilled
)

// send hands a frame to the transport, honouring cancellation and the hub's
// slow-consumer kill signal. Frames are atomically whole: an interrupted
// send delivers nothing.
func (s *Session) send(ctx context.Context, sub *Subscription, f Frame) sendOutcome {
	select {
	case s.frames <- f:
		return sendOK
	case <-ctx.Done():
		return sendCancelled
	case <-sub.Kill():
		return sendKilled
	}
}

func (s *Session) finish(reason CloseReason, err error) {
	s.reason = reason
	s.err = err
	metrics.IncConnectionClosed(s.Topic, string(reason))
	evt := s.logger.Info()
	if err != nil {
		evt = s.logger.Error().Err(err)
	}
	evt.
		Str("event", "session.closed").
		Str("reason", string(reason)).
		Uint64("last_delivered", s.lastDelivered.Load()).
		Msg("stream session closed")
	close(s.done)
}

// run drives the CATCHUP and LIVE phases. The hub subscription is taken
// before the replay window is read: an event published between the window
// read and the subscribe cannot be missed, and anything the hub queued
// during the drain is de-duplicated by seq afterwards.
func (s *Session) run(ctx context.Context, sub *Subscription, buf Buffer, cursor *uint64, heartbeat time.Duration) {
	defer close(s.frames)
	defer sub.Close()

	if cursor != nil {
		s.lastDelivered.Store(*cursor)
		if !s.catchup(ctx, sub, buf, *cursor) {
			return
		}
	}

	hb := time.NewTimer(heartbeat)
	defer hb.Stop()

	for {
		select {
		case <-ctx.Done():
			s.finish(ReasonClientGone, nil)
			return

		case <-sub.Kill():
			s.finish(ReasonSlowConsumer, nil)
			return

		case ev := <-sub.C():
			if ev.Seq <= s.lastDelivered.Load() {
				// already delivered during catchup
				continue
			}
			switch s.send(ctx, sub, Frame{Type: FrameEvent, Event: &ev}) {
			case sendCancelled:
				s.finish(ReasonClientGone, nil)
				return
			case sendKilled:
				s.finish(ReasonSlowConsumer, nil)
				return
			}
			s.lastDelivered.Store(ev.Seq)
			metrics.IncDelivered(s.Topic, "live")
			if !hb.Stop() {
				select {
				case <-hb.C:
				default:
				}
			}
			hb.Reset(heartbeat)

		case <-hb.C:
			// carries no sequence semantics; never touches lastDelivered
			switch s.send(ctx, sub, Frame{Type: FrameHeartbeat}) {
			case sendCancelled:
				s.finish(ReasonClientGone, nil)
				return
			case sendKilled:
				s.finish(ReasonSlowConsumer, nil)
				return
			}
			metrics.IncHeartbeat(s.Topic)
			hb.Reset(heartbeat)
		}
	}
}

// catchup drains the replay window after cursor. It reports false when the
// session terminated (gap reset, backend failure or client cancellation).
func (s *Session) catchup(ctx context.Context, sub *Subscription, buf Buffer, cursor uint64) bool {
	w, err := buf.Window(ctx, s.Topic)
	if err != nil {
		s.finish(ReasonError, err)
		return false
	}
	if !w.Ok || cursor >= w.Max {
		// nothing retained beyond the cursor
		return true
	}
	if cursor+1 < w.Min {
		// the next needed event fell out of the window: the gap cannot be
		// filled, so resuming here would silently lose events
		s.send(ctx, sub, Frame{Type: FrameReset})
		metrics.IncReset(s.Topic)
		s.finish(ReasonReset, nil)
		return false
	}

	evs, err := buf.Range(ctx, s.Topic, cursor)
	if err != nil {
		s.finish(ReasonError, err)
		return false
	}
	for i := range evs {
		ev := evs[i]
		switch s.send(ctx, sub, Frame{Type: FrameEvent, Event: &ev}) {
		case sendCancelled:
			s.finish(ReasonClientGone, nil)
			return false
		case sendKilled:
			s.finish(ReasonSlowConsumer, nil)
			return false
		}
		s.lastDelivered.Store(ev.Seq)
		metrics.IncDelivered(s.Topic, "catchup")
	}
	return true
}

func newSession(parent context.Context, topic string, identity auth.Identity, logger zerolog.Logger) (*Session, context.Context) {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.New().String()
	s := &Session{
		ID:          id,
		Topic:       topic,
		Identity:    identity,
		ConnectedAt: time.Now(),
		frames:      make(chan Frame),
		cancel:      cancel,
		done:        make(chan struct{}),
		logger: logger.With().
			Str("session_id", id).
			Str("topic", topic).
			Str("subject", identity.Subject).
			Logger(),
	}
	return s, ctx
}
