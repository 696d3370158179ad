// SPDX-License-Identifier: MIT

package stream

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ManuGH/seqstream/internal/auth"
	"github.com/ManuGH/seqstream/internal/config"
	"github.com/ManuGH/seqstream/internal/metrics"
)

// Engine composes the sequencer, replay buffer and hub behind the two
// narrow interfaces collaborators use: Publish for producers and Open for
// the transport layer.
type Engine struct {
	seq       Sequencer
	buf       Buffer
	hub       *Hub
	backend   config.Backend
	heartbeat time.Duration
	client    *redis.Client // nil for the memory backend
	logger    zerolog.Logger
}

// New builds an engine for the configured backend. The redis backend dials
// eagerly and fails fast; a worker that cannot reach the shared store must
// not come up with a private counter.
func New(cfg config.Config, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		backend:   cfg.Backend,
		heartbeat: cfg.HeartbeatInterval,
		hub:       NewHub(cfg.SessionQueueSize, cfg.Backpressure),
		logger:    logger,
	}

	switch cfg.Backend {
	case config.BackendRedis:
		client, err := NewRedisClient(RedisConfig{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		}, logger)
		if err != nil {
			return nil, err
		}
		e.client = client
		e.seq = NewRedisSequencer(client, cfg.RedisKeyPrefix)
		e.buf = NewRedisBuffer(client, cfg.RedisKeyPrefix, cfg.BufferMaxItems, cfg.BufferMaxAge, logger)
	default:
		buf := NewMemoryBuffer(cfg.BufferMaxItems, cfg.BufferMaxAge)
		e.buf = buf
		e.seq = NewLocalSequencer(buf)
	}
	return e, nil
}

func newEngine(seq Sequencer, buf Buffer, hub *Hub, heartbeat time.Duration, logger zerolog.Logger) *Engine {
	return &Engine{
		seq:       seq,
		buf:       buf,
		hub:       hub,
		backend:   config.BackendMemory,
		heartbeat: heartbeat,
		logger:    logger,
	}
}

// Publish assigns the next id for topic, stores the event in the replay
// window and fans it out to local subscribers. Failures propagate to the
// caller; a domain event is never silently dropped.
func (e *Engine) Publish(ctx context.Context, topic string, payload []byte) (uint64, error) {
	start := time.Now()

	seq, err := e.seq.Next(ctx, topic)
	if err != nil {
		metrics.IncSequencerFailure(topic)
		e.logger.Error().Err(err).
			Str("event", "publish.sequence_failed").
			Str("topic", topic).
			Msg("sequence assignment failed, publish aborted")
		return 0, err
	}

	ev := Event{
		V:           1,
		Topic:       topic,
		Seq:         seq,
		Name:        "update",
		Payload:     json.RawMessage(payload),
		PublishedAt: time.Now().UTC(),
	}
	if err := e.buf.Append(ctx, ev); err != nil {
		if errors.Is(err, ErrSequencingInvariant) {
			metrics.IncInvariantViolation(topic)
			e.logger.Error().
				Str("event", "publish.invariant_violation").
				Str("topic", topic).
				Uint64("seq", seq).
				Msg("append rejected a non-monotonic sequence; this indicates a sequencing bug")
		}
		return 0, err
	}

	e.hub.Publish(ev)
	metrics.IncPublished(topic)
	metrics.ObservePublishDuration(topic, time.Since(start))
	return seq, nil
}

// Open accepts a pre-authenticated subscription and starts its session.
// cursor is the client's resume point; nil means live-only. The session is
// tied to ctx: cancelling it (client disconnect, server shutdown) cancels
// every pending wait.
func (e *Engine) Open(ctx context.Context, topic string, identity auth.Identity, cursor *uint64) *Session {
	s, runCtx := newSession(ctx, topic, identity, e.logger)
	// Attach to the hub before returning and before the replay window is
	// read, so nothing published after Open can be missed.
	sub := e.hub.Subscribe(topic)
	metrics.IncConnectionOpened(topic)
	s.logger.Info().
		Str("event", "session.opened").
		Str("carrier", string(identity.Carrier)).
		Bool("resume", cursor != nil).
		Msg("stream session opened")
	go s.run(runCtx, sub, e.buf, cursor, e.heartbeat)
	return s
}

// TopicSnapshot is the per-topic debug view for operational tooling.
type TopicSnapshot struct {
	Topic       string `json:"topic"`
	Subscribers int    `json:"subscribers"`
	MinSeq      uint64 `json:"min_seq"`
	MaxSeq      uint64 `json:"max_seq"`
	Size        int    `json:"size"`
	Retained    bool   `json:"retained"`
	Backend     string `json:"backend"`
}

// Snapshot reports the current window and subscriber state for topic.
func (e *Engine) Snapshot(ctx context.Context, topic string) (TopicSnapshot, error) {
	w, err := e.buf.Window(ctx, topic)
	if err != nil {
		return TopicSnapshot{}, err
	}
	size, err := e.buf.Size(ctx, topic)
	if err != nil {
		return TopicSnapshot{}, err
	}
	return TopicSnapshot{
		Topic:       topic,
		Subscribers: e.hub.SubscriberCount(topic),
		MinSeq:      w.Min,
		MaxSeq:      w.Max,
		Size:        size,
		Retained:    w.Ok,
		Backend:     string(e.backend),
	}, nil
}

// Topics lists topics with at least one local subscriber.
func (e *Engine) Topics() []string {
	return e.hub.Topics()
}

// Backend reports the configured backend.
func (e *Engine) Backend() config.Backend {
	return e.backend
}

// Close releases the engine's backend resources.
func (e *Engine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}
