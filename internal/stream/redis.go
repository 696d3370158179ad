// SPDX-License-Identifier: MIT

package stream

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	Addr      string // Redis server address (host:port)
	Password  string // Redis password (optional)
	DB        int    // Redis database number
	KeyPrefix string // namespace for all engine keys
}

// NewRedisClient dials Redis and verifies the connection.
func NewRedisClient(cfg RedisConfig, logger zerolog.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", cfg.Addr).
		Int("db", cfg.DB).
		Msg("connected to Redis backend")

	return client, nil
}

// RedisSequencer implements Sequencer on the shared store's atomic INCR.
// No compare-and-swap loop is needed; increment itself is atomic across
// workers. A failed increment surfaces as a publish failure and never
// silently advances or falls back to a local counter.
type RedisSequencer struct {
	client *redis.Client
	prefix string
}

// NewRedisSequencer creates a shared-store sequencer.
func NewRedisSequencer(client *redis.Client, keyPrefix string) *RedisSequencer {
	return &RedisSequencer{client: client, prefix: keyPrefix}
}

func (s *RedisSequencer) key(topic string) string {
	return s.prefix + "seq:" + topic
}

// Next atomically assigns the next id for topic across all workers.
func (s *RedisSequencer) Next(ctx context.Context, topic string) (uint64, error) {
	n, err := s.client.Incr(ctx, s.key(topic)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: incr %s: %v", ErrBackendUnavailable, topic, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: incr %s returned %d", ErrBackendUnavailable, topic, n)
	}
	return uint64(n), nil
}

// RedisBuffer implements Buffer on a sorted set per topic, scored by seq and
// holding the encoded envelope as the member. Every worker writes on publish
// and reads on resume, so replay correctness holds regardless of which
// worker handled the original publish. Trimming uses only single-key atomic
// operations; age bounding is a TTL on the whole window key, refreshed on
// every append.
type RedisBuffer struct {
	client   *redis.Client
	prefix   string
	maxItems int
	ttl      time.Duration
	logger   zerolog.Logger
}

// NewRedisBuffer creates a shared replay buffer.
func NewRedisBuffer(client *redis.Client, keyPrefix string, maxItems int, ttl time.Duration, logger zerolog.Logger) *RedisBuffer {
	return &RedisBuffer{
		client:   client,
		prefix:   keyPrefix,
		maxItems: maxItems,
		ttl:      ttl,
		logger:   logger,
	}
}

func (b *RedisBuffer) key(topic string) string {
	return b.prefix + "buf:" + topic
}

// Append stores ev, trims the window to maxItems and refreshes the TTL.
func (b *RedisBuffer) Append(ctx context.Context, ev Event) error {
	key := b.key(ev.Topic)

	w, err := b.Window(ctx, ev.Topic)
	if err != nil {
		return err
	}
	if w.Ok && ev.Seq <= w.Max {
		dup, err := b.client.ZCount(ctx, key, formatSeq(ev.Seq), formatSeq(ev.Seq)).Result()
		if err != nil {
			return fmt.Errorf("%w: zcount %s: %v", ErrBackendUnavailable, ev.Topic, err)
		}
		if dup > 0 {
			// duplicate append, no-op
			return nil
		}
		return ErrSequencingInvariant
	}

	data, err := ev.Encode()
	if err != nil {
		return fmt.Errorf("encode event %s/%d: %w", ev.Topic, ev.Seq, err)
	}
	if err := b.client.ZAdd(ctx, key, redis.Z{Score: float64(ev.Seq), Member: string(data)}).Err(); err != nil {
		return fmt.Errorf("%w: zadd %s: %v", ErrBackendUnavailable, ev.Topic, err)
	}

	if b.maxItems > 0 {
		size, err := b.client.ZCard(ctx, key).Result()
		if err == nil && size > int64(b.maxItems) {
			if err := b.client.ZRemRangeByRank(ctx, key, 0, size-int64(b.maxItems)-1).Err(); err != nil {
				b.logger.Warn().Err(err).Str("topic", ev.Topic).Msg("replay window trim failed")
			}
		}
	}
	if b.ttl > 0 {
		if err := b.client.Expire(ctx, key, b.ttl).Err(); err != nil {
			b.logger.Warn().Err(err).Str("topic", ev.Topic).Msg("replay window ttl refresh failed")
		}
	}
	return nil
}

// Range returns retained events with seq > afterSeq, oldest first.
func (b *RedisBuffer) Range(ctx context.Context, topic string, afterSeq uint64) ([]Event, error) {
	members, err := b.client.ZRangeByScore(ctx, b.key(topic), &redis.ZRangeBy{
		Min: "(" + formatSeq(afterSeq),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: zrangebyscore %s: %v", ErrBackendUnavailable, topic, err)
	}
	out := make([]Event, 0, len(members))
	for _, m := range members {
		ev, err := DecodeEvent([]byte(m))
		if err != nil {
			b.logger.Warn().Err(err).Str("topic", topic).Msg("skipping undecodable replay entry")
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}

// Window reports the retained bounds for topic.
func (b *RedisBuffer) Window(ctx context.Context, topic string) (Window, error) {
	key := b.key(topic)

	first, err := b.client.ZRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return Window{}, fmt.Errorf("%w: zrange %s: %v", ErrBackendUnavailable, topic, err)
	}
	if len(first) == 0 {
		return Window{}, nil
	}
	last, err := b.client.ZRevRangeWithScores(ctx, key, 0, 0).Result()
	if err != nil {
		return Window{}, fmt.Errorf("%w: zrevrange %s: %v", ErrBackendUnavailable, topic, err)
	}
	if len(last) == 0 {
		return Window{}, nil
	}
	return Window{
		Min: uint64(first[0].Score),
		Max: uint64(last[0].Score),
		Ok:  true,
	}, nil
}

// Size reports the number of retained events for topic.
func (b *RedisBuffer) Size(ctx context.Context, topic string) (int, error) {
	n, err := b.client.ZCard(ctx, b.key(topic)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: zcard %s: %v", ErrBackendUnavailable, topic, err)
	}
	return int(n), nil
}

func formatSeq(seq uint64) string {
	return strconv.FormatUint(seq, 10)
}
