// SPDX-License-Identifier: MIT

// Package config loads the daemon configuration from the environment.
package config

import (
	"fmt"
	"time"
)

// Backend selects where sequence counters and the replay buffer live.
type Backend string

const (
	// BackendMemory keeps everything in-process. Single-worker only.
	BackendMemory Backend = "memory"
	// BackendRedis shares counters and the replay window across workers.
	BackendRedis Backend = "redis"
)

// BackpressurePolicy controls what happens to a subscriber whose outbound
// queue is full when a new event arrives.
type BackpressurePolicy string

const (
	// PolicyDropOldest evicts the subscriber's oldest queued event to make room.
	PolicyDropOldest BackpressurePolicy = "drop_oldest"
	// PolicyDisconnect closes the slow subscriber's session with a
	// slow-consumer reason, forcing a reconnect-and-resume.
	PolicyDisconnect BackpressurePolicy = "disconnect"
)

// Config holds all daemon settings. Values come from SEQSTREAM_* environment
// variables with documented defaults; there is no config file.
type Config struct {
	ListenAddr string

	// Engine
	Backend           Backend
	BufferMaxItems    int
	BufferMaxAge      time.Duration
	HeartbeatInterval time.Duration
	SessionQueueSize  int
	Backpressure      BackpressurePolicy

	// Redis (required when Backend == BackendRedis)
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	// Auth
	APIToken          string
	StreamTokenSecret string
	StreamTokenTTL    time.Duration

	// Transport
	MaxPayloadBytes int
	RateLimitPerMin int
	DebugTopics     bool
	ShutdownTimeout time.Duration

	// Logging
	LogLevel   string
	LogService string
}

// Load reads the configuration from the environment and validates it.
func Load() (Config, error) {
	cfg := Config{
		ListenAddr: ParseString("SEQSTREAM_LISTEN", ":8080"),

		Backend:           Backend(ParseString("SEQSTREAM_BACKEND", string(BackendMemory))),
		BufferMaxItems:    ParseInt("SEQSTREAM_BUFFER_MAX_ITEMS", 5000),
		BufferMaxAge:      ParseDuration("SEQSTREAM_BUFFER_MAX_AGE", time.Hour),
		HeartbeatInterval: ParseDuration("SEQSTREAM_HEARTBEAT_INTERVAL", 15*time.Second),
		SessionQueueSize:  ParseInt("SEQSTREAM_SESSION_QUEUE_SIZE", 64),
		Backpressure:      BackpressurePolicy(ParseString("SEQSTREAM_BACKPRESSURE_POLICY", string(PolicyDropOldest))),

		RedisAddr:      ParseString("SEQSTREAM_REDIS_ADDR", ""),
		RedisPassword:  ParseString("SEQSTREAM_REDIS_PASSWORD", ""),
		RedisDB:        ParseInt("SEQSTREAM_REDIS_DB", 0),
		RedisKeyPrefix: ParseString("SEQSTREAM_REDIS_PREFIX", "seqstream:"),

		APIToken:          ParseString("SEQSTREAM_API_TOKEN", ""),
		StreamTokenSecret: ParseString("SEQSTREAM_STREAM_TOKEN_SECRET", ""),
		StreamTokenTTL:    ParseDuration("SEQSTREAM_STREAM_TOKEN_TTL", 3*time.Minute),

		MaxPayloadBytes: ParseInt("SEQSTREAM_MAX_PAYLOAD_BYTES", 64*1024),
		RateLimitPerMin: ParseInt("SEQSTREAM_RATE_LIMIT_PER_MIN", 120),
		DebugTopics:     ParseBool("SEQSTREAM_DEBUG_TOPICS", true),
		ShutdownTimeout: ParseDuration("SEQSTREAM_SHUTDOWN_TIMEOUT", 10*time.Second),

		LogLevel:   ParseString("SEQSTREAM_LOG_LEVEL", "info"),
		LogService: ParseString("SEQSTREAM_LOG_SERVICE", "seqstream"),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.RedisAddr == "" {
			return fmt.Errorf("config: SEQSTREAM_REDIS_ADDR is required when backend is %q", c.Backend)
		}
	default:
		return fmt.Errorf("config: unknown backend %q (supported: memory, redis)", c.Backend)
	}

	switch c.Backpressure {
	case PolicyDropOldest, PolicyDisconnect:
	default:
		return fmt.Errorf("config: unknown backpressure policy %q (supported: drop_oldest, disconnect)", c.Backpressure)
	}

	if c.BufferMaxItems <= 0 {
		return fmt.Errorf("config: SEQSTREAM_BUFFER_MAX_ITEMS must be positive, got %d", c.BufferMaxItems)
	}
	if c.SessionQueueSize <= 0 {
		return fmt.Errorf("config: SEQSTREAM_SESSION_QUEUE_SIZE must be positive, got %d", c.SessionQueueSize)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("config: SEQSTREAM_HEARTBEAT_INTERVAL must be positive, got %s", c.HeartbeatInterval)
	}
	return nil
}
