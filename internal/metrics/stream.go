// SPDX-License-Identifier: MIT

// Package metrics defines the Prometheus collectors for the streaming engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seqstream_published_total",
		Help: "Total number of events published by topic",
	}, []string{"topic"})

	PublishDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "seqstream_publish_duration_seconds",
		Help:    "End-to-end publish latency (sequence + append + fan-out)",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"topic"})

	DeliveredTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seqstream_delivered_total",
		Help: "Total number of events delivered to subscribers by topic and phase (catchup or live)",
	}, []string{"topic", "phase"})

	DroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seqstream_dropped_total",
		Help: "Total number of events dropped by topic and reason",
	}, []string{"topic", "reason"})

	ResetsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seqstream_resets_total",
		Help: "Total number of reset signals sent to clients whose cursor fell out of the replay window",
	}, []string{"topic"})

	ConnectionsOpenedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seqstream_connections_opened_total",
		Help: "Total number of accepted stream sessions by topic",
	}, []string{"topic"})

	ConnectionsClosedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seqstream_connections_closed_total",
		Help: "Total number of closed stream sessions by topic and reason",
	}, []string{"topic", "reason"})

	SubscribersGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "seqstream_subscribers",
		Help: "Current number of attached subscribers by topic",
	}, []string{"topic"})

	AuthFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seqstream_auth_failures_total",
		Help: "Total number of rejected handshakes by credential carrier and reason",
	}, []string{"carrier", "reason"})

	HeartbeatsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seqstream_heartbeats_total",
		Help: "Total number of idle heartbeats sent by topic",
	}, []string{"topic"})

	SequencerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seqstream_sequencer_failures_total",
		Help: "Total number of failed sequence assignments by topic",
	}, []string{"topic"})

	InvariantViolationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "seqstream_invariant_violations_total",
		Help: "Total number of replay buffer appends rejected for non-monotonic sequence numbers",
	}, []string{"topic"})
)

// IncPublished records a successfully published event.
func IncPublished(topic string) {
	PublishedTotal.WithLabelValues(topic).Inc()
}

// ObservePublishDuration records the latency of a publish call.
func ObservePublishDuration(topic string, d time.Duration) {
	PublishDuration.WithLabelValues(topic).Observe(d.Seconds())
}

// IncDelivered records an event delivered to a subscriber during catchup or live.
func IncDelivered(topic, phase string) {
	DeliveredTotal.WithLabelValues(topic, phase).Inc()
}

// IncDropped records a dropped event with a concrete reason.
func IncDropped(topic, reason string) {
	if topic == "" {
		topic = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	DroppedTotal.WithLabelValues(topic, reason).Inc()
}

// IncReset records a reset signal sent to a client.
func IncReset(topic string) {
	ResetsTotal.WithLabelValues(topic).Inc()
}

// IncConnectionOpened records an accepted stream session.
func IncConnectionOpened(topic string) {
	ConnectionsOpenedTotal.WithLabelValues(topic).Inc()
}

// IncConnectionClosed records a closed stream session with its close reason.
func IncConnectionClosed(topic, reason string) {
	ConnectionsClosedTotal.WithLabelValues(topic, reason).Inc()
}

// SetSubscribers updates the subscriber gauge for a topic.
func SetSubscribers(topic string, n int) {
	SubscribersGauge.WithLabelValues(topic).Set(float64(n))
}

// IncAuthFailure records a rejected handshake.
func IncAuthFailure(carrier, reason string) {
	AuthFailuresTotal.WithLabelValues(carrier, reason).Inc()
}

// IncHeartbeat records an idle heartbeat.
func IncHeartbeat(topic string) {
	HeartbeatsTotal.WithLabelValues(topic).Inc()
}

// IncSequencerFailure records a failed sequence assignment.
func IncSequencerFailure(topic string) {
	SequencerFailuresTotal.WithLabelValues(topic).Inc()
}

// IncInvariantViolation records a rejected non-monotonic append.
func IncInvariantViolation(topic string) {
	InvariantViolationsTotal.WithLabelValues(topic).Inc()
}
