// SPDX-License-Identifier: MIT

package stream

import (
	"sync"
	"sync/atomic"

	"github.com/ManuGH/seqstream/internal/config"
	"github.com/ManuGH/seqstream/internal/metrics"
)

// Hub fans newly published events out to every locally attached subscriber
// of a topic. It is strictly in-process: one Hub exists per worker, and an
// event published on another worker reaches this worker's clients only
// through the shared replay buffer on their next resume.
type Hub struct {
	mu        sync.RWMutex
	subs      map[string][]*Subscription
	queueSize int
	policy    config.BackpressurePolicy
}

// NewHub creates a hub. queueSize bounds every subscription's delivery
// queue; policy decides what happens to a subscriber whose queue is full.
func NewHub(queueSize int, policy config.BackpressurePolicy) *Hub {
	return &Hub{
		subs:      make(map[string][]*Subscription),
		queueSize: queueSize,
		policy:    policy,
	}
}

// Subscription is one attached delivery endpoint. Its lifecycle is
// ATTACHED then DETACHED, terminal; re-subscribing creates a new object.
type Subscription struct {
	hub      *Hub
	topic    string
	ch       chan Event
	kill     chan struct{}
	killOnce sync.Once
	detached atomic.Bool
}

// C returns the bounded delivery queue.
func (s *Subscription) C() <-chan Event { return s.ch }

// Kill is closed when the hub's backpressure policy decides this subscriber
// must be disconnected as a slow consumer.
func (s *Subscription) Kill() <-chan struct{} { return s.kill }

// Close detaches the subscription. Idempotent; the delivery queue is left
// open so a concurrent fan-out can never send on a closed channel.
func (s *Subscription) Close() {
	if s.detached.Swap(true) {
		return
	}
	s.hub.remove(s)
}

// Subscribe attaches a new delivery endpoint for topic.
func (h *Hub) Subscribe(topic string) *Subscription {
	sub := &Subscription{
		hub:   h,
		topic: topic,
		ch:    make(chan Event, h.queueSize),
		kill:  make(chan struct{}),
	}
	h.mu.Lock()
	h.subs[topic] = append(h.subs[topic], sub)
	n := len(h.subs[topic])
	h.mu.Unlock()
	metrics.SetSubscribers(topic, n)
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	lst := h.subs[sub.topic]
	out := lst[:0]
	for _, s := range lst {
		if s != sub {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		delete(h.subs, sub.topic)
	} else {
		h.subs[sub.topic] = out
	}
	n := len(out)
	h.mu.Unlock()
	metrics.SetSubscribers(sub.topic, n)
}

// Publish pushes ev to every attached subscriber of its topic, best-effort.
// A blocked subscriber never stalls delivery to the others: depending on the
// configured policy its oldest queued event is dropped to make room, or the
// subscriber is marked for disconnection as a slow consumer.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	subs := append([]*Subscription(nil), h.subs[ev.Topic]...)
	h.mu.RUnlock()

	for _, sub := range subs {
		if sub.detached.Load() {
			continue
		}
		select {
		case sub.ch <- ev:
			continue
		default:
		}

		switch h.policy {
		case config.PolicyDisconnect:
			sub.killOnce.Do(func() { close(sub.kill) })
			metrics.IncDropped(ev.Topic, "slow_consumer")
		default: // drop_oldest
			select {
			case <-sub.ch:
				metrics.IncDropped(ev.Topic, "queue_full")
			default:
			}
			select {
			case sub.ch <- ev:
			default:
				metrics.IncDropped(ev.Topic, "queue_full")
			}
		}
	}
}

// SubscriberCount reports the number of attached subscribers for topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}

// Topics lists topics with at least one attached subscriber.
func (h *Hub) Topics() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.subs))
	for t := range h.subs {
		out = append(out, t)
	}
	return out
}
