// SPDX-License-Identifier: MIT

package stream

import (
	"testing"
	"time"

	"github.com/ManuGH/seqstream/internal/config"
)

func TestHubFanOut(t *testing.T) {
	hub := NewHub(8, config.PolicyDropOldest)

	s1 := hub.Subscribe("t1")
	s2 := hub.Subscribe("t1")
	other := hub.Subscribe("t2")
	defer s1.Close()
	defer s2.Close()
	defer other.Close()

	hub.Publish(mkEvent("t1", 1))

	for _, sub := range []*Subscription{s1, s2} {
		select {
		case ev := <-sub.C():
			if ev.Seq != 1 {
				t.Errorf("seq = %d, want 1", ev.Seq)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fan-out")
		}
	}

	select {
	case ev := <-other.C():
		t.Errorf("subscriber of t2 received event for t1: %+v", ev)
	default:
	}
}

func TestHubDetachIsTerminal(t *testing.T) {
	hub := NewHub(8, config.PolicyDropOldest)

	sub := hub.Subscribe("t1")
	if n := hub.SubscriberCount("t1"); n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
	sub.Close()
	sub.Close() // idempotent
	if n := hub.SubscriberCount("t1"); n != 0 {
		t.Fatalf("count after close = %d, want 0", n)
	}

	// publish after detach must not reach the old endpoint
	hub.Publish(mkEvent("t1", 1))
	select {
	case ev := <-sub.ch:
		t.Errorf("detached subscription received %+v", ev)
	default:
	}
}

func TestHubDropOldestKeepsOthersFlowing(t *testing.T) {
	hub := NewHub(2, config.PolicyDropOldest)

	slow := hub.Subscribe("t1")
	fast := hub.Subscribe("t1")
	defer slow.Close()
	defer fast.Close()

	// the slow subscriber never reads; the fast one drains everything
	for seq := uint64(1); seq <= 10; seq++ {
		hub.Publish(mkEvent("t1", seq))
		select {
		case ev := <-fast.C():
			if ev.Seq != seq {
				t.Fatalf("fast subscriber got seq %d, want %d", ev.Seq, seq)
			}
		case <-time.After(time.Second):
			t.Fatalf("fast subscriber stalled at seq %d behind a slow peer", seq)
		}
	}

	// slow subscriber keeps only the newest events, oldest dropped first
	first := <-slow.C()
	if first.Seq != 9 {
		t.Errorf("slow subscriber's oldest retained seq = %d, want 9", first.Seq)
	}
	select {
	case <-slow.Kill():
		t.Error("drop-oldest policy must not kill the subscriber")
	default:
	}
}

func TestHubDisconnectPolicyKillsSlowConsumer(t *testing.T) {
	hub := NewHub(1, config.PolicyDisconnect)

	slow := hub.Subscribe("t1")
	fast := hub.Subscribe("t1")
	defer slow.Close()
	defer fast.Close()

	// the fast subscriber reads as events arrive; the slow one never reads
	for _, seq := range []uint64{1, 2} {
		hub.Publish(mkEvent("t1", seq))
		select {
		case ev := <-fast.C():
			if ev.Seq != seq {
				t.Errorf("fast got seq %d, want %d", ev.Seq, seq)
			}
		case <-time.After(time.Second):
			t.Fatal("fast subscriber stalled")
		}
	}

	select {
	case <-slow.Kill():
	case <-time.After(time.Second):
		t.Fatal("expected slow consumer kill signal")
	}
}

func TestHubTopics(t *testing.T) {
	hub := NewHub(8, config.PolicyDropOldest)

	a := hub.Subscribe("a")
	b := hub.Subscribe("b")
	defer b.Close()

	topics := hub.Topics()
	if len(topics) != 2 {
		t.Fatalf("topics = %v, want 2 entries", topics)
	}

	a.Close()
	topics = hub.Topics()
	if len(topics) != 1 || topics[0] != "b" {
		t.Fatalf("topics after detach = %v, want [b]", topics)
	}
}
