package api

import (
	"testing"
	"time"
)

func TestBrokerPublishSubscribe(t *testing.T) {
	b := NewBroker()
	topic := "ds1"
	ch := b.Subscribe(topic)

	evt := SSEEvent{Type: "solve.completed", Data: map[string]any{"solveId": "s1"}}
	b.Publish(topic, evt)

	select {
	case got := <-ch:
		if got.Type != evt.Type {
			t.Fatalf("got type %s, want %s", got.Type, evt.Type)
		}
		if got.Data["solveId"].(string) != "s1" {
			t.Fatalf("bad payload: %+v", got.Data)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}

	b.Unsubscribe(topic, ch)
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("channel should be closed after unsubscribe")
		}
	case <-time.After(50 * time.Millisecond):
		// acceptable if already drained and closed
	}
}

func TestBrokerTopicsIsolated(t *testing.T) {
	b := NewBroker()
	chA := b.Subscribe("a")
	chB := b.Subscribe("b")
	defer b.Unsubscribe("a", chA)
	defer b.Unsubscribe("b", chB)

	b.Publish("a", SSEEvent{Type: "dataset.created"})

	select {
	case <-chB:
		t.Fatal("event leaked across topics")
	case <-time.After(50 * time.Millisecond):
	}
	select {
	case got := <-chA:
		if got.Type != "dataset.created" {
			t.Fatalf("got %s", got.Type)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("timeout waiting for event")
	}
}

func TestBrokerDropsWhenSlow(t *testing.T) {
	b := NewBroker()
	ch := b.Subscribe("x")
	defer b.Unsubscribe("x", ch)

	// channel buffer is 8; extra publishes must not block
	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			b.Publish("x", SSEEvent{Type: "solve.completed"})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on slow subscriber")
	}
}

func TestRedisBrokerUnsubscribeLeavesChannelToReader(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://127.0.0.1:6379/0")
	b, err := NewRedisBroker()
	if err != nil {
		t.Fatalf("NewRedisBroker: %v", err)
	}
	// only the reader goroutine may close a subscriber channel; Unsubscribe
	// tears down the PubSub and must leave the channel open so a still-live
	// reader never sends on a closed channel
	ch := make(chan SSEEvent, 1)
	b.Unsubscribe("ds1", ch)
	select {
	case _, ok := <-ch:
		if !ok {
			t.Fatal("Unsubscribe closed the subscriber channel")
		}
	default:
	}
	ch <- SSEEvent{Type: "solve.completed"}
}
