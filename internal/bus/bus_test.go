package bus

import (
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestPubSubBus_DeliversToTopicSubscribers(t *testing.T) {
	b := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer b.Close()

	sub := b.Subscribe("topic.a")
	other := b.Subscribe("topic.b")

	b.Publish("topic.a", "hello")

	select {
	case msg := <-sub:
		if msg != "hello" {
			t.Fatalf("unexpected message: %v", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for message")
	}

	select {
	case msg := <-other:
		t.Fatalf("topic.b subscriber received stray message: %v", msg)
	case <-time.After(50 * time.Millisecond):
	}

	b.Unsubscribe(sub, "topic.a")
	b.Unsubscribe(other)
}

func TestPubSubBus_SlowSubscriberDoesNotStallPublish(t *testing.T) {
	b := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	defer b.Close()

	// Never read from: its buffer fills up.
	stalled := b.Subscribe("topic.a")
	defer b.Unsubscribe(stalled, "topic.a")

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < defaultSubscriberBuffer*2; i++ {
			b.Publish("topic.a", i)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("publish stalled behind a slow subscriber")
	}

	// The stalled subscriber still holds its buffered prefix.
	select {
	case msg := <-stalled:
		if msg != 0 {
			t.Fatalf("expected oldest message first, got %v", msg)
		}
	case <-time.After(time.Second):
		t.Fatalf("buffered messages lost")
	}
}
