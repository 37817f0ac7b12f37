package persistence

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"
)

func testQueueLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWriterQueue_RunsEnqueuedWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewWriterQueue(testQueueLogger(), 4)
	q.Start(ctx)

	done := make(chan struct{})
	q.Enqueue("test_write", func(context.Context) error {
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("enqueued write never ran")
	}
}

func TestWriterQueue_RetriesFailedWrites(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewWriterQueue(testQueueLogger(), 4)
	q.Start(ctx)

	var attempts atomic.Int32
	done := make(chan struct{})
	q.Enqueue("flaky_write", func(context.Context) error {
		if attempts.Add(1) < 3 {
			return errors.New("database is locked")
		}
		close(done)
		return nil
	})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("write was not retried to success, attempts=%d", attempts.Load())
	}
}

func TestWriterQueue_FullQueueDropsInsteadOfBlocking(t *testing.T) {
	// No consumer: Start is never called, so the queue stays full.
	q := NewWriterQueue(testQueueLogger(), 1)

	noop := func(context.Context) error { return nil }
	q.Enqueue("first", noop)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10; i++ {
			q.Enqueue("overflow", noop)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("enqueue blocked on a full queue")
	}
	if got := len(q.queue); got != 1 {
		t.Fatalf("expected overflow writes to be dropped, queue depth %d", got)
	}
}
