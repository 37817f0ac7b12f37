package persistence

import (
	"context"

	"bambulink/internal/bus"
	"bambulink/internal/domain"
	"bambulink/internal/events"
)

// StartJobProjection mirrors job lifecycle events into the jobs table.
// Writes go through the WriterQueue so the bus consumer never blocks.
func StartJobProjection(ctx context.Context, b bus.MessageBus, queue *WriterQueue, repo *JobRepo) {
	sub := b.Subscribe(events.TopicJobEvent)
	go func() {
		defer b.Unsubscribe(sub, events.TopicJobEvent)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub:
				if !ok {
					return
				}
				event, ok := msg.(domain.JobEvent)
				if !ok {
					continue
				}
				job := event.Job
				queue.Enqueue("job_upsert", func(writeCtx context.Context) error {
					return repo.Upsert(writeCtx, job)
				})
			}
		}
	}()
}
