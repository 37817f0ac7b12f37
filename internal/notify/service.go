package notify

import (
	"context"
	"fmt"
	"log/slog"

	"bambulink/internal/bus"
	"bambulink/internal/domain"
	"bambulink/internal/events"
)

// Service turns job lifecycle events and fatal connection faults into
// desktop notifications. Transient reconnects stay quiet; terminal job
// phases and a rejected access code are the things a user must see.
type Service struct {
	bus    bus.MessageBus
	sender Sender
	logger *slog.Logger
}

func NewService(b bus.MessageBus, sender Sender, logger *slog.Logger) *Service {
	return &Service{bus: b, sender: sender, logger: logger}
}

func (s *Service) Start(ctx context.Context) {
	if s == nil || s.bus == nil || s.sender == nil {
		return
	}

	jobSub := s.bus.Subscribe(events.TopicJobEvent)
	connSub := s.bus.Subscribe(events.TopicConnStatus)
	stateSub := s.bus.Subscribe(events.TopicStateChange)

	go func() {
		defer s.bus.Unsubscribe(jobSub, events.TopicJobEvent)
		defer s.bus.Unsubscribe(connSub, events.TopicConnStatus)
		defer s.bus.Unsubscribe(stateSub, events.TopicStateChange)

		for {
			select {
			case <-ctx.Done():
				return
			case raw, ok := <-jobSub:
				if !ok {
					return
				}
				event, ok := raw.(domain.JobEvent)
				if !ok {
					continue
				}
				s.notifyJob(event)
			case raw, ok := <-stateSub:
				if !ok {
					return
				}
				change, ok := raw.(domain.StateChange)
				if !ok {
					continue
				}
				s.notifyHMS(change)
			case raw, ok := <-connSub:
				if !ok {
					return
				}
				status, ok := raw.(events.ConnectionStatus)
				if !ok {
					continue
				}
				if status.Fatal() {
					s.sender.Send(Payload{
						Title:   "Printer connection failed",
						Content: status.Err,
					})
				}
			}
		}
	}()
}

func (s *Service) notifyJob(event domain.JobEvent) {
	file := event.Job.File
	if file == "" {
		file = event.Job.ID
	}
	switch event.Job.Phase {
	case domain.JobPhaseCompleted:
		s.sender.Send(Payload{Title: "Print finished", Content: file})
	case domain.JobPhaseFailed:
		s.sender.Send(Payload{Title: "Print failed", Content: file})
	case domain.JobPhaseCanceled:
		s.sender.Send(Payload{Title: "Print canceled", Content: file})
	case domain.JobPhasePaused:
		s.sender.Send(Payload{
			Title:   "Print paused",
			Content: fmt.Sprintf("%s paused by the printer", file),
		})
	default:
	}
}

// notifyHMS reports health-management errors once, when they first appear in
// the printer state.
func (s *Service) notifyHMS(change domain.StateChange) {
	if len(change.Current.HMSErrors) == 0 {
		return
	}
	known := make(map[domain.HMSError]bool, len(change.Previous.HMSErrors))
	for _, e := range change.Previous.HMSErrors {
		known[e] = true
	}
	for _, e := range change.Current.HMSErrors {
		if known[e] {
			continue
		}
		s.sender.Send(Payload{
			Title:   "Printer reported an error",
			Content: fmt.Sprintf("HMS attr=0x%X code=0x%X", e.Attr, e.Code),
		})
	}
}
