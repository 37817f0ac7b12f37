package domain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bambulink/internal/bus"
	"bambulink/internal/events"
)

// JobMonitor derives job lifecycle events from printer state transitions.
// Only the printer's reported machine state drives transitions; a locally
// issued command never advances the job on its own.
type JobMonitor struct {
	logger *slog.Logger

	mu              sync.Mutex
	current         Job
	cancelRequested bool
}

func NewJobMonitor(logger *slog.Logger) *JobMonitor {
	return &JobMonitor{logger: logger}
}

// Start consumes state changes from the bus and emits job events.
func (m *JobMonitor) Start(ctx context.Context, b bus.MessageBus) {
	sub := b.Subscribe(events.TopicStateChange)
	go func() {
		defer b.Unsubscribe(sub, events.TopicStateChange)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub:
				if !ok {
					return
				}
				change, ok := msg.(StateChange)
				if !ok {
					continue
				}
				if event, emitted := m.Observe(change.Current); emitted {
					b.Publish(events.TopicJobEvent, event)
				}
			}
		}
	}()
}

// NoteCancelRequested records that the host asked the printer to stop. The
// printer reports a stopped print as FAILED; this flag disambiguates a user
// cancel from a genuine failure for the job's terminal phase.
func (m *JobMonitor) NoteCancelRequested() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelRequested = true
}

// CurrentJob returns a copy of the active job, if any.
func (m *JobMonitor) CurrentJob() (Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current.Phase == JobPhaseNone || m.current.Phase.Terminal() {
		return Job{}, false
	}
	return copyJob(m.current), true
}

// Observe inspects one merged snapshot and returns the resulting transition
// event, if the snapshot caused one. Replaying the same snapshot is a no-op:
// the phase derived from it equals the phase already recorded.
func (m *JobMonitor) Observe(state PrinterState) (JobEvent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	target := m.phaseFor(state.Machine)
	if target == JobPhaseNone {
		// IDLE/OFFLINE between jobs: once the previous job is terminal,
		// returning to idle just clears the slate for the next one.
		if m.current.Phase.Terminal() {
			m.current = Job{}
			m.cancelRequested = false
		}
		return JobEvent{}, false
	}

	if m.current.Phase.Terminal() {
		// Terminal jobs accept no further transitions. A new job only
		// begins once the printer identifies it as a different one.
		if state.JobID == "" || state.JobID == m.current.ID {
			return JobEvent{}, false
		}
		m.current = Job{}
		m.cancelRequested = false
	}

	if m.current.Phase == JobPhaseNone {
		if target.Terminal() {
			// A terminal machine state with no job in flight: a finished
			// or failed print that predates this monitor (engine restart
			// with the last print still on the plate). Not ours to report.
			return JobEvent{}, false
		}
		m.current = Job{
			ID:        jobIdentity(state),
			File:      state.JobFile,
			Source:    jobSource(state),
			Phase:     JobPhaseNone,
			StartedAt: time.Now(),
		}
	}

	if target == m.current.Phase {
		return JobEvent{}, false
	}
	previous := m.current.Phase
	m.current.Phase = target
	if state.JobFile != "" {
		m.current.File = state.JobFile
	}
	if m.current.Phase.Terminal() {
		m.current.EndedAt = time.Now()
		m.cancelRequested = false
	}
	m.logger.Info("job transition",
		"job", m.current.ID, "from", previous.String(), "to", target.String())

	return JobEvent{Job: copyJob(m.current), Previous: previous, Timestamp: time.Now()}, true
}

func (m *JobMonitor) phaseFor(machine MachineState) JobPhase {
	switch machine {
	case MachineStatePrepare, MachineStateSlicing:
		return JobPhaseQueued
	case MachineStateRunning:
		return JobPhasePrinting
	case MachineStatePause:
		return JobPhasePaused
	case MachineStateFinish:
		return JobPhaseCompleted
	case MachineStateFailed:
		if m.cancelRequested {
			return JobPhaseCanceled
		}
		return JobPhaseFailed
	default:
		return JobPhaseNone
	}
}

func jobIdentity(state PrinterState) string {
	if state.JobID != "" {
		return state.JobID
	}
	return fmt.Sprintf("local-%d", time.Now().UnixMilli())
}

func jobSource(state PrinterState) JobSource {
	if state.JobSource != "" {
		return state.JobSource
	}
	return JobSourceSD
}

func copyJob(j Job) Job {
	if j.AMSMapping != nil {
		j.AMSMapping = append([]int(nil), j.AMSMapping...)
	}
	return j
}
