package domain

import (
	"context"
	"sync"
	"time"

	"bambulink/internal/bus"
	"bambulink/internal/events"
)

// StateStore owns the canonical PrinterState. Decoded telemetry is merged in
// here and nowhere else; every reader gets a copy.
type StateStore struct {
	mu      sync.RWMutex
	state   PrinterState
	changes chan struct{}
}

func NewStateStore() *StateStore {
	return &StateStore{
		state:   PrinterState{ActiveTray: TrayUnassigned},
		changes: make(chan struct{}, 1),
	}
}

// Start consumes decoded telemetry from the bus and republishes the merged
// result as a StateChange.
func (s *StateStore) Start(ctx context.Context, b bus.MessageBus) {
	sub := b.Subscribe(events.TopicTelemetry)
	go func() {
		defer b.Unsubscribe(sub, events.TopicTelemetry)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub:
				if !ok {
					return
				}
				update, ok := msg.(TelemetryUpdate)
				if !ok {
					continue
				}
				change := s.Apply(update)
				b.Publish(events.TopicStateChange, change)
			}
		}
	}()
}

// Apply merges the populated fields of one update into the canonical state.
// The merge is all-or-nothing with respect to readers: Snapshot taken
// concurrently sees either none or all of the update's fields.
func (s *StateStore) Apply(update TelemetryUpdate) StateChange {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := copyState(s.state)

	if update.Machine != nil {
		s.state.Machine = *update.Machine
	}
	if update.Progress != nil {
		s.state.Progress = *update.Progress
	}
	if update.Layer != nil {
		s.state.Layer = *update.Layer
	}
	if update.TotalLayers != nil {
		s.state.TotalLayers = *update.TotalLayers
	}
	if update.RemainingMin != nil {
		s.state.RemainingMin = *update.RemainingMin
	}
	if update.NozzleTemp != nil {
		s.state.Nozzle.Current = *update.NozzleTemp
	}
	if update.NozzleTarget != nil {
		s.state.Nozzle.Target = *update.NozzleTarget
	}
	if update.BedTemp != nil {
		s.state.Bed.Current = *update.BedTemp
	}
	if update.BedTarget != nil {
		s.state.Bed.Target = *update.BedTarget
	}
	if update.ChamberTemp != nil {
		s.state.Chamber = *update.ChamberTemp
	}
	if update.SpeedLevel != nil {
		s.state.SpeedLevel = *update.SpeedLevel
	}
	if update.JobID != nil {
		s.state.JobID = *update.JobID
	}
	if update.JobFile != nil {
		s.state.JobFile = *update.JobFile
	}
	if update.JobSource != nil {
		s.state.JobSource = *update.JobSource
	}
	if update.AMS != nil {
		s.state.AMS = copyUnits(update.AMS)
	}
	if update.ActiveTray != nil {
		s.state.ActiveTray = *update.ActiveTray
	}
	if update.HMSErrors != nil {
		s.state.HMSErrors = append([]HMSError(nil), update.HMSErrors...)
	}
	if update.ChamberLight != nil {
		s.state.ChamberLight = *update.ChamberLight
	}
	s.state.UpdatedAt = time.Now()

	current := copyState(s.state)
	s.notify()

	return StateChange{Previous: previous, Current: current}
}

// Snapshot returns a deep copy of the current state.
func (s *StateStore) Snapshot() PrinterState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return copyState(s.state)
}

// Changes is a coalesced signal channel: at most one pending tick regardless
// of how many updates arrived since the last receive.
func (s *StateStore) Changes() <-chan struct{} {
	return s.changes
}

func (s *StateStore) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}

func copyState(st PrinterState) PrinterState {
	out := st
	out.AMS = copyUnits(st.AMS)
	if st.HMSErrors != nil {
		out.HMSErrors = append([]HMSError(nil), st.HMSErrors...)
	}
	return out
}

func copyUnits(units []AMSUnit) []AMSUnit {
	if units == nil {
		return nil
	}
	out := make([]AMSUnit, len(units))
	for i, unit := range units {
		out[i] = unit
		out[i].Trays = append([]AMSTray(nil), unit.Trays...)
	}
	return out
}
