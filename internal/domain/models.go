package domain

import "time"

// MachineState is the printer-reported gcode_state, normalized.
type MachineState string

const (
	MachineStateUnknown MachineState = ""
	MachineStateIdle    MachineState = "IDLE"
	MachineStatePrepare MachineState = "PREPARE"
	MachineStateSlicing MachineState = "SLICING"
	MachineStateRunning MachineState = "RUNNING"
	MachineStatePause   MachineState = "PAUSE"
	MachineStateFinish  MachineState = "FINISH"
	MachineStateFailed  MachineState = "FAILED"
	MachineStateOffline MachineState = "OFFLINE"
)

// Terminal reports whether the machine state ends the current print.
func (s MachineState) Terminal() bool {
	return s == MachineStateFinish || s == MachineStateFailed
}

type JobSource string

const (
	JobSourceLocal JobSource = "local"
	JobSourceCloud JobSource = "cloud"
	JobSourceSD    JobSource = "sd"
)

type JobPhase int

const (
	JobPhaseNone JobPhase = iota
	JobPhaseQueued
	JobPhasePrinting
	JobPhasePaused
	JobPhaseCompleted
	JobPhaseCanceled
	JobPhaseFailed
)

func (p JobPhase) String() string {
	switch p {
	case JobPhaseNone:
		return "none"
	case JobPhaseQueued:
		return "queued"
	case JobPhasePrinting:
		return "printing"
	case JobPhasePaused:
		return "paused"
	case JobPhaseCompleted:
		return "completed"
	case JobPhaseCanceled:
		return "canceled"
	case JobPhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal phases accept no further transitions for the same job.
func (p JobPhase) Terminal() bool {
	return p == JobPhaseCompleted || p == JobPhaseCanceled || p == JobPhaseFailed
}

// AMSTray is one material slot in an AMS unit. FlatIndex is the stable
// UI-facing index assigned by Flatten in unit-then-slot order.
type AMSTray struct {
	FlatIndex    int
	UnitIndex    int
	SlotIndex    int
	MaterialType string
	Color        string
	RemainingPct int
	Empty        bool
}

// AMSUnit is an ordered set of trays as reported by one physical AMS.
type AMSUnit struct {
	Index int
	Trays []AMSTray
}

// HMSError is one active health-management-system error on the printer.
type HMSError struct {
	Attr int64
	Code int64
}

// Temperatures holds current and target readings for one heater.
type Temperatures struct {
	Current float64
	Target  float64
}

// Job is one print execution from printer acceptance to a terminal phase.
type Job struct {
	ID         string
	File       string
	Source     JobSource
	Phase      JobPhase
	AMSMapping []int
	StartedAt  time.Time
	EndedAt    time.Time
}

// JobEvent is published on the bus once per lifecycle transition.
type JobEvent struct {
	Job       Job
	Previous  JobPhase
	Timestamp time.Time
}

// PrinterState is the canonical merged view of the printer. Consumers only
// ever see copies produced by StateStore.Snapshot.
type PrinterState struct {
	Machine      MachineState
	Progress     int
	Layer        int
	TotalLayers  int
	RemainingMin int
	Nozzle       Temperatures
	Bed          Temperatures
	Chamber      float64
	SpeedLevel   int
	JobID        string
	JobFile      string
	JobSource    JobSource
	AMS          []AMSUnit
	ActiveTray   int
	HMSErrors    []HMSError
	ChamberLight bool
	UpdatedAt    time.Time
}

// StateChange pairs a fresh snapshot with the previous one so consumers can
// diff without holding their own copy of the store.
type StateChange struct {
	Previous PrinterState
	Current  PrinterState
}

// TelemetryUpdate is a partial decode of one inbound report frame. Nil
// pointers mean "field absent from this frame"; the store never lets an
// absent field erase a known value.
type TelemetryUpdate struct {
	Machine      *MachineState
	Progress     *int
	Layer        *int
	TotalLayers  *int
	RemainingMin *int
	NozzleTemp   *float64
	NozzleTarget *float64
	BedTemp      *float64
	BedTarget    *float64
	ChamberTemp  *float64
	SpeedLevel   *int
	JobID        *string
	JobFile      *string
	JobSource    *JobSource
	AMS          []AMSUnit
	ActiveTray   *int
	HMSErrors    []HMSError
	ChamberLight *bool
	Clamped      bool
}

// Empty reports whether the frame carried nothing the store cares about.
func (u TelemetryUpdate) Empty() bool {
	return u.Machine == nil && u.Progress == nil && u.Layer == nil &&
		u.TotalLayers == nil && u.RemainingMin == nil &&
		u.NozzleTemp == nil && u.NozzleTarget == nil &&
		u.BedTemp == nil && u.BedTarget == nil && u.ChamberTemp == nil &&
		u.SpeedLevel == nil && u.JobID == nil && u.JobFile == nil &&
		u.JobSource == nil && u.AMS == nil && u.ActiveTray == nil &&
		u.HMSErrors == nil && u.ChamberLight == nil
}
