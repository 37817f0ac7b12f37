package printer

import (
	"encoding/json"
	"strconv"
	"strings"

	"bambulink/internal/domain"
)

// Ack is a decoded acknowledgement for a previously dispatched command: the
// device echoes back the sequence id it was given.
type Ack struct {
	SequenceID string
	Command    string
	Result     string
	Reason     string
}

// Ok reports whether the device accepted the command.
func (a Ack) Ok() bool {
	return a.Result == "" || strings.EqualFold(a.Result, "success")
}

// flexString tolerates the firmware's habit of sending the same field as a
// JSON string on some models and a number on others.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

type rawTray struct {
	ID        flexString `json:"id"`
	TrayType  string     `json:"tray_type"`
	TrayColor string     `json:"tray_color"`
	Remain    *int       `json:"remain"`
}

type rawAMSUnit struct {
	ID   flexString `json:"id"`
	Tray []rawTray  `json:"tray"`
}

type rawAMS struct {
	Units   []rawAMSUnit `json:"ams"`
	TrayNow flexString   `json:"tray_now"`
}

type rawHMS struct {
	Attr int64 `json:"attr"`
	Code int64 `json:"code"`
}

type rawLight struct {
	Node string `json:"node"`
	Mode string `json:"mode"`
}

type rawPrint struct {
	Command    string     `json:"command"`
	SequenceID flexString `json:"sequence_id"`
	Result     string     `json:"result"`
	Reason     string     `json:"reason"`

	GcodeState       *string    `json:"gcode_state"`
	Percent          *float64   `json:"mc_percent"`
	RemainingTime    *int       `json:"mc_remaining_time"`
	LayerNum         *int       `json:"layer_num"`
	TotalLayerNum    *int       `json:"total_layer_num"`
	NozzleTemper     *float64   `json:"nozzle_temper"`
	NozzleTargetTemp *float64   `json:"nozzle_target_temper"`
	BedTemper        *float64   `json:"bed_temper"`
	BedTargetTemp    *float64   `json:"bed_target_temper"`
	ChamberTemper    *float64   `json:"chamber_temper"`
	SpeedLevel       *int       `json:"spd_lvl"`
	SubtaskID        flexString `json:"subtask_id"`
	SubtaskName      *string    `json:"subtask_name"`
	PrintType        *string    `json:"print_type"`
	AMS              *rawAMS    `json:"ams"`
	HMS              []rawHMS   `json:"hms"`
	LightsReport     []rawLight `json:"lights_report"`
}

type rawSystem struct {
	Command    string     `json:"command"`
	SequenceID flexString `json:"sequence_id"`
	Result     string     `json:"result"`
	Reason     string     `json:"reason"`
}

type rawFrame struct {
	Print  *rawPrint  `json:"print"`
	System *rawSystem `json:"system"`
}

// pushCommands are report-channel messages that carry telemetry rather than
// acknowledging anything.
func isPushCommand(cmd string) bool {
	switch cmd {
	case "", "push_status", "push_info":
		return true
	default:
		return false
	}
}

// Decode parses one inbound frame into a partial telemetry update and, when
// the frame echoes a sequence id for a dispatched command, an Ack. Unknown
// fields are ignored for forward compatibility; unparsable payloads yield a
// *DecodeError and nothing else.
func Decode(raw []byte) (domain.TelemetryUpdate, *Ack, error) {
	var frame rawFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return domain.TelemetryUpdate{}, nil, &DecodeError{Reason: "unparsable payload", Err: err}
	}
	if frame.Print == nil && frame.System == nil {
		return domain.TelemetryUpdate{}, nil, &DecodeError{Reason: "frame has no print or system section"}
	}

	if frame.System != nil {
		ack := &Ack{
			SequenceID: string(frame.System.SequenceID),
			Command:    frame.System.Command,
			Result:     frame.System.Result,
			Reason:     frame.System.Reason,
		}
		return domain.TelemetryUpdate{}, ack, nil
	}

	p := frame.Print
	var ack *Ack
	if !isPushCommand(p.Command) && p.SequenceID != "" {
		ack = &Ack{
			SequenceID: string(p.SequenceID),
			Command:    p.Command,
			Result:     p.Result,
			Reason:     p.Reason,
		}
	}

	update := decodePrint(p)
	return update, ack, nil
}

func decodePrint(p *rawPrint) domain.TelemetryUpdate {
	var update domain.TelemetryUpdate

	if p.GcodeState != nil {
		state := normalizeMachineState(*p.GcodeState)
		update.Machine = &state
	}
	if p.Percent != nil {
		pct, clamped := clampInt(int(*p.Percent), 0, 100)
		update.Progress = &pct
		update.Clamped = update.Clamped || clamped
	}
	if p.RemainingTime != nil {
		remaining := *p.RemainingTime
		if remaining < 0 {
			remaining = 0
		}
		update.RemainingMin = &remaining
	}
	if p.LayerNum != nil {
		update.Layer = p.LayerNum
	}
	if p.TotalLayerNum != nil {
		update.TotalLayers = p.TotalLayerNum
	}
	update.NozzleTemp = clampTemp(p.NozzleTemper, &update.Clamped)
	update.NozzleTarget = clampTemp(p.NozzleTargetTemp, &update.Clamped)
	update.BedTemp = clampTemp(p.BedTemper, &update.Clamped)
	update.BedTarget = clampTemp(p.BedTargetTemp, &update.Clamped)
	update.ChamberTemp = clampTemp(p.ChamberTemper, &update.Clamped)
	if p.SpeedLevel != nil {
		update.SpeedLevel = p.SpeedLevel
	}
	if p.SubtaskID != "" {
		id := string(p.SubtaskID)
		update.JobID = &id
	}
	if p.SubtaskName != nil {
		update.JobFile = p.SubtaskName
	}
	if p.PrintType != nil {
		source := jobSourceFromPrintType(*p.PrintType)
		if source != "" {
			update.JobSource = &source
		}
	}
	if p.AMS != nil {
		update.AMS = decodeAMS(p.AMS)
		if tray, err := strconv.Atoi(string(p.AMS.TrayNow)); err == nil {
			update.ActiveTray = &tray
		}
	}
	if p.HMS != nil {
		update.HMSErrors = make([]domain.HMSError, 0, len(p.HMS))
		for _, h := range p.HMS {
			update.HMSErrors = append(update.HMSErrors, domain.HMSError{Attr: h.Attr, Code: h.Code})
		}
	}
	for _, light := range p.LightsReport {
		if light.Node == "chamber_light" {
			on := strings.EqualFold(light.Mode, "on")
			update.ChamberLight = &on
		}
	}

	return update
}

func decodeAMS(raw *rawAMS) []domain.AMSUnit {
	units := make([]domain.AMSUnit, 0, len(raw.Units))
	for i, rawUnit := range raw.Units {
		index := i
		if parsed, err := strconv.Atoi(string(rawUnit.ID)); err == nil {
			index = parsed
		}
		unit := domain.AMSUnit{Index: index, Trays: make([]domain.AMSTray, 0, len(rawUnit.Tray))}
		for _, rawT := range rawUnit.Tray {
			tray := domain.AMSTray{
				MaterialType: rawT.TrayType,
				Color:        rawT.TrayColor,
				Empty:        rawT.TrayType == "",
			}
			if rawT.Remain != nil {
				remain, _ := clampInt(*rawT.Remain, 0, 100)
				tray.RemainingPct = remain
			}
			unit.Trays = append(unit.Trays, tray)
		}
		units = append(units, unit)
	}
	return units
}

func normalizeMachineState(raw string) domain.MachineState {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "IDLE":
		return domain.MachineStateIdle
	case "PREPARE":
		return domain.MachineStatePrepare
	case "SLICING":
		return domain.MachineStateSlicing
	case "RUNNING":
		return domain.MachineStateRunning
	case "PAUSE":
		return domain.MachineStatePause
	case "FINISH":
		return domain.MachineStateFinish
	case "FAILED":
		return domain.MachineStateFailed
	case "OFFLINE":
		return domain.MachineStateOffline
	default:
		return domain.MachineStateUnknown
	}
}

func jobSourceFromPrintType(printType string) domain.JobSource {
	switch strings.ToLower(printType) {
	case "cloud":
		return domain.JobSourceCloud
	case "local":
		return domain.JobSourceLocal
	case "system":
		return domain.JobSourceSD
	default:
		return ""
	}
}

func clampInt(v, low, high int) (int, bool) {
	if v < low {
		return low, true
	}
	if v > high {
		return high, true
	}
	return v, false
}

// Readings far outside the hardware's physical envelope are sensor garbage;
// they get clamped and flagged instead of propagated.
const (
	minPlausibleTemp = -40.0
	maxPlausibleTemp = 500.0
)

func clampTemp(v *float64, clamped *bool) *float64 {
	if v == nil {
		return nil
	}
	out := *v
	if out < minPlausibleTemp {
		out = minPlausibleTemp
		*clamped = true
	}
	if out > maxPlausibleTemp {
		out = maxPlausibleTemp
		*clamped = true
	}
	return &out
}
