package printer

import (
	"encoding/json"
	"fmt"
	"time"
)

// Command is one outbound control frame before a sequence id is assigned.
// The section key ("print", "system", "pushing") selects the firmware
// subsystem that handles it.
type Command struct {
	Kind      string
	section   string
	fields    map[string]any
	CreatedAt time.Time
}

func newCommand(section, kind string, fields map[string]any) Command {
	if fields == nil {
		fields = map[string]any{}
	}
	fields["command"] = kind
	return Command{Kind: kind, section: section, fields: fields, CreatedAt: time.Now()}
}

// encode injects the assigned sequence id and serializes the frame.
func (c Command) encode(sequenceID string) ([]byte, error) {
	fields := make(map[string]any, len(c.fields)+1)
	for k, v := range c.fields {
		fields[k] = v
	}
	fields["sequence_id"] = sequenceID
	payload, err := json.Marshal(map[string]any{c.section: fields})
	if err != nil {
		return nil, fmt.Errorf("encode %s command: %w", c.Kind, err)
	}
	return payload, nil
}

func NewPauseCommand() Command {
	return newCommand("print", "pause", nil)
}

func NewResumeCommand() Command {
	return newCommand("print", "resume", nil)
}

func NewStopCommand() Command {
	return newCommand("print", "stop", nil)
}

// NewPushAllCommand asks the printer for a full status report. Sent after
// every (re)connect and periodically as a keep-alive: P1-series firmware
// stops pushing deltas to quiet subscribers.
func NewPushAllCommand() Command {
	return newCommand("pushing", "pushall", nil)
}

func NewGcodeLineCommand(line string) Command {
	return newCommand("print", "gcode_line", map[string]any{"param": line})
}

func NewPrintSpeedCommand(level int) Command {
	return newCommand("print", "print_speed", map[string]any{"param": fmt.Sprintf("%d", level)})
}

func NewChamberLightCommand(on bool) Command {
	mode := "off"
	if on {
		mode = "on"
	}
	return newCommand("system", "ledctrl", map[string]any{
		"led_node":      "chamber_light",
		"led_mode":      mode,
		"led_on_time":   500,
		"led_off_time":  500,
		"loop_times":    0,
		"interval_time": 0,
	})
}

// StartPrintOptions carry the per-job toggles the slicer would normally set.
type StartPrintOptions struct {
	Timelapse     bool
	BedLeveling   bool
	FlowCali      bool
	VibrationCali bool
	LayerInspect  bool
	UseAMS        bool
	AMSMapping    []int
	PlateGcode    string
}

// NewProjectFileCommand starts a print of a file already on the printer's
// storage. fileURL is the device-local URL (the sdcard mount point differs
// between X1- and P1-series machines).
func NewProjectFileCommand(file, fileURL string, opts StartPrintOptions) Command {
	plate := opts.PlateGcode
	if plate == "" {
		plate = "Metadata/plate_1.gcode"
	}
	fields := map[string]any{
		"param":          plate,
		"md5":            "",
		"profile_id":     "0",
		"project_id":     "0",
		"subtask_id":     "0",
		"task_id":        "0",
		"subtask_name":   file,
		"file":           file,
		"url":            fileURL,
		"timelapse":      opts.Timelapse,
		"bed_leveling":   opts.BedLeveling,
		"flow_cali":      opts.FlowCali,
		"vibration_cali": opts.VibrationCali,
		"layer_inspect":  opts.LayerInspect,
		"use_ams":        opts.UseAMS,
	}
	if opts.UseAMS && len(opts.AMSMapping) > 0 {
		fields["ams_mapping"] = opts.AMSMapping
	}
	return newCommand("print", "project_file", fields)
}
