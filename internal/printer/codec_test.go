package printer

import (
	"errors"
	"testing"

	"bambulink/internal/domain"
)

func TestDecode_RunningStatusFrame(t *testing.T) {
	raw := []byte(`{"print":{"command":"push_status","sequence_id":"2021","gcode_state":"RUNNING","mc_percent":42}}`)

	update, ack, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ack != nil {
		t.Fatalf("push_status must not produce an ack, got %+v", ack)
	}
	if update.Machine == nil || *update.Machine != domain.MachineStateRunning {
		t.Fatalf("expected RUNNING machine state, got %v", update.Machine)
	}
	if update.Progress == nil || *update.Progress != 42 {
		t.Fatalf("expected progress 42, got %v", update.Progress)
	}
	if update.Clamped {
		t.Fatalf("in-range values must not be flagged as clamped")
	}
}

func TestDecode_UnparsableFrameYieldsDecodeError(t *testing.T) {
	_, _, err := Decode([]byte(`{"print": not json`))
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected *DecodeError, got %v", err)
	}
}

func TestDecode_FrameWithoutKnownSectionYieldsDecodeError(t *testing.T) {
	_, _, err := Decode([]byte(`{"camera":{"command":"ipcam_record_set"}}`))
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected *DecodeError, got %v", err)
	}
}

func TestDecode_OutOfRangePercentIsClampedAndFlagged(t *testing.T) {
	update, _, err := Decode([]byte(`{"print":{"command":"push_status","mc_percent":140}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if update.Progress == nil || *update.Progress != 100 {
		t.Fatalf("expected clamped progress 100, got %v", update.Progress)
	}
	if !update.Clamped {
		t.Fatalf("expected clamped flag for out-of-range percent")
	}
}

func TestDecode_UnknownFieldsAreIgnored(t *testing.T) {
	raw := []byte(`{"print":{"command":"push_status","gcode_state":"IDLE","some_future_field":{"a":1},"wifi_signal":"-44dBm"}}`)
	update, _, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if update.Machine == nil || *update.Machine != domain.MachineStateIdle {
		t.Fatalf("expected IDLE, got %v", update.Machine)
	}
}

func TestDecode_PrintAckFrame(t *testing.T) {
	raw := []byte(`{"print":{"command":"pause","sequence_id":"7","result":"success"}}`)
	update, ack, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ack == nil {
		t.Fatalf("expected an ack for pause response")
	}
	if ack.SequenceID != "7" || ack.Command != "pause" || !ack.Ok() {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if !update.Empty() {
		t.Fatalf("pause ack must not carry telemetry, got %+v", update)
	}
}

func TestDecode_SystemAckFrame(t *testing.T) {
	raw := []byte(`{"system":{"command":"ledctrl","sequence_id":"9","result":"fail","reason":"busy"}}`)
	_, ack, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ack == nil || ack.SequenceID != "9" || ack.Ok() {
		t.Fatalf("expected failed ledctrl ack, got %+v", ack)
	}
	if ack.Reason != "busy" {
		t.Fatalf("expected reason to survive decode, got %q", ack.Reason)
	}
}

func TestDecode_NumericSequenceIDIsAccepted(t *testing.T) {
	raw := []byte(`{"print":{"command":"resume","sequence_id":12,"result":"success"}}`)
	_, ack, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ack == nil || ack.SequenceID != "12" {
		t.Fatalf("expected sequence id 12, got %+v", ack)
	}
}

func TestDecode_AMSInventoryAndActiveTray(t *testing.T) {
	raw := []byte(`{"print":{"command":"push_status","ams":{"tray_now":"2","ams":[
		{"id":"0","tray":[
			{"id":"0","tray_type":"PLA","tray_color":"AA0000FF","remain":74},
			{"id":"1","tray_type":"","tray_color":"","remain":-1}
		]}
	]}}}`)

	update, _, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(update.AMS) != 1 {
		t.Fatalf("expected one AMS unit, got %d", len(update.AMS))
	}
	trays := update.AMS[0].Trays
	if len(trays) != 2 {
		t.Fatalf("expected two trays, got %d", len(trays))
	}
	if trays[0].MaterialType != "PLA" || trays[0].Color != "AA0000FF" || trays[0].RemainingPct != 74 {
		t.Fatalf("unexpected first tray: %+v", trays[0])
	}
	if !trays[1].Empty {
		t.Fatalf("tray without material must be marked empty")
	}
	if trays[1].RemainingPct != 0 {
		t.Fatalf("unknown remain must clamp to 0, got %d", trays[1].RemainingPct)
	}
	if update.ActiveTray == nil || *update.ActiveTray != 2 {
		t.Fatalf("expected active tray 2, got %v", update.ActiveTray)
	}
}

func TestDecode_TemperaturesAndChamberLight(t *testing.T) {
	raw := []byte(`{"print":{"command":"push_status",
		"nozzle_temper":215.5,"nozzle_target_temper":220,
		"bed_temper":55,"bed_target_temper":60,"chamber_temper":31,
		"lights_report":[{"node":"chamber_light","mode":"on"}]}}`)

	update, _, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if update.NozzleTemp == nil || *update.NozzleTemp != 215.5 {
		t.Fatalf("expected nozzle temp 215.5, got %v", update.NozzleTemp)
	}
	if update.BedTarget == nil || *update.BedTarget != 60 {
		t.Fatalf("expected bed target 60, got %v", update.BedTarget)
	}
	if update.ChamberLight == nil || !*update.ChamberLight {
		t.Fatalf("expected chamber light on, got %v", update.ChamberLight)
	}
}
