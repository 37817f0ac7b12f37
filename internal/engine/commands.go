package engine

import (
	"context"
	"fmt"

	"bambulink/internal/domain"
	"bambulink/internal/printer"
)

// StartPrint asks the printer to print a file from its own storage.
// amsAssignment holds one flat tray index per filament slot of the sliced
// file; it is translated into the printer's native tray addressing against
// the current AMS inventory. The job itself is only created once the
// printer reports it has started.
func (e *Engine) StartPrint(ctx context.Context, file string, amsAssignment []int, opts *printer.StartPrintOptions) error {
	if _, active := e.monitor.CurrentJob(); active {
		return fmt.Errorf("%w: a job is already active", printer.ErrInvalidStateTransition)
	}

	resolved := e.printOptions(opts)
	if resolved.UseAMS && len(amsAssignment) > 0 {
		mapping, err := e.resolveAMSMapping(amsAssignment)
		if err != nil {
			return err
		}
		resolved.AMSMapping = mapping
	}

	cmd := printer.NewProjectFileCommand(file, e.cfg.Printer.DeviceFileURL(file), resolved)
	return e.roundTrip(ctx, cmd)
}

// Pause requests a pause of the active print. Rejected locally when no job
// is printing; no frame reaches the device in that case.
func (e *Engine) Pause(ctx context.Context) error {
	job, active := e.monitor.CurrentJob()
	if !active || job.Phase != domain.JobPhasePrinting {
		return fmt.Errorf("%w: no print to pause", printer.ErrInvalidStateTransition)
	}
	return e.roundTrip(ctx, printer.NewPauseCommand())
}

// Resume requests resumption of a paused print.
func (e *Engine) Resume(ctx context.Context) error {
	job, active := e.monitor.CurrentJob()
	if !active || job.Phase != domain.JobPhasePaused {
		return fmt.Errorf("%w: no paused print to resume", printer.ErrInvalidStateTransition)
	}
	return e.roundTrip(ctx, printer.NewResumeCommand())
}

// Cancel requests a stop of the active print. The printer reports a stopped
// job as FAILED; the cancel note lets the job monitor surface it as
// canceled instead.
func (e *Engine) Cancel(ctx context.Context) error {
	if _, active := e.monitor.CurrentJob(); !active {
		return fmt.Errorf("%w: no active print to cancel", printer.ErrInvalidStateTransition)
	}
	if err := e.roundTrip(ctx, printer.NewStopCommand()); err != nil {
		return err
	}
	e.monitor.NoteCancelRequested()
	return nil
}

// SetChamberLight switches the chamber light on or off.
func (e *Engine) SetChamberLight(ctx context.Context, on bool) error {
	return e.roundTrip(ctx, printer.NewChamberLightCommand(on))
}

// SetSpeedLevel adjusts the print speed profile (1 silent … 4 ludicrous).
func (e *Engine) SetSpeedLevel(ctx context.Context, level int) error {
	if level < 1 || level > 4 {
		return fmt.Errorf("speed level %d out of range 1..4", level)
	}
	return e.roundTrip(ctx, printer.NewPrintSpeedCommand(level))
}

// SendGcode submits a raw G-code line for immediate execution.
func (e *Engine) SendGcode(ctx context.Context, line string) error {
	return e.roundTrip(ctx, printer.NewGcodeLineCommand(line))
}

func (e *Engine) roundTrip(ctx context.Context, cmd printer.Command) error {
	handle, err := e.service.Submit(cmd)
	if err != nil {
		return err
	}
	return handle.Wait(ctx)
}

func (e *Engine) printOptions(opts *printer.StartPrintOptions) printer.StartPrintOptions {
	if opts != nil {
		return *opts
	}
	defaults := e.cfg.Print
	return printer.StartPrintOptions{
		Timelapse:     defaults.Timelapse,
		BedLeveling:   defaults.BedLeveling,
		FlowCali:      defaults.FlowCali,
		VibrationCali: defaults.VibrationCali,
		LayerInspect:  defaults.LayerInspect,
		UseAMS:        e.cfg.Printer.UseAMS,
	}
}

// resolveAMSMapping translates caller-facing flat tray indices into the
// printer's global tray numbers using the current inventory snapshot.
func (e *Engine) resolveAMSMapping(flatIndices []int) ([]int, error) {
	units := e.store.Snapshot().AMS
	mapping := make([]int, 0, len(flatIndices))
	for _, flat := range flatIndices {
		unitIdx, slotIdx, err := domain.ResolveAssignment(units, flat)
		if err != nil {
			return nil, fmt.Errorf("ams assignment: %w", err)
		}
		mapping = append(mapping, domain.GlobalTrayID(unitIdx, slotIdx))
	}
	return mapping, nil
}
