package domain

import "fmt"

// TrayUnassigned is the printer's sentinel for "no AMS tray selected"
// (external spool or AMS disabled).
const TrayUnassigned = 255

// Flatten produces the caller-facing flat tray list. Indices are assigned in
// unit order then slot order and stay contiguous; empty trays keep their
// index so the numbering survives material changes as long as no physical
// unit is added or removed.
func Flatten(units []AMSUnit) []AMSTray {
	total := 0
	for _, unit := range units {
		total += len(unit.Trays)
	}
	out := make([]AMSTray, 0, total)
	next := 0
	for unitIdx, unit := range units {
		for slotIdx, tray := range unit.Trays {
			tray.FlatIndex = next
			tray.UnitIndex = unitIdx
			tray.SlotIndex = slotIdx
			out = append(out, tray)
			next++
		}
	}
	return out
}

// ResolveAssignment maps a flat index back to the printer's native
// (unit, slot) addressing for the same inventory the index came from.
func ResolveAssignment(units []AMSUnit, flatIndex int) (unitIndex, slotIndex int, err error) {
	if flatIndex < 0 {
		return 0, 0, fmt.Errorf("flat tray index %d is negative", flatIndex)
	}
	remaining := flatIndex
	for unitIdx, unit := range units {
		if remaining < len(unit.Trays) {
			return unitIdx, remaining, nil
		}
		remaining -= len(unit.Trays)
	}
	return 0, 0, fmt.Errorf("flat tray index %d out of range", flatIndex)
}

// GlobalTrayID converts a (unit, slot) pair into the single tray number the
// printer expects in command payloads (4 slots per unit on current hardware).
func GlobalTrayID(unitIndex, slotIndex int) int {
	return unitIndex*4 + slotIndex
}
