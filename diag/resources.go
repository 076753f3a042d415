package diag

import (
	"fmt"

	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

// ResourceSnapshot is a best-effort host resource reading attached to a
// verbose diagnostic dump (spec.md §7 "verbose" reporting). Capture never
// fails the simulation: a read error just leaves its field zeroed.
type ResourceSnapshot struct {
	UsedMemoryBytes  uint64
	TotalMemoryBytes uint64
	CPUPercent       float64
}

// CaptureResources reads the host's current memory and CPU utilization.
// Errors from either reading are swallowed; a zeroed snapshot still prints.
func CaptureResources() ResourceSnapshot {
	var snap ResourceSnapshot
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.UsedMemoryBytes = vm.Used
		snap.TotalMemoryBytes = vm.Total
	}
	if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		snap.CPUPercent = pcts[0]
	}
	return snap
}

func (s ResourceSnapshot) String() string {
	return fmt.Sprintf("mem %d/%d bytes, cpu %.1f%%", s.UsedMemoryBytes, s.TotalMemoryBytes, s.CPUPercent)
}
