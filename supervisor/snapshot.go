package supervisor

import (
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"github.com/skiff-cd/skiff/domain"
)

// enrich fills in memory/cpu/uptime from the OS when the supervisor reported
// zeros for a live process.
func enrich(snap domain.ProcessSnapshot) domain.ProcessSnapshot {
	if snap.PID <= 0 {
		return snap
	}
	if snap.MemoryMB > 0 && snap.CPUPercent > 0 && snap.UptimeSec > 0 {
		return snap
	}

	proc, err := process.NewProcess(snap.PID)
	if err != nil {
		return snap
	}

	if snap.MemoryMB == 0 {
		if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
			snap.MemoryMB = float64(mem.RSS) / (1024 * 1024)
		}
	}
	if snap.CPUPercent == 0 {
		if cpu, err := proc.CPUPercent(); err == nil {
			snap.CPUPercent = cpu
		}
	}
	if snap.UptimeSec == 0 {
		if created, err := proc.CreateTime(); err == nil && created > 0 {
			snap.UptimeSec = int64(time.Since(time.UnixMilli(created)).Seconds())
		}
	}
	return snap
}
