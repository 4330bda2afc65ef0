package metrics

import (
	"os"
	"runtime"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemSummary is the "system_metrics" object.
type SystemSummary struct {
	UptimeSeconds   uint64  `json:"uptime_seconds"`
	Goroutines      int     `json:"goroutines"`
	HeapMB          float64 `json:"heap_mb"`
	MemoryUsageMB   float64 `json:"memory_usage_mb"`
	CPUUsagePercent float64 `json:"cpu_usage"`
	HostMemoryUsed  float64 `json:"host_memory_used_percent"`
}

// SystemStats samples process and host figures. Host readings that fail
// (containers without /proc, unsupported platforms) are left at zero.
type SystemStats struct {
	start time.Time
	proc  *process.Process
}

func NewSystemStats(start time.Time) *SystemStats {
	s := &SystemStats{start: start}
	if p, err := process.NewProcess(int32(os.Getpid())); err == nil {
		s.proc = p
	}
	return s
}

func (s *SystemStats) Sample(now time.Time) SystemSummary {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	out := SystemSummary{
		Goroutines: runtime.NumGoroutine(),
		HeapMB:     float64(ms.HeapAlloc) / (1 << 20),
	}
	if up := now.Sub(s.start); up > 0 {
		out.UptimeSeconds = uint64(up / time.Second)
	}
	if s.proc != nil {
		if info, err := s.proc.MemoryInfo(); err == nil {
			out.MemoryUsageMB = float64(info.RSS) / (1 << 20)
		}
		if pct, err := s.proc.CPUPercent(); err == nil {
			out.CPUUsagePercent = pct
		}
	} else if pcts, err := cpu.Percent(0, false); err == nil && len(pcts) > 0 {
		out.CPUUsagePercent = pcts[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		out.HostMemoryUsed = vm.UsedPercent
	}
	return out
}
