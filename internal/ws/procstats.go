package ws

import (
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessStats describes the daemon process and the host it runs on.
type ProcessStats struct {
	PID               int32   `json:"pid"`
	CPUPercent        float64 `json:"cpuPercent"`
	RSSBytes          uint64  `json:"rssBytes"`
	Threads           int32   `json:"threads"`
	Goroutines        int     `json:"goroutines"`
	HostMemoryPercent float64 `json:"hostMemoryPercent"`
}

func readProcessStats() (ProcessStats, error) {
	pid := int32(os.Getpid())
	p, err := process.NewProcess(pid)
	if err != nil {
		return ProcessStats{}, err
	}

	stats := ProcessStats{PID: pid, Goroutines: runtime.NumGoroutine()}
	if cpu, err := p.CPUPercent(); err == nil {
		stats.CPUPercent = cpu
	}
	if info, err := p.MemoryInfo(); err == nil && info != nil {
		stats.RSSBytes = info.RSS
	}
	if n, err := p.NumThreads(); err == nil {
		stats.Threads = n
	}
	if vm, err := mem.VirtualMemory(); err == nil && vm != nil {
		stats.HostMemoryPercent = vm.UsedPercent
	}
	return stats, nil
}
