package util

import (
	"context"

	"github.com/shirou/gopsutil/v3/process"
)

func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	alive, err := process.PidExists(int32(pid))
	if err != nil {
		// if an error occured, return false
		return false
	}

	return alive
}

// ProcessUsage is a snapshot of the resources used by a process.
type ProcessUsage struct {
	CPUPercent float64 `json:"cpu_percent"`
	RSS        uint64  `json:"rss_bytes"`
	Threads    int32   `json:"threads"`
}

func GetProcessUsage(ctx context.Context, pid int) (ProcessUsage, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return ProcessUsage{}, err
	}

	cpu, err := p.CPUPercentWithContext(ctx)
	if err != nil {
		return ProcessUsage{}, err
	}

	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return ProcessUsage{}, err
	}

	threads, err := p.NumThreadsWithContext(ctx)
	if err != nil {
		return ProcessUsage{}, err
	}

	return ProcessUsage{
		CPUPercent: cpu,
		RSS:        mem.RSS,
		Threads:    threads,
	}, nil
}
