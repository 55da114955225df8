// Package sysinfo samples host resource usage for the status surface.
package sysinfo

import (
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Snapshot is a point-in-time resource reading.
type Snapshot struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryUsedGB  float64 `json:"memory_used_gb"`
}

// Sample reads current CPU and memory usage. Sampling errors degrade to
// zeroed fields rather than failing the status endpoint.
func Sample() Snapshot {
	var snap Snapshot

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		snap.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		snap.MemoryPercent = vm.UsedPercent
		snap.MemoryTotalGB = float64(vm.Total) / (1 << 30)
		snap.MemoryUsedGB = float64(vm.Used) / (1 << 30)
	}
	return snap
}
