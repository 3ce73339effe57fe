// Package sysres runs host resource preflight checks before a run
package sysres

import (
	"context"
	"fmt"

	"cardbatch/internal/platform/logger"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Thresholds below which a warning is raised
type Thresholds struct {
	MinFreeDiskBytes uint64
	MaxMemoryPercent float64
}

// DefaultThresholds are 1 GiB free disk and 85% memory use
var DefaultThresholds = Thresholds{MinFreeDiskBytes: 1 << 30, MaxMemoryPercent: 85}

// Checker reads disk and memory usage
type Checker struct {
	T         Thresholds
	diskUsage func(ctx context.Context, path string) (*disk.UsageStat, error)
	memory    func(ctx context.Context) (*mem.VirtualMemoryStat, error)
}

// NewChecker uses gopsutil for readings
func NewChecker(t Thresholds) *Checker {
	return &Checker{T: t, diskUsage: disk.UsageWithContext, memory: mem.VirtualMemoryWithContext}
}

// Check returns human readable warnings; failures to read are warnings too. Never blocks a run
func (c *Checker) Check(ctx context.Context, path string) []string {
	var warns []string
	if du, err := c.diskUsage(ctx, path); err != nil {
		warns = append(warns, fmt.Sprintf("disk usage unavailable for %s: %v", path, err))
	} else if du.Free < c.T.MinFreeDiskBytes {
		warns = append(warns, fmt.Sprintf("low disk space on %s: %.1f MiB free", path, float64(du.Free)/(1<<20)))
	}
	if vm, err := c.memory(ctx); err != nil {
		warns = append(warns, fmt.Sprintf("memory usage unavailable: %v", err))
	} else if vm.UsedPercent >= c.T.MaxMemoryPercent {
		warns = append(warns, fmt.Sprintf("high memory use: %.1f%%", vm.UsedPercent))
	}
	log := logger.Named("sysres")
	for _, w := range warns {
		log.Warn().Msg(w)
	}
	return warns
}
