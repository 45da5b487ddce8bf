package service

import (
	"fmt"

	"github.com/The-Promised-Neverland/transporter/internal/models"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Service answers host questions about the filesystem holding the served
// directory.
type Service struct {
	dir string
}

func NewService(dir string) *Service {
	return &Service{dir: dir}
}

// FreeBytes is the space available to unprivileged writers on the served
// filesystem.
func (s *Service) FreeBytes() (uint64, error) {
	usage, err := disk.Usage(s.dir)
	if err != nil {
		return 0, fmt.Errorf("disk usage of %s: %w", s.dir, err)
	}
	return usage.Free, nil
}

func (s *Service) GetHostMetrics() *models.HostMetrics {
	metrics := &models.HostMetrics{}
	if cpuPercent, err := cpu.Percent(0, false); err == nil && len(cpuPercent) > 0 {
		metrics.CPUUsage = cpuPercent[0]
	}
	if memStat, err := mem.VirtualMemory(); err == nil {
		metrics.MemoryUsage = memStat.UsedPercent
	}
	if diskStat, err := disk.Usage(s.dir); err == nil {
		metrics.DiskUsage = diskStat.UsedPercent
		metrics.DiskFree = diskStat.Free
	}
	if hostInfo, err := host.Info(); err == nil {
		metrics.Hostname = hostInfo.Hostname
		metrics.OS = hostInfo.OS
		metrics.Uptime = hostInfo.Uptime
	}
	return metrics
}
