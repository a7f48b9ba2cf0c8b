package sysmetrics

import (
	"fmt"
	"sync"

	"github.com/prometheus/procfs"
)

// Source reads host utilisation in percent.
type Source interface {
	CPUUsage() (float64, error)
	MemoryUsage() (float64, error)
}

// ProcSource reads /proc through procfs.
//
// CPU usage is the busy share of jiffies since the previous call, so the
// first reading covers the time since boot.
type ProcSource struct {
	fs procfs.FS

	mu      sync.Mutex
	prev    procfs.CPUStat
	hasPrev bool
}

// NewProcSource opens the proc filesystem at mountPoint. An empty
// mountPoint uses procfs.DefaultMountPoint.
func NewProcSource(mountPoint string) (*ProcSource, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}

	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("open procfs: %w", err)
	}

	return &ProcSource{fs: fs}, nil
}

// CPUUsage returns the aggregate CPU busy percentage.
func (p *ProcSource) CPUUsage() (float64, error) {
	stat, err := p.fs.Stat()
	if err != nil {
		return 0, fmt.Errorf("read /proc/stat: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	cur := stat.CPUTotal
	busy, total := busyTotal(cur)

	if p.hasPrev {
		prevBusy, prevTotal := busyTotal(p.prev)
		busy -= prevBusy
		total -= prevTotal
	}
	p.prev = cur
	p.hasPrev = true

	if total <= 0 {
		return 0, nil
	}
	return clamp(busy / total * 100), nil
}

// MemoryUsage returns the share of memory not available for new
// allocations.
func (p *ProcSource) MemoryUsage() (float64, error) {
	mi, err := p.fs.Meminfo()
	if err != nil {
		return 0, fmt.Errorf("read /proc/meminfo: %w", err)
	}

	if mi.MemTotal == nil || *mi.MemTotal == 0 {
		return 0, fmt.Errorf("meminfo has no MemTotal")
	}
	total := float64(*mi.MemTotal)

	var available float64
	switch {
	case mi.MemAvailable != nil:
		available = float64(*mi.MemAvailable)
	case mi.MemFree != nil:
		// Kernels before 3.14
		available = float64(*mi.MemFree)
		if mi.Buffers != nil {
			available += float64(*mi.Buffers)
		}
		if mi.Cached != nil {
			available += float64(*mi.Cached)
		}
	default:
		return 0, fmt.Errorf("meminfo has neither MemAvailable nor MemFree")
	}

	return clamp((total - available) / total * 100), nil
}

func busyTotal(c procfs.CPUStat) (busy, total float64) {
	idle := c.Idle + c.Iowait
	busy = c.User + c.Nice + c.System + c.IRQ + c.SoftIRQ + c.Steal
	return busy, busy + idle
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return v
	}
}
