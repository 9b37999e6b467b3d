package observe

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// MemoryStats summarizes the sampled memory of one process
type MemoryStats struct {
	PID       int
	Samples   int
	PeakRSS   uint64
	LastRSS   uint64
	PeakVMS   uint64
	HostTotal uint64
	FirstAt   time.Time
	LastAt    time.Time
}

// Sampler polls RSS/VMS of a process. Passive: it never signals the target.
// Any sampling error ends sampling; memory stats are diagnostic only.
type Sampler struct {
	interval time.Duration

	mu    sync.Mutex
	stats MemoryStats
}

// NewSampler creates a sampler polling every interval
func NewSampler(interval time.Duration) *Sampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Sampler{interval: interval}
}

// Run samples pid until ctx is done or the process is gone
func (s *Sampler) Run(ctx context.Context, pid int) {
	proc, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return
	}

	s.mu.Lock()
	s.stats = MemoryStats{PID: pid}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		s.stats.HostTotal = vm.Total
	}
	s.mu.Unlock()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if !s.sample(ctx, proc) {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Sampler) sample(ctx context.Context, proc *process.Process) bool {
	info, err := proc.MemoryInfoWithContext(ctx)
	if err != nil || info == nil {
		return false
	}

	s.record(info.RSS, info.VMS, time.Now())
	return true
}

func (s *Sampler) record(rss, vms uint64, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stats.Samples == 0 {
		s.stats.FirstAt = at
	}
	s.stats.Samples++
	s.stats.LastAt = at
	s.stats.LastRSS = rss
	if rss > s.stats.PeakRSS {
		s.stats.PeakRSS = rss
	}
	if vms > s.stats.PeakVMS {
		s.stats.PeakVMS = vms
	}
}

// Snapshot returns the stats collected so far
func (s *Sampler) Snapshot() MemoryStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
