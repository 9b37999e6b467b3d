package profiler

import (
	"bytes"
	"fmt"
	"runtime"
	"runtime/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/pprof/profile"

	"github.com/psantana5/fluentd-launcher/internal/report"
)

// only one session per process: MemProfileRate is process-wide
var active atomic.Bool

// Runtime profiles the Go heap via runtime.MemProfileRate sampling
type Runtime struct {
	SampleRate int
	TopN       int
}

// NewRuntime creates a runtime heap profiler
func NewRuntime(sampleRate, topN int) *Runtime {
	return &Runtime{SampleRate: sampleRate, TopN: topN}
}

// Start sets the sampling rate and records the baseline
func (p *Runtime) Start() (Session, error) {
	if runtime.MemProfileRate == 0 {
		return nil, ErrUnavailable
	}
	if !active.CompareAndSwap(false, true) {
		return nil, ErrSessionActive
	}

	s := &runtimeSession{
		prevRate: runtime.MemProfileRate,
		topN:     p.TopN,
	}
	if p.SampleRate > 0 {
		runtime.MemProfileRate = p.SampleRate
	}
	s.sampleRate = runtime.MemProfileRate

	runtime.GC()
	runtime.ReadMemStats(&s.baseStats)
	s.base, s.baseErr = heapProfile()
	s.startedAt = time.Now()

	return s, nil
}

type runtimeSession struct {
	prevRate   int
	sampleRate int
	topN       int

	startedAt time.Time
	baseStats runtime.MemStats
	base      *profile.Profile
	baseErr   error

	once sync.Once
	rep  *report.Report
	err  error
}

func (s *runtimeSession) Stop() (*report.Report, error) {
	s.once.Do(func() {
		defer active.Store(false)
		defer func() { runtime.MemProfileRate = s.prevRate }()
		s.rep, s.err = s.stop()
	})
	return s.rep, s.err
}

func (s *runtimeSession) stop() (*report.Report, error) {
	runtime.GC()

	var end runtime.MemStats
	runtime.ReadMemStats(&end)

	rep := &report.Report{
		StartedAt:  s.startedAt,
		StoppedAt:  time.Now(),
		SampleRate: s.sampleRate,
		Memory: report.MemStats{
			TotalAlloc:  end.TotalAlloc - s.baseStats.TotalAlloc,
			Mallocs:     end.Mallocs - s.baseStats.Mallocs,
			Frees:       end.Frees - s.baseStats.Frees,
			NumGC:       end.NumGC - s.baseStats.NumGC,
			HeapInuse:   end.HeapInuse,
			HeapObjects: end.HeapObjects,
			Sys:         end.Sys,
		},
	}

	final, err := heapProfile()
	if err != nil {
		rep.AddNote("heap profile unavailable: %v", err)
		return rep, nil
	}

	delta := final
	switch {
	case s.baseErr != nil:
		rep.AddNote("baseline heap profile unavailable (%v); sites are cumulative since process start", s.baseErr)
	default:
		d, err := subtract(final, s.base)
		if err != nil {
			rep.AddNote("cannot subtract baseline (%v); sites are cumulative since process start", err)
		} else {
			delta = d
		}
	}

	fillSites(rep, delta, s.topN)
	return rep, nil
}

// heapProfile captures the current heap profile as a parsed pprof profile
func heapProfile() (*profile.Profile, error) {
	heap := pprof.Lookup("heap")
	if heap == nil {
		return nil, ErrUnavailable
	}

	var buf bytes.Buffer
	if err := heap.WriteTo(&buf, 0); err != nil {
		return nil, fmt.Errorf("failed to write heap profile: %w", err)
	}

	p, err := profile.Parse(&buf)
	if err != nil {
		return nil, fmt.Errorf("failed to parse heap profile: %w", err)
	}
	return p, nil
}

// subtract returns final - base. Heap alloc_* values are cumulative, so the
// difference is what was allocated during the session.
func subtract(final, base *profile.Profile) (*profile.Profile, error) {
	neg := base.Copy()
	neg.Scale(-1)

	return profile.Merge([]*profile.Profile{final.Copy(), neg})
}
