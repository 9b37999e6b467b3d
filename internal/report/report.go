package report

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/psantana5/fluentd-launcher/internal/observe"
)

// Path returns <dir>/<service>_memory_profile.<pid>
func Path(dir, service string, pid int) string {
	return filepath.Join(dir, service+"_memory_profile."+strconv.Itoa(pid))
}

// Site is one row of an allocation table
type Site struct {
	Name    string
	Bytes   int64
	Objects int64
	Pct     float64
}

// MemStats is the runtime.MemStats delta between session start and stop
type MemStats struct {
	TotalAlloc  uint64
	Mallocs     uint64
	Frees       uint64
	NumGC       uint32
	HeapInuse   uint64
	HeapObjects uint64
	Sys         uint64
}

// Report is the human-readable outcome of one profiling session. It is
// written once at exit and never read back.
type Report struct {
	LaunchID string
	Service  string
	PID      int
	Command  []string

	StartedAt  time.Time
	StoppedAt  time.Time
	SampleRate int

	Memory MemStats

	// Allocation sites during the session, from the sampled heap profile
	AllocatedBytes   []Site
	AllocatedObjects []Site
	RetainedBytes    []Site
	ByPackage        []Site

	// Delegated process memory, when sampled
	Delegate *observe.MemoryStats
	Result   *Result

	Notes []string
}

// AddNote records a non-fatal problem hit while building the report
func (r *Report) AddNote(format string, args ...interface{}) {
	r.Notes = append(r.Notes, fmt.Sprintf(format, args...))
}

// Render writes the report as text. No schema; meant for people.
func (r *Report) Render(w io.Writer) error {
	var b bytes.Buffer

	fmt.Fprintf(&b, "Memory profile for %s (pid %d)\n", r.Service, r.PID)
	if r.LaunchID != "" {
		fmt.Fprintf(&b, "Launch ID: %s\n", r.LaunchID)
	}
	if len(r.Command) > 0 {
		fmt.Fprintf(&b, "Command: %s\n", strings.Join(r.Command, " "))
	}
	fmt.Fprintf(&b, "Started: %s\n", r.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Stopped: %s\n", r.StoppedAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "Duration: %s\n", r.StoppedAt.Sub(r.StartedAt).Round(time.Millisecond))
	if r.SampleRate > 0 {
		fmt.Fprintf(&b, "Sampling: 1 sample per %s allocated\n", humanize.IBytes(uint64(r.SampleRate)))
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "Total allocated: %s (%s objects)\n",
		humanize.IBytes(r.Memory.TotalAlloc), humanize.Comma(int64(r.Memory.Mallocs)))
	fmt.Fprintf(&b, "Total freed: %s objects\n", humanize.Comma(int64(r.Memory.Frees)))
	fmt.Fprintf(&b, "Heap in use at stop: %s (%s objects)\n",
		humanize.IBytes(r.Memory.HeapInuse), humanize.Comma(int64(r.Memory.HeapObjects)))
	fmt.Fprintf(&b, "Obtained from OS: %s\n", humanize.IBytes(r.Memory.Sys))
	fmt.Fprintf(&b, "GC cycles: %d\n", r.Memory.NumGC)

	if r.Result != nil {
		section(&b, "delegated command")
		fmt.Fprintf(&b, "PID: %d\n", r.Result.PID)
		fmt.Fprintf(&b, "Exit code: %d\n", r.Result.ExitCode)
		fmt.Fprintf(&b, "Exit reason: %s\n", r.Result.ExitReason)
		if r.Result.Signal != "" {
			fmt.Fprintf(&b, "Signal: %s\n", r.Result.Signal)
		}
		fmt.Fprintf(&b, "Runtime: %s\n", r.Result.Duration.Round(time.Millisecond))
	}

	if d := r.Delegate; d != nil && d.Samples > 0 {
		section(&b, "delegated process memory")
		fmt.Fprintf(&b, "Samples: %d\n", d.Samples)
		fmt.Fprintf(&b, "Peak RSS: %s", humanize.IBytes(d.PeakRSS))
		if d.HostTotal > 0 {
			fmt.Fprintf(&b, " (%.1f%% of host)", float64(d.PeakRSS)/float64(d.HostTotal)*100)
		}
		b.WriteString("\n")
		fmt.Fprintf(&b, "Last RSS: %s\n", humanize.IBytes(d.LastRSS))
		fmt.Fprintf(&b, "Peak VMS: %s\n", humanize.IBytes(d.PeakVMS))
	}

	if err := siteTable(&b, "allocated memory by location", r.AllocatedBytes, true); err != nil {
		return err
	}
	if err := siteTable(&b, "allocated objects by location", r.AllocatedObjects, false); err != nil {
		return err
	}
	if err := siteTable(&b, "retained memory by location", r.RetainedBytes, true); err != nil {
		return err
	}
	if err := siteTable(&b, "allocated memory by package", r.ByPackage, true); err != nil {
		return err
	}

	if len(r.Notes) > 0 {
		section(&b, "notes")
		for _, n := range r.Notes {
			fmt.Fprintf(&b, "- %s\n", n)
		}
	}

	_, err := w.Write(b.Bytes())
	return err
}

// WriteFile renders the report to path, replacing any previous content
func (r *Report) WriteFile(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create report %s: %w", path, err)
	}

	if err := r.Render(f); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close report %s: %w", path, err)
	}
	return nil
}

func section(b *bytes.Buffer, title string) {
	fmt.Fprintf(b, "\n%s\n%s\n", title, strings.Repeat("-", 40))
}

func siteTable(b *bytes.Buffer, title string, sites []Site, bytesFirst bool) error {
	if len(sites) == 0 {
		return nil
	}
	section(b, title)

	table := tablewriter.NewWriter(b)
	if bytesFirst {
		table.Header("Bytes", "Objects", "%", "Location")
	} else {
		table.Header("Objects", "Bytes", "%", "Location")
	}

	for _, s := range sites {
		size := humanize.IBytes(uint64(s.Bytes))
		count := humanize.Comma(s.Objects)
		pct := fmt.Sprintf("%.1f", s.Pct)

		row := []string{size, count, pct, s.Name}
		if !bytesFirst {
			row = []string{count, size, pct, s.Name}
		}
		if err := table.Append(row); err != nil {
			return err
		}
	}

	return table.Render()
}
