package report

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Metrics are exit-time gauges written once, in textfile format, for
// node_exporter's textfile collector. Boring gauges only.
type Metrics struct {
	registry *prometheus.Registry

	exitCode       prometheus.Gauge
	runtime        prometheus.Gauge
	peakRSS        prometheus.Gauge
	heapAlloc      prometheus.Gauge
	profileWritten prometheus.Gauge
}

// NewMetrics creates the gauges on a private registry
func NewMetrics(service string) *Metrics {
	labels := prometheus.Labels{"service": service}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "fluentd_launcher",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}

	m := &Metrics{
		registry:       prometheus.NewRegistry(),
		exitCode:       gauge("exit_code", "Exit code of the delegated command."),
		runtime:        gauge("runtime_seconds", "Wall time the delegated command ran."),
		peakRSS:        gauge("delegate_peak_rss_bytes", "Peak resident memory of the delegated process."),
		heapAlloc:      gauge("heap_alloc_bytes_total", "Bytes allocated by the launcher process during profiling."),
		profileWritten: gauge("profile_written", "1 if the memory profile report was written."),
	}

	m.registry.MustRegister(m.exitCode, m.runtime, m.peakRSS, m.heapAlloc, m.profileWritten)
	return m
}

// RecordResult updates gauges from the run outcome
func (m *Metrics) RecordResult(r *Result) {
	if r == nil {
		return
	}
	m.exitCode.Set(float64(r.ExitCode))
	m.runtime.Set(r.Duration.Seconds())
}

// RecordExitCode sets the exit code when no Result exists (launcher fault)
func (m *Metrics) RecordExitCode(code int) {
	m.exitCode.Set(float64(code))
}

// RecordReport updates gauges from the profile report
func (m *Metrics) RecordReport(rep *Report, written bool) {
	if written {
		m.profileWritten.Set(1)
	} else {
		m.profileWritten.Set(0)
	}
	if rep == nil {
		return
	}
	m.heapAlloc.Set(float64(rep.Memory.TotalAlloc))
	if rep.Delegate != nil {
		m.peakRSS.Set(float64(rep.Delegate.PeakRSS))
	}
}

// WriteTextfile writes the exposition format to path via temp file + rename,
// so the collector never reads a partial file.
func (m *Metrics) WriteTextfile(path string) error {
	families, err := m.registry.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create metrics temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	encoder := expfmt.NewEncoder(tmp, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			tmp.Close()
			return fmt.Errorf("failed to encode metric %s: %w", mf.GetName(), err)
		}
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close metrics temp file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to chmod metrics file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to rename metrics file: %w", err)
	}
	return nil
}
