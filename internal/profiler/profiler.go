// Package profiler samples heap allocations of the launcher process between
// an explicit Start and Stop. Profiling is diagnostic: every failure mode
// here is meant to be logged and ignored by the caller.
package profiler

import (
	"errors"

	"github.com/psantana5/fluentd-launcher/internal/report"
)

var (
	// ErrUnavailable means the runtime cannot profile (e.g. GODEBUG=memprofilerate=0)
	ErrUnavailable = errors.New("memory profiling unavailable")

	// ErrSessionActive means a session is already running in this process
	ErrSessionActive = errors.New("memory profiling session already active")
)

// Profiler starts a profiling session
type Profiler interface {
	Start() (Session, error)
}

// Session is an active profiling session. Stop may be called more than
// once; later calls return the first result.
type Session interface {
	Stop() (*report.Report, error)
}

// Disabled never starts a session
type Disabled struct{}

// Start always fails with ErrUnavailable
func (Disabled) Start() (Session, error) {
	return nil, ErrUnavailable
}

// Noop returns a session whose Stop yields no report
func Noop() Session {
	return noopSession{}
}

type noopSession struct{}

func (noopSession) Stop() (*report.Report, error) {
	return nil, nil
}
