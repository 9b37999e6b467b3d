package report

import (
	"time"

	"github.com/psantana5/fluentd-launcher/internal/logging"
	"github.com/psantana5/fluentd-launcher/internal/observe"
)

// ExitReason describes why the delegated command terminated
type ExitReason string

const (
	ExitReasonSuccess     ExitReason = "success"      // Exit code 0
	ExitReasonError       ExitReason = "error"        // Exit code != 0
	ExitReasonSignal      ExitReason = "signal"       // Killed by signal
	ExitReasonStartFailed ExitReason = "start_failed" // Never started
	ExitReasonUnknown     ExitReason = "unknown"
)

// Result is the immutable outcome of one delegated run. Set once, never change.
type Result struct {
	Command string
	Args    []string
	PID     int

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	ExitCode   int
	ExitReason ExitReason
	Signal     string
}

// NewResult completes timing and creates the result
func NewResult(command string, args []string, pid, exitCode int, timing *observe.Timing) *Result {
	timing.Complete()
	return &Result{
		Command:    command,
		Args:       args,
		PID:        pid,
		ExitCode:   exitCode,
		StartTime:  timing.StartedAt,
		EndTime:    timing.CompletedAt,
		Duration:   timing.Duration(),
		ExitReason: ExitReasonUnknown,
	}
}

// SetExit records why the command ended. Call this ONCE at completion.
func (r *Result) SetExit(reason ExitReason, signal string) {
	r.ExitReason = reason
	r.Signal = signal
}

// LogSummary emits a one-line summary of the run
func (r *Result) LogSummary(logger *logging.Logger) {
	fields := map[string]interface{}{
		"command":     r.Command,
		"pid":         r.PID,
		"exit_code":   r.ExitCode,
		"exit_reason": string(r.ExitReason),
		"runtime":     r.Duration.Round(time.Millisecond).String(),
	}
	if r.Signal != "" {
		fields["signal"] = r.Signal
	}

	if r.ExitReason == ExitReasonSuccess {
		logger.Info("Delegated command exited", fields)
		return
	}
	logger.Warn("Delegated command exited", fields)
}
