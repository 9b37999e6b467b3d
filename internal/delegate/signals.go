package delegate

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/psantana5/fluentd-launcher/internal/report"
)

// exitStatus derives exit code and reason from the wait status.
// A signaled process maps to 128+signal like a shell does.
func exitStatus(state *os.ProcessState) (int, report.ExitReason, string) {
	if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		sig := ws.Signal()
		return 128 + int(sig), report.ExitReasonSignal, SignalName(sig)
	}

	code := state.ExitCode()
	switch {
	case code == 0:
		return 0, report.ExitReasonSuccess, ""
	case code > 0:
		return code, report.ExitReasonError, ""
	default:
		return ExitCannotExecute, report.ExitReasonUnknown, ""
	}
}

// SignalName returns the signal name for a signal number
func SignalName(sig syscall.Signal) string {
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return fmt.Sprintf("SIG%d", int(sig))
}

// IsTermination reports whether sig asks the process to stop
func IsTermination(sig os.Signal) bool {
	switch sig {
	case syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT:
		return true
	}
	return false
}
