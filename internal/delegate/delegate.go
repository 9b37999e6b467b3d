// Package delegate hands control to the daemon the launcher bootstraps.
package delegate

import (
	"context"
	"os"

	"github.com/psantana5/fluentd-launcher/internal/observe"
	"github.com/psantana5/fluentd-launcher/internal/report"
)

// Shell conventions for commands that could not be started
const (
	ExitCannotExecute = 126
	ExitNotFound      = 127
)

// Delegate runs the delegated command with the launcher's arguments.
// The returned result is non-nil whenever an exit code is known, including
// start failures; err carries the reason the command could not run or be
// waited for.
type Delegate interface {
	Run(ctx context.Context, args []string) (*report.Result, error)
}

// Func adapts an in-process entry point returning an exit code. It should
// return once ctx is done.
type Func func(ctx context.Context, args []string) int

// Run calls f and records its exit code
func (f Func) Run(ctx context.Context, args []string) (*report.Result, error) {
	timing := observe.NewTiming()
	code := f(ctx, args)

	res := report.NewResult("func", args, os.Getpid(), code, timing)
	if code == 0 {
		res.SetExit(report.ExitReasonSuccess, "")
	} else {
		res.SetExit(report.ExitReasonError, "")
	}
	return res, nil
}
