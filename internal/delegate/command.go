package delegate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/psantana5/fluentd-launcher/internal/logging"
	"github.com/psantana5/fluentd-launcher/internal/observe"
	"github.com/psantana5/fluentd-launcher/internal/report"
)

// DefaultKillTimeout bounds how long a forwarded termination signal may take
const DefaultKillTimeout = 60 * time.Second

// DefaultSignals are the signals a launcher relays to the delegated
// process. fluentd uses HUP, USR1 and USR2 for reload and buffer flush.
var DefaultSignals = []os.Signal{
	syscall.SIGINT,
	syscall.SIGTERM,
	syscall.SIGQUIT,
	syscall.SIGHUP,
	syscall.SIGUSR1,
	syscall.SIGUSR2,
}

// Command runs an external program in its own process group, with
// inherited stdio and environment.
type Command struct {
	Name string
	Env  []string // nil inherits the launcher's environment

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// KillTimeout after a forwarded termination signal before SIGKILL; zero disables
	KillTimeout time.Duration
	// Signals received here while the child runs are sent to it. The
	// caller owns signal.Notify; nil forwards nothing.
	Signals <-chan os.Signal

	// Started is called with the child pid right after it starts
	Started func(pid int)
	Logger  *logging.Logger
}

// NewCommand creates a command delegate with inherited stdio
func NewCommand(name string) *Command {
	return &Command{
		Name:        name,
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		KillTimeout: DefaultKillTimeout,
	}
}

// Run starts the command with args forwarded verbatim and waits for it.
// Signals arriving on c.Signals meanwhile are forwarded to the child.
func (c *Command) Run(ctx context.Context, args []string) (*report.Result, error) {
	logger := c.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	timing := observe.NewTiming()

	path, err := exec.LookPath(c.Name)
	if err != nil {
		return c.startFailed(args, timing, startExitCode(err), fmt.Errorf("cannot resolve %s: %w", c.Name, err))
	}

	cmd := exec.CommandContext(ctx, path)
	cmd.Args = append([]string{c.Name}, args...)
	cmd.Env = c.Env
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	cmd.SysProcAttr = sysProcAttr()
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = c.KillTimeout

	release, err := startChild(cmd)
	if err != nil {
		return c.startFailed(args, timing, startExitCode(err), fmt.Errorf("failed to start %s: %w", c.Name, err))
	}

	pid := cmd.Process.Pid
	logger.Debug("Delegated command started", map[string]interface{}{
		"command": path,
		"pid":     pid,
	})
	if c.Started != nil {
		c.Started(pid)
	}

	done := make(chan struct{})
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		c.forward(cmd.Process, c.Signals, done, logger)
	}()

	waitErr := cmd.Wait()
	release()
	close(done)
	<-forwarded

	res := c.result(args, pid, timing, cmd.ProcessState)
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return res, fmt.Errorf("failed waiting for %s: %w", c.Name, waitErr)
		}
	}
	return res, nil
}

// forward relays signals to the child until done is closed
func (c *Command) forward(proc *os.Process, sigCh <-chan os.Signal, done <-chan struct{}, logger *logging.Logger) {
	var timer *time.Timer
	var kill <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-done:
			return
		case sig := <-sigCh:
			logger.Info("Forwarding signal", map[string]interface{}{
				"signal": sig.String(),
				"pid":    proc.Pid,
			})
			if err := proc.Signal(sig); err != nil && !errors.Is(err, os.ErrProcessDone) {
				logger.Warn("Failed to forward signal", map[string]interface{}{
					"signal": sig.String(),
					"error":  err.Error(),
				})
			}
			if timer == nil && c.KillTimeout > 0 && IsTermination(sig) {
				timer = time.NewTimer(c.KillTimeout)
				kill = timer.C
			}
		case <-kill:
			kill = nil
			logger.Warn("Delegated command ignored termination, killing", map[string]interface{}{
				"pid":     proc.Pid,
				"timeout": c.KillTimeout.String(),
			})
			if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				logger.Error("Failed to kill delegated command", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

func (c *Command) result(args []string, pid int, timing *observe.Timing, state *os.ProcessState) *report.Result {
	if state == nil {
		res := report.NewResult(c.Name, args, pid, ExitCannotExecute, timing)
		res.SetExit(report.ExitReasonUnknown, "")
		return res
	}

	code, reason, sig := exitStatus(state)
	res := report.NewResult(c.Name, args, pid, code, timing)
	res.SetExit(reason, sig)
	return res
}

func (c *Command) startFailed(args []string, timing *observe.Timing, code int, err error) (*report.Result, error) {
	res := report.NewResult(c.Name, args, 0, code, timing)
	res.SetExit(report.ExitReasonStartFailed, "")
	return res, err
}

// startExitCode maps a start failure to 127 (not found) or 126
func startExitCode(err error) int {
	if errors.Is(err, exec.ErrNotFound) || errors.Is(err, fs.ErrNotExist) {
		return ExitNotFound
	}
	return ExitCannotExecute
}
