// Package launcher bootstraps the fluentd daemon: library search path,
// best-effort memory profiling, an exit report, then delegation.
package launcher

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"
	"sync"

	"github.com/google/uuid"

	"github.com/psantana5/fluentd-launcher/internal/config"
	"github.com/psantana5/fluentd-launcher/internal/delegate"
	"github.com/psantana5/fluentd-launcher/internal/exithook"
	"github.com/psantana5/fluentd-launcher/internal/logging"
	"github.com/psantana5/fluentd-launcher/internal/observe"
	"github.com/psantana5/fluentd-launcher/internal/profiler"
	"github.com/psantana5/fluentd-launcher/internal/report"
	"github.com/psantana5/fluentd-launcher/internal/searchpath"
)

// ExitSoftware is returned when the launcher itself panics (EX_SOFTWARE)
const ExitSoftware = 70

// Launcher runs one bootstrap sequence
type Launcher struct {
	cfg        *config.Config
	logger     *logging.Logger
	profiler   profiler.Profiler
	delegate   delegate.Delegate
	sampler    *observe.Sampler
	pid        int
	executable func() (string, error)
	signals    []os.Signal
}

// Option configures a Launcher
type Option func(*Launcher)

// WithProfiler replaces the profiler chosen from config
func WithProfiler(p profiler.Profiler) Option {
	return func(l *Launcher) { l.profiler = p }
}

// WithDelegate replaces the external command
func WithDelegate(d delegate.Delegate) Option {
	return func(l *Launcher) { l.delegate = d }
}

// WithLogger sets the logger. It is closed by the last exit hook.
func WithLogger(logger *logging.Logger) Option {
	return func(l *Launcher) { l.logger = logger }
}

// WithSampler sets the delegated-process memory sampler; nil disables it
func WithSampler(s *observe.Sampler) Option {
	return func(l *Launcher) { l.sampler = s }
}

// WithPID overrides the pid used in the report path
func WithPID(pid int) Option {
	return func(l *Launcher) { l.pid = pid }
}

// WithExecutable overrides how the launcher binary's path is found
func WithExecutable(fn func() (string, error)) Option {
	return func(l *Launcher) { l.executable = fn }
}

// WithSignals replaces the signals the launcher handles and relays
func WithSignals(sigs ...os.Signal) Option {
	return func(l *Launcher) { l.signals = sigs }
}

// New creates a launcher. A nil cfg means defaults.
func New(cfg *config.Config, opts ...Option) *Launcher {
	if cfg == nil {
		cfg = config.Default()
	}

	l := &Launcher{
		cfg:        cfg,
		pid:        os.Getpid(),
		executable: searchpath.Executable,
		signals:    delegate.DefaultSignals,
	}
	if cfg.Profile {
		l.profiler = profiler.NewRuntime(cfg.SampleRate, cfg.TopN)
		l.sampler = observe.NewSampler(cfg.SampleInterval)
	} else {
		l.profiler = profiler.Disabled{}
	}

	for _, opt := range opts {
		opt(l)
	}

	if l.logger == nil {
		l.logger = logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogJSON)
	}
	return l
}

// outcome is what the exit hooks need to know about the run
type outcome struct {
	mu      sync.Mutex
	code    int
	result  *report.Result
	report  *report.Report
	written bool
}

func (o *outcome) setCode(code int) {
	o.mu.Lock()
	o.code = code
	o.mu.Unlock()
}

// Run performs the bootstrap and returns the process exit code. Exit hooks
// run exactly once before Run returns, including when it panics or the
// launcher receives a termination signal. Signals are handled from the first
// step until the hooks are done.
func (l *Launcher) Run(ctx context.Context, args []string) (code int) {
	launchID := uuid.NewString()
	logger := l.logger.WithField("launch_id", launchID)
	out := &outcome{}

	signals := listen(logger, l.signals...)
	defer signals.close()

	hooks := exithook.New(l.cfg.HookTimeout, logger)
	defer hooks.Run()
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Launcher panic", map[string]interface{}{
				"panic": fmt.Sprint(r),
				"stack": string(debug.Stack()),
			})
			code = ExitSoftware
			out.setCode(code)
		}
	}()

	l.setupPath(logger)

	session, profiling := l.startProfiler(logger)

	hooks.Register("log", func(context.Context) error {
		return l.logger.Close()
	})
	if l.cfg.MetricsTextfile != "" {
		hooks.Register("metrics", func(context.Context) error {
			return l.writeMetrics(out)
		})
	}
	hooks.Register("profile", func(context.Context) error {
		return l.writeReport(logger, session, launchID, args, out)
	})

	var sampler *observe.Sampler
	if profiling {
		sampler = l.sampler
	}
	code = l.runDelegate(ctx, logger, signals, sampler, args, out)
	out.setCode(code)
	return code
}

func (l *Launcher) setupPath(logger *logging.Logger) {
	if l.cfg.SearchPathEnv == "" {
		return
	}

	exe, err := l.executable()
	if err != nil {
		logger.Warn("Cannot locate launcher executable", map[string]interface{}{
			"error": newError(StagePath, err).Error(),
		})
		return
	}

	dir := searchpath.LibDir(exe, l.cfg.LibDir)
	value, err := searchpath.Setup(l.cfg.SearchPathEnv, dir)
	if err != nil {
		logger.Warn("Cannot update library search path", map[string]interface{}{
			"env":   l.cfg.SearchPathEnv,
			"error": newError(StagePath, err).Error(),
		})
		return
	}
	logger.Debug("Library search path set", map[string]interface{}{
		"env":   l.cfg.SearchPathEnv,
		"value": value,
	})
}

// startProfiler never fails: without a profiler a no-op session is used
func (l *Launcher) startProfiler(logger *logging.Logger) (profiler.Session, bool) {
	if l.profiler == nil {
		return profiler.Noop(), false
	}

	session, err := l.profiler.Start()
	if err != nil {
		logger.Debug("Memory profiling disabled", map[string]interface{}{
			"error": newError(StageProfile, err).Error(),
		})
		return profiler.Noop(), false
	}
	return session, true
}

func (l *Launcher) runDelegate(ctx context.Context, logger *logging.Logger, signals *relay, sampler *observe.Sampler, args []string, out *outcome) int {
	sampleCtx, stopSampling := context.WithCancel(ctx)
	defer stopSampling()

	var wg sync.WaitGroup
	started := func(pid int) {
		if sampler == nil {
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Warn("Memory sampler stopped", map[string]interface{}{"panic": fmt.Sprint(r)})
				}
			}()
			sampler.Run(sampleCtx, pid)
		}()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	d := l.delegate
	if d == nil {
		cmd := delegate.NewCommand(l.cfg.Command)
		cmd.KillTimeout = l.cfg.KillTimeout
		cmd.Logger = logger
		cmd.Started = started
		cmd.Signals = signals.forward()
		d = cmd
	} else {
		signals.cancelOnTermination(cancel)
	}
	defer signals.detach()

	// a termination request before start means the daemon never runs
	if sig := signals.terminated(); sig != nil {
		logger.Warn("Terminated before delegated command started", map[string]interface{}{
			"signal": sig.String(),
		})
		return signalExitCode(sig)
	}

	res, err := d.Run(runCtx, args)
	signals.detach()
	stopSampling()
	wg.Wait()

	if err != nil {
		logger.Error("Delegated command failed", map[string]interface{}{
			"command": l.cfg.Command,
			"error":   newError(StageDelegate, err).Error(),
		})
	}
	if res == nil {
		return delegate.ExitCannotExecute
	}

	res.LogSummary(logger)
	out.mu.Lock()
	out.result = res
	out.mu.Unlock()
	return res.ExitCode
}

// writeReport stops the session and writes the report file. A no-op
// session yields no report and no file.
func (l *Launcher) writeReport(logger *logging.Logger, session profiler.Session, launchID string, args []string, out *outcome) error {
	rep, err := session.Stop()
	if err != nil {
		return newError(StageProfile, err)
	}
	if rep == nil {
		return nil
	}

	rep.LaunchID = launchID
	rep.Service = l.cfg.Service
	rep.PID = l.pid
	rep.Command = append([]string{l.cfg.Command}, args...)
	if l.sampler != nil {
		if stats := l.sampler.Snapshot(); stats.Samples > 0 {
			rep.Delegate = &stats
		}
	}

	out.mu.Lock()
	rep.Result = out.result
	out.report = rep
	out.mu.Unlock()

	path := report.Path(l.cfg.ReportDir, l.cfg.Service, l.pid)
	if err := rep.WriteFile(path); err != nil {
		return newError(StageReport, err)
	}

	out.mu.Lock()
	out.written = true
	out.mu.Unlock()

	logger.Info("Memory profile written", map[string]interface{}{"path": path})
	return nil
}

func (l *Launcher) writeMetrics(out *outcome) error {
	out.mu.Lock()
	defer out.mu.Unlock()

	m := report.NewMetrics(l.cfg.Service)
	m.RecordResult(out.result)
	m.RecordExitCode(out.code)
	m.RecordReport(out.report, out.written)

	if err := m.WriteTextfile(l.cfg.MetricsTextfile); err != nil {
		return newError(StageReport, err)
	}
	return nil
}
