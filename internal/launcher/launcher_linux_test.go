//go:build linux

package launcher

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/psantana5/fluentd-launcher/internal/config"
	"github.com/psantana5/fluentd-launcher/internal/delegate"
	"github.com/psantana5/fluentd-launcher/internal/logging"
	"github.com/psantana5/fluentd-launcher/internal/observe"
	"github.com/psantana5/fluentd-launcher/internal/profiler"
	"github.com/psantana5/fluentd-launcher/internal/report"
)

const (
	helperModeEnv = "FLUENTD_LAUNCHER_TEST_HELPER"
	helperDirEnv  = "FLUENTD_LAUNCHER_TEST_DIR"
)

func TestRunExternalCommandWithRuntimeProfiler(t *testing.T) {
	f := newFixture(t)
	f.cfg.Command = "/bin/sh"

	l := f.launcher(nil,
		WithProfiler(profiler.NewRuntime(4096, 10)),
		WithSampler(observe.NewSampler(10*time.Millisecond)),
	)
	code := l.Run(context.Background(), []string{"-c", `test "$1" = "--config" && sleep 0.2 && exit 9`, "sh", "--config"})
	if code != 9 {
		t.Errorf("Expected exit code 9, got %d", code)
	}

	data, err := os.ReadFile(f.reportPath())
	if err != nil {
		t.Fatalf("Expected report file: %v", err)
	}
	text := string(data)
	for _, want := range []string{"/bin/sh", "delegated process memory"} {
		if !strings.Contains(text, want) {
			t.Errorf("Expected report to contain %q, got:\n%s", want, text)
		}
	}
}

func TestRunExternalCommandKilledBySignal(t *testing.T) {
	f := newFixture(t)
	f.cfg.Command = "/bin/sh"

	l := f.launcher(nil, WithProfiler(profiler.Disabled{}))
	if code := l.Run(context.Background(), []string{"-c", "kill -TERM $$"}); code != 143 {
		t.Errorf("Expected exit code 143, got %d", code)
	}
}

func TestRunSignalCancelsInProcessDelegate(t *testing.T) {
	f := newFixture(t)

	d := delegate.Func(func(ctx context.Context, _ []string) int {
		syscall.Kill(os.Getpid(), syscall.SIGTERM)
		select {
		case <-ctx.Done():
			return 143
		case <-time.After(5 * time.Second):
			return 0
		}
	})

	if code := f.launcher(d).Run(context.Background(), nil); code != 143 {
		t.Errorf("Expected cancelled delegate exit code 143, got %d", code)
	}
	if f.session.stops != 1 {
		t.Errorf("Expected session stopped once, got %d", f.session.stops)
	}
	if _, err := os.Stat(f.reportPath()); err != nil {
		t.Errorf("Expected report after signal: %v", err)
	}
}

func TestRunSignalBeforeDelegateStarts(t *testing.T) {
	f := newFixture(t)

	started := false
	d := delegate.Func(func(context.Context, []string) int {
		started = true
		return 0
	})
	p := &fakeProfiler{session: f.session, onStart: func() {
		syscall.Kill(os.Getpid(), syscall.SIGTERM)
		time.Sleep(300 * time.Millisecond)
	}}

	code := f.launcher(d, WithProfiler(p)).Run(context.Background(), nil)
	if code != 128+int(syscall.SIGTERM) {
		t.Errorf("Expected exit code %d, got %d", 128+int(syscall.SIGTERM), code)
	}
	if started {
		t.Error("Expected delegate not to start after termination")
	}
	if f.session.stops != 1 {
		t.Errorf("Expected session stopped once, got %d", f.session.stops)
	}
	if _, err := os.Stat(f.reportPath()); err != nil {
		t.Errorf("Expected report after early termination: %v", err)
	}
}

// TestLauncherHelperProcess is the launcher run by the re-exec tests below.
// It exits with the launcher's code and prints how often the session stopped.
func TestLauncherHelperProcess(t *testing.T) {
	mode := os.Getenv(helperModeEnv)
	if mode == "" {
		t.Skip("run by re-exec tests only")
	}
	dir := os.Getenv(helperDirEnv)

	cfg := config.Default()
	cfg.Command = "/bin/sh"
	cfg.ReportDir = dir
	cfg.SearchPathEnv = ""

	session := &fakeSession{rep: &report.Report{}}
	var args []string
	switch mode {
	case "hooks":
		session.onStop = func() {
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
			time.Sleep(300 * time.Millisecond)
		}
		args = []string{"-c", "exit 0"}
	case "child":
		args = []string{"-c", `touch "$0"; exec sleep 30`, filepath.Join(dir, "ready")}
	}

	l := New(cfg,
		WithLogger(logging.New(os.Stderr, logging.DEBUG, true)),
		WithProfiler(&fakeProfiler{session: session}),
		WithSampler(nil),
	)
	code := l.Run(context.Background(), args)
	fmt.Printf("stops=%d\n", session.stops)
	os.Exit(code)
}

type helperRun struct {
	code   int
	pid    int
	stdout string
	stderr string
}

// runHelper re-executes the test binary as a launcher. signal, when set, is
// called with the helper pid once it has started.
func runHelper(t *testing.T, mode, dir string, signal func(pid int)) helperRun {
	t.Helper()

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(os.Args[0], "-test.run=^TestLauncherHelperProcess$")
	cmd.Env = append(os.Environ(), helperModeEnv+"="+mode, helperDirEnv+"="+dir)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("Failed to start helper: %v", err)
	}
	if signal != nil {
		signal(cmd.Process.Pid)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case err := <-done:
		if _, ok := err.(*exec.ExitError); err != nil && !ok {
			t.Fatalf("Helper failed: %v", err)
		}
	case <-time.After(20 * time.Second):
		cmd.Process.Kill()
		t.Fatalf("Helper did not exit, stderr:\n%s", stderr.String())
	}

	return helperRun{
		code:   cmd.ProcessState.ExitCode(),
		pid:    cmd.Process.Pid,
		stdout: stdout.String(),
		stderr: stderr.String(),
	}
}

func waitForFile(t *testing.T, path string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(path); err == nil {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", path)
}

func checkHelperReport(t *testing.T, dir string, run helperRun) {
	t.Helper()
	path := report.Path(dir, "fluentd", run.pid)
	if _, err := os.Stat(path); err != nil {
		t.Errorf("Expected report %s: %v\nstderr:\n%s", path, err, run.stderr)
	}
	if !strings.Contains(run.stdout, "stops=1") {
		t.Errorf("Expected session stopped once, got stdout %q", run.stdout)
	}
}

func TestSignalDuringDelegatedRun(t *testing.T) {
	dir := t.TempDir()

	run := runHelper(t, "child", dir, func(pid int) {
		waitForFile(t, filepath.Join(dir, "ready"))
		syscall.Kill(pid, syscall.SIGTERM)
	})

	if run.code != 143 {
		t.Errorf("Expected child exit code 143 propagated, got %d\nstderr:\n%s", run.code, run.stderr)
	}
	if !strings.Contains(run.stderr, "Forwarding signal") {
		t.Errorf("Expected signal forwarded to the child, stderr:\n%s", run.stderr)
	}
	checkHelperReport(t, dir, run)
}

func TestSignalDuringExitHooks(t *testing.T) {
	dir := t.TempDir()

	run := runHelper(t, "hooks", dir, nil)

	if run.code != 0 {
		t.Errorf("Expected child exit code 0 kept, got %d\nstderr:\n%s", run.code, run.stderr)
	}
	if !strings.Contains(run.stderr, "Termination requested") {
		t.Errorf("Expected termination recorded, stderr:\n%s", run.stderr)
	}
	checkHelperReport(t, dir, run)
}
