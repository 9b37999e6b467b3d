//go:build linux

package delegate

import (
	"os/exec"
	"runtime"
	"syscall"
)

// The child leads its own process group so terminal signals reach it only
// through the launcher, and it is terminated if the launcher dies first.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pgid:      0,
		Pdeathsig: syscall.SIGTERM,
	}
}

// startChild forks from a goroutine locked to its OS thread and keeps the
// thread locked until release is called. Pdeathsig fires when the forking
// thread exits, not the process (golang/go#27505), so no other goroutine may
// lock that thread and exit with it while the child runs.
func startChild(cmd *exec.Cmd) (release func(), err error) {
	started := make(chan error, 1)
	stop := make(chan struct{})

	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		err := cmd.Start()
		started <- err
		if err == nil {
			<-stop
		}
	}()

	if err := <-started; err != nil {
		return func() {}, err
	}
	return func() { close(stop) }, nil
}
