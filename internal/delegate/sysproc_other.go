//go:build unix && !linux

package delegate

import (
	"os/exec"
	"syscall"
)

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
		Pgid:    0,
	}
}

func startChild(cmd *exec.Cmd) (release func(), err error) {
	return func() {}, cmd.Start()
}
