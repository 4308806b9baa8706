//go:build !windows

package quser

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// configureCommand starts the child in its own process group so the whole
// group can be reaped on timeout
func configureCommand(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func killGroup(pid int) {
	if pid <= 0 {
		return
	}
	// -pid targets the group led by the child
	_ = unix.Kill(-pid, unix.SIGKILL)
}
