//go:build linux

package environment

import (
	"os/exec"
	"syscall"
)

// configureGroup puts the command in its own process group. Cancellation
// sends SIGTERM to the group so a supervising helper can tear down its own
// tree; WaitDelay escalates to SIGKILL if it does not exit in time.
func configureGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true, Pdeathsig: syscall.SIGKILL}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
}
