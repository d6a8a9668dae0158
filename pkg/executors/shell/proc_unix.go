//go:build unix

package shell

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup puts the child into its own process group and
// arranges for the group to receive SIGKILL when the context expires.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative pid targets the process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
