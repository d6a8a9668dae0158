//go:build windows

package shell

import "os/exec"

// configureProcessGroup is a no-op on Windows; exec.CommandContext kills
// the direct child and WaitDelay bounds the cleanup wait.
func configureProcessGroup(cmd *exec.Cmd) {}
